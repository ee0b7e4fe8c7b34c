// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository persists circuit metadata: the upstream feed URL, the
// learned column mappings and a connection-event audit trail. It is the
// gateway's only durable store; per-frame timing data is never persisted.
package repository

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

type DBConnection struct {
	DB     *sqlx.DB
	Driver string
}

func Connect(driver string, db string) {
	var err error
	var dbHandle *sqlx.DB

	dbConnOnce.Do(func() {
		switch driver {
		case "sqlite3":
			sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
			dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", db))
			if err != nil {
				cclog.Fatalf("sqlx.Open() error: %v", err)
			}

			// sqlite does not multithread. Having more than one connection
			// open would just mean waiting for locks.
			dbHandle.SetMaxOpenConns(1)
		case "mysql":
			dbHandle, err = sqlx.Open("mysql", fmt.Sprintf("%s?multiStatements=true", db))
			if err != nil {
				cclog.Fatalf("sqlx.Open() error: %v", err)
			}

			dbHandle.SetConnMaxLifetime(time.Minute * 3)
			dbHandle.SetMaxOpenConns(10)
			dbHandle.SetMaxIdleConns(10)
		default:
			cclog.Fatalf("unsupported database driver: %s", driver)
		}

		dbConnInstance = &DBConnection{DB: dbHandle, Driver: driver}
		checkDBVersion(driver, dbHandle.DB)
	})
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		cclog.Fatalf("Database connection not initialized!")
	}

	return dbConnInstance
}
