// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"embed"
	"errors"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const Version uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

func checkDBVersion(backend string, db *sql.DB) {
	m, err := newMigrateInstance(backend, db)
	if err != nil {
		cclog.Fatal(err)
	}

	v, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			cclog.Warn("Legacy database without version or missing database file!")
		} else {
			cclog.Fatal(err)
		}
	}
	if dirty {
		cclog.Fatalf("Database dirty at version %d, resolve manually with the migrate tool", v)
	}

	if v < Version {
		cclog.Warnf("Unsupported database version %d, need %d.\nPlease backup your database file and run kt-gateway -migrate-db", v, Version)
	}
	if v > Version {
		cclog.Warnf("Unsupported database version %d, need %d.\nPlease refer to documentation how to downgrade db with external migrate tool!", v, Version)
	}
}

func newMigrateInstance(backend string, db *sql.DB) (*migrate.Migrate, error) {
	switch backend {
	case "sqlite3":
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return nil, err
		}
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	case "mysql":
		driver, err := mysql.WithInstance(db, &mysql.Config{})
		if err != nil {
			return nil, err
		}
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", d, "mysql", driver)
	}
	return nil, errors.New("unsupported database driver: " + backend)
}

// MigrateDB brings the database file at db up to the supported schema
// version, creating it if necessary.
func MigrateDB(backend string, db string) error {
	var m *migrate.Migrate

	switch backend {
	case "sqlite3":
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, "sqlite3://"+db)
		if err != nil {
			return err
		}
	case "mysql":
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, "mysql://"+db)
		if err != nil {
			return err
		}
	default:
		return errors.New("unsupported database driver: " + backend)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			cclog.Info("DB already up to date!")
		} else {
			return err
		}
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// RevertDB rolls the schema back by one version.
func RevertDB(backend string, db string) error {
	var m *migrate.Migrate

	switch backend {
	case "sqlite3":
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, "sqlite3://"+db)
		if err != nil {
			return err
		}
	case "mysql":
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, "mysql://"+db)
		if err != nil {
			return err
		}
	default:
		return errors.New("unsupported database driver: " + backend)
	}

	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			cclog.Info("DB already at initial version!")
		} else {
			return err
		}
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
