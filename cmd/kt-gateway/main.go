// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"

	"github.com/ClusterCockpit/kt-gateway/internal/config"
	"github.com/ClusterCockpit/kt-gateway/internal/repository"
	"github.com/ClusterCockpit/kt-gateway/internal/taskmanager"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

var (
	date    string
	commit  string
	version string
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Print(versionInfo())
		os.Exit(0)
	}

	cclog.Init(flagLogLevel, flagLogDateTime)

	if _, err := os.Stat("./.env"); err == nil {
		if err := godotenv.Load(); err != nil {
			cclog.Abortf("Main: Could not load '.env' file.\nError: %s\n", err.Error())
		}
	}

	if flagInit {
		initEnv()
		cclog.Info("Successfully setup environment!\n" +
			"Please review config.json and .env files and adjust them to your needs.\n" +
			"Add your circuits with -add-circuit and start the server with the -server flag.")
		os.Exit(0)
	}

	config.Init(flagConfigFile)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Abortf("Main: Could not start gops agent.\nError: %s\n", err.Error())
		}
	}

	if flagMigrateDB {
		if err := repository.MigrateDB(config.Keys.DBDriver, config.Keys.DB); err != nil {
			cclog.Abortf("Main: Migrating database to supported version failed.\nError: %s\n", err.Error())
		}
		cclog.Infof("Main: Migrated database version to %d", repository.Version)
		os.Exit(0)
	}

	if flagRevertDB {
		if err := repository.RevertDB(config.Keys.DBDriver, config.Keys.DB); err != nil {
			cclog.Abortf("Main: Reverting database failed.\nError: %s\n", err.Error())
		}
		cclog.Infof("Main: Reverted database version to %d", repository.Version-1)
		os.Exit(0)
	}

	repository.Connect(config.Keys.DBDriver, config.Keys.DB)

	if flagAddCircuit != "" {
		parts := strings.SplitN(flagAddCircuit, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			cclog.Abortf("Add Circuit: Could not parse argument format.\nFormat: <circuit_id>:<name>:<upstream_url>\nGot: %s\n", flagAddCircuit)
		}
		if err := repository.GetCircuitRepository().AddCircuit(parts[0], parts[1], parts[2]); err != nil {
			cclog.Abortf("Add Circuit: Adding circuit failed.\nError: %s\n", err.Error())
		}
		cclog.Infof("Added circuit '%s'", parts[0])
	}

	if flagDelCircuit != "" {
		if err := repository.GetCircuitRepository().DeleteCircuit(flagDelCircuit); err != nil {
			cclog.Abortf("Delete Circuit: Removing circuit failed.\nError: %s\n", err.Error())
		}
		cclog.Infof("Deleted circuit '%s'", flagDelCircuit)
	}

	if !flagServer {
		cclog.Info("No errors, server flag not set. Exiting kt-gateway.")
		os.Exit(0)
	}

	serverInit()

	taskmanager.Start(
		config.Duration(config.Keys.ConnectionLogRetention, 0),
		collectorMgr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go serverStart()

	<-sigs
	cclog.Info("Shutdown requested")
	serverShutdown()
}

func versionInfo() string {
	return fmt.Sprintf("Version:\t%s\nGit hash:\t%s\nBuild time:\t%s\n",
		version, commit, date)
}
