// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/kt-gateway/internal/repository"
)

const configString = `{
    "addr": "0.0.0.0:8080",
    "db-driver": "sqlite3",
    "db": "./var/circuit.db",
    "heartbeat-interval": "30s",
    "reconnect-delay": "5s",
    "max-reconnect-attempts": 10,
    "connection-log-retention": "168h",
    "cors-allowed-origins": ["*"]
}
`

const envString = `# Once you have a NATS deployment, move its credentials here and reference
# them from the nats section in config.json.
# NATS_USERNAME="timing"
# NATS_PASSWORD="changeme"
`

// initEnv bootstraps a fresh deployment: the var directory, a default
// config.json, an .env template and an initialized sqlite database file.
func initEnv() {
	if _, err := os.Stat("./var"); err == nil {
		cclog.Abort("Directory ./var already exists. Cautiously exiting application initialization.")
	}

	if err := os.WriteFile("config.json", []byte(configString), 0o666); err != nil {
		cclog.Abortf("Init: Could not write default ./config.json with permissions '0o666'.\nError: %s\n", err.Error())
	}

	if err := os.WriteFile(".env", []byte(envString), 0o666); err != nil {
		cclog.Abortf("Init: Could not write default ./.env file with permissions '0o666'.\nError: %s\n", err.Error())
	}

	if err := os.Mkdir("var", 0o777); err != nil {
		cclog.Abortf("Init: Could not create default ./var folder with permissions '0o777'.\nError: %s\n", err.Error())
	}

	if err := repository.MigrateDB("sqlite3", "./var/circuit.db"); err != nil {
		cclog.Abortf("Init: Could not initialize database schema.\nError: %s\n", err.Error())
	}
}
