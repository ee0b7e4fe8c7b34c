// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import "flag"

var (
	flagInit, flagServer, flagGops, flagMigrateDB, flagRevertDB,
	flagVersion, flagLogDateTime bool
	flagConfigFile, flagLogLevel, flagAddCircuit, flagDelCircuit string
)

func cliInit() {
	flag.BoolVar(&flagInit, "init", false, "Setup var directory, initialize sqlite database file and config.json")
	flag.BoolVar(&flagServer, "server", false, "Start a server, continues listening on port after initialization and argument handling")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Migrate database to supported version and exit")
	flag.BoolVar(&flagRevertDB, "revert-db", false, "Migrate database to previous version and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagAddCircuit, "add-circuit", "", "Add a circuit. Argument format: <circuit_id>:<name>:<upstream_url>")
	flag.StringVar(&flagDelCircuit, "del-circuit", "", "Remove an existing circuit. Argument format: <circuit_id>")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info, warn (default), err, crit]`")
	flag.Parse()
}
