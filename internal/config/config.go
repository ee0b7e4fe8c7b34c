// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the program configuration: compiled-in defaults,
// overridable from a JSON file validated against the embedded schema.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/kt-gateway/pkg/natsrelay"
)

// ProgramConfig is the format of the configuration file. See configSchema
// for the per-key documentation.
type ProgramConfig struct {
	// Address where the http server will listen on (for example 'localhost:8080').
	Addr string `json:"addr"`

	// 'sqlite3' or 'mysql' (mysql will work for mariadb as well).
	DBDriver string `json:"db-driver"`

	// For sqlite3 a filename, for mysql a DSN.
	DB string `json:"db"`

	// Upstream keepalive interval, parsable by time.ParseDuration().
	HeartbeatInterval string `json:"heartbeat-interval"`

	// Initial reconnect delay; doubled per attempt, capped at one minute.
	ReconnectDelay string `json:"reconnect-delay"`

	// Reconnect attempts before a collector gives up.
	MaxReconnectAttempts int `json:"max-reconnect-attempts"`

	// How long connection-log audit entries are kept.
	ConnectionLogRetention string `json:"connection-log-retention"`

	// Origins allowed to open subscriber websockets and call the REST API.
	CORSOrigins []string `json:"cors-allowed-origins"`

	// Optional NATS relay mirroring broadcasts to a message bus.
	Nats *natsrelay.Config `json:"nats"`
}

var Keys ProgramConfig = ProgramConfig{
	Addr:                   ":8080",
	DBDriver:               "sqlite3",
	DB:                     "./var/circuit.db",
	HeartbeatInterval:      "30s",
	ReconnectDelay:         "5s",
	MaxReconnectAttempts:   10,
	ConnectionLogRetention: "168h",
	CORSOrigins:            []string{"*"},
}

// Init overrides the defaults with the JSON file at flagConfigFile. A
// missing file leaves the defaults untouched.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Abortf("Config Init: Could not read config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
		}
		return
	}

	Validate(configSchema, raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Abortf("Config Init: Could not decode config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
	}
}

// Duration parses a duration key, falling back when the key is empty or
// unparsable.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		cclog.Warnf("Could not parse duration '%s', using %s", s, fallback)
		return fallback
	}
	return d
}
