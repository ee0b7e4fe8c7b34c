// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitOverridesDefaults(t *testing.T) {
	const testconfig = `{
	"addr": "0.0.0.0:9090",
	"db": "./var/test.db",
	"heartbeat-interval": "10s",
	"max-reconnect-attempts": 3,
	"nats": {
		"address": "nats://localhost:4222",
		"subject-prefix": "kt.timing"
	}
}`

	tmpdir := t.TempDir()
	cfgFilePath := filepath.Join(tmpdir, "config.json")
	if err := os.WriteFile(cfgFilePath, []byte(testconfig), 0o666); err != nil {
		t.Fatal(err)
	}

	Init(cfgFilePath)

	if Keys.Addr != "0.0.0.0:9090" {
		t.Errorf("addr not overridden: %s", Keys.Addr)
	}
	if Keys.MaxReconnectAttempts != 3 {
		t.Errorf("max-reconnect-attempts not overridden: %d", Keys.MaxReconnectAttempts)
	}
	if Keys.DBDriver != "sqlite3" {
		t.Errorf("default db-driver lost: %s", Keys.DBDriver)
	}
	if Keys.Nats == nil || Keys.Nats.Address != "nats://localhost:4222" {
		t.Error("nats section not decoded")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("45s", time.Minute); d != 45*time.Second {
		t.Errorf("Duration parse failed: %s", d)
	}
	if d := Duration("", time.Minute); d != time.Minute {
		t.Errorf("empty string must fall back: %s", d)
	}
	if d := Duration("bogus", time.Minute); d != time.Minute {
		t.Errorf("unparsable string must fall back: %s", d)
	}
}
