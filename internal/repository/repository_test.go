// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

var setupOnce sync.Once

func setup(t *testing.T) *CircuitRepository {
	t.Helper()
	setupOnce.Do(func() {
		cclog.Init("warn", true)

		dir, err := os.MkdirTemp("", "kt-gateway-repo-test")
		if err != nil {
			t.Fatal(err)
		}
		dbfilepath := filepath.Join(dir, "circuit.db")
		if err := MigrateDB("sqlite3", dbfilepath); err != nil {
			t.Fatal(err)
		}
		Connect("sqlite3", dbfilepath)
	})
	return GetCircuitRepository()
}

func TestAddAndGetCircuit(t *testing.T) {
	r := setup(t)

	require.NoError(t, r.AddCircuit("velodrome", "Velodrome Indoor", "wss://feed.example/velodrome"))

	circuit, err := r.GetCircuit("velodrome")
	require.NoError(t, err)
	assert.Equal(t, "Velodrome Indoor", circuit.Name)
	assert.Equal(t, "wss://feed.example/velodrome", circuit.UpstreamURL)
	assert.Empty(t, circuit.Mappings)
	assert.Nil(t, circuit.AutoDetectOK)
}

func TestGetCircuitUnknown(t *testing.T) {
	r := setup(t)

	_, err := r.GetCircuit("does-not-exist")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateMappings(t *testing.T) {
	r := setup(t)
	require.NoError(t, r.AddCircuit("lemans", "Le Mans Karting", "wss://feed.example/lemans"))

	m := schema.ColumnMapping{
		"C1": "Position",
		"C2": "Driver",
		"C4": "LastLap",
	}
	require.NoError(t, r.UpdateMappings(context.Background(), "lemans", m))

	got, err := r.GetMappings("lemans")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	circuit, err := r.GetCircuit("lemans")
	require.NoError(t, err)
	require.NotNil(t, circuit.AutoDetectOK)
	assert.True(t, *circuit.AutoDetectOK)
	assert.NotNil(t, circuit.DetectedAt)
}

func TestMarkNeedsConfiguration(t *testing.T) {
	r := setup(t)
	require.NoError(t, r.AddCircuit("monza", "Monza Kart", "wss://feed.example/monza"))
	require.NoError(t, r.UpdateMappings(context.Background(), "monza",
		schema.ColumnMapping{"C1": "Position", "C2": "Driver", "C3": "Kart"}))

	require.NoError(t, r.MarkNeedsConfiguration(context.Background(), "monza"))

	circuit, err := r.GetCircuit("monza")
	require.NoError(t, err)
	assert.Empty(t, circuit.Mappings, "needs-configuration must null all columns")
	require.NotNil(t, circuit.AutoDetectOK)
	assert.False(t, *circuit.AutoDetectOK)
}

func TestUpdateMappingsUnknownCircuit(t *testing.T) {
	r := setup(t)

	err := r.UpdateMappings(context.Background(), "ghost", schema.ColumnMapping{"C1": "Position"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestConnectionLogRoundTrip(t *testing.T) {
	r := setup(t)
	require.NoError(t, r.AddCircuit("spa", "Spa Karting", "wss://feed.example/spa"))

	r.LogConnectionEvent("spa", "connected", "upstream connection established")
	r.LogConnectionEvent("spa", "disconnected", "read: connection reset")

	events, err := r.GetConnectionLogs("spa", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "spa", events[0].CircuitID)

	deleted, err := r.DeleteConnectionLogsBefore(time.Now().Unix() + 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(2))

	events, err = r.GetConnectionLogs("spa", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListCircuits(t *testing.T) {
	r := setup(t)
	require.NoError(t, r.AddCircuit("zolder", "Zolder", "wss://feed.example/zolder"))

	circuits, err := r.ListCircuits()
	require.NoError(t, err)

	found := false
	for _, c := range circuits {
		if c.ID == "zolder" {
			found = true
		}
	}
	assert.True(t, found)
}
