// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/kt-gateway/internal/decoder"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

const frenchSnapshot = `init
grid||<tbody><tr data-id="r0"><td data-id="c1">Clt</td><td data-id="c2">Pilote</td><td data-id="c3">Kart</td><td data-id="c4">Dernier T.</td></tr><tr data-id="r141"><td>1</td><td>Jean</td><td>25</td><td>58.312</td></tr></tbody>`

func newTestSession(t *testing.T) *CircuitSession {
	t.Helper()
	return NewRegistry().Get("test-circuit")
}

func TestApplySnapshotThenDelta(t *testing.T) {
	s := newTestSession(t)

	out := s.Apply(decoder.Decode(frenchSnapshot))
	require.Equal(t, PersistMapping, out.Persist)
	assert.Equal(t, []string{"Position", "Driver", "Kart", "LastLap"}, out.ColumnOrder)

	record, ok := s.Project("141")
	require.True(t, ok)
	assert.Equal(t, schema.DriverRecord{
		"driver_id": "141",
		"Position":  "1",
		"Driver":    "Jean",
		"Kart":      "25",
		"LastLap":   "58.312",
	}, record)

	out = s.Apply(decoder.Decode("r141c4|tn|57.998\nr141c1|rk|2"))
	assert.Equal(t, PersistNone, out.Persist)
	assert.ElementsMatch(t, []string{"141"}, out.Updated)

	record, _ = s.Project("141")
	assert.Equal(t, "57.998", record["LastLap"])
	assert.Equal(t, "2", record["Position"])
	assert.Equal(t, "Jean", record["Driver"])
	assert.Equal(t, "25", record["Kart"])
}

func TestApplyInferenceFailureRequestsNeedsConfig(t *testing.T) {
	s := newTestSession(t)

	frame := decoder.Decode(`init
grid||<tbody><tr data-id="r0"><td data-id="c1">Foo</td><td data-id="c2">Bar</td></tr><tr data-id="r5"><td>1</td><td>2</td></tr></tbody>`)
	out := s.Apply(frame)

	assert.Equal(t, PersistNeedsConfig, out.Persist)

	// Without a mapping, projections expose nothing beyond the driver id.
	record, ok := s.Project("5")
	require.True(t, ok)
	assert.Equal(t, schema.DriverRecord{"driver_id": "5"}, record)
}

func TestProjectionFieldsSubsetOfMapping(t *testing.T) {
	s := newTestSession(t)
	s.SetMapping(schema.ColumnMapping{"C1": "Position"})

	s.Apply(decoder.Decode("r9c1|rk|4\nr9c7|tn|33.101"))

	record, _ := s.Project("9")
	assert.Equal(t, schema.DriverRecord{"driver_id": "9", "Position": "4"}, record)

	// The unmapped C7 entry survives in the raw table and appears once the
	// mapping learns the column.
	s.SetMapping(schema.ColumnMapping{"C1": "Position", "C7": "LastLap"})
	record, _ = s.Project("9")
	assert.Equal(t, "33.101", record["LastLap"])
}

func TestSetMappingOverridesInferred(t *testing.T) {
	s := newTestSession(t)
	s.Apply(decoder.Decode(frenchSnapshot))

	override := schema.ColumnMapping{"C1": "Rank", "C2": "Name"}
	s.SetMapping(override)

	all := s.ProjectAll()
	require.Contains(t, all, "141")
	assert.Equal(t, schema.DriverRecord{
		"driver_id": "141",
		"Rank":      "1",
		"Name":      "Jean",
	}, all["141"])
	assert.Equal(t, []string{"Rank", "Name"}, s.ColumnOrder())
}

func TestColumnOrderSortedByColumnIndex(t *testing.T) {
	s := newTestSession(t)
	s.SetMapping(schema.ColumnMapping{
		"C10": "Gap",
		"C2":  "Driver",
		"C1":  "Position",
	})

	// C10 must sort after C2 numerically, not lexically.
	assert.Equal(t, []string{"Position", "Driver", "Gap"}, s.ColumnOrder())
}

func TestClearPreservesMapping(t *testing.T) {
	s := newTestSession(t)
	s.Apply(decoder.Decode(frenchSnapshot))

	s.Clear()

	assert.Empty(t, s.ProjectAll())
	assert.Len(t, s.Mapping(), 4)

	// New deltas project through the preserved mapping right away.
	s.Apply(decoder.Decode("r141c1|rk|3"))
	record, _ := s.Project("141")
	assert.Equal(t, "3", record["Position"])
}

func TestApplyIdempotentDelta(t *testing.T) {
	s := newTestSession(t)
	s.SetMapping(schema.ColumnMapping{"C1": "Position"})

	frame := "r8c1|rk|5"
	s.Apply(decoder.Decode(frame))
	first := s.ProjectAll()
	s.Apply(decoder.Decode(frame))

	assert.Equal(t, first, s.ProjectAll())
}

func TestFinalStateIndependentOfInterleaving(t *testing.T) {
	mk := func(frames ...string) map[string]schema.DriverRecord {
		s := NewRegistry().Get("c")
		s.SetMapping(schema.ColumnMapping{"C1": "Position", "C2": "Driver"})
		for _, f := range frames {
			s.Apply(decoder.Decode(f))
		}
		return s.ProjectAll()
	}

	a := mk("r1c1|rk|1", "r2c1|rk|2", "r1c2|dr|Jean", "r2c2|dr|Ana")
	b := mk("r2c2|dr|Ana", "r1c1|rk|1", "r2c1|rk|2", "r1c2|dr|Jean")
	assert.Equal(t, a, b)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestSession(t)
	s.Apply(decoder.Decode(frenchSnapshot))
	s.Apply(decoder.Decode("r141c4|tn|57.998"))

	e := s.Export()

	restored := NewRegistry().Get("test-circuit")
	restored.Import(e)

	assert.Equal(t, s.Mapping(), restored.Mapping())
	assert.Equal(t, s.ProjectAll(), restored.ProjectAll())
	assert.Equal(t, s.ColumnOrder(), restored.ColumnOrder())
	assert.Equal(t, e.Raw, restored.Export().Raw)
}

func TestLateMappingRemapsAllKnownDrivers(t *testing.T) {
	s := newTestSession(t)

	// Deltas arrive before any snapshot; nothing is projected yet.
	s.Apply(decoder.Decode("r7c1|rk|1\nr8c1|rk|2"))
	record, ok := s.Project("7")
	require.True(t, ok)
	assert.Equal(t, schema.DriverRecord{"driver_id": "7"}, record)

	// The snapshot's inferred mapping rederives drivers the frame itself
	// never mentioned.
	s.Apply(decoder.Decode(frenchSnapshot))
	record, _ = s.Project("7")
	assert.Equal(t, "1", record["Position"])
	record, _ = s.Project("8")
	assert.Equal(t, "2", record["Position"])
}

func TestRegistryLazyCreation(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Peek("c1")
	assert.False(t, ok)

	s := r.Get(" c1 ")
	assert.Equal(t, "c1", s.CircuitID())

	again, ok := r.Peek("c1")
	require.True(t, ok)
	assert.Same(t, s, again)
}
