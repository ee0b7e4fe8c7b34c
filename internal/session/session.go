// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session keeps the per-circuit timing state: the raw column table
// as reported by the feed, the active column mapping, the derived driver
// records and the column display order. Raw data is authoritative; the
// mapping only changes the projection, never the stored data.
package session

import (
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/kt-gateway/internal/decoder"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// PersistAction tells the caller what to write to the metadata store after
// a frame was applied. Persistence is best-effort and must never block
// frame processing.
type PersistAction int

const (
	PersistNone PersistAction = iota
	// PersistMapping: a snapshot header produced a new mapping; write it.
	PersistMapping
	// PersistNeedsConfig: snapshot inference failed; mark the circuit for
	// manual configuration.
	PersistNeedsConfig
)

// ApplyOutcome is the result of merging one decoded frame.
type ApplyOutcome struct {
	// Updated lists the driver ids the frame touched. After a mapping
	// change every known driver is affected.
	Updated []string
	// Records is the complete current projection. Broadcasting the full
	// set makes dropped frames recoverable from the next one.
	Records map[string]schema.DriverRecord
	// ColumnOrder is the mapping's field names in ascending column index.
	ColumnOrder []string
	// Persist is the mapping-persistence directive for this frame.
	Persist PersistAction
	// Mapping is the mapping to persist when Persist == PersistMapping.
	Mapping schema.ColumnMapping
	// MessageCount counts frames applied to this session so far.
	MessageCount int
}

// CircuitSession is the per-circuit state store. All methods are safe for
// concurrent use; the single mutex exists to exclude the control path
// (Clear, SetMapping, Import) from interleaving with frame application.
type CircuitSession struct {
	circuitID string

	mu           sync.Mutex
	mapping      schema.ColumnMapping
	raw          map[string]map[schema.ColumnID]schema.RawCell
	records      map[string]schema.DriverRecord
	columnOrder  []string
	messageCount int
	lastUpdate   time.Time
}

func newSession(circuitID string) *CircuitSession {
	return &CircuitSession{
		circuitID: circuitID,
		mapping:   schema.ColumnMapping{},
		raw:       make(map[string]map[schema.ColumnID]schema.RawCell),
		records:   make(map[string]schema.DriverRecord),
	}
}

// CircuitID returns the circuit this session belongs to.
func (s *CircuitSession) CircuitID() string { return s.circuitID }

// Apply merges one decoded frame into the raw table. If the frame carries a
// newly inferred mapping, the active mapping is replaced and all known
// drivers are rederived, not only those referenced in the frame. Later
// frames win per (driver, column); codes are replaced, never merged.
func (s *CircuitSession) Apply(frame *decoder.DecodedFrame) ApplyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messageCount++
	s.lastUpdate = time.Now()

	remapped := false
	if frame.MappingStatus == decoder.MappingInferred {
		s.mapping = frame.InferredMapping.Clone()
		s.columnOrder = s.mapping.OrderedFields()
		remapped = true
	}

	for driverID, cells := range frame.DriverUpdates {
		stored, ok := s.raw[driverID]
		if !ok {
			stored = make(map[schema.ColumnID]schema.RawCell, len(cells))
			s.raw[driverID] = stored
		}
		for col, cell := range cells {
			stored[col] = cell
		}
	}

	if remapped {
		s.rederiveAll()
	} else {
		for driverID := range frame.DriverUpdates {
			s.records[driverID] = s.derive(driverID)
		}
	}

	out := ApplyOutcome{
		Records:      s.snapshotRecords(),
		ColumnOrder:  append([]string(nil), s.columnOrder...),
		Persist:      PersistNone,
		MessageCount: s.messageCount,
	}

	if remapped {
		out.Updated = make([]string, 0, len(s.records))
		for driverID := range s.records {
			out.Updated = append(out.Updated, driverID)
		}
		out.Persist = PersistMapping
		out.Mapping = s.mapping.Clone()
	} else {
		out.Updated = make([]string, 0, len(frame.DriverUpdates))
		for driverID := range frame.DriverUpdates {
			out.Updated = append(out.Updated, driverID)
		}
		if frame.MappingStatus == decoder.MappingInferenceFailed {
			out.Persist = PersistNeedsConfig
		}
	}

	return out
}

// derive builds the projection of one driver under the active mapping. Raw
// entries without a mapping stay in the raw table but are not exposed.
func (s *CircuitSession) derive(driverID string) schema.DriverRecord {
	record := schema.DriverRecord{schema.DriverIDField: driverID}
	for col, cell := range s.raw[driverID] {
		if field, ok := s.mapping[col]; ok {
			record[field] = cell.Value
		}
	}
	return record
}

func (s *CircuitSession) rederiveAll() {
	records := make(map[string]schema.DriverRecord, len(s.raw))
	for driverID := range s.raw {
		records[driverID] = s.derive(driverID)
	}
	s.records = records
	cclog.Debugf("session %s: rederived %d drivers after mapping change", s.circuitID, len(records))
}

func (s *CircuitSession) snapshotRecords() map[string]schema.DriverRecord {
	cpy := make(map[string]schema.DriverRecord, len(s.records))
	for driverID, record := range s.records {
		r := make(schema.DriverRecord, len(record))
		for k, v := range record {
			r[k] = v
		}
		cpy[driverID] = r
	}
	return cpy
}

// Project returns the derived record of one driver.
func (s *CircuitSession) Project(driverID string) (schema.DriverRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[driverID]
	if !ok {
		return nil, false
	}
	cpy := make(schema.DriverRecord, len(record))
	for k, v := range record {
		cpy[k] = v
	}
	return cpy, true
}

// ProjectAll returns a snapshot of all derived driver records.
func (s *CircuitSession) ProjectAll() map[string]schema.DriverRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotRecords()
}

// ColumnOrder returns the current display order of mapped fields.
func (s *CircuitSession) ColumnOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.columnOrder...)
}

// Mapping returns a copy of the active column mapping.
func (s *CircuitSession) Mapping() schema.ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Clone()
}

// SetMapping replaces the active mapping, e.g. with one loaded from the
// metadata store before the first snapshot, and rederives all drivers.
func (s *CircuitSession) SetMapping(m schema.ColumnMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mapping = m.Clone()
	if s.mapping == nil {
		s.mapping = schema.ColumnMapping{}
	}
	s.columnOrder = s.mapping.OrderedFields()
	s.rederiveAll()
}

// Clear empties the raw table and the derived records. The active mapping
// is preserved.
func (s *CircuitSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raw = make(map[string]map[schema.ColumnID]schema.RawCell)
	s.records = make(map[string]schema.DriverRecord)
	s.messageCount = 0
	cclog.Infof("session %s: cleared", s.circuitID)
}

// Stats describes a session for the control surface.
type Stats struct {
	CircuitID    string    `json:"circuit_id"`
	Drivers      int       `json:"drivers"`
	RawEntries   int       `json:"raw_entries"`
	MappedCols   int       `json:"mapped_columns"`
	MessageCount int       `json:"message_count"`
	LastUpdate   time.Time `json:"last_update"`
}

// Stats returns counters for status endpoints.
func (s *CircuitSession) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawEntries := 0
	for _, cells := range s.raw {
		rawEntries += len(cells)
	}
	return Stats{
		CircuitID:    s.circuitID,
		Drivers:      len(s.records),
		RawEntries:   rawEntries,
		MappedCols:   len(s.mapping),
		MessageCount: s.messageCount,
		LastUpdate:   s.lastUpdate,
	}
}
