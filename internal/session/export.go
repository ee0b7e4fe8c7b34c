// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"time"

	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// Export is the serializable form of a session, round-trippable through
// Import without loss of (mapping, raw table, driver records).
type Export struct {
	CircuitID    string                                    `json:"circuit_id"`
	Mapping      schema.ColumnMapping                      `json:"circuit_mappings"`
	Raw          map[string]map[schema.ColumnID]schema.RawCell `json:"raw_data"`
	Records      map[string]schema.DriverRecord            `json:"driver_states"`
	MessageCount int                                       `json:"message_count"`
	ExportedAt   time.Time                                 `json:"export_timestamp"`
}

// Export captures the session state for persistence or transfer.
func (s *CircuitSession) Export() *Export {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := make(map[string]map[schema.ColumnID]schema.RawCell, len(s.raw))
	for driverID, cells := range s.raw {
		cpy := make(map[schema.ColumnID]schema.RawCell, len(cells))
		for col, cell := range cells {
			cpy[col] = cell
		}
		raw[driverID] = cpy
	}

	return &Export{
		CircuitID:    s.circuitID,
		Mapping:      s.mapping.Clone(),
		Raw:          raw,
		Records:      s.snapshotRecords(),
		MessageCount: s.messageCount,
		ExportedAt:   time.Now().UTC(),
	}
}

// Import restores a previously exported session. The derived records are
// rebuilt from the imported raw table and mapping, so an export produced by
// an older build stays consistent with the current derivation rule.
func (s *CircuitSession) Import(e *Export) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Mapping != nil {
		s.mapping = e.Mapping.Clone()
	} else {
		s.mapping = schema.ColumnMapping{}
	}
	s.columnOrder = s.mapping.OrderedFields()

	s.raw = make(map[string]map[schema.ColumnID]schema.RawCell, len(e.Raw))
	for driverID, cells := range e.Raw {
		cpy := make(map[schema.ColumnID]schema.RawCell, len(cells))
		for col, cell := range cells {
			cpy[col] = cell
		}
		s.raw[driverID] = cpy
	}

	s.messageCount = e.MessageCount
	s.rederiveAll()
}
