// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	sq "github.com/Masterminds/squirrel"
)

// ConnectionEvent is one audit entry of a circuit's upstream lifecycle
// (connect, disconnect, give-up).
type ConnectionEvent struct {
	ID        int64  `json:"id" db:"id"`
	CircuitID string `json:"circuit_id" db:"circuit_id"`
	EventType string `json:"event_type" db:"event_type"`
	Message   string `json:"message" db:"message"`
	Timestamp int64  `json:"timestamp" db:"timestamp"`
}

// LogConnectionEvent appends an audit entry. Best-effort: failures are
// logged, never propagated into frame processing.
func (r *CircuitRepository) LogConnectionEvent(circuitID, eventType, message string) {
	_, err := sq.Insert("connection_log").
		Columns("circuit_id", "event_type", "message", "timestamp").
		Values(circuitID, eventType, message, time.Now().Unix()).
		RunWith(r.DB).Exec()
	if err != nil {
		cclog.Warnf("Error while logging connection event for circuit '%s': %v", circuitID, err)
	}
}

// GetConnectionLogs returns the most recent audit entries of a circuit.
func (r *CircuitRepository) GetConnectionLogs(circuitID string, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := sq.Select("id", "circuit_id", "event_type", "message", "timestamp").
		From("connection_log").
		Where("connection_log.circuit_id = ?", circuitID).
		OrderBy("timestamp DESC").
		Limit(uint64(limit)).
		RunWith(r.stmtCache).Query()
	if err != nil {
		cclog.Warnf("Error while querying connection logs for circuit '%s'", circuitID)
		return nil, err
	}
	defer rows.Close()

	events := make([]ConnectionEvent, 0, limit)
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.ID, &e.CircuitID, &e.EventType, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteConnectionLogsBefore drops audit entries older than the given unix
// timestamp and returns the number of deleted rows.
func (r *CircuitRepository) DeleteConnectionLogsBefore(ts int64) (int64, error) {
	res, err := sq.Delete("connection_log").
		Where("connection_log.timestamp < ?", ts).
		RunWith(r.DB).Exec()
	if err != nil {
		cclog.Warn("Error while deleting old connection logs")
		return 0, err
	}
	return res.RowsAffected()
}
