// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

// Message type discriminators of the subscriber protocol.
const (
	MsgKartingData  = "karting_data"
	MsgCachedData   = "cached_data"
	MsgStatusUpdate = "status_update"
	MsgError        = "error"
	MsgPing         = "ping"
	MsgPong         = "pong"
)

// TimingPayload is broadcast to every subscriber of a circuit whenever a
// frame was applied. Drivers always carries the complete current driver set,
// so a subscriber that misses intermediate payloads recovers from the next
// one. Subscribers render columns using ColumnOrder.
type TimingPayload struct {
	Type         string                  `json:"type"`
	CircuitID    string                  `json:"circuit_id"`
	Drivers      map[string]DriverRecord `json:"drivers"`
	ColumnOrder  []string                `json:"column_order"`
	MessageCount int                     `json:"message_count"`
	Timestamp    string                  `json:"timestamp"`
}

// CachedPayload replays the latest broadcast to a newly attached subscriber.
type CachedPayload struct {
	Type        string                  `json:"type"`
	Data        map[string]DriverRecord `json:"data"`
	ColumnOrder []string                `json:"column_order,omitempty"`
}

// CircuitStatus describes the upstream connection health of a circuit.
type CircuitStatus struct {
	TimingConnected   bool `json:"timing_connected"`
	ReconnectAttempts int  `json:"reconnect_attempts,omitempty"`
	MessageCount      int  `json:"message_count,omitempty"`
}

// StatusUpdate is sent to subscribers on upstream state changes.
type StatusUpdate struct {
	Type      string        `json:"type"`
	CircuitID string        `json:"circuit_id"`
	Status    CircuitStatus `json:"status"`
}

// ErrorMessage surfaces an upstream or processing error to subscribers.
type ErrorMessage struct {
	Type      string `json:"type"`
	CircuitID string `json:"circuit_id"`
	Error     string `json:"error"`
}

// ClientMessage is what the gateway accepts from a subscriber socket.
type ClientMessage struct {
	Type string `json:"type"`
}

// Pong answers a subscriber ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}
