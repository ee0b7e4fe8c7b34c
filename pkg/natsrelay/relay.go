// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsrelay mirrors broadcast payloads to a NATS message bus, so
// external consumers (archival, dashboards) can tap the live timing stream
// without holding a subscriber websocket. Publishing is best-effort and
// never blocks or fails frame processing.
//
// Configure the relay via JSON in the application config:
//
//	{
//	  "nats": {
//	    "address": "nats://localhost:4222",
//	    "subject-prefix": "kt.timing"
//	  }
//	}
package natsrelay

import (
	"encoding/json"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// Config is the nats section of the program config.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
	SubjectPrefix string `json:"subject-prefix"`
}

// Relay publishes timing payloads to per-circuit subjects.
type Relay struct {
	conn   *nats.Conn
	prefix string
}

// Connect establishes the NATS connection. A nil config or empty address
// disables the relay; (nil, nil) is returned and callers simply skip
// publishing.
func Connect(cfg *Config) (*Relay, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, nil
	}

	var opts []nats.Option

	username, password := cfg.Username, cfg.Password
	if username == "" {
		username = os.Getenv("NATS_USERNAME")
	}
	if password == "" {
		password = os.Getenv("NATS_PASSWORD")
	}
	if username != "" && password != "" {
		opts = append(opts, nats.UserInfo(username, password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			cclog.Warnf("NATS disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		cclog.Infof("NATS reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		cclog.Errorf("NATS error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("NATS connect failed: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "kt.timing"
	}

	cclog.Infof("NATS relay connected to %s (prefix '%s')", cfg.Address, prefix)
	return &Relay{conn: nc, prefix: prefix}, nil
}

// PublishTiming mirrors one broadcast payload to "<prefix>.<circuit_id>".
func (r *Relay) PublishTiming(circuitID string, payload *schema.TimingPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		cclog.Errorf("NATS relay: marshaling payload for '%s' failed: %v", circuitID, err)
		return
	}

	subject := r.prefix + "." + circuitID
	if err := r.conn.Publish(subject, data); err != nil {
		cclog.Warnf("NATS relay: publish to '%s' failed: %v", subject, err)
	}
}

// IsConnected reports whether the relay has an active connection.
func (r *Relay) IsConnected() bool {
	return r != nil && r.conn != nil && r.conn.IsConnected()
}

// Close closes the NATS connection without draining it first.
func (r *Relay) Close() {
	if r == nil || r.conn == nil {
		return
	}
	r.conn.Close()
	cclog.Info("NATS relay connection closed")
}
