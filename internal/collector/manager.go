// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"errors"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/kt-gateway/internal/fanout"
	"github.com/ClusterCockpit/kt-gateway/internal/session"
)

// ErrUnknownCircuit is the sentinel for control operations on circuits
// without a collector; the control layer translates it to "not found".
var ErrUnknownCircuit = errors.New("no collector for circuit")

// Manager tracks at most one collector per circuit. It is constructed in
// the entry point and injected wherever collectors are controlled; tests
// instantiate fresh instances.
type Manager struct {
	sessions *session.Registry
	fanout   *fanout.Manager
	store    MappingStore
	relay    Publisher
	settings Settings

	mu         sync.Mutex
	collectors map[string]*Collector
}

func NewManager(sessions *session.Registry, fo *fanout.Manager,
	store MappingStore, relay Publisher, settings Settings,
) *Manager {
	return &Manager{
		sessions:   sessions,
		fanout:     fo,
		store:      store,
		relay:      relay,
		settings:   settings,
		collectors: make(map[string]*Collector),
	}
}

// Start creates and starts a collector for the circuit. An existing
// collector for the same circuit is stopped first, so at most one upstream
// connection per circuit exists at any instant.
func (m *Manager) Start(circuitID, upstreamURL string) *Collector {
	m.mu.Lock()
	old := m.collectors[circuitID]
	m.mu.Unlock()

	if old != nil {
		cclog.Infof("collector manager: replacing running collector for %s", circuitID)
		old.Stop()
	}

	c := newCollector(circuitID, upstreamURL,
		m.sessions.Get(circuitID), m.fanout, m.store, m.relay, m.settings)

	m.mu.Lock()
	m.collectors[circuitID] = c
	m.mu.Unlock()

	c.Start()
	return c
}

// Stop stops and removes the collector of a circuit.
func (m *Manager) Stop(circuitID string) error {
	m.mu.Lock()
	c, ok := m.collectors[circuitID]
	delete(m.collectors, circuitID)
	m.mu.Unlock()

	if !ok {
		return ErrUnknownCircuit
	}
	c.Stop()
	return nil
}

// Get returns the collector of a circuit, if one exists.
func (m *Manager) Get(circuitID string) (*Collector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[circuitID]
	return c, ok
}

// Status returns the status of one circuit's collector.
func (m *Manager) Status(circuitID string) (Status, bool) {
	c, ok := m.Get(circuitID)
	if !ok {
		return Status{}, false
	}
	return c.Status(), true
}

// StatusAll returns the status of every tracked collector.
func (m *Manager) StatusAll() map[string]Status {
	m.mu.Lock()
	collectors := make(map[string]*Collector, len(m.collectors))
	for id, c := range m.collectors {
		collectors[id] = c
	}
	m.mu.Unlock()

	statuses := make(map[string]Status, len(collectors))
	for id, c := range collectors {
		statuses[id] = c.Status()
	}
	return statuses
}

// StopAll stops every collector; used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	collectors := make([]*Collector, 0, len(m.collectors))
	for _, c := range m.collectors {
		collectors = append(collectors, c)
	}
	m.collectors = make(map[string]*Collector)
	m.mu.Unlock()

	for _, c := range collectors {
		c.Stop()
	}
	cclog.Infof("collector manager: stopped %d collectors", len(collectors))
}
