// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fanout multiplexes one upstream timing feed into many downstream
// subscribers per circuit. One lock guards the registry and its reverse
// map; it is never held during network I/O. Callers snapshot the subscriber
// set under the lock and send outside of it.
package fanout

import (
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/kt-gateway/internal/metrics"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// Subscriber is a downstream client attached to a circuit's broadcast
// stream. Send serializes and transmits one message; implementations must
// be safe for sequential use from multiple goroutines.
type Subscriber interface {
	Send(v any) error
	Close() error
}

// Manager is the per-process subscriber registry.
type Manager struct {
	mu sync.Mutex
	// circuit -> attached subscribers. For every entry here the reverse
	// map below holds the matching (subscriber -> circuit) entry; both are
	// updated under mu.
	circuits map[string]map[Subscriber]struct{}
	reverse  map[Subscriber]string
	// Latest broadcast per circuit, replayed verbatim to late joiners.
	cache map[string]*schema.TimingPayload
}

func New() *Manager {
	return &Manager{
		circuits: make(map[string]map[Subscriber]struct{}),
		reverse:  make(map[Subscriber]string),
		cache:    make(map[string]*schema.TimingPayload),
	}
}

// Attach registers a subscriber on a circuit and immediately replays the
// latest cached payload, if any. A fatal replay failure detaches again.
func (m *Manager) Attach(sub Subscriber, circuitID string) {
	m.mu.Lock()
	subs, ok := m.circuits[circuitID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		m.circuits[circuitID] = subs
	}
	subs[sub] = struct{}{}
	m.reverse[sub] = circuitID
	total := len(subs)
	cached := m.cache[circuitID]
	m.mu.Unlock()

	metrics.Subscribers.WithLabelValues(circuitID).Set(float64(total))
	cclog.Infof("fanout: subscriber attached to circuit %s (total: %d)", circuitID, total)

	if cached == nil {
		return
	}
	replay := &schema.CachedPayload{
		Type:        schema.MsgCachedData,
		Data:        cached.Drivers,
		ColumnOrder: cached.ColumnOrder,
	}
	if err := sub.Send(replay); err != nil {
		if classify(err) == sendFatal {
			cclog.Infof("fanout: replay to new subscriber failed fatally: %v", err)
			m.Detach(sub)
		} else {
			cclog.Warnf("fanout: transient error replaying cache on circuit %s: %v", circuitID, err)
		}
	}
}

// Detach removes a subscriber from the registry and the reverse map. It is
// idempotent; detaching an unknown subscriber is a no-op.
func (m *Manager) Detach(sub Subscriber) {
	m.mu.Lock()
	circuitID, ok := m.reverse[sub]
	if ok {
		delete(m.reverse, sub)
		if subs, exists := m.circuits[circuitID]; exists {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(m.circuits, circuitID)
			}
		}
	}
	var remaining int
	if ok {
		remaining = len(m.circuits[circuitID])
	}
	m.mu.Unlock()

	if ok {
		metrics.Subscribers.WithLabelValues(circuitID).Set(float64(remaining))
		cclog.Infof("fanout: subscriber detached from circuit %s (remaining: %d)", circuitID, remaining)
	}
}

// Broadcast sends the payload to every subscriber of the circuit and caches
// it as the circuit's latest state. Subscribers whose send fails fatally
// are detached; transient failures keep the subscriber attached, since
// aggressive eviction has been observed to drop healthy clients during
// bursts.
func (m *Manager) Broadcast(circuitID string, payload *schema.TimingPayload) {
	m.mu.Lock()
	m.cache[circuitID] = payload
	subs := m.snapshotLocked(circuitID)
	m.mu.Unlock()

	metrics.BroadcastsSent.WithLabelValues(circuitID).Inc()
	if len(subs) == 0 {
		return
	}

	m.sendAll(circuitID, subs, payload)
}

// SendStatus notifies subscribers of an upstream state change. Statuses are
// not cached.
func (m *Manager) SendStatus(circuitID string, status schema.CircuitStatus) {
	m.mu.Lock()
	subs := m.snapshotLocked(circuitID)
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	m.sendAll(circuitID, subs, &schema.StatusUpdate{
		Type:      schema.MsgStatusUpdate,
		CircuitID: circuitID,
		Status:    status,
	})
}

// SendError surfaces an error message to subscribers. Errors are not
// cached.
func (m *Manager) SendError(circuitID string, message string) {
	m.mu.Lock()
	subs := m.snapshotLocked(circuitID)
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	m.sendAll(circuitID, subs, &schema.ErrorMessage{
		Type:      schema.MsgError,
		CircuitID: circuitID,
		Error:     message,
	})
}

func (m *Manager) snapshotLocked(circuitID string) []Subscriber {
	subs := make([]Subscriber, 0, len(m.circuits[circuitID]))
	for sub := range m.circuits[circuitID] {
		subs = append(subs, sub)
	}
	return subs
}

func (m *Manager) sendAll(circuitID string, subs []Subscriber, v any) {
	var gone []Subscriber
	sent := 0

	for _, sub := range subs {
		err := sub.Send(v)
		if err == nil {
			sent++
			continue
		}
		switch classify(err) {
		case sendFatal:
			metrics.SendFailures.WithLabelValues(circuitID, "fatal").Inc()
			cclog.Infof("fanout: subscriber connection gone on circuit %s: %v", circuitID, err)
			gone = append(gone, sub)
		default:
			metrics.SendFailures.WithLabelValues(circuitID, "transient").Inc()
			cclog.Warnf("fanout: transient send error on circuit %s, keeping subscriber: %v", circuitID, err)
		}
	}

	cclog.Debugf("fanout: circuit %s delivered %d/%d, %d gone", circuitID, sent, len(subs), len(gone))

	for _, sub := range gone {
		m.Detach(sub)
		sub.Close()
	}
}

// Count returns the number of subscribers attached to a circuit.
func (m *Manager) Count(circuitID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.circuits[circuitID])
}

// Has reports whether a circuit has any attached subscriber.
func (m *Manager) Has(circuitID string) bool {
	return m.Count(circuitID) > 0
}

// ActiveCircuits lists circuits with at least one subscriber.
func (m *Manager) ActiveCircuits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.circuits))
	for id := range m.circuits {
		ids = append(ids, id)
	}
	return ids
}

// CachedPayload returns the latest broadcast of a circuit, if any.
func (m *Manager) CachedPayload(circuitID string) (*schema.TimingPayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.cache[circuitID]
	return p, ok
}

// Shutdown detaches and closes every subscriber.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	subs := make([]Subscriber, 0, len(m.reverse))
	for sub := range m.reverse {
		subs = append(subs, sub)
	}
	m.circuits = make(map[string]map[Subscriber]struct{})
	m.reverse = make(map[Subscriber]string)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	cclog.Infof("fanout: shut down, closed %d subscribers", len(subs))
}

// Timestamp formats broadcast timestamps consistently across senders.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
