// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/kt-gateway/internal/fanout"
	"github.com/ClusterCockpit/kt-gateway/internal/session"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

func TestBackoffDelaySchedule(t *testing.T) {
	initial := 5 * time.Second
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, backoffDelay(initial, i+1), "attempt %d", i+1)
	}
	assert.Equal(t, maxBackoff, backoffDelay(initial, 10))
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, 30*time.Second, s.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, s.ReconnectDelay)
	assert.Equal(t, 10, s.MaxReconnectAttempts)
}

type testSubscriber struct {
	mu       sync.Mutex
	received []any
}

func (s *testSubscriber) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, v)
	return nil
}

func (s *testSubscriber) Close() error { return nil }

func (s *testSubscriber) payloads() []*schema.TimingPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*schema.TimingPayload
	for _, v := range s.received {
		if p, ok := v.(*schema.TimingPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *testSubscriber) statuses() []*schema.StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*schema.StatusUpdate
	for _, v := range s.received {
		if u, ok := v.(*schema.StatusUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

const testSnapshot = `init
grid||<tbody><tr data-id="r0"><td data-id="c1">Clt</td><td data-id="c2">Pilote</td><td data-id="c3">Kart</td><td data-id="c4">Dernier T.</td></tr><tr data-id="r141"><td>1</td><td>Jean</td><td>25</td><td>58.312</td></tr></tbody>`

// upstreamStub serves one websocket connection that sends a snapshot
// followed by a delta and then stays open.
func upstreamStub(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(testSnapshot)); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("r141c4|tn|57.998\nr141c1|rk|2")); err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCollectorStreamsAndBroadcasts(t *testing.T) {
	srv := upstreamStub(t)
	defer srv.Close()

	sessions := session.NewRegistry()
	fo := fanout.New()
	sub := &testSubscriber{}
	fo.Attach(sub, "velodrome")

	mgr := NewManager(sessions, fo, nil, nil, Settings{})
	mgr.Start("velodrome", wsURL(srv))
	defer mgr.StopAll()

	require.Eventually(t, func() bool {
		return len(sub.payloads()) >= 2
	}, 3*time.Second, 10*time.Millisecond, "expected snapshot and delta broadcasts")

	payloads := sub.payloads()
	last := payloads[len(payloads)-1]
	require.Contains(t, last.Drivers, "141")
	assert.Equal(t, "57.998", last.Drivers["141"]["LastLap"])
	assert.Equal(t, "2", last.Drivers["141"]["Position"])
	assert.Equal(t, []string{"Position", "Driver", "Kart", "LastLap"}, last.ColumnOrder)

	// The subscriber was told when the upstream came up.
	statuses := sub.statuses()
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Status.TimingConnected)

	st, ok := mgr.Status("velodrome")
	require.True(t, ok)
	assert.True(t, st.Connected)
	assert.GreaterOrEqual(t, st.MessageCount, 2)
}

func TestCollectorPersistsInferredMapping(t *testing.T) {
	srv := upstreamStub(t)
	defer srv.Close()

	store := &recordingStore{}
	sessions := session.NewRegistry()
	fo := fanout.New()

	mgr := NewManager(sessions, fo, store, nil, Settings{})
	mgr.Start("velodrome", wsURL(srv))
	defer mgr.StopAll()

	require.Eventually(t, func() bool {
		return store.mappingWrites() > 0
	}, 3*time.Second, 10*time.Millisecond)

	m := store.lastMapping()
	assert.Equal(t, "Position", m["C1"])
	assert.Equal(t, "LastLap", m["C4"])
}

func TestStopDuringBackoff(t *testing.T) {
	sessions := session.NewRegistry()
	fo := fanout.New()

	mgr := NewManager(sessions, fo, nil, nil, Settings{ReconnectDelay: time.Hour})
	c := mgr.Start("velodrome", "ws://127.0.0.1:1/nothing-listens-here")

	require.Eventually(t, func() bool {
		return c.Status().State == StateBackoff.String()
	}, 3*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		require.NoError(t, mgr.Stop("velodrome"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt backoff")
	}
	assert.Equal(t, StateStopped.String(), c.Status().State)
}

func TestStopUnknownCircuit(t *testing.T) {
	mgr := NewManager(session.NewRegistry(), fanout.New(), nil, nil, Settings{})
	assert.ErrorIs(t, mgr.Stop("nope"), ErrUnknownCircuit)
}

type recordingStore struct {
	mu          sync.Mutex
	mappings    []schema.ColumnMapping
	needsConfig int
}

func (r *recordingStore) UpdateMappings(_ context.Context, _ string, m schema.ColumnMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = append(r.mappings, m.Clone())
	return nil
}

func (r *recordingStore) MarkNeedsConfiguration(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.needsConfig++
	return nil
}

func (r *recordingStore) mappingWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappings)
}

func (r *recordingStore) lastMapping() schema.ColumnMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.mappings) == 0 {
		return nil
	}
	return r.mappings[len(r.mappings)-1]
}
