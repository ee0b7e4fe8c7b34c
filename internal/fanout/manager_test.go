// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fanout

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// fakeSubscriber records everything sent to it and can be told to fail.
type fakeSubscriber struct {
	mu       sync.Mutex
	received []any
	sendErr  error
	closed   bool
}

func (f *fakeSubscriber) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, v)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.received...)
}

func payload(circuitID string, n int) *schema.TimingPayload {
	return &schema.TimingPayload{
		Type:      schema.MsgKartingData,
		CircuitID: circuitID,
		Drivers: map[string]schema.DriverRecord{
			"141": {"driver_id": "141", "Position": "1"},
		},
		ColumnOrder:  []string{"Position"},
		MessageCount: n,
		Timestamp:    Timestamp(),
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	m := New()
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	m.Attach(a, "c1")
	m.Attach(b, "c1")

	m.Broadcast("c1", payload("c1", 1))

	require.Len(t, a.messages(), 1)
	require.Len(t, b.messages(), 1)
	assert.Equal(t, 2, m.Count("c1"))
}

func TestLateJoinReplay(t *testing.T) {
	m := New()
	early := &fakeSubscriber{}
	m.Attach(early, "c1")
	assert.Empty(t, early.messages(), "no cache yet, nothing to replay")

	m.Broadcast("c1", payload("c1", 1))
	m.Broadcast("c1", payload("c1", 2))

	late := &fakeSubscriber{}
	m.Attach(late, "c1")

	msgs := late.messages()
	require.Len(t, msgs, 1)
	cached, ok := msgs[0].(*schema.CachedPayload)
	require.True(t, ok)
	assert.Equal(t, schema.MsgCachedData, cached.Type)
	assert.Equal(t, []string{"Position"}, cached.ColumnOrder)
	assert.Contains(t, cached.Data, "141")

	// Early subscriber saw both broadcasts, no replay.
	assert.Len(t, early.messages(), 2)
}

func TestDetachIdempotent(t *testing.T) {
	m := New()
	sub := &fakeSubscriber{}
	m.Attach(sub, "c1")

	m.Detach(sub)
	m.Detach(sub)

	assert.Equal(t, 0, m.Count("c1"))
	assert.False(t, m.Has("c1"))

	// Re-attach restores exactly one registration.
	m.Attach(sub, "c1")
	assert.Equal(t, 1, m.Count("c1"))
}

func TestTransientSendErrorKeepsSubscriber(t *testing.T) {
	m := New()
	flaky := &fakeSubscriber{sendErr: errors.New("resource temporarily unavailable")}
	healthy := &fakeSubscriber{}
	m.Attach(flaky, "c1")
	m.Attach(healthy, "c1")

	m.Broadcast("c1", payload("c1", 1))

	assert.Equal(t, 2, m.Count("c1"), "transient failures must not evict")
	require.Len(t, healthy.messages(), 1)

	// Once the stall clears, subsequent broadcasts go through again.
	flaky.mu.Lock()
	flaky.sendErr = nil
	flaky.mu.Unlock()
	m.Broadcast("c1", payload("c1", 2))
	assert.Len(t, flaky.messages(), 1)
}

func TestFatalSendErrorDetaches(t *testing.T) {
	m := New()
	dead := &fakeSubscriber{sendErr: errors.New("write tcp: broken pipe")}
	m.Attach(dead, "c1")

	m.Broadcast("c1", payload("c1", 1))

	assert.Equal(t, 0, m.Count("c1"))
	dead.mu.Lock()
	defer dead.mu.Unlock()
	assert.True(t, dead.closed)
}

func TestStatusAndErrorNotCached(t *testing.T) {
	m := New()
	m.Attach(&fakeSubscriber{}, "c1")

	m.SendStatus("c1", schema.CircuitStatus{TimingConnected: false})
	m.SendError("c1", "upstream disconnected")

	late := &fakeSubscriber{}
	m.Attach(late, "c1")
	assert.Empty(t, late.messages(), "status/error must not populate the replay cache")
}

func TestActiveCircuits(t *testing.T) {
	m := New()
	m.Attach(&fakeSubscriber{}, "c1")
	m.Attach(&fakeSubscriber{}, "c2")

	assert.ElementsMatch(t, []string{"c1", "c2"}, m.ActiveCircuits())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want sendClass
	}{
		{errors.New("connection closed by peer"), sendFatal},
		{errors.New("write: broken pipe"), sendFatal},
		{errors.New("connection reset by peer"), sendFatal},
		{errors.New("i/o timeout"), sendTransient},
		{errors.New("buffer full"), sendTransient},
		{nil, sendTransient},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classify(c.err), "err: %v", c.err)
	}
}
