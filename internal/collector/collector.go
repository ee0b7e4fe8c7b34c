// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package collector owns the upstream side of the gateway: one collector
// per active circuit holds the streaming connection to the vendor timing
// feed, decodes incoming frames, applies them to the circuit session and
// hands the projected payload to the fan-out manager. Frames are applied
// strictly in arrival order.
package collector

import (
	"context"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/websocket"

	"github.com/ClusterCockpit/kt-gateway/internal/decoder"
	"github.com/ClusterCockpit/kt-gateway/internal/fanout"
	"github.com/ClusterCockpit/kt-gateway/internal/metrics"
	"github.com/ClusterCockpit/kt-gateway/internal/session"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// State of a collector's connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// maxBackoff caps the exponential reconnect delay.
const maxBackoff = 60 * time.Second

// Settings are the collector tunables, normally taken from the program
// config.
type Settings struct {
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

func (s Settings) withDefaults() Settings {
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 30 * time.Second
	}
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = 5 * time.Second
	}
	if s.MaxReconnectAttempts <= 0 {
		s.MaxReconnectAttempts = 10
	}
	return s
}

// MappingStore is the narrow write interface to the circuit metadata
// store. Both operations are best-effort; failures are logged and never
// fail the frame that triggered them.
type MappingStore interface {
	UpdateMappings(ctx context.Context, circuitID string, m schema.ColumnMapping) error
	MarkNeedsConfiguration(ctx context.Context, circuitID string) error
}

// Publisher mirrors broadcast payloads to an external bus. Optional.
type Publisher interface {
	PublishTiming(circuitID string, payload *schema.TimingPayload)
}

// Collector drives one upstream streaming connection.
type Collector struct {
	circuitID   string
	upstreamURL string
	session     *session.CircuitSession
	fanout      *fanout.Manager
	store       MappingStore
	relay       Publisher
	settings    Settings

	mu          sync.Mutex
	state       State
	attempts    int
	msgCount    int
	lastMessage time.Time
	cancel      context.CancelFunc
	conn        *websocket.Conn
	done        chan struct{}
}

func newCollector(circuitID, upstreamURL string, sess *session.CircuitSession,
	fo *fanout.Manager, store MappingStore, relay Publisher, settings Settings,
) *Collector {
	return &Collector{
		circuitID:   circuitID,
		upstreamURL: upstreamURL,
		session:     sess,
		fanout:      fo,
		store:       store,
		relay:       relay,
		settings:    settings.withDefaults(),
		state:       StateIdle,
	}
}

// Start launches the connection loop. Starting a collector that is not
// idle or stopped is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateStopped {
		c.mu.Unlock()
		cclog.Warnf("collector %s: already running", c.circuitID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.attempts = 0
	c.state = StateConnecting
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	cclog.Infof("collector %s: starting against %s", c.circuitID, c.upstreamURL)
	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Stop transitions the collector to Stopped from any state and closes an
// open upstream connection. It blocks until the run loop has exited.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	c.setState(StateStopped)
	cclog.Infof("collector %s: stopped", c.circuitID)
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Collector) run(ctx context.Context) {
	for {
		c.setState(StateConnecting)
		err := c.connectAndStream(ctx)

		if ctx.Err() != nil {
			c.setState(StateStopped)
			return
		}
		if err != nil {
			cclog.Warnf("collector %s: upstream failure: %v", c.circuitID, err)
		}

		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		c.mu.Unlock()
		metrics.Reconnects.WithLabelValues(c.circuitID).Inc()

		if attempts >= c.settings.MaxReconnectAttempts {
			cclog.Errorf("collector %s: max reconnect attempts (%d) reached, giving up",
				c.circuitID, c.settings.MaxReconnectAttempts)
			c.setState(StateStopped)
			c.fanout.SendError(c.circuitID, "upstream disconnected")
			return
		}

		delay := backoffDelay(c.settings.ReconnectDelay, attempts)
		cclog.Infof("collector %s: reconnecting in %s (attempt %d)", c.circuitID, delay, attempts)
		c.setState(StateBackoff)

		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay doubles the initial delay per attempt: 5s, 10s, 20s, ...
// capped at maxBackoff.
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// connectAndStream dials the upstream feed and pumps frames until the
// connection drops or the context is cancelled. A heartbeat ping keeps the
// connection alive; a failed ping closes the connection and is handled
// like any other connection failure.
func (c *Collector) connectAndStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.upstreamURL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.state = StateStreaming
	c.mu.Unlock()

	cclog.Infof("collector %s: connected to %s", c.circuitID, c.upstreamURL)
	c.fanout.SendStatus(c.circuitID, schema.CircuitStatus{TimingConnected: true})

	heartbeatDone := make(chan struct{})
	go c.heartbeat(conn, heartbeatDone)

	defer func() {
		close(heartbeatDone)
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.fanout.SendStatus(c.circuitID, schema.CircuitStatus{
			TimingConnected:   false,
			ReconnectAttempts: c.Status().ReconnectAttempts,
		})
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(string(data))
	}
}

func (c *Collector) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				cclog.Warnf("collector %s: heartbeat failed: %v", c.circuitID, err)
				conn.Close()
				return
			}
		}
	}
}

// handleFrame decodes one frame, applies it to the session and broadcasts
// the resulting projection. Mapping persistence runs asynchronously and
// never blocks frame processing.
func (c *Collector) handleFrame(frame string) {
	c.mu.Lock()
	c.msgCount++
	c.lastMessage = time.Now()
	c.mu.Unlock()

	decoded := decoder.Decode(frame)
	metrics.FramesDecoded.WithLabelValues(c.circuitID, decoded.Kind.String()).Inc()

	if decoded.Empty() && decoded.MappingStatus == decoder.MappingNotApplicable {
		cclog.Debugf("collector %s: frame carried no timing data", c.circuitID)
		return
	}

	outcome := c.session.Apply(decoded)

	payload := &schema.TimingPayload{
		Type:         schema.MsgKartingData,
		CircuitID:    c.circuitID,
		Drivers:      outcome.Records,
		ColumnOrder:  outcome.ColumnOrder,
		MessageCount: outcome.MessageCount,
		Timestamp:    fanout.Timestamp(),
	}
	c.fanout.Broadcast(c.circuitID, payload)

	if c.relay != nil {
		c.relay.PublishTiming(c.circuitID, payload)
	}

	switch outcome.Persist {
	case session.PersistMapping:
		go c.persistMapping(outcome.Mapping)
	case session.PersistNeedsConfig:
		go c.persistNeedsConfig()
	}
}

func (c *Collector) persistMapping(m schema.ColumnMapping) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.UpdateMappings(ctx, c.circuitID, m); err != nil {
		cclog.Warnf("collector %s: persisting inferred mapping failed: %v", c.circuitID, err)
	}
}

func (c *Collector) persistNeedsConfig() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.MarkNeedsConfiguration(ctx, c.circuitID); err != nil {
		cclog.Warnf("collector %s: marking circuit for manual configuration failed: %v", c.circuitID, err)
	}
}

// Status describes a collector for the control surface.
type Status struct {
	CircuitID         string     `json:"circuit_id"`
	UpstreamURL       string     `json:"upstream_url"`
	State             string     `json:"state"`
	Connected         bool       `json:"connected"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	MessageCount      int        `json:"message_count"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
}

// Status returns a snapshot of the collector state.
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		CircuitID:         c.circuitID,
		UpstreamURL:       c.upstreamURL,
		State:             c.state.String(),
		Connected:         c.state == StateStreaming,
		ReconnectAttempts: c.attempts,
		MessageCount:      c.msgCount,
	}
	if !c.lastMessage.IsZero() {
		t := c.lastMessage
		st.LastMessageAt = &t
	}
	return st
}
