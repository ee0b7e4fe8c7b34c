// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ClusterCockpit/kt-gateway/internal/config"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range config.Keys.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// wsSubscriber adapts one gorilla connection to the fan-out Subscriber
// interface. Writes are serialized by the mutex; gorilla connections do
// not support concurrent writers.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// live upgrades a subscriber handshake and attaches the connection to the
// circuit's broadcast stream. The latest cached payload is replayed by the
// fan-out manager during attach. A failed upgrade aborts without
// registering anything.
func (api *RestApi) live(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		cclog.Warnf("subscriber handshake for circuit '%s' failed: %v", circuitID, err)
		return
	}

	sub := &wsSubscriber{conn: conn}
	api.Fanout.Attach(sub, circuitID)

	go api.subscriberReadLoop(sub, circuitID)
}

// subscriberReadLoop services one subscriber socket until it goes away.
// The only client message the gateway answers is the ping.
func (api *RestApi) subscriberReadLoop(sub *wsSubscriber, circuitID string) {
	defer func() {
		api.Fanout.Detach(sub)
		sub.Close()
	}()

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			cclog.Debugf("subscriber on circuit '%s' gone: %v", circuitID, err)
			return
		}

		var msg schema.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == schema.MsgPing {
			pong := schema.Pong{
				Type:      schema.MsgPong,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			if err := sub.Send(&pong); err != nil {
				cclog.Debugf("pong to subscriber on circuit '%s' failed: %v", circuitID, err)
				return
			}
		}
	}
}
