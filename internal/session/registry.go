// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"strings"
	"sync"
)

// Registry hands out the session of a circuit, creating it lazily on first
// use. Circuit ids are trimmed but otherwise opaque and case-sensitive.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*CircuitSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*CircuitSession)}
}

// Get returns the session for circuitID, creating it if necessary.
func (r *Registry) Get(circuitID string) *CircuitSession {
	circuitID = strings.TrimSpace(circuitID)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[circuitID]
	if !ok {
		s = newSession(circuitID)
		r.sessions[circuitID] = s
	}
	return s
}

// Peek returns the session for circuitID only if it already exists.
func (r *Registry) Peek(circuitID string) (*CircuitSession, bool) {
	circuitID = strings.TrimSpace(circuitID)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[circuitID]
	return s, ok
}

// CircuitIDs lists the circuits with existing sessions.
func (r *Registry) CircuitIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
