// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the control surface of the gateway: REST operations
// for the circuit lifecycle and the websocket endpoint subscribers attach
// to. The core managers are injected; the package holds no global state.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/mux"

	"github.com/ClusterCockpit/kt-gateway/internal/collector"
	"github.com/ClusterCockpit/kt-gateway/internal/fanout"
	"github.com/ClusterCockpit/kt-gateway/internal/repository"
	"github.com/ClusterCockpit/kt-gateway/internal/session"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// CircuitStore is what the control surface needs from the metadata store.
type CircuitStore interface {
	GetCircuit(circuitID string) (*schema.Circuit, error)
	ListCircuits() ([]*schema.Circuit, error)
	GetConnectionLogs(circuitID string, limit int) ([]repository.ConnectionEvent, error)
	LogConnectionEvent(circuitID, eventType, message string)
}

type RestApi struct {
	Sessions   *session.Registry
	Collectors *collector.Manager
	Fanout     *fanout.Manager
	Store      CircuitStore
}

func New(sessions *session.Registry, collectors *collector.Manager,
	fo *fanout.Manager, store CircuitStore,
) *RestApi {
	return &RestApi{
		Sessions:   sessions,
		Collectors: collectors,
		Fanout:     fo,
		Store:      store,
	}
}

func (api *RestApi) MountRoutes(r *mux.Router) {
	r = r.PathPrefix("/api").Subrouter()
	r.StrictSlash(true)

	r.HandleFunc("/circuits/", api.getCircuits).Methods(http.MethodGet)
	r.HandleFunc("/circuits/{id}", api.getCircuit).Methods(http.MethodGet)
	r.HandleFunc("/circuits/{id}/status", api.getCircuitStatus).Methods(http.MethodGet)
	r.HandleFunc("/circuits/{id}/start-timing", api.startTiming).Methods(http.MethodPost)
	r.HandleFunc("/circuits/{id}/stop-timing", api.stopTiming).Methods(http.MethodPost)
	r.HandleFunc("/circuits/{id}/drivers", api.getDrivers).Methods(http.MethodGet)
	r.HandleFunc("/circuits/{id}/drivers/clear", api.clearSession).Methods(http.MethodPost)
	r.HandleFunc("/circuits/{id}/session/export", api.exportSession).Methods(http.MethodGet)
	r.HandleFunc("/circuits/{id}/session/import", api.importSession).Methods(http.MethodPost)
	r.HandleFunc("/circuits/{id}/logs", api.getLogs).Methods(http.MethodGet)
	r.HandleFunc("/circuits/{id}/live", api.live).Methods(http.MethodGet)
	r.HandleFunc("/status", api.getSystemStatus).Methods(http.MethodGet)
}

// ErrorResponse model
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	cclog.Warnf("REST ERROR : %s", err.Error())
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		cclog.Warnf("Error while encoding JSON response: %v", err)
	}
}

func (api *RestApi) getCircuits(rw http.ResponseWriter, r *http.Request) {
	circuits, err := api.Store.ListCircuits()
	if err != nil {
		handleError(fmt.Errorf("listing circuits failed: %w", err), http.StatusInternalServerError, rw)
		return
	}
	writeJSON(rw, circuits)
}

func (api *RestApi) getCircuit(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	circuit, err := api.Store.GetCircuit(circuitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			handleError(fmt.Errorf("circuit '%s' not found", circuitID), http.StatusNotFound, rw)
		} else {
			handleError(err, http.StatusInternalServerError, rw)
		}
		return
	}
	writeJSON(rw, circuit)
}

// CircuitStatusResponse model
type CircuitStatusResponse struct {
	CircuitID       string            `json:"circuit_id"`
	Collector       *collector.Status `json:"collector,omitempty"`
	Subscribers     int               `json:"subscribers"`
	Session         session.Stats     `json:"session"`
	TimingConnected bool              `json:"timing_connected"`
}

func (api *RestApi) getCircuitStatus(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	resp := CircuitStatusResponse{
		CircuitID:   circuitID,
		Subscribers: api.Fanout.Count(circuitID),
	}
	if st, ok := api.Collectors.Status(circuitID); ok {
		resp.Collector = &st
		resp.TimingConnected = st.Connected
	}
	if s, ok := api.Sessions.Peek(circuitID); ok {
		resp.Session = s.Stats()
	}
	writeJSON(rw, resp)
}

// StartTimingRequest model
type StartTimingRequest struct {
	// Overrides the circuit's stored upstream url.
	UpstreamURL string `json:"upstream_url"`
}

func (api *RestApi) startTiming(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	var req StartTimingRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(fmt.Errorf("decoding request body failed: %w", err), http.StatusBadRequest, rw)
			return
		}
	}

	upstreamURL := req.UpstreamURL
	sess := api.Sessions.Get(circuitID)

	circuit, err := api.Store.GetCircuit(circuitID)
	switch {
	case err == nil:
		if upstreamURL == "" {
			upstreamURL = circuit.UpstreamURL
		}
		// Load the persisted mapping so deltas project correctly before
		// the first snapshot arrives.
		if len(circuit.Mappings) > 0 && len(sess.Mapping()) == 0 {
			sess.SetMapping(circuit.Mappings)
		}
	case errors.Is(err, sql.ErrNoRows):
		if upstreamURL == "" {
			handleError(fmt.Errorf("circuit '%s' not found and no upstream_url given", circuitID), http.StatusNotFound, rw)
			return
		}
	default:
		handleError(err, http.StatusInternalServerError, rw)
		return
	}

	if upstreamURL == "" {
		handleError(fmt.Errorf("circuit '%s' has no upstream url configured", circuitID), http.StatusBadRequest, rw)
		return
	}

	api.Collectors.Start(circuitID, upstreamURL)
	api.Store.LogConnectionEvent(circuitID, "collector_started", upstreamURL)

	rw.WriteHeader(http.StatusAccepted)
	writeJSON(rw, map[string]string{"msg": "collector started", "circuit_id": circuitID})
}

func (api *RestApi) stopTiming(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	if err := api.Collectors.Stop(circuitID); err != nil {
		handleError(fmt.Errorf("circuit '%s': %w", circuitID, err), http.StatusNotFound, rw)
		return
	}
	api.Store.LogConnectionEvent(circuitID, "collector_stopped", "")

	writeJSON(rw, map[string]string{"msg": "collector stopped", "circuit_id": circuitID})
}

// DriversResponse model
type DriversResponse struct {
	CircuitID   string                         `json:"circuit_id"`
	Drivers     map[string]schema.DriverRecord `json:"drivers"`
	ColumnOrder []string                       `json:"column_order"`
}

func (api *RestApi) getDrivers(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	sess, ok := api.Sessions.Peek(circuitID)
	if !ok {
		handleError(fmt.Errorf("no session for circuit '%s'", circuitID), http.StatusNotFound, rw)
		return
	}
	writeJSON(rw, DriversResponse{
		CircuitID:   circuitID,
		Drivers:     sess.ProjectAll(),
		ColumnOrder: sess.ColumnOrder(),
	})
}

func (api *RestApi) clearSession(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	sess, ok := api.Sessions.Peek(circuitID)
	if !ok {
		handleError(fmt.Errorf("no session for circuit '%s'", circuitID), http.StatusNotFound, rw)
		return
	}
	sess.Clear()
	writeJSON(rw, map[string]string{"msg": "session cleared", "circuit_id": circuitID})
}

func (api *RestApi) exportSession(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	sess, ok := api.Sessions.Peek(circuitID)
	if !ok {
		handleError(fmt.Errorf("no session for circuit '%s'", circuitID), http.StatusNotFound, rw)
		return
	}
	writeJSON(rw, sess.Export())
}

func (api *RestApi) importSession(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	var blob session.Export
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&blob); err != nil {
		handleError(fmt.Errorf("decoding session blob failed: %w", err), http.StatusBadRequest, rw)
		return
	}

	api.Sessions.Get(circuitID).Import(&blob)
	writeJSON(rw, map[string]string{"msg": "session imported", "circuit_id": circuitID})
}

func (api *RestApi) getLogs(rw http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["id"]

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	events, err := api.Store.GetConnectionLogs(circuitID, limit)
	if err != nil {
		handleError(fmt.Errorf("fetching connection logs failed: %w", err), http.StatusInternalServerError, rw)
		return
	}
	writeJSON(rw, events)
}

// SystemStatusResponse model
type SystemStatusResponse struct {
	Collectors     map[string]collector.Status `json:"collectors"`
	ActiveCircuits []string                    `json:"active_circuits"`
	Subscribers    map[string]int              `json:"subscribers"`
}

func (api *RestApi) getSystemStatus(rw http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Collectors:     api.Collectors.StatusAll(),
		ActiveCircuits: api.Fanout.ActiveCircuits(),
		Subscribers:    make(map[string]int),
	}
	for _, circuitID := range resp.ActiveCircuits {
		resp.Subscribers[circuitID] = api.Fanout.Count(circuitID)
	}
	writeJSON(rw, resp)
}
