// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClusterCockpit/kt-gateway/internal/api"
	"github.com/ClusterCockpit/kt-gateway/internal/collector"
	"github.com/ClusterCockpit/kt-gateway/internal/config"
	"github.com/ClusterCockpit/kt-gateway/internal/fanout"
	"github.com/ClusterCockpit/kt-gateway/internal/repository"
	"github.com/ClusterCockpit/kt-gateway/internal/session"
	"github.com/ClusterCockpit/kt-gateway/internal/taskmanager"
	"github.com/ClusterCockpit/kt-gateway/pkg/natsrelay"
)

var (
	router       *mux.Router
	server       *http.Server
	apiHandle    *api.RestApi
	sessions     *session.Registry
	fanoutMgr    *fanout.Manager
	collectorMgr *collector.Manager
	relay        *natsrelay.Relay
)

func serverInit() {
	sessions = session.NewRegistry()
	fanoutMgr = fanout.New()

	var err error
	relay, err = natsrelay.Connect(config.Keys.Nats)
	if err != nil {
		cclog.Warnf("NATS relay disabled: %v", err)
		relay = nil
	}

	circuitRepo := repository.GetCircuitRepository()

	settings := collector.Settings{
		HeartbeatInterval:    config.Duration(config.Keys.HeartbeatInterval, 30*time.Second),
		ReconnectDelay:       config.Duration(config.Keys.ReconnectDelay, 5*time.Second),
		MaxReconnectAttempts: config.Keys.MaxReconnectAttempts,
	}

	var publisher collector.Publisher
	if relay != nil {
		publisher = relay
	}
	collectorMgr = collector.NewManager(sessions, fanoutMgr, circuitRepo, publisher, settings)

	apiHandle = api.New(sessions, collectorMgr, fanoutMgr, circuitRepo)

	router = mux.NewRouter()
	router.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Add("Content-Type", "application/json")
		rw.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	apiHandle.MountRoutes(router)

	handler := handlers.CORS(
		handlers.AllowedOrigins(config.Keys.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Origin"}),
	)(handlers.RecoveryHandler()(router))

	server = &http.Server{
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, handler),
		Addr:         config.Keys.Addr,
	}
}

func serverStart() {
	cclog.Infof("HTTP server listening at %s...", config.Keys.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cclog.Fatalf("HTTP server error: %v", err)
	}
}

func serverShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	taskmanager.Shutdown()
	collectorMgr.StopAll()
	fanoutMgr.Shutdown()
	relay.Close()

	cclog.Info("Graceful shutdown completed!")
}
