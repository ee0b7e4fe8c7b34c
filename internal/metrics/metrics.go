// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_frames_decoded_total",
		Help: "Upstream frames decoded, by circuit and frame kind.",
	}, []string{"circuit", "kind"})

	BroadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_broadcasts_total",
		Help: "Payload broadcasts per circuit.",
	}, []string{"circuit"})

	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_subscriber_send_failures_total",
		Help: "Subscriber send failures, by circuit and classification.",
	}, []string{"circuit", "class"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_upstream_reconnects_total",
		Help: "Upstream reconnect attempts per circuit.",
	}, []string{"circuit"})

	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kt_subscribers",
		Help: "Currently attached subscribers per circuit.",
	}, []string{"circuit"})
)
