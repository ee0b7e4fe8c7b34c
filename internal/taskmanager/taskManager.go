// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the gateway's background maintenance: the
// connection-log retention sweep and a periodic collector status report.
package taskmanager

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/kt-gateway/internal/collector"
	"github.com/ClusterCockpit/kt-gateway/internal/repository"
)

var (
	s           gocron.Scheduler
	circuitRepo *repository.CircuitRepository
)

// Start creates the scheduler and registers all services. retention
// controls how long connection-log entries are kept.
func Start(retention time.Duration, collectors *collector.Manager) {
	var err error
	circuitRepo = repository.GetCircuitRepository()
	s, err = gocron.NewScheduler()
	if err != nil {
		cclog.Abortf("Taskmanager Start: Could not create gocron scheduler.\nError: %s\n", err.Error())
	}

	if retention > 0 {
		RegisterRetentionService(retention)
	}
	RegisterCollectorStatusService(collectors)

	s.Start()
}

// RegisterRetentionService deletes connection-log entries older than the
// retention window, once a day at 04:00.
func RegisterRetentionService(retention time.Duration) {
	cclog.Info("Register connection-log retention service")

	s.NewJob(gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(04, 0, 0))),
		gocron.NewTask(
			func() {
				cutoff := time.Now().Add(-retention).Unix()
				cnt, err := circuitRepo.DeleteConnectionLogsBefore(cutoff)
				if err != nil {
					cclog.Errorf("Error while deleting old connection logs: %s", err.Error())
					return
				}
				cclog.Infof("Retention: Removed %d connection-log entries", cnt)
			}))
}

// RegisterCollectorStatusService logs a collector summary every hour, so
// long-running deployments leave a trace of upstream health in the journal.
func RegisterCollectorStatusService(collectors *collector.Manager) {
	cclog.Info("Register collector status service")

	s.NewJob(gocron.DurationJob(time.Hour),
		gocron.NewTask(
			func() {
				for circuitID, st := range collectors.StatusAll() {
					cclog.Infof("collector %s: state=%s attempts=%d messages=%d",
						circuitID, st.State, st.ReconnectAttempts, st.MessageCount)
				}
			}))
}

// Shutdown stops the scheduler.
func Shutdown() {
	if s != nil {
		s.Shutdown()
	}
}
