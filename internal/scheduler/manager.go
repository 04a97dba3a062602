// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package scheduler periodically re-syncs ALWAYS-cached, DYNAMIC
// resources a driver never pushes proactively. It sits above the
// communication watchdog: where the watchdog notices a device has
// gone silent, the scheduler notices a value nobody bothered to send.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
	"gopkg.in/robfig/cron.v2"
)

// ResourceLookup resolves a resource by its URI (implemented by
// *store.Store).
type ResourceLookup interface {
	GetResourceByURI(uri string) (*models.Resource, bool)
}

// DriverLookup resolves the driver managing the device addressed by a
// URI (implemented by *driver.Registry).
type DriverLookup interface {
	GetDriverForUri(uri string) (models.Driver, bool)
}

// ResourceUpdater is the callback surface a resync job reports an
// observed value through (implemented by *resourceio.Pipeline).
type ResourceUpdater interface {
	UpdateResource(deviceUUID, endpointID, resourceID string, newValue *string, metadata map[string]string) error
}

// Manager owns a single cron.Cron instance and the map from resource
// URI to its scheduled entry, mirroring the one-cron-many-jobs shape
// used for AutoEvents.
type Manager struct {
	mu       sync.Mutex
	cr       *cron.Cron
	entries  map[string]cron.EntryID
	started  bool

	resources ResourceLookup
	drivers   DriverLookup
	updater   ResourceUpdater
	log       common.LoggingClient
}

func NewManager(resources ResourceLookup, drivers DriverLookup, updater ResourceUpdater, log common.LoggingClient) *Manager {
	return &Manager{
		cr:        cron.New(),
		entries:   make(map[string]cron.EntryID),
		resources: resources,
		drivers:   drivers,
		updater:   updater,
		log:       log,
	}
}

func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.cr.Start()
	m.started = true
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.cr.Stop()
	m.started = false
}

// AddResync schedules a periodic re-read of the resource at uri on
// the given standard cron schedule. Only one resync job may be active
// per URI at a time; scheduling an already-scheduled URI is an error,
// matching how the AutoEvents manager treats a duplicate name.
func (m *Manager) AddResync(uri, cronSpec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[uri]; exists {
		return fmt.Errorf("resync for %s is already scheduled", uri)
	}

	job := &resyncJob{
		uri:       uri,
		resources: m.resources,
		drivers:   m.drivers,
		updater:   m.updater,
		log:       m.log,
	}
	entry, err := m.cr.AddJob(cronSpec, job)
	if err != nil {
		return err
	}
	m.entries[uri] = entry
	if m.log != nil {
		m.log.Info("scheduler: resync job added for %s (%s)", uri, cronSpec)
	}
	return nil
}

// RemoveResync cancels a previously scheduled resync job.
func (m *Manager) RemoveResync(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[uri]
	if !ok {
		return fmt.Errorf("no resync scheduled for %s", uri)
	}
	m.cr.Remove(entry)
	delete(m.entries, uri)
	return nil
}

// resyncJob implements cron.Job: on each tick it re-reads the
// driver's current value for one resource and reports it through the
// resource-update pipeline exactly as the driver itself would have,
// whether or not the value changed.
type resyncJob struct {
	uri       string
	resources ResourceLookup
	drivers   DriverLookup
	updater   ResourceUpdater
	log       common.LoggingClient
}

func (j *resyncJob) Run() {
	res, ok := j.resources.GetResourceByURI(j.uri)
	if !ok {
		return
	}
	if !res.Mode.Has(models.Readable) {
		return
	}

	drv, ok := j.drivers.GetDriverForUri(j.uri)
	if !ok {
		return
	}

	value, err := drv.ReadResource(context.Background(), res)
	if err != nil {
		if j.log != nil {
			j.log.Warn("scheduler: resync read failed for %s: %v", j.uri, err)
		}
		return
	}

	if err := j.updater.UpdateResource(res.DeviceUUID, res.EndpointID, res.ID, value, nil); err != nil && j.log != nil {
		j.log.Warn("scheduler: resync update failed for %s: %v", j.uri, err)
	}
}
