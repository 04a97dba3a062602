// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver holds the Driver Registry: it maps
// driver name and device class to a registered models.Driver and owns
// each driver's startup/shutdown lifecycle.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
)

// DeviceLookup is the narrow slice of the store the registry needs to
// resolve getDriverForUri without importing the store package
// directly (avoiding an import cycle, since store never needs driver).
type DeviceLookup interface {
	GetDevice(uuid string) (*models.Device, bool)
}

// Registry is the single place drivers are registered, looked up by
// name or by supported device class, and shut down.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]models.Driver
	byClass     map[string][]models.Driver // insertion order preserved
	lookup      DeviceLookup
	log         common.LoggingClient
}

func New(lookup DeviceLookup, log common.LoggingClient) *Registry {
	return &Registry{
		byName:  make(map[string]models.Driver),
		byClass: make(map[string][]models.Driver),
		lookup:  lookup,
		log:     log,
	}
}

// Register adds d to the registry and calls its Startup hook. Calling
// Register twice with the same driver name is an error.
func (r *Registry) Register(ctx context.Context, d models.Driver) error {
	r.mu.Lock()
	if _, exists := r.byName[d.DriverName()]; exists {
		r.mu.Unlock()
		return common.NewInvalidArgumentError(fmt.Sprintf("driver %s already registered", d.DriverName()))
	}
	r.byName[d.DriverName()] = d
	for _, class := range d.SupportedDeviceClasses() {
		r.byClass[class] = append(r.byClass[class], d)
	}
	r.mu.Unlock()

	if err := d.Startup(ctx); err != nil {
		return common.NewDriverFailureError(err)
	}
	if r.log != nil {
		r.log.Info("registry: driver %s started, classes=%v", d.DriverName(), d.SupportedDeviceClasses())
	}
	return nil
}

func (r *Registry) GetDriverByName(name string) (models.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// GetDriversByClass returns the ordered set of drivers that support
// class.
func (r *Registry) GetDriversByClass(class string) []models.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Driver, len(r.byClass[class]))
	copy(out, r.byClass[class])
	return out
}

// GetDriverForUri resolves uri -> deviceUuid -> managingDriver (spec
// §4.2).
func (r *Registry) GetDriverForUri(uri string) (models.Driver, bool) {
	deviceUUID := deviceUUIDFromURI(uri)
	if deviceUUID == "" || r.lookup == nil {
		return nil, false
	}
	d, ok := r.lookup.GetDevice(deviceUUID)
	if !ok {
		return nil, false
	}
	return r.GetDriverByName(d.ManagingDriverName)
}

func deviceUUIDFromURI(uri string) string {
	if len(uri) < 2 || uri[0] != '/' {
		return ""
	}
	rest := uri[1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return rest
}

// Names returns every registered driver name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// ShutdownAll calls Shutdown on every registered driver, capping total
// wait at the 31-minute allowance for in-progress firmware upgrades.
// A driver whose shutdown does not return before the cap is logged
// and skipped so the process can still exit.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.RLock()
	drivers := make([]models.Driver, 0, len(r.byName))
	for _, d := range r.byName {
		drivers = append(drivers, d)
	}
	r.mu.RUnlock()

	deadline := time.Duration(common.DriverShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for _, d := range drivers {
			if err := d.Shutdown(ctx); err != nil && r.log != nil {
				r.log.Error("registry: driver %s shutdown error: %v", d.DriverName(), err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if r.log != nil {
			r.log.Error("registry: shutdown deadline (%s) exceeded, continuing exit", deadline)
		}
	}
}
