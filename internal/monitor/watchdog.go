// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package monitor implements the process-wide communication watchdog
// and the per-device IP monitoring loops used by IP-addressable
// drivers.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
)

// ResourceUpdater is the narrow slice of the resource-update pipeline
// the watchdog needs (implemented by *resourceio.Pipeline).
type ResourceUpdater interface {
	UpdateResource(deviceUUID, endpointID, resourceID string, newValue *string, metadata map[string]string) error
}

// DriverForDevice resolves the driver managing a device uuid
// (implemented by *driver.Registry via its root-device URI).
type DriverForDevice interface {
	GetDriverForUri(uri string) (models.Driver, bool)
}

// DeviceLookup resolves a device by uuid (implemented by *store.Store).
type DeviceLookup interface {
	GetDevice(uuid string) (*models.Device, bool)
}

// ZigbeeNotifier is the subsystem collaborator notified when a driver
// belonging to the ZigBee subsystem loses communication with one of
// its devices. Restored communication is not reported to it.
type ZigbeeNotifier interface {
	NotifyCommFail(deviceUUID string)
}

const zigbeeSubsystemName = "zigbee"

// Watchdog tracks, per device, the last-contact time and raises
// communication-lost / communication-restored transitions once a
// device has gone quiet longer than its threshold.
type Watchdog struct {
	mu           sync.Mutex
	lastContact  map[string]int64 // uuid -> epoch millis
	commFailed   map[string]bool

	threshold time.Duration
	updater   ResourceUpdater
	drivers   DriverForDevice
	devices   DeviceLookup
	zigbee    ZigbeeNotifier
	log       common.LoggingClient
	now       func() time.Time
}

func New(threshold time.Duration, updater ResourceUpdater, drivers DriverForDevice, devices DeviceLookup, zigbee ZigbeeNotifier, log common.LoggingClient) *Watchdog {
	return &Watchdog{
		lastContact: make(map[string]int64),
		commFailed:  make(map[string]bool),
		threshold:   threshold,
		updater:     updater,
		drivers:     drivers,
		devices:     devices,
		zigbee:      zigbee,
		log:         log,
		now:         time.Now,
	}
}

// UpdateDeviceDateLastContacted is called after every successful
// resource sync. It records the contact, writes the dateLastContacted
// resource, and clears a prior communication-lost state if one was
// active.
func (w *Watchdog) UpdateDeviceDateLastContacted(uuid string) {
	now := w.now()
	millis := now.UnixNano() / int64(time.Millisecond)

	w.mu.Lock()
	w.lastContact[uuid] = millis
	wasFailed := w.commFailed[uuid]
	w.commFailed[uuid] = false
	w.mu.Unlock()

	if w.updater != nil {
		_ = w.updater.UpdateResource(uuid, "", common.ResourceDateLastContacted, models.StringFromNowMillis(now), nil)
	}

	if wasFailed {
		w.onCommRestore(uuid)
	}
}

// Sweep checks every tracked device's last-contact time against the
// watchdog's threshold and fires onCommFail for any device that has
// just crossed it. Intended to be called periodically by Run.
func (w *Watchdog) Sweep() {
	cutoff := w.now().Add(-w.threshold).UnixNano() / int64(time.Millisecond)

	w.mu.Lock()
	var stale []string
	for uuid, last := range w.lastContact {
		if last < cutoff && !w.commFailed[uuid] {
			w.commFailed[uuid] = true
			stale = append(stale, uuid)
		}
	}
	w.mu.Unlock()

	for _, uuid := range stale {
		w.onCommFail(uuid)
	}
}

// Run polls Sweep at pollInterval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

func (w *Watchdog) onCommFail(uuid string) {
	device, drv, ok := w.lookup(uuid)
	if !ok {
		return
	}

	if cf, ok := drv.(models.CommFailAwareDriver); ok {
		cf.CommunicationFailed(device)
	}
	if named, ok := drv.(models.NamedSubsystemDriver); ok && named.SubsystemName() == zigbeeSubsystemName && w.zigbee != nil {
		w.zigbee.NotifyCommFail(uuid)
	}
	if w.updater != nil {
		if err := w.updater.UpdateResource(uuid, "", common.ResourceCommFail, models.StringFromBool(true), nil); err != nil && w.log != nil {
			w.log.Warn("monitor: failed to write commFail=true for device %s: %v", uuid, err)
		}
	}
}

func (w *Watchdog) onCommRestore(uuid string) {
	device, drv, ok := w.lookup(uuid)
	if !ok {
		return
	}

	if cf, ok := drv.(models.CommFailAwareDriver); ok {
		cf.CommunicationRestored(device)
	}
	if w.updater != nil {
		if err := w.updater.UpdateResource(uuid, "", common.ResourceCommFail, models.StringFromBool(false), nil); err != nil && w.log != nil {
			w.log.Warn("monitor: failed to write commFail=false for device %s: %v", uuid, err)
		}
	}
}

func (w *Watchdog) lookup(uuid string) (*models.Device, models.Driver, bool) {
	if w.devices == nil || w.drivers == nil {
		return nil, nil, false
	}
	device, ok := w.devices.GetDevice(uuid)
	if !ok {
		return nil, nil, false
	}
	drv, ok := w.drivers.GetDriverForUri(device.URI())
	if !ok {
		return nil, nil, false
	}
	return device, drv, true
}

// Forget removes a device from the watchdog's tracking, called when a
// device is removed from the store.
func (w *Watchdog) Forget(uuid string) {
	w.mu.Lock()
	delete(w.lastContact, uuid)
	delete(w.commFailed, uuid)
	w.mu.Unlock()
}
