// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUpdater struct {
	mu     sync.Mutex
	values map[string]string
}

func newRecordingUpdater() *recordingUpdater {
	return &recordingUpdater{values: make(map[string]string)}
}

func (r *recordingUpdater) UpdateResource(deviceUUID, endpointID, resourceID string, newValue *string, metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if newValue == nil {
		delete(r.values, deviceUUID+"/"+resourceID)
	} else {
		r.values[deviceUUID+"/"+resourceID] = *newValue
	}
	return nil
}

func (r *recordingUpdater) get(uuid, id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[uuid+"/"+id]
	return v, ok
}

type commFailDriver struct {
	name          string
	subsystem     string
	failedCalls   int
	restoredCalls int
}

func (d *commFailDriver) DriverName() string              { return d.name }
func (d *commFailDriver) SupportedDeviceClasses() []string { return []string{"thermostat"} }
func (d *commFailDriver) Startup(ctx context.Context) error  { return nil }
func (d *commFailDriver) Shutdown(ctx context.Context) error { return nil }
func (d *commFailDriver) DiscoverDevices(ctx context.Context, class string) error        { return nil }
func (d *commFailDriver) StopDiscoveringDevices(ctx context.Context, class string) error { return nil }
func (d *commFailDriver) ConfigureDevice(ctx context.Context, dev *models.Device, desc *models.DeviceDescriptor) error {
	return nil
}
func (d *commFailDriver) FetchInitialResourceValues(ctx context.Context, dev *models.Device, bag *models.ValueBag) error {
	return nil
}
func (d *commFailDriver) RegisterResources(ctx context.Context, dev *models.Device, bag *models.ValueBag) error {
	return nil
}
func (d *commFailDriver) ReadResource(ctx context.Context, r *models.Resource) (*string, error) { return nil, nil }
func (d *commFailDriver) WriteResource(ctx context.Context, r *models.Resource, prev, newValue *string) bool {
	return true
}
func (d *commFailDriver) DeviceRemoved(ctx context.Context, dev *models.Device) {}
func (d *commFailDriver) CommunicationFailed(dev *models.Device)               { d.failedCalls++ }
func (d *commFailDriver) CommunicationRestored(dev *models.Device)             { d.restoredCalls++ }
func (d *commFailDriver) SubsystemName() string                               { return d.subsystem }

type fixedDevices struct {
	devices map[string]*models.Device
}

func (f *fixedDevices) GetDevice(uuid string) (*models.Device, bool) {
	d, ok := f.devices[uuid]
	return d, ok
}

type fixedDrivers struct {
	drv models.Driver
}

func (f *fixedDrivers) GetDriverForUri(uri string) (models.Driver, bool) { return f.drv, true }

type recordingZigbee struct {
	notified []string
}

func (z *recordingZigbee) NotifyCommFail(uuid string) { z.notified = append(z.notified, uuid) }

func TestWatchdogSweepFiresCommFailAfterThreshold(t *testing.T) {
	drv := &commFailDriver{name: "z1", subsystem: zigbeeSubsystemName}
	devices := &fixedDevices{devices: map[string]*models.Device{"U1": {UUID: "U1", DeviceClass: "thermostat"}}}
	updater := newRecordingUpdater()
	zigbee := &recordingZigbee{}

	var current time.Time
	w := New(100*time.Millisecond, updater, &fixedDrivers{drv: drv}, devices, zigbee, nil)
	w.now = func() time.Time { return current }

	current = time.Unix(1000, 0)
	w.UpdateDeviceDateLastContacted("U1")

	current = current.Add(200 * time.Millisecond)
	w.Sweep()

	assert.Equal(t, 1, drv.failedCalls)
	assert.Equal(t, []string{"U1"}, zigbee.notified)
	v, ok := updater.get("U1", "commFail")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	// A second sweep without new contact must not re-fire.
	w.Sweep()
	assert.Equal(t, 1, drv.failedCalls)
}

func TestWatchdogRestoresOnContact(t *testing.T) {
	drv := &commFailDriver{name: "z1"}
	devices := &fixedDevices{devices: map[string]*models.Device{"U1": {UUID: "U1", DeviceClass: "thermostat"}}}
	updater := newRecordingUpdater()

	var current time.Time
	w := New(50*time.Millisecond, updater, &fixedDrivers{drv: drv}, devices, nil, nil)
	w.now = func() time.Time { return current }

	current = time.Unix(2000, 0)
	w.UpdateDeviceDateLastContacted("U1")
	current = current.Add(100 * time.Millisecond)
	w.Sweep()
	require.Equal(t, 1, drv.failedCalls)

	current = current.Add(time.Millisecond)
	w.UpdateDeviceDateLastContacted("U1")
	assert.Equal(t, 1, drv.restoredCalls)
	v, _ := updater.get("U1", "commFail")
	assert.Equal(t, "false", v)
}
