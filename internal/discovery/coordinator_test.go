// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDriver struct {
	name       string
	classes    []string
	started    int32
	stopped    int32
}

func (d *countingDriver) DriverName() string              { return d.name }
func (d *countingDriver) SupportedDeviceClasses() []string { return d.classes }
func (d *countingDriver) Startup(ctx context.Context) error  { return nil }
func (d *countingDriver) Shutdown(ctx context.Context) error { return nil }
func (d *countingDriver) DiscoverDevices(ctx context.Context, class string) error {
	atomic.AddInt32(&d.started, 1)
	return nil
}
func (d *countingDriver) StopDiscoveringDevices(ctx context.Context, class string) error {
	atomic.AddInt32(&d.stopped, 1)
	return nil
}
func (d *countingDriver) ConfigureDevice(ctx context.Context, dev *models.Device, desc *models.DeviceDescriptor) error {
	return nil
}
func (d *countingDriver) FetchInitialResourceValues(ctx context.Context, dev *models.Device, bag *models.ValueBag) error {
	return nil
}
func (d *countingDriver) RegisterResources(ctx context.Context, dev *models.Device, bag *models.ValueBag) error {
	return nil
}
func (d *countingDriver) ReadResource(ctx context.Context, r *models.Resource) (*string, error) { return nil, nil }
func (d *countingDriver) WriteResource(ctx context.Context, r *models.Resource, prev, newValue *string) bool {
	return true
}
func (d *countingDriver) DeviceRemoved(ctx context.Context, dev *models.Device) {}

type fixedLookup struct {
	byClass map[string][]models.Driver
}

func (f *fixedLookup) GetDriversByClass(class string) []models.Driver { return f.byClass[class] }

func TestDiscoverStartFailsWhenNoDriverSupportsClass(t *testing.T) {
	c := New(&fixedLookup{byClass: map[string][]models.Driver{}}, nil, nil)
	ok := c.DiscoverStart([]string{"thermostat"}, 1, false)
	assert.False(t, ok)
}

func TestDiscoverStartTimesOutAndPublishesStopped(t *testing.T) {
	d := &countingDriver{name: "hue", classes: []string{"light"}}
	lookup := &fixedLookup{byClass: map[string][]models.Driver{"light": {d}}}
	prod := events.NewProducer()
	sub := prod.Subscribe(8)
	c := New(lookup, prod, nil)

	ok := c.DiscoverStart([]string{"light"}, 1, false)
	require.True(t, ok)

	deadline := time.After(3 * time.Second)
	sawStopped := false
	for !sawStopped {
		select {
		case ev := <-sub.Events():
			if ev.Code == events.CodeDiscoveryStopped {
				sawStopped = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for discovery-stopped")
		}
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&d.started))
	assert.EqualValues(t, 1, atomic.LoadInt32(&d.stopped))
}

func TestDuplicateDiscoverStartIgnored(t *testing.T) {
	d := &countingDriver{name: "hue", classes: []string{"light"}}
	lookup := &fixedLookup{byClass: map[string][]models.Driver{"light": {d}}}
	c := New(lookup, nil, nil)

	require.True(t, c.DiscoverStart([]string{"light"}, 5, false))
	require.True(t, c.DiscoverStart([]string{"light"}, 5, false))

	assert.EqualValues(t, 1, atomic.LoadInt32(&d.started))

	c.DiscoverStop(nil)
}

func TestRecoveryModeRequiresRecoveringDriver(t *testing.T) {
	d := &countingDriver{name: "hue", classes: []string{"light"}}
	lookup := &fixedLookup{byClass: map[string][]models.Driver{"light": {d}}}
	c := New(lookup, nil, nil)

	ok := c.DiscoverStart([]string{"light"}, 1, true)
	assert.False(t, ok, "countingDriver does not implement RecoveringDriver")
}
