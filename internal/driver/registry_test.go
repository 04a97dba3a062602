// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"testing"

	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	name    string
	classes []string
}

func (s *stubDriver) DriverName() string            { return s.name }
func (s *stubDriver) SupportedDeviceClasses() []string { return s.classes }
func (s *stubDriver) Startup(ctx context.Context) error  { return nil }
func (s *stubDriver) Shutdown(ctx context.Context) error { return nil }
func (s *stubDriver) DiscoverDevices(ctx context.Context, class string) error         { return nil }
func (s *stubDriver) StopDiscoveringDevices(ctx context.Context, class string) error  { return nil }
func (s *stubDriver) ConfigureDevice(ctx context.Context, d *models.Device, desc *models.DeviceDescriptor) error {
	return nil
}
func (s *stubDriver) FetchInitialResourceValues(ctx context.Context, d *models.Device, bag *models.ValueBag) error {
	return nil
}
func (s *stubDriver) RegisterResources(ctx context.Context, d *models.Device, bag *models.ValueBag) error {
	return nil
}
func (s *stubDriver) ReadResource(ctx context.Context, r *models.Resource) (*string, error) { return nil, nil }
func (s *stubDriver) WriteResource(ctx context.Context, r *models.Resource, prev, newValue *string) bool {
	return true
}
func (s *stubDriver) DeviceRemoved(ctx context.Context, d *models.Device) {}

type stubLookup struct {
	devices map[string]*models.Device
}

func (l *stubLookup) GetDevice(uuid string) (*models.Device, bool) {
	d, ok := l.devices[uuid]
	return d, ok
}

func TestRegisterAndGetDriversByClass(t *testing.T) {
	r := New(&stubLookup{}, nil)
	d := &stubDriver{name: "hue", classes: []string{"light"}}
	require.NoError(t, r.Register(context.Background(), d))

	got := r.GetDriversByClass("light")
	require.Len(t, got, 1)
	assert.Equal(t, "hue", got[0].DriverName())

	assert.Empty(t, r.GetDriversByClass("thermostat"))
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := New(&stubLookup{}, nil)
	d := &stubDriver{name: "hue", classes: []string{"light"}}
	require.NoError(t, r.Register(context.Background(), d))
	err := r.Register(context.Background(), d)
	assert.Error(t, err)
}

func TestGetDriverForUri(t *testing.T) {
	lookup := &stubLookup{devices: map[string]*models.Device{
		"D1": {UUID: "D1", ManagingDriverName: "hue"},
	}}
	r := New(lookup, nil)
	require.NoError(t, r.Register(context.Background(), &stubDriver{name: "hue", classes: []string{"light"}}))

	d, ok := r.GetDriverForUri("/D1/ep/1/r/label")
	require.True(t, ok)
	assert.Equal(t, "hue", d.DriverName())

	_, ok = r.GetDriverForUri("/unknown/r/label")
	assert.False(t, ok)
}
