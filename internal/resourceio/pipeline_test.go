// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package resourceio

import (
	"context"
	"testing"

	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/internal/store"
	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	writeResult   bool
	writeCalls    int
	readResult    *string
	readErr       error
}

func (f *fakeDriver) DriverName() string              { return "fake" }
func (f *fakeDriver) SupportedDeviceClasses() []string { return []string{"light"} }
func (f *fakeDriver) Startup(ctx context.Context) error  { return nil }
func (f *fakeDriver) Shutdown(ctx context.Context) error { return nil }
func (f *fakeDriver) DiscoverDevices(ctx context.Context, class string) error        { return nil }
func (f *fakeDriver) StopDiscoveringDevices(ctx context.Context, class string) error { return nil }
func (f *fakeDriver) ConfigureDevice(ctx context.Context, d *models.Device, desc *models.DeviceDescriptor) error {
	return nil
}
func (f *fakeDriver) FetchInitialResourceValues(ctx context.Context, d *models.Device, bag *models.ValueBag) error {
	return nil
}
func (f *fakeDriver) RegisterResources(ctx context.Context, d *models.Device, bag *models.ValueBag) error {
	return nil
}
func (f *fakeDriver) ReadResource(ctx context.Context, r *models.Resource) (*string, error) {
	return f.readResult, f.readErr
}
func (f *fakeDriver) WriteResource(ctx context.Context, r *models.Resource, prev, newValue *string) bool {
	f.writeCalls++
	return f.writeResult
}
func (f *fakeDriver) DeviceRemoved(ctx context.Context, d *models.Device) {}

type fakeLookup struct {
	drv models.Driver
}

func (f *fakeLookup) GetDriverForUri(uri string) (models.Driver, bool) { return f.drv, true }

func newFixture(t *testing.T) (*Pipeline, *store.Store, *fakeDriver) {
	t.Helper()
	st := store.New(&store.MemoryBackend{}, nil, nil)
	require.NoError(t, st.AddDevice(&models.Device{UUID: "D1", DeviceClass: "light", Endpoints: []*models.Endpoint{{ID: "1", Profile: "light", Enabled: true}}}))
	drv := &fakeDriver{writeResult: true}
	prod := events.NewProducer()
	p := New(st, &fakeLookup{drv: drv}, prod, nil)
	return p, st, drv
}

func TestNoEventOnNoChange(t *testing.T) {
	p, st, _ := newFixture(t)
	val := "on"
	require.NoError(t, st.SaveResource(&models.Resource{ID: "state", Value: &val, Mode: models.Readable | models.EmitEvents, CachingPolicy: models.CachingAlways, DeviceUUID: "D1", EndpointID: "1"}))

	prodSub := p.prod.Subscribe(4)

	sameVal := "on"
	require.NoError(t, p.UpdateResource("D1", "1", "state", &sameVal, nil))

	select {
	case ev := <-prodSub.Events():
		t.Fatalf("expected no event, got %v", ev)
	default:
	}

	res, ok := st.GetResourceByURI("/D1/ep/1/r/state")
	require.True(t, ok)
	assert.NotZero(t, res.DateOfLastSyncMillis)
}

func TestAlwaysEventOnNeverPlusEmitEvents(t *testing.T) {
	p, st, _ := newFixture(t)
	val := "on"
	require.NoError(t, st.SaveResource(&models.Resource{ID: "isOn", Value: &val, Mode: models.Readable | models.EmitEvents, CachingPolicy: models.CachingNever, DeviceUUID: "D1", EndpointID: "1"}))

	sub := p.prod.Subscribe(4)

	sameVal := "on"
	require.NoError(t, p.UpdateResource("D1", "1", "isOn", &sameVal, nil))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.CodeResourceUpdated, ev.Code)
	default:
		t.Fatal("expected an event for NEVER+EMIT_EVENTS even without a value change")
	}
}

func TestWildcardWriteAllMustSucceed(t *testing.T) {
	p, st, drv := newFixture(t)
	require.NoError(t, st.AddDevice(&models.Device{UUID: "D2", DeviceClass: "light", Endpoints: []*models.Endpoint{{ID: "1", Profile: "light", Enabled: true}}}))

	l1, l2 := "A", "B"
	require.NoError(t, st.SaveResource(&models.Resource{ID: "label", Value: &l1, Mode: models.Readable | models.Writeable, DeviceUUID: "D1", EndpointID: "1"}))
	require.NoError(t, st.SaveResource(&models.Resource{ID: "label", Value: &l2, Mode: models.Readable | models.Writeable, DeviceUUID: "D2", EndpointID: "1"}))

	newLabel := "Foyer"
	ok, err := p.WriteResourceByURI(context.Background(), "*/ep/1/r/label", &newLabel)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, drv.writeCalls)

	drv.writeResult = false
	drv.writeCalls = 0
	ok, err = p.WriteResourceByURI(context.Background(), "*/ep/1/r/label", &newLabel)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteRejectsNonWriteable(t *testing.T) {
	p, st, _ := newFixture(t)
	val := "x"
	require.NoError(t, st.SaveResource(&models.Resource{ID: "ro", Value: &val, Mode: models.Readable, DeviceUUID: "D1", EndpointID: "1"}))

	newVal := "y"
	ok, err := p.WriteResourceByURI(context.Background(), "/D1/ep/1/r/ro", &newVal)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestReadNeverPolicyFetchesFromDriver(t *testing.T) {
	p, st, drv := newFixture(t)
	cached := "stale"
	require.NoError(t, st.SaveResource(&models.Resource{ID: "temp", Value: &cached, Mode: models.Readable, CachingPolicy: models.CachingNever, DeviceUUID: "D1", EndpointID: "1"}))

	fresh := "72"
	drv.readResult = &fresh

	got, err := p.ReadResourceByURI(context.Background(), "/D1/ep/1/r/temp")
	require.NoError(t, err)
	assert.Equal(t, "72", *got)
}
