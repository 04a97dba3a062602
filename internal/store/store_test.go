// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(&MemoryBackend{}, nil, nil)
}

func seedDevice(t *testing.T, s *Store, uuid string) *models.Device {
	t.Helper()
	d := &models.Device{
		UUID:        uuid,
		DeviceClass: "light",
		Endpoints: []*models.Endpoint{
			{ID: "1", Profile: "light", Enabled: true},
		},
	}
	require.NoError(t, s.AddDevice(d))
	return d
}

func TestURIRoundTrip(t *testing.T) {
	s := newTestStore()
	seedDevice(t, s, "D1")

	val := "Kitchen"
	res := &models.Resource{ID: "label", Type: models.TypeLabel, Value: &val, Mode: models.Readable | models.Writeable, DeviceUUID: "D1", EndpointID: "1"}
	require.NoError(t, s.SaveResource(res))

	got, ok := s.GetResourceByURI("/D1/ep/1/r/label")
	require.True(t, ok)
	assert.Equal(t, "Kitchen", *got.Value)
	assert.Equal(t, "/D1/ep/1/r/label", got.URI())
}

func TestEndpointToDeviceFallback(t *testing.T) {
	s := newTestStore()
	seedDevice(t, s, "D1")

	val := "v1.0"
	res := &models.Resource{ID: "firmwareVersion", Value: &val, Mode: models.Readable, DeviceUUID: "D1"}
	require.NoError(t, s.SaveResource(res))

	got, ok := s.GetResourceByURI("/D1/ep/1/r/firmwareVersion")
	require.True(t, ok, "expected endpoint query to fall back to the device resource")
	assert.Equal(t, "v1.0", *got.Value)
}

func TestModeStickinessSensitiveNeverCleared(t *testing.T) {
	s := newTestStore()
	seedDevice(t, s, "D1")

	v := "secret"
	res := &models.Resource{ID: "pin", Value: &v, Mode: models.Readable | models.Sensitive, DeviceUUID: "D1"}
	require.NoError(t, s.SaveResource(res))

	// Attempt to clear Sensitive.
	res.Mode = models.Readable
	require.NoError(t, s.SaveResource(res))

	got, ok := s.GetResourceByURI("/D1/r/pin")
	require.True(t, ok)
	assert.True(t, got.Mode.Has(models.Sensitive), "Sensitive must remain set once applied")
}

func TestWildcardResolution(t *testing.T) {
	s := newTestStore()
	seedDevice(t, s, "D1")
	seedDevice(t, s, "D2")

	l1, l2 := "A", "B"
	require.NoError(t, s.SaveResource(&models.Resource{ID: "label", Value: &l1, Mode: models.Readable | models.Writeable, DeviceUUID: "D1", EndpointID: "1"}))
	require.NoError(t, s.SaveResource(&models.Resource{ID: "label", Value: &l2, Mode: models.Readable | models.Writeable, DeviceUUID: "D2", EndpointID: "1"}))

	matches := s.ResolveURIPattern("*/ep/1/r/label")
	assert.Len(t, matches, 2)
}

func TestSaveResourceRejectsInvalidID(t *testing.T) {
	s := newTestStore()
	seedDevice(t, s, "D1")

	err := s.SaveResource(&models.Resource{ID: "bad/id", DeviceUUID: "D1"})
	assert.Error(t, err)
	kind, ok := common.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, common.KindInvalidArgument, kind)
}

func TestDisablingLastEndpointRemovesDevice(t *testing.T) {
	s := newTestStore()
	seedDevice(t, s, "D1")

	ep, ok := s.GetEndpoint("D1", "1")
	require.True(t, ok)
	ep.Enabled = false

	removed, err := s.SaveEndpoint("D1", ep)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok = s.GetDevice("D1")
	assert.False(t, ok)
}
