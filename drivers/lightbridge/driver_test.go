// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package lightbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedBridgeLister struct {
	urls []string
}

func (f *fixedBridgeLister) BridgeURLs() []string { return f.urls }

type recordingFound struct {
	details []models.DeviceFoundDetails
}

func (f *recordingFound) DeviceFound(ctx context.Context, details models.DeviceFoundDetails, neverReject bool) bool {
	f.details = append(f.details, details)
	return true
}

type recordingUpdater struct {
	calls int
}

func (r *recordingUpdater) UpdateResource(deviceUUID, endpointID, resourceID string, newValue *string, metadata map[string]string) error {
	r.calls++
	return nil
}

func newFakeBridge(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"bridgeid": "001788AABBCC", "modelid": "PhilipsHue", "swversion": "1"})
	})
	mux.HandleFunc("/api/0/lights", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"1": map[string]string{"name": "Lamp One"},
			"2": map[string]string{"name": "Lamp Two"},
		})
	})
	mux.HandleFunc("/api/0/lights/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"name": "Lamp One", "state": map[string]bool{"on": false}})
	})
	mux.HandleFunc("/api/0/lights/1/state", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/0/lights/2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"name": "Lamp Two", "state": map[string]bool{"on": true}})
	})
	srv := httptest.NewServer(mux)
	return srv, srv.URL
}

func TestConfigureAndRegisterResourcesAddsTwoEndpoints(t *testing.T) {
	srv, url := newFakeBridge(t)
	defer srv.Close()

	updater := &recordingUpdater{}
	drv := New(nil, &recordingFound{}, updater, &fixedBridgeLister{urls: []string{url}})

	device := &models.Device{UUID: "001788AABBCC", DeviceClass: "light"}
	require.NoError(t, drv.ConfigureDevice(context.Background(), device, nil))
	require.Len(t, device.Endpoints, 2)

	bag := models.NewValueBag()
	require.NoError(t, drv.RegisterResources(context.Background(), device, bag))

	ep1, ok := device.EndpointByID("1")
	require.True(t, ok)
	label, ok := ep1.ResourceByID("label")
	require.True(t, ok)
	require.NotNil(t, label.Value)
	assert.Equal(t, "Lamp One", *label.Value)

	isOn, ok := ep1.ResourceByID("isOn")
	require.True(t, ok)
	require.NotNil(t, isOn.Value)
	assert.Equal(t, "false", *isOn.Value)
}

func TestWriteResourceIsOnReportsThroughUpdater(t *testing.T) {
	srv, url := newFakeBridge(t)
	defer srv.Close()

	updater := &recordingUpdater{}
	drv := New(nil, &recordingFound{}, updater, &fixedBridgeLister{urls: []string{url}})

	device := &models.Device{UUID: "001788AABBCC", DeviceClass: "light"}
	require.NoError(t, drv.ConfigureDevice(context.Background(), device, nil))

	value := "true"
	res := &models.Resource{ID: "isOn", DeviceUUID: device.UUID, EndpointID: "1"}
	ok := drv.WriteResource(context.Background(), res, nil, &value)
	assert.True(t, ok)
	assert.Equal(t, 1, updater.calls)
}

func TestDiscoverDevicesReportsFoundBridge(t *testing.T) {
	srv, url := newFakeBridge(t)
	defer srv.Close()

	found := &recordingFound{}
	drv := New(nil, found, &recordingUpdater{}, &fixedBridgeLister{urls: []string{url}})

	require.NoError(t, drv.DiscoverDevices(context.Background(), "light"))
	require.Eventually(t, func() bool {
		return len(found.details) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "001788AABBCC", found.details[0].UUID)
}
