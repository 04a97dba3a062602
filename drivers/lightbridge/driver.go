// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package lightbridge is a reference driver for a Philips-Hue-style
// lighting bridge: one device, one endpoint per light, each with a
// writable label and an isOn switch reachable over HTTP/JSON. It
// grounds the pairing pipeline's two-endpoint scenario and the
// wildcard-write scenario documented for the resource update pipeline.
package lightbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/monitor"
	"github.com/ixcore/devicecore/pkg/models"
)

const className = "light"

// BridgeLister supplies the set of bridge base URLs to probe during
// discovery (e.g. "http://192.168.1.40"). cmd/devicecored backs this
// with the static bridgeUrls list from the driver's config section;
// tests substitute a fixed slice.
type BridgeLister interface {
	BridgeURLs() []string
}

type Found interface {
	DeviceFound(ctx context.Context, details models.DeviceFoundDetails, neverReject bool) bool
}

// Driver implements models.Driver for a bridge that exposes each
// light as a numbered endpoint under the bridge's base URL.
type Driver struct {
	log     common.LoggingClient
	found   Found
	updater monitor.ResourceUpdater
	bridges BridgeLister
	client  *http.Client

	mu       sync.Mutex
	baseURLs map[string]string // device uuid -> bridge base URL
}

func New(log common.LoggingClient, found Found, updater monitor.ResourceUpdater, bridges BridgeLister) *Driver {
	return &Driver{
		log:      log,
		found:    found,
		updater:  updater,
		bridges:  bridges,
		client:   &http.Client{Timeout: 5 * time.Second},
		baseURLs: make(map[string]string),
	}
}

func (d *Driver) DriverName() string              { return "lightbridge-http" }
func (d *Driver) SupportedDeviceClasses() []string { return []string{className} }

func (d *Driver) Startup(ctx context.Context) error  { return nil }
func (d *Driver) Shutdown(ctx context.Context) error { return nil }

type bridgeInfo struct {
	BridgeID string `json:"bridgeid"`
	Model    string `json:"modelid"`
	SWVer    string `json:"swversion"`
}

// DiscoverDevices probes every configured bridge URL's /api/config
// endpoint; a successful reply identifies the bridge by its reported
// bridgeid.
func (d *Driver) DiscoverDevices(ctx context.Context, class string) error {
	if class != className {
		return nil
	}
	go func() {
		for _, base := range d.bridges.BridgeURLs() {
			var info bridgeInfo
			if err := d.getJSON(ctx, base+"/api/config", &info); err != nil {
				continue
			}
			details := models.DeviceFoundDetails{
				UUID:            info.BridgeID,
				DeviceClass:     className,
				Manufacturer:    "Philips",
				Model:           info.Model,
				HardwareVersion: "1",
				FirmwareVersion: info.SWVer,
				DriverName:      d.DriverName(),
			}
			if d.found != nil {
				d.found.DeviceFound(context.Background(), details, false)
			}
		}
	}()
	return nil
}

func (d *Driver) StopDiscoveringDevices(ctx context.Context, class string) error { return nil }

// ConfigureDevice adds one endpoint per light the bridge reports,
// remembering the bridge's base URL against the device uuid for every
// later call.
func (d *Driver) ConfigureDevice(ctx context.Context, device *models.Device, descriptor *models.DeviceDescriptor) error {
	base, ok := d.baseURLFor(device.UUID)
	if !ok {
		return fmt.Errorf("lightbridge: no known base URL for bridge %s", device.UUID)
	}

	var lights map[string]struct {
		Name string `json:"name"`
	}
	if err := d.getJSON(ctx, base+"/api/0/lights", &lights); err != nil {
		return fmt.Errorf("lightbridge: listing lights failed: %w", err)
	}

	for id := range lights {
		device.Endpoints = append(device.Endpoints, &models.Endpoint{
			ID: id, Profile: "light", Enabled: true,
		})
	}
	return nil
}

func (d *Driver) FetchInitialResourceValues(ctx context.Context, device *models.Device, bag *models.ValueBag) error {
	return nil
}

// RegisterResources adds, per endpoint, a writable label (mode RW,
// caching ALWAYS) and a writable isOn switch (mode RW, caching NEVER)
// as the pairing scenario for this driver documents.
func (d *Driver) RegisterResources(ctx context.Context, device *models.Device, bag *models.ValueBag) error {
	base, ok := d.baseURLFor(device.UUID)
	if !ok {
		return fmt.Errorf("lightbridge: no known base URL for bridge %s", device.UUID)
	}

	for _, ep := range device.Endpoints {
		var light struct {
			Name  string `json:"name"`
			State struct {
				On bool `json:"on"`
			} `json:"state"`
		}
		if err := d.getJSON(ctx, fmt.Sprintf("%s/api/0/lights/%s", base, ep.ID), &light); err != nil {
			return err
		}

		ep.Resources = append(ep.Resources,
			&models.Resource{
				ID: common.ResourceEndpointLabel, Type: models.TypeLabel, Value: &light.Name,
				Mode: models.Readable | models.Writeable, CachingPolicy: models.CachingAlways,
			},
			&models.Resource{
				ID: "isOn", Type: models.TypeBoolean, Value: models.StringFromBool(light.State.On),
				Mode: models.Readable | models.Writeable, CachingPolicy: models.CachingNever,
			},
		)
	}
	return nil
}

func (d *Driver) ReadResource(ctx context.Context, res *models.Resource) (*string, error) {
	base, ok := d.baseURLFor(res.DeviceUUID)
	if !ok {
		return nil, fmt.Errorf("lightbridge: no known base URL for bridge %s", res.DeviceUUID)
	}

	var light struct {
		Name  string `json:"name"`
		State struct {
			On bool `json:"on"`
		} `json:"state"`
	}
	if err := d.getJSON(ctx, fmt.Sprintf("%s/api/0/lights/%s", base, res.EndpointID), &light); err != nil {
		return nil, err
	}

	switch res.ID {
	case common.ResourceEndpointLabel:
		return &light.Name, nil
	case "isOn":
		return models.StringFromBool(light.State.On), nil
	default:
		return nil, fmt.Errorf("lightbridge: unknown resource %q", res.ID)
	}
}

func (d *Driver) WriteResource(ctx context.Context, res *models.Resource, prev, newValue *string) bool {
	base, ok := d.baseURLFor(res.DeviceUUID)
	if !ok || newValue == nil {
		return false
	}

	var body map[string]interface{}
	switch res.ID {
	case common.ResourceEndpointLabel:
		body = map[string]interface{}{"name": *newValue}
	case "isOn":
		on, ok := models.BoolValue(newValue)
		if !ok {
			return false
		}
		body = map[string]interface{}{"on": on}
	default:
		return false
	}

	url := fmt.Sprintf("%s/api/0/lights/%s/state", base, res.EndpointID)
	if res.ID == common.ResourceEndpointLabel {
		url = fmt.Sprintf("%s/api/0/lights/%s", base, res.EndpointID)
	}
	if err := d.putJSON(ctx, url, body); err != nil {
		if d.log != nil {
			d.log.Warn("lightbridge: write to %s failed: %v", url, err)
		}
		return false
	}

	if d.updater != nil {
		d.updater.UpdateResource(res.DeviceUUID, res.EndpointID, res.ID, newValue, nil)
	}
	return true
}

func (d *Driver) DeviceRemoved(ctx context.Context, device *models.Device) {
	d.mu.Lock()
	delete(d.baseURLs, device.UUID)
	d.mu.Unlock()
}

func (d *Driver) baseURLFor(deviceUUID string) (string, bool) {
	d.mu.Lock()
	url, ok := d.baseURLs[deviceUUID]
	d.mu.Unlock()
	if ok {
		return url, true
	}

	for _, base := range d.bridges.BridgeURLs() {
		var info bridgeInfo
		if err := d.getJSON(context.Background(), base+"/api/config", &info); err == nil && info.BridgeID == deviceUUID {
			d.mu.Lock()
			d.baseURLs[deviceUUID] = base
			d.mu.Unlock()
			return base, true
		}
	}
	return "", false
}

func (d *Driver) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lightbridge: unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *Driver) putJSON(ctx context.Context, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lightbridge: unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}
