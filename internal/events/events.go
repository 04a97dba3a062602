// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package events implements the Event Producer: a
// single-producer, many-subscriber broadcaster of lifecycle and
// resource-change events.
package events

import "github.com/ixcore/devicecore/pkg/models"

// Event kinds.
const (
	CodeDiscoveryStarted  = "discovery-started"
	CodeDiscoveryStopped  = "discovery-stopped"

	CodeDeviceDiscovered         = "device-discovered"
	CodeDeviceRejected           = "device-rejected"
	CodeDeviceDiscoveryFailed    = "device-discovery-failed"
	CodeDeviceDiscoveryCompleted = "device-discovery-completed"
	CodeDeviceConfigureStarted   = "device-configure-started"
	CodeDeviceConfigureCompleted = "device-configure-completed"
	CodeDeviceConfigureFailed    = "device-configure-failed"

	CodeDeviceAdded     = "device-added"
	CodeDeviceRemoved   = "device-removed"
	CodeDeviceRecovered = "device-recovered"

	CodeEndpointAdded   = "endpoint-added"
	CodeEndpointRemoved = "endpoint-removed"

	CodeResourceUpdated = "resource-updated"

	CodeReadyForDevices     = "ready-for-devices"
	CodeZigbeeChannelChanged = "zigbee-channel-changed"
)

const maskedValue = "(encrypted)"

// DeviceSnapshot is the immutable, sensitive-masked view of a Device
// carried on lifecycle events.
type DeviceSnapshot struct {
	UUID               string
	DeviceClass        string
	DeviceClassVersion uint
	URI                string
	Endpoints          []EndpointSnapshot
	Resources          []ResourceSnapshot
}

type EndpointSnapshot struct {
	ID             string
	Profile        string
	ProfileVersion uint
	Enabled        bool
	URI            string
	Resources      []ResourceSnapshot
}

type ResourceSnapshot struct {
	ID    string
	Type  string
	Value *string
	Mode  models.ResourceMode
	URI   string
}

// SnapshotDevice builds a masked snapshot of d, suitable for embedding
// in an event payload.
func SnapshotDevice(d *models.Device) DeviceSnapshot {
	snap := DeviceSnapshot{
		UUID:               d.UUID,
		DeviceClass:        d.DeviceClass,
		DeviceClassVersion: d.DeviceClassVersion,
		URI:                d.URI(),
	}
	for _, r := range d.Resources {
		snap.Resources = append(snap.Resources, snapshotResource(r))
	}
	for _, e := range d.Endpoints {
		snap.Endpoints = append(snap.Endpoints, SnapshotEndpoint(e))
	}
	return snap
}

func SnapshotEndpoint(e *models.Endpoint) EndpointSnapshot {
	snap := EndpointSnapshot{
		ID:             e.ID,
		Profile:        e.Profile,
		ProfileVersion: e.ProfileVersion,
		Enabled:        e.Enabled,
		URI:            e.URI(),
	}
	for _, r := range e.Resources {
		snap.Resources = append(snap.Resources, snapshotResource(r))
	}
	return snap
}

func snapshotResource(r *models.Resource) ResourceSnapshot {
	value := r.Value
	if r.Mode.Has(models.Sensitive) && value != nil {
		masked := maskedValue
		value = &masked
	}
	return ResourceSnapshot{ID: r.ID, Type: r.Type, Value: value, Mode: r.Mode, URI: r.URI()}
}

// ResourceOwner identifies the device or endpoint that owns the
// resource named on a resource-updated event.
type ResourceOwner struct {
	DeviceUUID  string
	DeviceClass string
	EndpointID  string // empty when the owner is the device itself
	Profile     string // empty when the owner is the device itself
}
