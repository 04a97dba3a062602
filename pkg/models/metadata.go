// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Canonical Ltd
//
// SPDX-License-Identifier: Apache-2.0

package models

// Metadata is an arbitrary-payload attribute attached to a Device or
// Endpoint, distinct from Resource in that it carries no mode bits or
// caching policy: it is always authoritative and never routes to a
// driver.
type Metadata struct {
	ID         string
	Value      *string
	DeviceUUID string
	EndpointID string // empty for device-level metadata

	uri string
}

func (m *Metadata) URI() string {
	if m.uri != "" {
		return m.uri
	}
	return MetadataURI(m.DeviceUUID, m.EndpointID, m.ID)
}

func (m *Metadata) SetURI() {
	m.uri = MetadataURI(m.DeviceUUID, m.EndpointID, m.ID)
}

func MetadataURI(deviceUUID, endpointID, metadataID string) string {
	return OwnerURI(deviceUUID, endpointID) + "/m/" + metadataID
}

func (m *Metadata) Clone() *Metadata {
	cp := *m
	if m.Value != nil {
		v := *m.Value
		cp.Value = &v
	}
	return &cp
}
