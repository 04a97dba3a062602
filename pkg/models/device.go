// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Canonical Ltd
//
// SPDX-License-Identifier: Apache-2.0

package models

// Device is the root of the value-owning tree: the device owns its
// endpoints, resources and metadata by value, and
// never holds an owning pointer to its driver -- only the driver's
// name.
type Device struct {
	UUID               string
	DeviceClass        string
	DeviceClassVersion uint

	ManagingDriverName string

	Endpoints []*Endpoint
	Resources []*Resource
	Metadata  []*Metadata
}

func (d *Device) URI() string {
	return "/" + d.UUID
}

// Clone returns a deep, independent copy of the device tree.
func (d *Device) Clone() *Device {
	cp := *d
	cp.Endpoints = make([]*Endpoint, len(d.Endpoints))
	for i, e := range d.Endpoints {
		cp.Endpoints[i] = e.Clone()
	}
	cp.Resources = make([]*Resource, len(d.Resources))
	for i, r := range d.Resources {
		cp.Resources[i] = r.Clone()
	}
	cp.Metadata = make([]*Metadata, len(d.Metadata))
	for i, m := range d.Metadata {
		cp.Metadata[i] = m.Clone()
	}
	return &cp
}

func (d *Device) ResourceByID(id string) (*Resource, bool) {
	for _, r := range d.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

func (d *Device) MetadataByID(id string) (*Metadata, bool) {
	for _, m := range d.Metadata {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

func (d *Device) EndpointByID(id string) (*Endpoint, bool) {
	for _, e := range d.Endpoints {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// EnabledEndpointCount reports how many of the device's endpoints are
// currently enabled.
func (d *Device) EnabledEndpointCount() int {
	n := 0
	for _, e := range d.Endpoints {
		if e.Enabled {
			n++
		}
	}
	return n
}

// FinalizeURIs stamps every resource and metadata item, on the device
// and on each endpoint, with its computed URI.
func (d *Device) FinalizeURIs() {
	for _, r := range d.Resources {
		r.DeviceUUID = d.UUID
		r.EndpointID = ""
		r.SetURI()
	}
	for _, m := range d.Metadata {
		m.DeviceUUID = d.UUID
		m.EndpointID = ""
		m.SetURI()
	}
	for _, e := range d.Endpoints {
		e.DeviceUUID = d.UUID
		for _, r := range e.Resources {
			r.DeviceUUID = d.UUID
			r.EndpointID = e.ID
			r.SetURI()
		}
		for _, m := range e.Metadata {
			m.DeviceUUID = d.UUID
			m.EndpointID = e.ID
			m.SetURI()
		}
	}
}
