// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Canonical Ltd
//
// SPDX-License-Identifier: Apache-2.0

package models

// Endpoint is a functional sub-unit of a Device sharing its transport
// but addressed independently.
type Endpoint struct {
	ID             string
	Profile        string
	ProfileVersion uint
	Enabled        bool
	DeviceUUID     string

	Resources []*Resource
	Metadata  []*Metadata
}

func (e *Endpoint) URI() string {
	return OwnerURI(e.DeviceUUID, e.ID)
}

// Clone returns a deep, independent copy.
func (e *Endpoint) Clone() *Endpoint {
	cp := *e
	cp.Resources = make([]*Resource, len(e.Resources))
	for i, r := range e.Resources {
		cp.Resources[i] = r.Clone()
	}
	cp.Metadata = make([]*Metadata, len(e.Metadata))
	for i, m := range e.Metadata {
		cp.Metadata[i] = m.Clone()
	}
	return &cp
}

func (e *Endpoint) ResourceByID(id string) (*Resource, bool) {
	for _, r := range e.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

func (e *Endpoint) MetadataByID(id string) (*Metadata, bool) {
	for _, m := range e.Metadata {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}
