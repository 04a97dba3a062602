// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Canonical Ltd
// Copyright (C) 2018-2019 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package models

import "fmt"

// ResourceMode is a combinable bitmask describing how a Resource may
// be used.
type ResourceMode uint16

const (
	Readable ResourceMode = 1 << iota
	Writeable
	Executable
	Dynamic
	DynamicCapable
	EmitEvents
	LazySaveNext
	Sensitive
)

// Has reports whether all bits in want are set in m.
func (m ResourceMode) Has(want ResourceMode) bool {
	return m&want == want
}

// Normalize applies the mode invariants that don't depend on the
// previous mode: setting Dynamic always implies DynamicCapable.
func (m ResourceMode) Normalize() ResourceMode {
	if m.Has(Dynamic) {
		m |= DynamicCapable
	}
	return m
}

// CachingPolicy says whether a Resource's stored Value is treated as
// authoritative (Always) or as scratch that must be re-fetched from
// the driver on every read (Never).
type CachingPolicy string

const (
	CachingAlways CachingPolicy = "ALWAYS"
	CachingNever  CachingPolicy = "NEVER"
)

// Well-known resource type tags; the vocabulary is
// intentionally open-ended, these are just the ones the core itself
// understands enough to format typed accessors for (values.go).
const (
	TypeMacAddress            = "mac-address"
	TypeTemperature           = "temperature"
	TypeLabel                 = "label"
	TypeTrouble               = "trouble"
	TypeVersion               = "version"
	TypeDatetime              = "datetime"
	TypeBoolean               = "boolean"
	TypeFirmwareUpdateStatus  = "firmware-version-status"
	TypeIPAddress             = "ip-address"
	TypeExecutable            = "executable"
)

// Resource is a single named, typed, addressable value owned by a
// Device or an Endpoint. Resource never holds a pointer back to its
// owner: DeviceUUID/EndpointID are plain identifiers, not handles.
type Resource struct {
	ID                  string
	Type                string
	Value               *string // nullable
	Mode                ResourceMode
	CachingPolicy       CachingPolicy
	DateOfLastSyncMillis uint64

	// Owner identifiers; URI() is always derived from these, never
	// stored independently, so a resource can never disagree with its
	// own address (invariant 2).
	DeviceUUID string
	EndpointID string // empty for a device-level resource

	uri string // cached, computed by the store at finalize time
}

// URI computes (or returns the cached) address of this resource. The
// store is responsible for calling SetURI once at finalize time
//; before that URI() falls back to a fresh
// computation so tests and callers never see a blank address.
func (r *Resource) URI() string {
	if r.uri != "" {
		return r.uri
	}
	return ResourceURI(r.DeviceUUID, r.EndpointID, r.ID)
}

// SetURI caches the owner-derived URI on the resource itself so
// repeated URI() calls are cheap; it never allows the cached value to
// disagree with the owner identifiers.
func (r *Resource) SetURI() {
	r.uri = ResourceURI(r.DeviceUUID, r.EndpointID, r.ID)
}

// ResourceURI derives a resource's canonical URI from its owner.
func ResourceURI(deviceUUID, endpointID, resourceID string) string {
	return OwnerURI(deviceUUID, endpointID) + "/r/" + resourceID
}

// Clone returns an independent copy, so store reads never hand back a
// reference the caller could mutate behind the store's back.
func (r *Resource) Clone() *Resource {
	cp := *r
	if r.Value != nil {
		v := *r.Value
		cp.Value = &v
	}
	return &cp
}

// ParseResourceModeFlag maps a single flag name, as used on the wire
// by the HTTP command surface, to its bit. Unknown names are rejected
// rather than silently ignored, so a typo in a mode-change request
// never results in a narrower mode than the caller intended.
func ParseResourceModeFlag(name string) (ResourceMode, error) {
	switch name {
	case "readable":
		return Readable, nil
	case "writeable":
		return Writeable, nil
	case "executable":
		return Executable, nil
	case "dynamic":
		return Dynamic, nil
	case "dynamic-capable":
		return DynamicCapable, nil
	case "emit-events":
		return EmitEvents, nil
	case "lazy-save-next":
		return LazySaveNext, nil
	case "sensitive":
		return Sensitive, nil
	default:
		return 0, fmt.Errorf("unknown resource mode flag: %q", name)
	}
}

// ApplyModeChange returns the mode that results from setting m to
// newMode, enforcing invariant 4: Sensitive can never be cleared once
// set.
func ApplyModeChange(current, newMode ResourceMode) ResourceMode {
	if current.Has(Sensitive) {
		newMode |= Sensitive
	}
	return newMode.Normalize()
}
