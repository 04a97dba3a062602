// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package resourceio implements the Resource Update Pipeline (spec
// §4.6): read/write/execute of a resource by URI, and the
// updateResource/setMetadata entry points drivers call back into.
package resourceio

import (
	"context"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/internal/store"
	"github.com/ixcore/devicecore/pkg/models"
)

// DriverLookup resolves the driver managing the device addressed by a
// URI (implemented by *driver.Registry).
type DriverLookup interface {
	GetDriverForUri(uri string) (models.Driver, bool)
}

// Pipeline wires the store, the driver registry and the event
// producer together to implement every resource read/write/execute
// operation.
type Pipeline struct {
	store   *store.Store
	drivers DriverLookup
	prod    *events.Producer
	log     common.LoggingClient
	now     func() time.Time
}

func New(st *store.Store, drivers DriverLookup, prod *events.Producer, log common.LoggingClient) *Pipeline {
	return &Pipeline{store: st, drivers: drivers, prod: prod, log: log, now: time.Now}
}

// ReadResourceByURI reads a resource by its URI.
func (p *Pipeline) ReadResourceByURI(ctx context.Context, uri string) (*string, error) {
	res, ok := p.store.GetResourceByURI(uri)
	if !ok {
		return nil, common.NewNotFoundError("resource not found: " + uri)
	}

	if res.CachingPolicy == models.CachingNever && res.Mode.Has(models.Readable) {
		drv, ok := p.drivers.GetDriverForUri(res.URI())
		if !ok {
			return nil, common.NewNotFoundError("no driver for resource: " + uri)
		}
		value, err := drv.ReadResource(ctx, res)
		if err != nil {
			// Do not return stale cached data on driver failure.
			return nil, common.NewDriverFailureError(err)
		}
		if uerr := p.UpdateResource(res.DeviceUUID, res.EndpointID, res.ID, value, nil); uerr != nil {
			return nil, uerr
		}
		return value, nil
	}

	return res.Value, nil
}

// WriteResourceByURI writes a resource by its URI,
// including wildcard expansion.
func (p *Pipeline) WriteResourceByURI(ctx context.Context, uri string, value *string) (bool, error) {
	if models.IsWildcard(uri) {
		matches := p.store.ResolveURIPattern(uri)
		if len(matches) == 0 {
			return false, nil
		}
		allOK := true
		for _, res := range matches {
			ok, err := p.WriteResourceByURI(ctx, res.URI(), value)
			if err != nil || !ok {
				allOK = false
			}
		}
		return allOK, nil
	}

	res, ok := p.store.GetResourceByURI(uri)
	if !ok {
		return false, common.NewNotFoundError("resource not found: " + uri)
	}
	if !res.Mode.Has(models.Writeable) {
		return false, common.NewUnauthorizedModeError("resource not writeable: " + uri)
	}

	drv, ok := p.drivers.GetDriverForUri(res.URI())
	if !ok {
		return false, common.NewNotFoundError("no driver for resource: " + uri)
	}

	ok = drv.WriteResource(ctx, res, res.Value, value)
	return ok, nil
}

// ExecuteResourceByURI invokes an executable resource by its URI.
func (p *Pipeline) ExecuteResourceByURI(ctx context.Context, uri string, arg *string) (bool, *string, error) {
	res, ok := p.store.GetResourceByURI(uri)
	if !ok {
		return false, nil, common.NewNotFoundError("resource not found: " + uri)
	}
	if !res.Mode.Has(models.Executable) {
		return false, nil, common.NewUnauthorizedModeError("resource not executable: " + uri)
	}

	drv, ok := p.drivers.GetDriverForUri(res.URI())
	if !ok {
		return false, nil, common.NewNotFoundError("no driver for resource: " + uri)
	}
	exec, ok := drv.(models.ExecutableDriver)
	if !ok {
		return false, nil, common.NewUnauthorizedModeError("driver does not implement ExecuteResource")
	}

	ok2, resp := exec.ExecuteResource(ctx, res, arg)
	return ok2, resp, nil
}

// ChangeResourceMode changes a resource's mode flags at runtime. Mode
// stickiness (Sensitive can never be cleared) is enforced by the
// store itself on save.
func (p *Pipeline) ChangeResourceMode(uri string, newMode models.ResourceMode) error {
	res, ok := p.store.GetResourceByURI(uri)
	if !ok {
		return common.NewNotFoundError("resource not found: " + uri)
	}
	res.Mode = newMode
	return p.store.SaveResource(res)
}

// UpdateResource is the entry point a driver calls back into to
// report an observed value.
func (p *Pipeline) UpdateResource(deviceUUID, endpointID, resourceID string, newValue *string, metadata map[string]string) error {
	uri := models.ResourceURI(deviceUUID, endpointID, resourceID)
	res, ok := p.store.GetResourceByURI(uri)
	if !ok {
		return common.NewNotFoundError("resource not found: " + uri)
	}

	device, devOK := p.deviceFor(deviceUUID)

	res.DateOfLastSyncMillis = uint64(p.now().UnixNano() / int64(time.Millisecond))

	alwaysEvent := res.CachingPolicy == models.CachingNever && res.Mode.Has(models.EmitEvents)
	changed := !stringsEqual(res.Value, newValue)

	res.Value = newValue
	if err := p.store.SaveResource(res); err != nil {
		return err
	}

	if p.prod == nil {
		return nil
	}
	if alwaysEvent || (changed && res.Mode.Has(models.EmitEvents)) {
		owner := events.ResourceOwner{DeviceUUID: deviceUUID, EndpointID: endpointID}
		if devOK {
			owner.DeviceClass = device.DeviceClass
			if endpointID != "" {
				if ep, ok := device.EndpointByID(endpointID); ok {
					owner.Profile = ep.Profile
				}
			}
		}
		p.prod.Publish(events.CodeResourceUpdated, resourceUpdatedPayload{
			Resource: snapshotOne(res),
			Owner:    owner,
			Metadata: metadata,
		})
	}
	return nil
}

type resourceUpdatedPayload struct {
	Resource events.ResourceSnapshot
	Owner    events.ResourceOwner
	Metadata map[string]string
}

func snapshotOne(r *models.Resource) events.ResourceSnapshot {
	d := &models.Device{Resources: []*models.Resource{r}}
	snap := events.SnapshotDevice(d)
	return snap.Resources[0]
}

// SetMetadata compares then writes,
// avoiding redundant writes.
func (p *Pipeline) SetMetadata(deviceUUID, endpointID, metadataID string, value *string) error {
	uri := models.MetadataURI(deviceUUID, endpointID, metadataID)
	existing, ok := p.store.GetMetadataByURI(uri)
	if ok && stringsEqual(existing.Value, value) {
		return nil
	}
	md := &models.Metadata{ID: metadataID, Value: value, DeviceUUID: deviceUUID, EndpointID: endpointID}
	return p.store.SaveMetadata(md)
}

func (p *Pipeline) GetMetadata(deviceUUID, endpointID, metadataID string) (*string, bool) {
	uri := models.MetadataURI(deviceUUID, endpointID, metadataID)
	md, ok := p.store.GetMetadataByURI(uri)
	if !ok {
		return nil, false
	}
	return md.Value, true
}

func (p *Pipeline) deviceFor(deviceUUID string) (*models.Device, bool) {
	return p.store.GetDevice(deviceUUID)
}

func stringsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
