// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package pairing implements the device-found pipeline: the
// strictly-ordered state machine that takes a driver-reported device
// from "found" to "persisted + events sent".
package pairing

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/internal/store"
	"github.com/ixcore/devicecore/pkg/models"
)

// DescriptorLookup is the external descriptor collaborator (GLOSSARY):
// a lookup record keyed by (manufacturer, model, hw-ver, fw-ver) that
// authorizes and parameterizes pairing.
type DescriptorLookup interface {
	Lookup(manufacturer, model, hwVer, fwVer string) (*models.DeviceDescriptor, bool)
}

// Migrator re-uses a legacy device instance instead of routing through
// a driver's ConfigureDevice; its events are suppressed.
type Migrator interface {
	Migrate(ctx context.Context, details models.DeviceFoundDetails) (*models.Device, bool)
}

// RecoveryModeChecker reports whether discovery is currently running
// in recovery mode (backed by *discovery.Coordinator.IsInRecoveryMode).
type RecoveryModeChecker interface {
	IsInRecoveryMode() bool
}

// DriverByName resolves a registered driver by name (backed by
// *driver.Registry.GetDriverByName).
type DriverByName interface {
	GetDriverByName(name string) (models.Driver, bool)
}

// Pipeline implements deviceFound. It owns the marked-for-removal set:
// the race-free rendezvous between a concurrent removeDevice(uuid)
// and this pipeline's pre-finalize re-check.
type Pipeline struct {
	store       *store.Store
	drivers     DriverByName
	descriptors DescriptorLookup
	migrator    Migrator
	recovery    RecoveryModeChecker
	prod        *events.Producer
	log         common.LoggingClient
	now         func() time.Time

	removalMu sync.Mutex
	marked    map[string]bool
}

func New(st *store.Store, drivers DriverByName, descriptors DescriptorLookup, migrator Migrator, recovery RecoveryModeChecker, prod *events.Producer, log common.LoggingClient) *Pipeline {
	return &Pipeline{
		store:       st,
		drivers:     drivers,
		descriptors: descriptors,
		migrator:    migrator,
		recovery:    recovery,
		prod:        prod,
		log:         log,
		now:         time.Now,
		marked:      make(map[string]bool),
	}
}

// RemoveDevice implements the removeDevice side of the mark-for-removal
// race. If the device is already persisted it is removed immediately;
// otherwise its uuid is recorded so an in-flight DeviceFound call
// aborts at its pre-finalize re-check instead of persisting a device
// that was removed mid-pairing.
func (p *Pipeline) RemoveDevice(uuid string) error {
	if device, ok := p.store.GetDevice(uuid); ok {
		if err := p.store.RemoveDeviceByID(uuid); err != nil {
			return err
		}
		if p.prod != nil {
			p.prod.Publish(events.CodeDeviceRemoved, deviceRemovedPayload{UUID: uuid, Class: device.DeviceClass})
		}
		return nil
	}

	p.removalMu.Lock()
	p.marked[uuid] = true
	p.removalMu.Unlock()
	return nil
}

// UpdateEndpoint implements updateEndpoint (spec's device lifecycle:
// "Endpoints ... can be re-enabled via updateEndpoint"), toggling an
// existing endpoint's enabled flag in place (its resources and
// metadata are carried over unchanged). Disabling the device's last
// enabled endpoint cascades into full device removal
// (CodeDeviceRemoved); disabling any other endpoint publishes
// CodeEndpointRemoved and leaves the device persisted.
func (p *Pipeline) UpdateEndpoint(deviceUUID, endpointID string, enabled bool) error {
	device, ok := p.store.GetDevice(deviceUUID)
	if !ok {
		return common.NewNotFoundError("device not found: " + deviceUUID)
	}
	existing, ok := device.EndpointByID(endpointID)
	if !ok {
		return common.NewNotFoundError("endpoint not found: " + endpointID)
	}

	updated := existing.Clone()
	updated.Enabled = enabled

	deviceRemoved, err := p.store.SaveEndpoint(deviceUUID, updated)
	if err != nil {
		return err
	}

	if deviceRemoved {
		p.publish(events.CodeDeviceRemoved, deviceRemovedPayload{UUID: deviceUUID, Class: device.DeviceClass})
	} else if !enabled {
		p.publish(events.CodeEndpointRemoved, endpointEventPayload{Endpoint: events.SnapshotEndpoint(updated), Class: device.DeviceClass})
	}
	return nil
}

func (p *Pipeline) checkAndClearMarked(uuid string) bool {
	p.removalMu.Lock()
	defer p.removalMu.Unlock()
	if p.marked[uuid] {
		delete(p.marked, uuid)
		return true
	}
	return false
}

// ApplyProperty sets a system property and, when it is the blacklist
// property, immediately sweeps every currently-persisted device whose
// uuid appears in the new CSV value. A later DeviceFound for one of
// those uuids is rejected by the blacklist gate as usual; this sweep
// only handles devices already paired before the property changed.
func (p *Pipeline) ApplyProperty(key, value string) error {
	p.store.SetSystemProperty(key, value)
	if key != common.PropertyBlacklistedDevices {
		return nil
	}

	for _, raw := range strings.Split(value, ",") {
		uuid := strings.TrimSpace(raw)
		if uuid == "" {
			continue
		}
		if err := p.RemoveDevice(uuid); err != nil {
			return err
		}
	}
	return nil
}

type deviceRejectedPayload struct {
	Details models.DeviceFoundDetails
}
type deviceRemovedPayload struct {
	UUID  string
	Class string
}
type deviceClassUUIDPayload struct {
	Class string
	UUID  string
}
type deviceAddedPayload struct {
	UUID  string
	URI   string
	Class string
}
type deviceRecoveredPayload struct {
	UUID  string
	Class string
	URI   string
}
type endpointEventPayload struct {
	Endpoint events.EndpointSnapshot
	Class    string
}

// DeviceFound takes a driver-reported device from "found" to
// "persisted + events sent". neverReject lets a driver bypass the
// descriptor-required gate for devices it already trusts.
func (p *Pipeline) DeviceFound(ctx context.Context, details models.DeviceFoundDetails, neverReject bool) bool {
	if details.UUID == "" {
		details.UUID = uuid.New().String()
	}

	// Blacklist gate: a blacklisted uuid is rejected before any
	// driver-side state is touched.
	if p.isBlacklisted(details.UUID) {
		p.publish(events.CodeDeviceRejected, deviceRejectedPayload{Details: details})
		return false
	}

	descriptor, hasDescriptor := p.lookupDescriptor(details)
	if !hasDescriptor && !neverReject && p.migrator == nil && !p.descriptorBypassEnabled() {
		p.publish(events.CodeDeviceRejected, deviceRejectedPayload{Details: details})
		return false
	}

	device := &models.Device{
		UUID:               details.UUID,
		DeviceClass:        details.DeviceClass,
		ManagingDriverName: details.DriverName,
	}
	if descriptor != nil {
		for k, v := range descriptor.Metadata {
			val := v
			device.Metadata = append(device.Metadata, &models.Metadata{ID: k, Value: &val})
		}
	}

	isMigration := false
	if p.migrator != nil {
		if migrated, ok := p.migrator.Migrate(ctx, details); ok {
			device = migrated
			isMigration = true
		}
	}

	drv, ok := p.drivers.GetDriverByName(details.DriverName)
	if !ok {
		if p.log != nil {
			p.log.Error("pairing: unknown driver %s for device %s", details.DriverName, details.UUID)
		}
		return false
	}

	if !isMigration {
		p.publish(events.CodeDeviceDiscovered, deviceRejectedPayload{Details: details})
		p.publish(events.CodeDeviceConfigureStarted, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})

		if err := drv.ConfigureDevice(ctx, device, descriptor); err != nil {
			p.publish(events.CodeDeviceConfigureFailed, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})
			drv.DeviceRemoved(ctx, device)
			return false
		}
		p.publish(events.CodeDeviceConfigureCompleted, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})
	}

	// Seed the value bag with the common initial values every device
	// carries, before asking the driver to fill in the rest.
	bag := models.NewValueBag()
	now := p.now()
	bag.SetString(common.ResourceManufacturer, details.Manufacturer)
	bag.SetString(common.ResourceModel, details.Model)
	bag.SetString(common.ResourceHardwareVersion, details.HardwareVersion)
	bag.SetString(common.ResourceFirmwareVersion, details.FirmwareVersion)
	bag.Set(common.ResourceFirmwareUpdateStatus, nil)
	bag.Set(common.ResourceDateAdded, models.StringFromNowMillis(now))
	bag.Set(common.ResourceDateLastContacted, models.StringFromNowMillis(now))
	bag.SetString(common.ResourceCommFail, "false")

	if err := drv.FetchInitialResourceValues(ctx, device, bag); err != nil {
		p.publish(events.CodeDeviceDiscoveryFailed, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})
		drv.DeviceRemoved(ctx, device)
		return false
	}

	AddCommonResources(device, bag)

	if err := drv.RegisterResources(ctx, device, bag); err != nil {
		p.publish(events.CodeDeviceDiscoveryFailed, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})
		drv.DeviceRemoved(ctx, device)
		return false
	}

	if descriptor != nil {
		if dp, ok := drv.(models.DescriptorProcessingDriver); ok {
			_ = dp.ProcessDeviceDescriptor(ctx, device, descriptor)
		}
	}

	// Re-check the marked-for-removal set one last time before this
	// device becomes visible: a removeDevice(uuid) call that raced
	// with this whole pipeline run must still win.
	if p.checkAndClearMarked(device.UUID) {
		p.publish(events.CodeDeviceDiscoveryFailed, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})
		drv.DeviceRemoved(ctx, device)
		return false
	}

	device.FinalizeURIs()
	if tz, ok := device.ResourceByID(common.ResourceTimezone); ok {
		if posix, ok := p.store.GetSystemProperty(common.PropertyPosixTimezone); ok {
			tz.Value = &posix
		}
	}

	// Event order follows discovered -> configure-started ->
	// configure-completed -> discovery-completed -> added ->
	// endpoint-added*: discovery-completed always precedes added and
	// endpoint-added.
	recoveryMode := p.recovery != nil && p.recovery.IsInRecoveryMode()
	if !recoveryMode {
		if err := p.store.AddDevice(device); err != nil {
			p.publish(events.CodeDeviceDiscoveryFailed, deviceClassUUIDPayload{Class: details.DeviceClass, UUID: details.UUID})
			drv.DeviceRemoved(ctx, device)
			return false
		}
		if !isMigration {
			p.publish(events.CodeDeviceDiscoveryCompleted, events.SnapshotDevice(device))
			p.publish(events.CodeDeviceAdded, deviceAddedPayload{UUID: device.UUID, URI: device.URI(), Class: device.DeviceClass})
			for _, e := range device.Endpoints {
				if e.Enabled {
					p.publish(events.CodeEndpointAdded, endpointEventPayload{Endpoint: events.SnapshotEndpoint(e), Class: device.DeviceClass})
				}
			}
		}
	} else {
		p.publish(events.CodeDeviceRecovered, deviceRecoveredPayload{UUID: device.UUID, Class: device.DeviceClass, URI: device.URI()})
		if !isMigration {
			p.publish(events.CodeDeviceDiscoveryCompleted, events.SnapshotDevice(device))
		}
	}

	if pa, ok := drv.(models.PersistenceAwareDriver); ok {
		pa.DevicePersisted(device)
	}

	return true
}

// AddCommonResources creates the reserved common resources a device
// carries from whatever the value bag holds, following an
// if-available contract: a resource is only created when the bag has
// a value for it. The resetToFactory resource is always created.
// Exported so the startup package's reconfiguration path can apply the
// same rule when rebuilding a device instance.
func AddCommonResources(device *models.Device, bag *models.ValueBag) {
	add := func(id, typ string, mode models.ResourceMode, policy models.CachingPolicy) {
		v, ok := bag.Get(id)
		if !ok {
			return
		}
		device.Resources = append(device.Resources, &models.Resource{
			ID: id, Type: typ, Value: v, Mode: mode.Normalize(), CachingPolicy: policy,
		})
	}

	add(common.ResourceManufacturer, "string", models.Readable, models.CachingAlways)
	add(common.ResourceModel, "string", models.Readable, models.CachingAlways)
	add(common.ResourceHardwareVersion, models.TypeVersion, models.Readable, models.CachingAlways)
	add(common.ResourceFirmwareVersion, models.TypeVersion, models.Readable, models.CachingAlways)
	add(common.ResourceFirmwareUpdateStatus, models.TypeFirmwareUpdateStatus, models.Readable|models.EmitEvents, models.CachingAlways)
	add(common.ResourceDateAdded, models.TypeDatetime, models.Readable, models.CachingAlways)
	add(common.ResourceDateLastContacted, models.TypeDatetime, models.Readable|models.LazySaveNext, models.CachingAlways)
	add(common.ResourceCommFail, models.TypeBoolean, models.Readable|models.EmitEvents, models.CachingAlways)

	// Always create the reset-to-factory executable resource,
	// regardless of whether the driver supplied a bag value for it.
	device.Resources = append(device.Resources, &models.Resource{
		ID: common.ResourceResetToFactory, Type: models.TypeExecutable,
		Mode: (models.Executable).Normalize(), CachingPolicy: models.CachingNever,
	})
}

func (p *Pipeline) isBlacklisted(uuid string) bool {
	v, ok := p.store.GetSystemProperty(common.PropertyBlacklistedDevices)
	if !ok {
		return false
	}
	for _, id := range strings.Split(v, ",") {
		if strings.TrimSpace(id) == uuid {
			return true
		}
	}
	return false
}

func (p *Pipeline) descriptorBypassEnabled() bool {
	v, ok := p.store.GetSystemProperty(common.PropertyDescriptorBypass)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (p *Pipeline) lookupDescriptor(details models.DeviceFoundDetails) (*models.DeviceDescriptor, bool) {
	if p.descriptors == nil {
		return nil, false
	}
	return p.descriptors.Lookup(details.Manufacturer, details.Model, details.HardwareVersion, details.FirmwareVersion)
}

func (p *Pipeline) publish(code string, payload interface{}) {
	if p.prod != nil {
		p.prod.Publish(code, payload)
	}
}
