// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Canonical Ltd
// Copyright (C) 2018-2019 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package models defines the device/endpoint/resource/metadata value
// model and the Driver abstraction used to build a device class
// implementation for the core. The core never imports a driver's
// package directly; drivers import this one.
package models

import "context"

// ValueBag is the sink drivers populate during the device-found
// pipeline's fetchInitialResourceValues/registerResources steps: a
// flat map of common-resource-id -> value, queried with an
// "if-available" contract -- the pipeline only creates a resource
// when the bag holds a value for it.
type ValueBag struct {
	values map[string]*string
}

func NewValueBag() *ValueBag {
	return &ValueBag{values: make(map[string]*string)}
}

func (b *ValueBag) Set(id string, value *string) {
	b.values[id] = value
}

func (b *ValueBag) SetString(id, value string) {
	b.values[id] = &value
}

func (b *ValueBag) Get(id string) (*string, bool) {
	v, ok := b.values[id]
	return v, ok
}

// DeviceFoundDetails is what a driver hands to deviceFound: early,
// pre-descriptor identification of a physical device.
type DeviceFoundDetails struct {
	UUID         string
	DeviceClass  string
	Manufacturer string
	Model        string
	HardwareVersion string
	FirmwareVersion string

	// DriverName identifies which registered driver reported the
	// device; the pipeline uses it to route configureDevice and
	// later calls back to the same driver instance.
	DriverName string
}

// DeviceDescriptor is the authorization/parameterization record
// looked up by (manufacturer, model, hwVer, fwVer); see GLOSSARY.
type DeviceDescriptor struct {
	Manufacturer    string
	Model           string
	HardwareVersion string
	FirmwareVersion string

	// Metadata seeds the device's metadata set at creation time
	//.
	Metadata map[string]string
}

// Driver is the capability set every driver must implement (the
// required methods) plus the set of optional hooks the core probes
// for via interface assertion before calling. Drivers
// never receive an owning reference back into the core's state: all
// callbacks are made through small interfaces (such as
// monitor.ResourceUpdater) whose implementations are passed at
// startup, not by storing a *Core pointer.
type Driver interface {
	DriverName() string
	SupportedDeviceClasses() []string

	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error

	DiscoverDevices(ctx context.Context, class string) error
	StopDiscoveringDevices(ctx context.Context, class string) error

	ConfigureDevice(ctx context.Context, device *Device, descriptor *DeviceDescriptor) error
	FetchInitialResourceValues(ctx context.Context, device *Device, bag *ValueBag) error
	RegisterResources(ctx context.Context, device *Device, bag *ValueBag) error

	ReadResource(ctx context.Context, res *Resource) (*string, error)
	WriteResource(ctx context.Context, res *Resource, prev, newValue *string) bool

	DeviceRemoved(ctx context.Context, device *Device)
}

// Optional hooks. The core type-asserts a Driver against each of
// these before calling; a driver that doesn't implement one is
// treated as a no-op for that hook.

type ExecutableDriver interface {
	ExecuteResource(ctx context.Context, res *Resource, arg *string) (bool, *string)
}

type RecoveringDriver interface {
	RecoverDevices(ctx context.Context, class string) error
}

type DescriptorProcessingDriver interface {
	ProcessDeviceDescriptor(ctx context.Context, device *Device, descriptor *DeviceDescriptor) error
}

type ReconfigurableDriver interface {
	DeviceNeedsReconfiguring(device *Device) bool
	GetDeviceClassVersion(class string) (uint, bool)
}

type SynchronizingDriver interface {
	SynchronizeDevice(ctx context.Context, device *Device) error
}

type PersistenceAwareDriver interface {
	DevicePersisted(device *Device)
}

type EndpointAwareDriver interface {
	EndpointDisabled(endpoint *Endpoint)
}

type CommFailAwareDriver interface {
	CommunicationFailed(device *Device)
	CommunicationRestored(device *Device)
}

type SubsystemAwareDriver interface {
	SubsystemInitialized(name string)
}

type PowerAwareDriver interface {
	SystemPowerEvent(kind string)
}

type PropertyAwareDriver interface {
	PropertyChanged(key, value string)
}

type RestoreAwareDriver interface {
	PreRestoreConfig()
	RestoreConfig(tempDir, dynamicPath string) bool
	PostRestoreConfig()
}

// NamedSubsystemDriver groups drivers that share an underlying
// transport (e.g. ZigBee radio) under a common subsystem name, so the
// watchdog can notify the subsystem once instead of once per driver.
type NamedSubsystemDriver interface {
	SubsystemName() string
}
