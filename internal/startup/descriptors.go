// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package startup

import (
	"context"
	"sync"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
)

// DeviceLister returns every persisted device (implemented by
// *store.Store).
type DeviceLister interface {
	AllDevices() []*models.Device
}

// DescriptorLookup is the external descriptor collaborator.
type DescriptorLookup interface {
	Lookup(manufacturer, model, hwVer, fwVer string) (*models.DeviceDescriptor, bool)
}

// DriverByName resolves a registered driver by name (implemented by
// *driver.Registry).
type DriverByName interface {
	GetDriverByName(name string) (models.Driver, bool)
}

// DescriptorScheduler runs a debounced sweep over every persisted
// device, forwarding its descriptor to the managing driver when the
// driver supports processDeviceDescriptor. Repeated calls to Schedule
// within the delay window coalesce into a single run.
type DescriptorScheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration

	devices     DeviceLister
	descriptors DescriptorLookup
	drivers     DriverByName
	log         common.LoggingClient
}

func NewDescriptorScheduler(delay time.Duration, devices DeviceLister, descriptors DescriptorLookup, drivers DriverByName, log common.LoggingClient) *DescriptorScheduler {
	return &DescriptorScheduler{
		delay:       delay,
		devices:     devices,
		descriptors: descriptors,
		drivers:     drivers,
		log:         log,
	}
}

// Schedule (re)arms the debounced task. A call that arrives while a
// previous one is still pending cancels and restarts the delay,
// coalescing both into a single sweep.
func (s *DescriptorScheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.run)
}

// Cancel stops a pending sweep, if one is armed.
func (s *DescriptorScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *DescriptorScheduler) run() {
	for _, device := range s.devices.AllDevices() {
		s.processOne(device)
	}
}

func (s *DescriptorScheduler) processOne(device *models.Device) {
	manufacturer, _ := resourceValue(device, common.ResourceManufacturer)
	model, _ := resourceValue(device, common.ResourceModel)
	hwVer, _ := resourceValue(device, common.ResourceHardwareVersion)
	fwVer, _ := resourceValue(device, common.ResourceFirmwareVersion)

	descriptor, ok := s.descriptors.Lookup(manufacturer, model, hwVer, fwVer)
	if !ok {
		return
	}
	drv, ok := s.drivers.GetDriverByName(device.ManagingDriverName)
	if !ok {
		return
	}
	dp, ok := drv.(models.DescriptorProcessingDriver)
	if !ok {
		return
	}
	if err := dp.ProcessDeviceDescriptor(context.Background(), device, descriptor); err != nil && s.log != nil {
		s.log.Warn("startup: processDeviceDescriptor failed for device %s: %v", device.UUID, err)
	}
}

func resourceValue(device *models.Device, resourceID string) (string, bool) {
	res, ok := device.ResourceByID(resourceID)
	if !ok || res.Value == nil {
		return "", false
	}
	return *res.Value, true
}
