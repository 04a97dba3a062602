// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package startup

import (
	"context"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/pairing"
	"github.com/ixcore/devicecore/pkg/models"
)

// ReconfigureStore is the narrow store surface the reconfiguration
// path needs (implemented by *store.Store).
type ReconfigureStore interface {
	AddDevice(device *models.Device) error
	RemoveDeviceByID(uuid string) error
}

// NewDeviceInitializationTask builds the per-device task the init
// pool runs for every persisted device once subsystems are ready. If
// the managing driver reports the device needs reconfiguring and
// advertises a class version, the device is rebuilt through
// reconfigure; otherwise, if the driver supports it, synchronizeDevice
// is called.
func NewDeviceInitializationTask(st ReconfigureStore, drivers DriverByName, log common.LoggingClient) Task {
	return func(ctx context.Context, device *models.Device) {
		drv, ok := drivers.GetDriverByName(device.ManagingDriverName)
		if !ok {
			return
		}

		if reconf, ok := drv.(models.ReconfigurableDriver); ok && reconf.DeviceNeedsReconfiguring(device) {
			if version, ok := reconf.GetDeviceClassVersion(device.DeviceClass); ok {
				if err := reconfigure(ctx, st, drv, device, version); err != nil && log != nil {
					log.Warn("startup: reconfiguration failed for device %s: %v", device.UUID, err)
				}
				return
			}
		}

		if synchronizer, ok := drv.(models.SynchronizingDriver); ok {
			if err := synchronizer.SynchronizeDevice(ctx, device); err != nil && log != nil {
				log.Warn("startup: synchronizeDevice failed for device %s: %v", device.UUID, err)
			}
		}
	}
}

// reconfigure rebuilds a device instance through the same
// configure/fetch/addCommonResources/register steps the device-found
// pipeline uses, then yoinks forward the identity-ish state that must
// survive a reconfiguration (metadata, dateAdded, endpoint labels)
// before swapping the old instance out for the new one.
func reconfigure(ctx context.Context, st ReconfigureStore, drv models.Driver, old *models.Device, newVersion uint) error {
	replacement := &models.Device{
		UUID:               old.UUID,
		DeviceClass:         old.DeviceClass,
		DeviceClassVersion:  newVersion,
		ManagingDriverName:  old.ManagingDriverName,
	}

	if err := drv.ConfigureDevice(ctx, replacement, nil); err != nil {
		return err
	}

	bag := models.NewValueBag()
	if v, ok := resourceValue(old, common.ResourceManufacturer); ok {
		bag.SetString(common.ResourceManufacturer, v)
	}
	if v, ok := resourceValue(old, common.ResourceModel); ok {
		bag.SetString(common.ResourceModel, v)
	}
	if v, ok := resourceValue(old, common.ResourceHardwareVersion); ok {
		bag.SetString(common.ResourceHardwareVersion, v)
	}
	if v, ok := resourceValue(old, common.ResourceFirmwareVersion); ok {
		bag.SetString(common.ResourceFirmwareVersion, v)
	}
	bag.Set(common.ResourceFirmwareUpdateStatus, nil)
	now := time.Now()
	bag.Set(common.ResourceDateAdded, models.StringFromNowMillis(now))
	bag.Set(common.ResourceDateLastContacted, models.StringFromNowMillis(now))
	bag.SetString(common.ResourceCommFail, "false")

	if err := drv.FetchInitialResourceValues(ctx, replacement, bag); err != nil {
		return err
	}
	pairing.AddCommonResources(replacement, bag)
	if err := drv.RegisterResources(ctx, replacement, bag); err != nil {
		return err
	}

	yoinkSurvivingState(old, replacement)
	replacement.FinalizeURIs()

	if err := st.RemoveDeviceByID(old.UUID); err != nil {
		return err
	}
	return st.AddDevice(replacement)
}

// yoinkSurvivingState carries forward the parts of old that a
// reconfiguration must not reset: its device-level metadata set, its
// original dateAdded, and every endpoint's metadata set and label.
func yoinkSurvivingState(old, replacement *models.Device) {
	replacement.Metadata = old.Metadata

	if dateAdded, ok := old.ResourceByID(common.ResourceDateAdded); ok {
		if r, ok := replacement.ResourceByID(common.ResourceDateAdded); ok {
			r.Value = dateAdded.Value
		} else {
			replacement.Resources = append(replacement.Resources, &models.Resource{
				ID: common.ResourceDateAdded, Type: models.TypeDatetime, Value: dateAdded.Value,
				Mode: models.Readable, CachingPolicy: models.CachingAlways,
			})
		}
	}

	for _, oldEp := range old.Endpoints {
		newEp, ok := replacement.EndpointByID(oldEp.ID)
		if !ok {
			continue
		}

		newEp.Metadata = oldEp.Metadata

		label, ok := oldEp.ResourceByID(common.ResourceEndpointLabel)
		if !ok {
			continue
		}
		if r, ok := newEp.ResourceByID(common.ResourceEndpointLabel); ok {
			r.Value = label.Value
		} else {
			newEp.Resources = append(newEp.Resources, &models.Resource{
				ID: common.ResourceEndpointLabel, Type: models.TypeLabel, Value: label.Value,
				Mode: models.Readable | models.Writeable, CachingPolicy: models.CachingAlways,
			})
		}
	}
}
