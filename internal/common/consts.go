// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018-2019 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package common

const (
	APIv1Prefix = "/api/v1"

	ConfigDirectory = "./res"
	ConfigFileName  = "configuration.toml"

	APIDiscoverRoute = APIv1Prefix + "/discover"
	APIDeviceRoute   = APIv1Prefix + "/device"
	APIResourceRoute = APIv1Prefix + "/resource"
	APIPingRoute     = APIv1Prefix + "/ping"

	CorrelationHeader = "X-Correlation-Id"

	// System property keys recognized by the core.
	PropertyDescriptorBypass       = "deviceDescriptorBypass"
	PropertyBlacklistedDevices     = "cpe.blacklisted.devices"
	PropertyPosixTimezone          = "posix.timezone"
	PropertyDescriptorListURL      = "device.descriptor.list.url"
	PropertyDescriptorListOverride = "device.descriptor.list.override"

	// Reserved common resource ids.
	ResourceManufacturer         = "manufacturer"
	ResourceModel                = "model"
	ResourceHardwareVersion      = "hardwareVersion"
	ResourceFirmwareVersion      = "firmwareVersion"
	ResourceFirmwareUpdateStatus = "firmwareUpdateStatus"
	ResourceDateAdded            = "dateAdded"
	ResourceDateLastContacted    = "dateLastContacted"
	ResourceCommFail             = "commFail"
	ResourceTimezone             = "timezone"
	ResourceMacAddress           = "macAddress"
	ResourceIPAddress            = "ipAddress"
	ResourceResetToFactory       = "resetToFactory"

	ResourceEndpointLabel = "label"

	DriverShutdownTimeout     = 31 * 60 // seconds
	DescriptorProcessingDelay = 30      // seconds
	MaxInitWorkers            = 5
	MaxInitQueue              = 128
)
