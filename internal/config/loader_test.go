// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDriverConfigFromFile(t *testing.T) {
	config, err := loadConfigFromFile("", "./test")
	require.NoError(t, err)

	driverCfg, ok := config.Driver["thermostat"]
	require.True(t, ok, "expected a [Driver.thermostat] section")

	assert.Equal(t, "tcp", driverCfg["Protocol"])
	assert.Equal(t, "1883", driverCfg["Port"])
	assert.Equal(t, "localhost", config.Service.Host)
	assert.Equal(t, 49999, config.Service.Port)
	assert.True(t, config.Discovery.Enabled)
	assert.Equal(t, 30, config.Discovery.DefaultTimeoutSecs)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfigFromFile("", "./nonexistent")
	assert.Error(t, err)
}
