// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package thermostat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTenthsRendersWholeAndFraction(t *testing.T) {
	assert.Equal(t, "21.5", formatTenths([]byte{0, 215}))
	assert.Equal(t, "0.0", formatTenths([]byte{0, 0}))
}

func TestParseTenthsRoundTrips(t *testing.T) {
	v, err := parseTenths("21.5")
	require.NoError(t, err)
	assert.EqualValues(t, 215, v)

	v, err = parseTenths("7")
	require.NoError(t, err)
	assert.EqualValues(t, 70, v)
}

func TestAddressFromUUIDStripsPrefix(t *testing.T) {
	assert.Equal(t, "10.0.0.5:502", addressFromUUID("thermostat-10.0.0.5:502"))
	assert.Equal(t, "already-an-address", addressFromUUID("already-an-address"))
}

func TestRegisterForKnownAndUnknownResources(t *testing.T) {
	reg, err := registerFor("temperature")
	require.NoError(t, err)
	assert.Equal(t, regCurrentTemperature, reg)

	reg, err = registerFor("setpoint")
	require.NoError(t, err)
	assert.Equal(t, regSetpoint, reg)

	_, err = registerFor("bogus")
	assert.Error(t, err)
}
