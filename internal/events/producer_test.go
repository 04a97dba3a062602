// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/ixcore/devicecore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOrderingPerSubscriber(t *testing.T) {
	p := NewProducer()
	sub := p.Subscribe(8)

	p.Publish(CodeDeviceDiscovered, "a")
	p.Publish(CodeDeviceAdded, "b")
	p.Publish(CodeEndpointAdded, "c")

	var got []string
	for i := 0; i < 3; i++ {
		ev := <-sub.Events()
		got = append(got, ev.Code)
	}
	assert.Equal(t, []string{CodeDeviceDiscovered, CodeDeviceAdded, CodeEndpointAdded}, got)
}

func TestEventIDsMonotonic(t *testing.T) {
	p := NewProducer()
	e1 := p.Publish(CodeReadyForDevices, nil)
	e2 := p.Publish(CodeReadyForDevices, nil)
	assert.Less(t, e1.ID, e2.ID)
}

func TestSnapshotMasksSensitiveValues(t *testing.T) {
	secret := "1234"
	d := &models.Device{
		UUID: "D1",
		Resources: []*models.Resource{
			{ID: "pin", Value: &secret, Mode: models.Readable | models.Sensitive},
		},
	}
	snap := SnapshotDevice(d)
	require.Len(t, snap.Resources, 1)
	assert.Equal(t, maskedValue, *snap.Resources[0].Value)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewProducer()
	sub := p.Subscribe(1)
	p.Unsubscribe(sub)
	_, ok := <-sub.Events()
	assert.False(t, ok)
}
