// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package startup implements readiness tracking, the debounced
// descriptor-processing task, and the bounded device-initialization
// worker pool that runs once subsystems are ready.
package startup

import (
	"sync"

	"github.com/ixcore/devicecore/internal/events"
)

// ReadinessTracker becomes "ready for devices" once both of its
// preconditions are true: every subsystem has asserted readiness, and
// the device-descriptor collaborator has asserted readiness. The
// ready-for-devices event fires exactly once, on the transition where
// the second precondition becomes true.
type ReadinessTracker struct {
	mu              sync.Mutex
	subsystemsReady bool
	descriptorReady bool
	published       bool

	prod      *events.Producer
	callbacks []func()
}

func NewReadinessTracker(prod *events.Producer) *ReadinessTracker {
	return &ReadinessTracker{prod: prod}
}

// OnReady registers cb to run once, the moment readiness is reached.
// If readiness has already been reached, cb runs immediately.
func (t *ReadinessTracker) OnReady(cb func()) {
	t.mu.Lock()
	alreadyReady := t.published
	if !alreadyReady {
		t.callbacks = append(t.callbacks, cb)
	}
	t.mu.Unlock()

	if alreadyReady {
		cb()
	}
}

func (t *ReadinessTracker) SetSubsystemsReady() {
	t.mu.Lock()
	t.subsystemsReady = true
	t.mu.Unlock()
	t.maybePublish()
}

func (t *ReadinessTracker) SetDescriptorReady() {
	t.mu.Lock()
	t.descriptorReady = true
	t.mu.Unlock()
	t.maybePublish()
}

func (t *ReadinessTracker) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published
}

func (t *ReadinessTracker) SubsystemsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subsystemsReady
}

func (t *ReadinessTracker) maybePublish() {
	t.mu.Lock()
	shouldFire := t.subsystemsReady && t.descriptorReady && !t.published
	if shouldFire {
		t.published = true
	}
	callbacks := t.callbacks
	if shouldFire {
		t.callbacks = nil
	}
	t.mu.Unlock()

	if !shouldFire {
		return
	}
	if t.prod != nil {
		t.prod.Publish(events.CodeReadyForDevices, nil)
	}
	for _, cb := range callbacks {
		cb()
	}
}
