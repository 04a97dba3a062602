// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package discovery implements the Discovery Coordinator:
// per-class discovery/recovery sessions with timeout and cancel.
package discovery

import (
	"sync"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/pkg/models"
)

// DriverLookup resolves the ordered set of drivers supporting a
// device class (implemented by *driver.Registry).
type DriverLookup interface {
	GetDriversByClass(class string) []models.Driver
}

// Coordinator owns the active-discoveries map: a dedicated
// mutex protects it, distinct from the store's and the monitor's.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session // keyed by device class

	drivers DriverLookup
	prod    *events.Producer
	log     common.LoggingClient
}

func New(drivers DriverLookup, prod *events.Producer, log common.LoggingClient) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*session),
		drivers:  drivers,
		prod:     prod,
		log:      log,
	}
}

// DiscoverStart validation is all-or-nothing
// across the requested classes: if any class has no supporting driver
// (or, when findOrphans, no driver advertising RecoverDevices), the
// whole call fails and no session is started.
func (c *Coordinator) DiscoverStart(classes []string, timeoutSeconds int, findOrphans bool) bool {
	byClass := make(map[string][]models.Driver, len(classes))
	for _, class := range classes {
		supporting := c.drivers.GetDriversByClass(class)
		if len(supporting) == 0 {
			return false
		}
		if findOrphans {
			hasRecoverer := false
			for _, d := range supporting {
				if _, ok := d.(models.RecoveringDriver); ok {
					hasRecoverer = true
					break
				}
			}
			if !hasRecoverer {
				return false
			}
		}
		byClass[class] = supporting
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prod != nil {
		c.prod.Publish(events.CodeDiscoveryStarted, discoveryStartedPayload{Classes: classes, TimeoutSeconds: timeoutSeconds})
	}

	for _, class := range classes {
		if _, active := c.sessions[class]; active {
			if c.log != nil {
				c.log.Warn("discovery: class %s already has an active session, ignoring duplicate request", class)
			}
			continue
		}
		sess := startSession(class, byClass[class], timeoutSeconds, findOrphans, c.prod, c.log)
		c.sessions[class] = sess
		go c.reapWhenDone(class, sess)
	}
	return true
}

// reapWhenDone removes a session from the active map once its
// epilogue has finished, freeing the class for a subsequent
// discoverStart call.
func (c *Coordinator) reapWhenDone(class string, sess *session) {
	sess.wait()
	c.mu.Lock()
	if c.sessions[class] == sess {
		delete(c.sessions, class)
	}
	c.mu.Unlock()
}

// DiscoverStop: classes == nil signals every
// active session.
func (c *Coordinator) DiscoverStop(classes []string) {
	c.mu.Lock()
	var targets []*session
	if classes == nil {
		for _, s := range c.sessions {
			targets = append(targets, s)
		}
	} else {
		for _, class := range classes {
			if s, ok := c.sessions[class]; ok {
				targets = append(targets, s)
			}
		}
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.signal()
	}
}

// IsInRecoveryMode reports whether any active session was started
// with findOrphans = true.
func (c *Coordinator) IsInRecoveryMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.findOrphans {
			return true
		}
	}
	return false
}

// ActiveClasses reports the device classes currently under an active
// discovery session, for diagnostics.
func (c *Coordinator) ActiveClasses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for class := range c.sessions {
		out = append(out, class)
	}
	return out
}

type discoveryStartedPayload struct {
	Classes        []string
	TimeoutSeconds int
}
