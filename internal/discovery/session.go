// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/pkg/models"
	"golang.org/x/sync/errgroup"
)

// session is the per-device-class cancellable task: a task that
// waits on a context cancellation channel or on a timeout --
// whichever fires first -- then runs its cleanup epilogue.
type session struct {
	class       string
	findOrphans bool
	drivers     []models.Driver
	cancel      context.CancelFunc
	done        chan struct{}
}

func startSession(class string, drivers []models.Driver, timeoutSeconds int, findOrphans bool, prod *events.Producer, log common.LoggingClient) *session {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)

	s := &session{
		class:       class,
		findOrphans: findOrphans,
		drivers:     drivers,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	started := s.beginDiscovery(ctx, log)

	go func() {
		defer close(s.done)
		<-ctx.Done()
		s.stopDiscovery(started, log)
		if prod != nil {
			prod.Publish(events.CodeDiscoveryStopped, class)
		}
		cancel()
	}()

	return s
}

// beginDiscovery asks every supporting driver to start in parallel: a
// slow or blocking driver.DiscoverDevices must never delay the others.
// errgroup.Group (not WithContext) collects each driver's outcome
// without letting one failure cancel its siblings.
func (s *session) beginDiscovery(ctx context.Context, log common.LoggingClient) []models.Driver {
	var mu sync.Mutex
	var started []models.Driver
	var g errgroup.Group

	for _, d := range s.drivers {
		d := d
		g.Go(func() error {
			var err error
			if s.findOrphans {
				rd, ok := d.(models.RecoveringDriver)
				if !ok {
					return nil
				}
				err = rd.RecoverDevices(ctx, s.class)
			} else {
				err = d.DiscoverDevices(ctx, s.class)
			}
			if err != nil {
				if log != nil {
					log.Warn("discovery: driver %s failed to start discovery for class %s: %v", d.DriverName(), s.class, err)
				}
				return nil
			}
			mu.Lock()
			started = append(started, d)
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return started
}

func (s *session) stopDiscovery(started []models.Driver, log common.LoggingClient) {
	var g errgroup.Group
	for _, d := range started {
		d := d
		g.Go(func() error {
			if err := d.StopDiscoveringDevices(context.Background(), s.class); err != nil && log != nil {
				log.Warn("discovery: driver %s failed to stop discovery for class %s: %v", d.DriverName(), s.class, err)
			}
			return nil
		})
	}
	g.Wait()
}

// signal triggers immediate cancellation (discoverStop), the other
// half of the "timeout or cancel" race.
func (s *session) signal() {
	s.cancel()
}

func (s *session) wait() {
	<-s.done
}
