// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package startup

import (
	"context"
	"sync"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
	"golang.org/x/sync/semaphore"
)

// Task is the per-device work a worker runs: deviceInitializationTask
// in production, any callback in tests.
type Task func(ctx context.Context, device *models.Device)

// InitPool is a bounded worker pool running at most common.MaxInitWorkers
// tasks concurrently, fed from a queue capped at common.MaxInitQueue. A
// full queue drops the job and logs, rather than blocking the caller.
// Concurrency is bounded by a weighted semaphore rather than a fixed
// number of worker goroutines, so a dispatcher can hand off every
// queued device as soon as a slot frees up.
type InitPool struct {
	jobs chan *models.Device
	task Task
	log  common.LoggingClient
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	done chan struct{}
}

func NewInitPool(workers, queueSize int, task Task, log common.LoggingClient) *InitPool {
	if workers <= 0 || workers > common.MaxInitWorkers {
		workers = common.MaxInitWorkers
	}
	if queueSize <= 0 || queueSize > common.MaxInitQueue {
		queueSize = common.MaxInitQueue
	}
	p := &InitPool{
		jobs: make(chan *models.Device, queueSize),
		task: task,
		log:  log,
		sem:  semaphore.NewWeighted(int64(workers)),
		done: make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// dispatch acquires a semaphore slot before it ever reads from jobs,
// not after: a slot must be free before a queued device is pulled off
// the channel, or a busy pool would drain its queue into goroutines
// blocked on Acquire and silently accept devices beyond queueSize.
func (p *InitPool) dispatch() {
	defer close(p.done)
	ctx := context.Background()
	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		device, ok := <-p.jobs
		if !ok {
			p.sem.Release(1)
			return
		}
		p.wg.Add(1)
		go func(device *models.Device) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.task(ctx, device)
		}(device)
	}
}

// Enqueue submits device for initialization. It returns false without
// blocking if the queue is already full.
func (p *InitPool) Enqueue(device *models.Device) bool {
	select {
	case p.jobs <- device:
		return true
	default:
		if p.log != nil {
			p.log.Warn("startup: device-initialization queue full, dropping device %s", device.UUID)
		}
		return false
	}
}

// Close stops accepting new jobs and waits for every dispatched and
// in-flight job to finish.
func (p *InitPool) Close() {
	close(p.jobs)
	<-p.done
	p.wg.Wait()
}
