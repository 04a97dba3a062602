// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ixcore/devicecore/internal/common"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultFailuresForScan = 3
)

// DevicePoller is implemented by an IP-addressable driver's per-device
// probe: it reaches the device at the given address and reports
// whether it was reachable. Any state the driver observes while
// polling is expected to flow back through the resource-update
// pipeline directly -- the poller's only contract with the core is
// reachability.
type DevicePoller interface {
	Poll(ctx context.Context, deviceUUID, currentIP string) error
}

// IPRecoverer is the SSDP-like collaborator asked to recover the
// current IP address of a MAC address after repeated poll failures.
type IPRecoverer interface {
	RecoverIP(ctx context.Context, macAddress string) (ip string, ok bool)
}

// IPMonitorTask is a single device's polling loop.
type IPMonitorTask struct {
	deviceUUID string
	macAddress string
	poller     DevicePoller
	recoverer  IPRecoverer
	updater    ResourceUpdater
	log        common.LoggingClient

	pollInterval    time.Duration
	failuresForScan int

	mu        sync.Mutex
	currentIP string

	cancel context.CancelFunc
	done   chan struct{}
}

// StartIPMonitor launches a background polling loop for one device and
// returns a handle that can Stop it. Every pollInterval the loop polls
// the device at its last-known IP; on failuresForScan consecutive
// failures it asks recoverer to locate the device's new address and,
// on success, writes the ipAddress resource and resumes polling there.
// A zero pollInterval or failuresForScan falls back to the package
// defaults.
func StartIPMonitor(deviceUUID, macAddress, initialIP string, poller DevicePoller, recoverer IPRecoverer, updater ResourceUpdater, log common.LoggingClient, pollInterval time.Duration, failuresForScan int) *IPMonitorTask {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if failuresForScan <= 0 {
		failuresForScan = defaultFailuresForScan
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &IPMonitorTask{
		deviceUUID:      deviceUUID,
		macAddress:      macAddress,
		poller:          poller,
		recoverer:       recoverer,
		updater:         updater,
		log:             log,
		pollInterval:    pollInterval,
		failuresForScan: failuresForScan,
		currentIP:       initialIP,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *IPMonitorTask) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ip := t.IP()
			if err := t.poller.Poll(ctx, t.deviceUUID, ip); err != nil {
				consecutiveFailures++
				if t.log != nil {
					t.log.Warn("monitor: poll failed for device %s at %s (%d/%d): %v", t.deviceUUID, ip, consecutiveFailures, t.failuresForScan, err)
				}
				if consecutiveFailures >= t.failuresForScan {
					t.recoverAddress(ctx)
					consecutiveFailures = 0
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (t *IPMonitorTask) recoverAddress(ctx context.Context) {
	if t.recoverer == nil {
		return
	}
	newIP, ok := t.recoverer.RecoverIP(ctx, t.macAddress)
	if !ok {
		if t.log != nil {
			t.log.Warn("monitor: could not recover IP address for device %s (mac %s)", t.deviceUUID, t.macAddress)
		}
		return
	}

	t.mu.Lock()
	changed := newIP != t.currentIP
	t.currentIP = newIP
	t.mu.Unlock()

	if changed && t.updater != nil {
		ipVal := newIP
		if err := t.updater.UpdateResource(t.deviceUUID, "", common.ResourceIPAddress, &ipVal, nil); err != nil && t.log != nil {
			t.log.Warn("monitor: failed to write recovered ipAddress for device %s: %v", t.deviceUUID, err)
		}
	}
}

func (t *IPMonitorTask) IP() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentIP
}

// Stop cancels the loop and waits for it to exit.
func (t *IPMonitorTask) Stop() {
	t.cancel()
	<-t.done
}
