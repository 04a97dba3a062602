// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPoller struct {
	mu      sync.Mutex
	fail    bool
	calls   int32
	lastIP  string
}

func (p *scriptedPoller) Poll(ctx context.Context, deviceUUID, currentIP string) error {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	p.lastIP = currentIP
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return assertErrorType2("unreachable")
	}
	return nil
}

type fixedRecoverer struct {
	ip string
	ok bool
}

func (r *fixedRecoverer) RecoverIP(ctx context.Context, macAddress string) (string, bool) {
	return r.ip, r.ok
}

func TestIPMonitorRecoversAfterRepeatedFailures(t *testing.T) {
	poller := &scriptedPoller{fail: true}
	recoverer := &fixedRecoverer{ip: "10.0.0.9", ok: true}
	updater := newRecordingUpdater()

	task := StartIPMonitor("U1", "AA:BB:CC", "10.0.0.1", poller, recoverer, updater, nil, 10*time.Millisecond, 3)

	deadline := time.After(2 * time.Second)
	for {
		if v, ok := updater.get("U1", "ipAddress"); ok {
			assert.Equal(t, "10.0.0.9", v)
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ip recovery")
		case <-time.After(10 * time.Millisecond):
		}
	}
	task.Stop()
	assert.Equal(t, "10.0.0.9", task.IP())
}

func TestIPMonitorKeepsPollingOnSuccess(t *testing.T) {
	poller := &scriptedPoller{}
	updater := newRecordingUpdater()

	task := StartIPMonitor("U1", "AA:BB:CC", "10.0.0.1", poller, nil, updater, nil, 5*time.Millisecond, 0)

	time.Sleep(60 * time.Millisecond)
	task.Stop()

	require.True(t, atomic.LoadInt32(&poller.calls) >= 3)
	_, ok := updater.get("U1", "ipAddress")
	assert.False(t, ok)
	assert.Equal(t, "10.0.0.1", task.IP())
}

type assertErrorType2 string

func (e assertErrorType2) Error() string { return string(e) }
