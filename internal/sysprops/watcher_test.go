// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package sysprops

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	mu    sync.Mutex
	calls map[string]string
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{calls: make(map[string]string)}
}

func (r *recordingApplier) ApplyProperty(key, value string) error {
	r.mu.Lock()
	r.calls[key] = value
	r.mu.Unlock()
	return nil
}

func (r *recordingApplier) get(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.calls[key]
	return v, ok
}

func TestWatcherAppliesInitialContentsOnStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.properties")
	require.NoError(t, os.WriteFile(path, []byte("deviceDescriptorBypass = true\n"), 0644))

	applier := newRecordingApplier()
	w, err := New(path, applier, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Start())
	v, ok := applier.get("deviceDescriptorBypass")
	require.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestWatcherReappliesOnFileEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.properties")
	require.NoError(t, os.WriteFile(path, []byte("cpe.blacklisted.devices = A\n"), 0644))

	applier := newRecordingApplier()
	w, err := New(path, applier, nil)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(path, []byte("cpe.blacklisted.devices = A,B\n"), 0644))

	require.Eventually(t, func() bool {
		v, ok := applier.get("cpe.blacklisted.devices")
		return ok && v == "A,B"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.properties")
	require.NoError(t, os.WriteFile(path, []byte("\n# comment\nposix.timezone = UTC\n"), 0644))

	applier := newRecordingApplier()
	w, err := New(path, applier, nil)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start())

	v, ok := applier.get("posix.timezone")
	require.True(t, ok)
	assert.Equal(t, "UTC", v)
}
