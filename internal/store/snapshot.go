// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/ixcore/devicecore/pkg/models"
	yaml "gopkg.in/yaml.v2"
)

// snapshot is the YAML-serializable shape of the store's persisted
// state: a per-device record comprising the device snapshot, an
// ordered list of endpoints, and a separate systemProperties
// key/value space. It is a format detail, not part
// of the store's public contract.
type snapshot struct {
	Devices          []*models.Device `yaml:"devices"`
	SystemProperties map[string]string `yaml:"systemProperties"`
}

// FileBackend persists the snapshot to a single YAML file. It is a
// deliberately simple stand-in for the production persistence layer,
// which is explicitly out of scope beyond what is needed to
// describe invariants.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Load() ([]*models.Device, map[string]string, error) {
	data, err := ioutil.ReadFile(b.Path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, nil, err
	}
	return snap.Devices, snap.SystemProperties, nil
}

func (b *FileBackend) Save(devices []*models.Device, systemProperties map[string]string) error {
	snap := snapshot{Devices: devices, SystemProperties: systemProperties}
	data, err := yaml.Marshal(&snap)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(b.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := b.Path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// MemoryBackend is an in-process Backend, used by tests, that never
// touches disk.
type MemoryBackend struct {
	Devices          []*models.Device
	SystemProperties map[string]string
}

func (b *MemoryBackend) Load() ([]*models.Device, map[string]string, error) {
	return b.Devices, b.SystemProperties, nil
}

func (b *MemoryBackend) Save(devices []*models.Device, systemProperties map[string]string) error {
	b.Devices = devices
	b.SystemProperties = systemProperties
	return nil
}
