// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package descriptor is a reference implementation of the external
// device-descriptor collaborator: a flat list of descriptors keyed by
// (manufacturer, model, hardwareVersion, firmwareVersion), loaded from
// a local YAML file and optionally refreshed from an HTTP URL.
package descriptor

import (
	"context"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
	yaml "gopkg.in/yaml.v2"
)

type entry struct {
	Manufacturer    string            `yaml:"manufacturer"`
	Model           string            `yaml:"model"`
	HardwareVersion string            `yaml:"hardwareVersion"`
	FirmwareVersion string            `yaml:"firmwareVersion"`
	Metadata        map[string]string `yaml:"metadata"`
}

func (e entry) key() string {
	return strings.Join([]string{e.Manufacturer, e.Model, e.HardwareVersion, e.FirmwareVersion}, "|")
}

// List is a reloadable set of descriptors. It satisfies
// pairing.DescriptorLookup and startup.DescriptorLookup. It does no
// locking: a reload replaces the entries map while Lookup reads it
// unguarded, so a reload concurrent with Lookup is not safe.
type List struct {
	entries map[string]*models.DeviceDescriptor
	client  *http.Client
	log     common.LoggingClient
}

func New(log common.LoggingClient) *List {
	return &List{
		entries: make(map[string]*models.DeviceDescriptor),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Lookup resolves (manufacturer, model, hwVer, fwVer) to the
// descriptor authorizing and parameterizing pairing for that device,
// the lookup the pairing state machine calls on every device-found.
func (l *List) Lookup(manufacturer, model, hwVer, fwVer string) (*models.DeviceDescriptor, bool) {
	key := strings.Join([]string{manufacturer, model, hwVer, fwVer}, "|")
	d, ok := l.entries[key]
	return d, ok
}

// LoadFile replaces the descriptor set with the contents of a local
// YAML file (a list of entry records).
func (l *List) LoadFile(path string) error {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.load(data)
}

// LoadURL replaces the descriptor set with the contents fetched from
// url, the value the core finds in the device.descriptor.list.url (or
// .override, which takes precedence) system property.
func (l *List) LoadURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return l.load(data)
}

func (l *List) load(data []byte) error {
	var raw []entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	fresh := make(map[string]*models.DeviceDescriptor, len(raw))
	for _, e := range raw {
		fresh[e.key()] = &models.DeviceDescriptor{
			Manufacturer:    e.Manufacturer,
			Model:           e.Model,
			HardwareVersion: e.HardwareVersion,
			FirmwareVersion: e.FirmwareVersion,
			Metadata:        e.Metadata,
		}
	}
	l.entries = fresh
	if l.log != nil {
		l.log.Info("descriptor: loaded %d descriptors", len(fresh))
	}
	return nil
}

// Refresh picks the override URL if set, else the plain URL, and
// reloads from it; a caller wires this to property-change
// notifications for device.descriptor.list.url/.override.
func (l *List) Refresh(ctx context.Context, url, override string) error {
	target := url
	if override != "" {
		target = override
	}
	if target == "" {
		return nil
	}
	return l.LoadURL(ctx, target)
}
