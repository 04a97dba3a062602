// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package store is the sole authority for persisted and queryable
// device state: a single URI-addressed store that is itself
// authoritative (not a read-only cache of an external service) and
// persists through a pluggable Backend.
package store

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
)

// BackupNotifier is the external backup collaborator: a
// coarse-grained config-backup-flush trigger invoked after any
// persistence-mutating operation not tagged LAZY_SAVE_NEXT. Its
// concrete implementation (a cron-entry file manager mediating writes
// to a shared system schedule file) is out of scope; the
// store only needs this narrow contract.
type BackupNotifier interface {
	RequestBackup()
}

type noopBackup struct{}

func (noopBackup) RequestBackup() {}

// Backend persists the store's device tree and system properties
// across restarts. See snapshot.go for the YAML-backed implementation
// used in production.
type Backend interface {
	Load() (devices []*models.Device, systemProperties map[string]string, err error)
	Save(devices []*models.Device, systemProperties map[string]string) error
}

// Store holds the in-memory device tree and serializes all mutating
// operations behind a single RWMutex: the Resource Store is the
// shared-resource boundary and must serialize its mutating
// operations, though read paths may be concurrent.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*models.Device // keyed by uuid

	systemProps map[string]string

	backend Backend
	backup  BackupNotifier
	log     common.LoggingClient
}

func New(backend Backend, backup BackupNotifier, log common.LoggingClient) *Store {
	if backup == nil {
		backup = noopBackup{}
	}
	return &Store{
		devices:     make(map[string]*models.Device),
		systemProps: make(map[string]string),
		backend:     backend,
		backup:      backup,
		log:         log,
	}
}

// Reload discards in-memory state and reloads it from the backend
//.
func (s *Store) Reload() error {
	devices, props, err := s.backend.Load()
	if err != nil {
		return common.NewStoreFailureError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = make(map[string]*models.Device, len(devices))
	for _, d := range devices {
		s.devices[d.UUID] = d
	}
	if props == nil {
		props = make(map[string]string)
	}
	s.systemProps = props
	return nil
}

func (s *Store) GetDevice(uuid string) (*models.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[uuid]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (s *Store) GetEndpoint(deviceUUID, endpointID string) (*models.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceUUID]
	if !ok {
		return nil, false
	}
	e, ok := d.EndpointByID(endpointID)
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// GetResourceByURI resolves uri to a resource, owned copy. Per spec
// §4.1, when uri names an endpoint resource and direct resolution
// fails, it is retried with the same suffix relative to the root
// device URI (the "endpoint-resource inheritance fallback").
func (s *Store) GetResourceByURI(uri string) (*models.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getResourceByURILocked(uri)
}

func (s *Store) getResourceByURILocked(uri string) (*models.Resource, bool) {
	deviceUUID, endpointID, resourceID, ok := parseResourceURI(uri)
	if !ok {
		return nil, false
	}
	if r, ok := s.lookupResource(deviceUUID, endpointID, resourceID); ok {
		return r.Clone(), true
	}
	if endpointID != "" {
		if r, ok := s.lookupResource(deviceUUID, "", resourceID); ok {
			return r.Clone(), true
		}
	}
	return nil, false
}

func (s *Store) lookupResource(deviceUUID, endpointID, resourceID string) (*models.Resource, bool) {
	d, ok := s.devices[deviceUUID]
	if !ok {
		return nil, false
	}
	if endpointID == "" {
		return d.ResourceByID(resourceID)
	}
	e, ok := d.EndpointByID(endpointID)
	if !ok {
		return nil, false
	}
	return e.ResourceByID(resourceID)
}

func (s *Store) GetMetadataByURI(uri string) (*models.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deviceUUID, endpointID, metadataID, ok := parseMetadataURI(uri)
	if !ok {
		return nil, false
	}
	d, ok := s.devices[deviceUUID]
	if !ok {
		return nil, false
	}
	if endpointID == "" {
		if m, ok := d.MetadataByID(metadataID); ok {
			return m.Clone(), true
		}
		return nil, false
	}
	e, ok := d.EndpointByID(endpointID)
	if !ok {
		return nil, false
	}
	if m, ok := e.MetadataByID(metadataID); ok {
		return m.Clone(), true
	}
	return nil, false
}

func (s *Store) GetResourcesByURIRegex(re *regexp.Regexp) []*models.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Resource
	for _, d := range s.devices {
		for _, r := range d.Resources {
			if re.MatchString(r.URI()) {
				out = append(out, r.Clone())
			}
		}
		for _, e := range d.Endpoints {
			for _, r := range e.Resources {
				if re.MatchString(r.URI()) {
					out = append(out, r.Clone())
				}
			}
		}
	}
	return out
}

func (s *Store) GetMetadataByURIRegex(re *regexp.Regexp) []*models.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Metadata
	for _, d := range s.devices {
		for _, m := range d.Metadata {
			if re.MatchString(m.URI()) {
				out = append(out, m.Clone())
			}
		}
		for _, e := range d.Endpoints {
			for _, m := range e.Metadata {
				if re.MatchString(m.URI()) {
					out = append(out, m.Clone())
				}
			}
		}
	}
	return out
}

// ResolveURIPattern implements the general wildcard contract of spec
// §4.1: if pattern contains '*' it is expanded into a regex and
// routed to the *Regex variant; otherwise it is a single direct
// lookup. Used by the resource-update pipeline for wildcard writes
// and available to any caller needing pattern-based reads.
func (s *Store) ResolveURIPattern(pattern string) []*models.Resource {
	if !models.IsWildcard(pattern) {
		if r, ok := s.GetResourceByURI(pattern); ok {
			return []*models.Resource{r}
		}
		return nil
	}
	re, err := models.WildcardToRegex(pattern)
	if err != nil {
		return nil
	}
	return s.GetResourcesByURIRegex(re)
}

// AllDevices returns every persisted device, for startup and
// descriptor-processing sweeps that must visit the whole tree.
func (s *Store) AllDevices() []*models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Clone())
	}
	return out
}

func (s *Store) GetDevicesByDeviceClass(class string) []*models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Device
	for _, d := range s.devices {
		if d.DeviceClass == class {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (s *Store) GetDevicesByProfile(profile string) []*models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Device
	for _, d := range s.devices {
		for _, e := range d.Endpoints {
			if e.Profile == profile {
				out = append(out, d.Clone())
				break
			}
		}
	}
	return out
}

func (s *Store) GetDevicesByDriver(driverName string) []*models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Device
	for _, d := range s.devices {
		if d.ManagingDriverName == driverName {
			out = append(out, d.Clone())
		}
	}
	return out
}

// GetDevicesByMetadata returns devices with a device-level metadata
// entry matching id, optionally filtered by value equality.
func (s *Store) GetDevicesByMetadata(id string, valueEq *string) []*models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Device
	for _, d := range s.devices {
		m, ok := d.MetadataByID(id)
		if !ok {
			continue
		}
		if valueEq != nil {
			if m.Value == nil || *m.Value != *valueEq {
				continue
			}
		}
		out = append(out, d.Clone())
	}
	return out
}

// AddDevice inserts a newly-discovered device. It
// rejects a device whose uuid is already present.
func (s *Store) AddDevice(device *models.Device) error {
	if device == nil || device.UUID == "" {
		return common.NewInvalidArgumentError("device uuid is required")
	}
	s.mu.Lock()
	if _, exists := s.devices[device.UUID]; exists {
		s.mu.Unlock()
		return common.NewInvalidArgumentError(fmt.Sprintf("device %s already exists", device.UUID))
	}
	s.devices[device.UUID] = device.Clone()
	s.mu.Unlock()

	s.persist(false)
	return nil
}

// RemoveDeviceByID destroys a device and everything it owns (spec
// §3 lifecycle).
func (s *Store) RemoveDeviceByID(uuid string) error {
	s.mu.Lock()
	if _, exists := s.devices[uuid]; !exists {
		s.mu.Unlock()
		return common.NewNotFoundError(fmt.Sprintf("device %s not found", uuid))
	}
	delete(s.devices, uuid)
	s.mu.Unlock()

	s.persist(false)
	return nil
}

// SaveEndpoint overwrites an existing endpoint on deviceUUID,
// honoring invariant 5: disabling the last enabled endpoint removes
// the device. Returns (deviceRemoved, error).
func (s *Store) SaveEndpoint(deviceUUID string, ep *models.Endpoint) (bool, error) {
	s.mu.Lock()
	d, ok := s.devices[deviceUUID]
	if !ok {
		s.mu.Unlock()
		return false, common.NewNotFoundError(fmt.Sprintf("device %s not found", deviceUUID))
	}

	found := false
	for i, existing := range d.Endpoints {
		if existing.ID == ep.ID {
			d.Endpoints[i] = ep.Clone()
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false, common.NewNotFoundError(fmt.Sprintf("endpoint %s not found on device %s", ep.ID, deviceUUID))
	}

	removed := len(d.Endpoints) > 0 && d.EnabledEndpointCount() == 0
	if removed {
		delete(s.devices, deviceUUID)
	}
	s.mu.Unlock()

	s.persist(false)
	return removed, nil
}

// AddEndpoint appends a new endpoint to deviceUUID
// lifecycle: "Endpoints are created during configuration or later by
// addEndpoint").
func (s *Store) AddEndpoint(deviceUUID string, ep *models.Endpoint) error {
	s.mu.Lock()
	d, ok := s.devices[deviceUUID]
	if !ok {
		s.mu.Unlock()
		return common.NewNotFoundError(fmt.Sprintf("device %s not found", deviceUUID))
	}
	if _, exists := d.EndpointByID(ep.ID); exists {
		s.mu.Unlock()
		return common.NewInvalidArgumentError(fmt.Sprintf("endpoint %s already exists on device %s", ep.ID, deviceUUID))
	}
	ep.DeviceUUID = deviceUUID
	d.Endpoints = append(d.Endpoints, ep.Clone())
	s.mu.Unlock()

	s.persist(false)
	return nil
}

// SaveResource writes back a resource the caller previously read and
// mutated (invariant 2: the store recomputes the saved resource's URI
// from its owner identifiers, so the two cannot disagree).
func (s *Store) SaveResource(res *models.Resource) error {
	if !models.ValidComponentID(res.ID) {
		return common.NewInvalidArgumentError("resource id must not contain '/' or '*'")
	}
	s.mu.Lock()
	d, ok := s.devices[res.DeviceUUID]
	if !ok {
		s.mu.Unlock()
		return common.NewNotFoundError(fmt.Sprintf("device %s not found", res.DeviceUUID))
	}

	var slice *[]*models.Resource
	if res.EndpointID == "" {
		slice = &d.Resources
	} else {
		e, ok := d.EndpointByID(res.EndpointID)
		if !ok {
			s.mu.Unlock()
			return common.NewNotFoundError(fmt.Sprintf("endpoint %s not found on device %s", res.EndpointID, res.DeviceUUID))
		}
		slice = &e.Resources
	}

	toSave := res.Clone()
	toSave.SetURI()
	replaced := false
	for i, existing := range *slice {
		if existing.ID == res.ID {
			// Mode stickiness: Sensitive can never be cleared (invariant 4).
			toSave.Mode = models.ApplyModeChange(existing.Mode, toSave.Mode)
			(*slice)[i] = toSave
			replaced = true
			break
		}
	}
	if !replaced {
		toSave.Mode = toSave.Mode.Normalize()
		*slice = append(*slice, toSave)
	}
	lazy := toSave.Mode.Has(models.LazySaveNext)
	s.mu.Unlock()

	s.persist(lazy)
	return nil
}

// SaveMetadata writes back a metadata item, creating it if absent.
func (s *Store) SaveMetadata(md *models.Metadata) error {
	if !models.ValidComponentID(md.ID) {
		return common.NewInvalidArgumentError("metadata id must not contain '/' or '*'")
	}
	s.mu.Lock()
	d, ok := s.devices[md.DeviceUUID]
	if !ok {
		s.mu.Unlock()
		return common.NewNotFoundError(fmt.Sprintf("device %s not found", md.DeviceUUID))
	}

	var slice *[]*models.Metadata
	if md.EndpointID == "" {
		slice = &d.Metadata
	} else {
		e, ok := d.EndpointByID(md.EndpointID)
		if !ok {
			s.mu.Unlock()
			return common.NewNotFoundError(fmt.Sprintf("endpoint %s not found on device %s", md.EndpointID, md.DeviceUUID))
		}
		slice = &e.Metadata
	}

	toSave := md.Clone()
	toSave.SetURI()
	replaced := false
	for i, existing := range *slice {
		if existing.ID == md.ID {
			(*slice)[i] = toSave
			replaced = true
			break
		}
	}
	if !replaced {
		*slice = append(*slice, toSave)
	}
	s.mu.Unlock()

	s.persist(false)
	return nil
}

func (s *Store) SetSystemProperty(key, value string) {
	s.mu.Lock()
	s.systemProps[key] = value
	s.mu.Unlock()
	s.persist(false)
}

func (s *Store) GetSystemProperty(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.systemProps[key]
	return v, ok
}

// persist flushes the in-memory tree to the backend and, unless lazy
// is true, notifies the backup collaborator.
func (s *Store) persist(lazy bool) {
	s.mu.RLock()
	devices := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	props := make(map[string]string, len(s.systemProps))
	for k, v := range s.systemProps {
		props[k] = v
	}
	s.mu.RUnlock()

	if s.backend != nil {
		if err := s.backend.Save(devices, props); err != nil && s.log != nil {
			s.log.Error("store: failed to persist device tree: %v", err)
		}
	}
	if !lazy {
		s.backup.RequestBackup()
	}
}

func parseResourceURI(uri string) (deviceUUID, endpointID, resourceID string, ok bool) {
	return parseOwnedURI(uri, "/r/")
}

func parseMetadataURI(uri string) (deviceUUID, endpointID, metadataID string, ok bool) {
	return parseOwnedURI(uri, "/m/")
}

// parseOwnedURI parses "/<uuid>(/ep/<id>)?<sep><componentID>" without
// a regex per-call (URIPattern already validates the grammar); this
// is a small hand-rolled scanner deliberately kept simple, per spec
// §9's note that the original's ambiguity came from validation gaps,
// not from hand-rolling the scan itself.
func parseOwnedURI(uri string, sep string) (deviceUUID, endpointID, componentID string, ok bool) {
	if !models.ValidURI(uri) {
		return "", "", "", false
	}
	idx := indexOf(uri, sep)
	if idx < 0 {
		return "", "", "", false
	}
	head := uri[:idx]
	componentID = uri[idx+len(sep):]
	if componentID == "" {
		return "", "", "", false
	}

	head = head[1:] // drop leading '/'
	if epIdx := indexOf(head, "/ep/"); epIdx >= 0 {
		deviceUUID = head[:epIdx]
		endpointID = head[epIdx+len("/ep/"):]
	} else {
		deviceUUID = head
	}
	if deviceUUID == "" {
		return "", "", "", false
	}
	return deviceUUID, endpointID, componentID, true
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
