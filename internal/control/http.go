// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018-2019 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package control exposes the core's command surface over HTTP: the
// external caller submits discover/read/write/execute/remove requests
// here, and this package does nothing but validate the request shape
// and delegate to the coordinator, pipeline and pairing packages. No
// business logic lives in a handler.
package control

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/pkg/models"
)

// Discoverer is the subset of *discovery.Coordinator the HTTP surface
// needs.
type Discoverer interface {
	DiscoverStart(classes []string, timeoutSeconds int, findOrphans bool) bool
	DiscoverStop(classes []string)
	IsInRecoveryMode() bool
}

// ResourceIO is the subset of *resourceio.Pipeline the HTTP surface
// needs.
type ResourceIO interface {
	ReadResourceByURI(ctx context.Context, uri string) (*string, error)
	WriteResourceByURI(ctx context.Context, uri string, value *string) (bool, error)
	ExecuteResourceByURI(ctx context.Context, uri string, arg *string) (bool, *string, error)
	ChangeResourceMode(uri string, newMode models.ResourceMode) error
}

// DeviceManager is the subset of *pairing.Pipeline the HTTP surface
// needs for device and endpoint lifecycle operations.
type DeviceManager interface {
	RemoveDevice(uuid string) error
	UpdateEndpoint(deviceUUID, endpointID string, enabled bool) error
}

// Server wires the command surface's dependencies and builds the
// gorilla/mux router. It carries no state of its own beyond its
// collaborators.
type Server struct {
	discovery Discoverer
	resources ResourceIO
	devices   DeviceManager
	log       common.LoggingClient
}

func NewServer(discovery Discoverer, resources ResourceIO, devices DeviceManager, log common.LoggingClient) *Server {
	return &Server{discovery: discovery, resources: resources, devices: devices, log: log}
}

// Router builds the mux.Router exposing every route of the command
// surface. The caller is responsible for serving it (http.ListenAndServe
// or embedding it into a larger mux).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(common.APIPingRoute, s.handlePing).Methods(http.MethodGet)

	r.HandleFunc(common.APIDiscoverRoute, s.handleDiscoverStart).Methods(http.MethodPost)
	r.HandleFunc(common.APIDiscoverRoute, s.handleDiscoverStop).Methods(http.MethodDelete)

	r.HandleFunc(common.APIResourceRoute, s.handleReadResource).Methods(http.MethodGet)
	r.HandleFunc(common.APIResourceRoute, s.handleWriteResource).Methods(http.MethodPut)
	r.HandleFunc(common.APIResourceRoute+"/execute", s.handleExecuteResource).Methods(http.MethodPost)
	r.HandleFunc(common.APIResourceRoute+"/mode", s.handleChangeResourceMode).Methods(http.MethodPut)

	r.HandleFunc(common.APIDeviceRoute+"/{uuid}", s.handleRemoveDevice).Methods(http.MethodDelete)
	r.HandleFunc(common.APIDeviceRoute+"/{uuid}/endpoint/{endpointId}", s.handleUpdateEndpoint).Methods(http.MethodPut)

	r.Use(correlationMiddleware)
	return r
}

// correlationMiddleware assigns every inbound request a correlation ID,
// honoring one the caller already supplied so a request chain stays
// traceable across services, and generating one with google/uuid
// otherwise. Handlers see it on the response so log lines across the
// core can be joined back to a single request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(common.CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(common.CorrelationHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("pong"))
}

type discoverStartRequest struct {
	Classes        []string `json:"classes"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
	FindOrphans    bool     `json:"findOrphans"`
}

func (s *Server) handleDiscoverStart(w http.ResponseWriter, r *http.Request) {
	var req discoverStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, common.NewInvalidArgumentError("malformed discover request: "+err.Error()))
		return
	}
	if len(req.Classes) == 0 {
		writeAppError(w, common.NewInvalidArgumentError("classes must not be empty"))
		return
	}

	ok := s.discovery.DiscoverStart(req.Classes, req.TimeoutSeconds, req.FindOrphans)
	writeJSON(w, http.StatusOK, map[string]bool{"started": ok})
}

func (s *Server) handleDiscoverStop(w http.ResponseWriter, r *http.Request) {
	classes := r.URL.Query()["class"]
	if len(classes) == 0 {
		s.discovery.DiscoverStop(nil)
	} else {
		s.discovery.DiscoverStop(classes)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeAppError(w, common.NewInvalidArgumentError("uri query parameter is required"))
		return
	}

	value, err := s.resources.ReadResourceByURI(r.Context(), uri)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*string{"value": value})
}

type writeResourceRequest struct {
	URI   string  `json:"uri"`
	Value *string `json:"value"`
}

func (s *Server) handleWriteResource(w http.ResponseWriter, r *http.Request) {
	var req writeResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, common.NewInvalidArgumentError("malformed write request: "+err.Error()))
		return
	}
	if req.URI == "" {
		writeAppError(w, common.NewInvalidArgumentError("uri is required"))
		return
	}

	ok, err := s.resources.WriteResourceByURI(r.Context(), req.URI, req.Value)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

type executeResourceRequest struct {
	URI string  `json:"uri"`
	Arg *string `json:"arg"`
}

func (s *Server) handleExecuteResource(w http.ResponseWriter, r *http.Request) {
	var req executeResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, common.NewInvalidArgumentError("malformed execute request: "+err.Error()))
		return
	}
	if req.URI == "" {
		writeAppError(w, common.NewInvalidArgumentError("uri is required"))
		return
	}

	ok, resp, err := s.resources.ExecuteResourceByURI(r.Context(), req.URI, req.Arg)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": ok, "response": resp})
}

type changeResourceModeRequest struct {
	URI  string `json:"uri"`
	Mode string `json:"mode"`
}

func (s *Server) handleChangeResourceMode(w http.ResponseWriter, r *http.Request) {
	var req changeResourceModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, common.NewInvalidArgumentError("malformed mode-change request: "+err.Error()))
		return
	}

	mode, err := parseResourceMode(req.Mode)
	if err != nil {
		writeAppError(w, common.NewInvalidArgumentError(err.Error()))
		return
	}

	if err := s.resources.ChangeResourceMode(req.URI, mode); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseResourceMode accepts a comma-separated list of flag names
// (e.g. "readable,writeable,sensitive") so the wire format never
// leaks the bitmask's numeric encoding.
func parseResourceMode(s string) (models.ResourceMode, error) {
	if s == "" {
		return 0, nil
	}
	var mode models.ResourceMode
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			flag, err := models.ParseResourceModeFlag(s[start:i])
			if err != nil {
				return 0, err
			}
			mode |= flag
			start = i + 1
		}
	}
	return mode, nil
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if uuid == "" {
		writeAppError(w, common.NewInvalidArgumentError("uuid is required"))
		return
	}
	if err := s.devices.RemoveDevice(uuid); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateEndpointRequest struct {
	Enabled bool `json:"enabled"`
}

// handleUpdateEndpoint implements updateEndpoint: disabling an
// endpoint publishes endpoint-removed (or device-removed, if it was
// the device's last enabled endpoint); re-enabling one persists the
// change without removing anything.
func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceUUID, endpointID := vars["uuid"], vars["endpointId"]
	if deviceUUID == "" || endpointID == "" {
		writeAppError(w, common.NewInvalidArgumentError("uuid and endpointId are required"))
		return
	}

	var req updateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, common.NewInvalidArgumentError("malformed endpoint update request: "+err.Error()))
		return
	}

	if err := s.devices.UpdateEndpoint(deviceUUID, endpointID, req.Enabled); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeAppError maps an ErrorKind to an HTTP status. Everything below
// this line is the one place in the module allowed to know about
// net/http status codes.
func writeAppError(w http.ResponseWriter, err error) {
	kind, ok := common.KindOf(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case common.KindInvalidArgument:
		status = http.StatusBadRequest
	case common.KindNotFound:
		status = http.StatusNotFound
	case common.KindUnauthorizedMode:
		status = http.StatusForbidden
	case common.KindDriverFailure, common.KindCommunicationLost:
		status = http.StatusBadGateway
	case common.KindTimeout:
		status = http.StatusGatewayTimeout
	case common.KindStoreFailure:
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}
