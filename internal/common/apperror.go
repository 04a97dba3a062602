// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package common

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrorKind is a small closed set of error
// kinds the core's callers and pipelines switch on, as opposed to
// sentinel errors per failure site.
type ErrorKind string

const (
	KindInvalidArgument   ErrorKind = "invalid-argument"
	KindNotFound          ErrorKind = "not-found"
	KindUnauthorizedMode  ErrorKind = "unauthorized-mode"
	KindDriverFailure     ErrorKind = "driver-failure"
	KindCommunicationLost ErrorKind = "communication-lost"
	KindStoreFailure      ErrorKind = "store-failure"
	KindTimeout           ErrorKind = "timeout"
)

// AppError is the core's error return type. It carries only a
// Kind — callers
// at the API boundary (internal/control) translate Kind to a status
// code; the core packages never import net/http.
type AppError struct {
	Kind  ErrorKind
	cause error
}

func (e *AppError) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

func (e *AppError) Unwrap() error { return e.cause }

// NewAppError wraps cause (may be nil) with the given kind, attaching
// a stack trace via pkg/errors so the first boundary crossing is
// traceable in logs.
func NewAppError(kind ErrorKind, cause error) *AppError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &AppError{Kind: kind, cause: cause}
}

func NewInvalidArgumentError(msg string) *AppError {
	return NewAppError(KindInvalidArgument, errors.New(msg))
}

func NewNotFoundError(msg string) *AppError {
	return NewAppError(KindNotFound, errors.New(msg))
}

func NewUnauthorizedModeError(msg string) *AppError {
	return NewAppError(KindUnauthorizedMode, errors.New(msg))
}

func NewDriverFailureError(cause error) *AppError {
	return NewAppError(KindDriverFailure, cause)
}

func NewStoreFailureError(cause error) *AppError {
	return NewAppError(KindStoreFailure, cause)
}

// KindOf extracts the ErrorKind from err, if it (or something it
// wraps) is an *AppError.
func KindOf(err error) (ErrorKind, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}
