// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"os"

	"github.com/sirupsen/logrus"
)

// LoggingClient is the leveled logger every core component and driver
// depends on. Kept as a small interface so tests can substitute a
// recording fake instead of a concrete logger.
type LoggingClient interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type logrusClient struct {
	log *logrus.Logger
}

// NewLoggingClient builds a LoggingClient backed by logrus. When
// enableRemote is false, target is a local file path (empty means
// stderr). When enableRemote is true, target is ignored and output
// goes to stderr; no remote hook is attached.
func NewLoggingClient(serviceName string, enableRemote bool, target string, level string) LoggingClient {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if !enableRemote && target != "" {
		if f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			log.SetOutput(f)
		}
	}

	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	log.AddHook(&serviceNameHook{serviceName: serviceName})

	return &logrusClient{log: log}
}

type serviceNameHook struct {
	serviceName string
}

func (h *serviceNameHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceNameHook) Fire(e *logrus.Entry) error {
	e.Data["service"] = h.serviceName
	return nil
}

func (c *logrusClient) Debug(msg string, args ...interface{}) { c.log.Debugf(msg, args...) }
func (c *logrusClient) Info(msg string, args ...interface{})  { c.log.Infof(msg, args...) }
func (c *logrusClient) Warn(msg string, args ...interface{})  { c.log.Warnf(msg, args...) }
func (c *logrusClient) Error(msg string, args ...interface{}) { c.log.Errorf(msg, args...) }
