// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package sysprops watches the on-disk system-properties file for
// out-of-band edits (an operator hand-editing
// cpe.blacklisted.devices, deviceDescriptorBypass, or one of the
// other recognized keys outside of the HTTP command surface) and
// applies every key/value pair it finds to the pairing pipeline, the
// same entry point an in-process property change would use.
package sysprops

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ixcore/devicecore/internal/common"
)

// Applier is the narrow pairing-pipeline surface the watcher needs
// (implemented by *pairing.Pipeline).
type Applier interface {
	ApplyProperty(key, value string) error
}

// Watcher reloads path on every write/create event, debounced so a
// burst of filesystem events (editors that write-then-rename) only
// triggers one reload.
type Watcher struct {
	path     string
	applier  Applier
	log      common.LoggingClient
	debounce time.Duration

	fsw  *fsnotify.Watcher
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(path string, applier Applier, log common.LoggingClient) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		applier:  applier,
		log:      log,
		debounce: 200 * time.Millisecond,
		fsw:      fsw,
		stop:     make(chan struct{}),
	}, nil
}

// Start reads the file once to establish the initial property set,
// then runs the event loop in the background until Stop is called.
func (w *Watcher) Start() error {
	if err := w.reload(); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	var timer *time.Timer
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					if err := w.reload(); err != nil && w.log != nil {
						w.log.Warn("sysprops: reload of %s failed: %v", w.path, err)
					}
				})
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("sysprops: watch error on %s: %v", w.path, err)
			}
		}
	}
}

// reload parses path as "key = value" lines, one property per line,
// blank lines and lines starting with "#" ignored, and applies every
// entry through the Applier.
func (w *Watcher) reload() error {
	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := w.applier.ApplyProperty(key, value); err != nil {
			if w.log != nil {
				w.log.Warn("sysprops: applying %s failed: %v", key, err)
			}
		}
	}
	return scanner.Err()
}

func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
	w.wg.Wait()
}
