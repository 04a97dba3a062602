// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0
//
// This package provides the device management core service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ixcore/devicecore/drivers/lightbridge"
	"github.com/ixcore/devicecore/drivers/thermostat"
	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/config"
	"github.com/ixcore/devicecore/internal/control"
	"github.com/ixcore/devicecore/internal/descriptor"
	"github.com/ixcore/devicecore/internal/discovery"
	"github.com/ixcore/devicecore/internal/driver"
	"github.com/ixcore/devicecore/internal/events"
	"github.com/ixcore/devicecore/internal/monitor"
	"github.com/ixcore/devicecore/internal/pairing"
	"github.com/ixcore/devicecore/internal/resourceio"
	"github.com/ixcore/devicecore/internal/scheduler"
	"github.com/ixcore/devicecore/internal/startup"
	"github.com/ixcore/devicecore/internal/store"
	"github.com/ixcore/devicecore/internal/sysprops"
	"github.com/ixcore/devicecore/pkg/models"
)

const (
	serviceName    = "devicecored"
	serviceVersion = "0.1"
)

func main() {
	var profile, confDir string

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flag.StringVar(&profile, "profile", "", "Specify a profile other than default.")
	flag.StringVar(&profile, "p", "", "Specify a profile other than default.")
	flag.StringVar(&confDir, "confdir", "", "Specify an alternate configuration directory.")
	flag.StringVar(&confDir, "c", "", "Specify an alternate configuration directory.")
	flag.Parse()

	if err := run(profile, confDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(profile, confDir string) error {
	cfg, err := config.LoadConfig(profile, confDir)
	if err != nil {
		return err
	}

	log := common.NewLoggingClient(serviceName, cfg.Logging.EnableRemote, cfg.Logging.File, cfg.Logging.Level)

	resolvedConfDir := confDir
	if resolvedConfDir == "" {
		resolvedConfDir = common.ConfigDirectory
	}
	if profile != "" {
		resolvedConfDir = filepath.Join(resolvedConfDir, profile)
	}

	backend := store.NewFileBackend(filepath.Join(resolvedConfDir, "devices.yaml"))
	st := store.New(backend, nil, log)
	if err := st.Reload(); err != nil {
		return fmt.Errorf("loading persisted device state: %w", err)
	}

	prod := events.NewProducer()
	registry := driver.New(st, log)
	coordinator := discovery.New(registry, prod, log)

	descriptors := descriptor.New(log)
	if err := descriptors.LoadFile(filepath.Join(resolvedConfDir, "descriptors.yaml")); err != nil {
		log.Warn("startup: loading descriptors failed: %v", err)
	}

	pairingPipeline := pairing.New(st, registry, descriptors, nil, coordinator, prod, log)
	resourcePipeline := resourceio.New(st, registry, prod, log)

	watchdog := monitor.New(5*time.Minute, resourcePipeline, registry, st, nil, log)
	watchdogCtx, cancelWatchdog := context.WithCancel(context.Background())
	go watchdog.Run(watchdogCtx, 30*time.Second)

	resyncManager := scheduler.NewManager(st, registry, resourcePipeline, log)
	resyncManager.Start()

	registerDrivers(registry, cfg, pairingPipeline, resourcePipeline, log)

	readiness := startup.NewReadinessTracker(prod)
	descriptorScheduler := startup.NewDescriptorScheduler(
		common.DescriptorProcessingDelay*time.Second, st, descriptors, registry, log,
	)
	initTask := startup.NewDeviceInitializationTask(st, registry, log)
	initPool := startup.NewInitPool(common.MaxInitWorkers, common.MaxInitQueue, initTask, log)

	readiness.OnReady(func() {
		log.Info("startup: ready for devices")
		descriptorScheduler.Schedule()
		for _, device := range st.AllDevices() {
			initPool.Enqueue(device)
		}
	})
	readiness.SetSubsystemsReady()
	readiness.SetDescriptorReady()

	propsPath := filepath.Join(resolvedConfDir, "system.properties")
	propsWatcher, err := sysprops.New(propsPath, pairingPipeline, log)
	if err != nil {
		log.Warn("startup: system-properties watcher disabled: %v", err)
	} else if err := propsWatcher.Start(); err != nil {
		log.Warn("startup: system-properties watcher failed to start: %v", err)
	}

	server := control.NewServer(coordinator, resourcePipeline, pairingPipeline, log)
	httpServer := &http.Server{
		Addr:    cfg.Service.Host + ":" + strconv.Itoa(cfg.Service.Port),
		Handler: server.Router(),
	}
	go func() {
		log.Info("control: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control: server exited: %v", err)
		}
	}()

	if cfg.Discovery.Enabled {
		coordinator.DiscoverStart([]string{"thermostat", "light"}, cfg.Discovery.DefaultTimeoutSecs, false)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown: signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), common.DriverShutdownTimeout*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	if propsWatcher != nil {
		propsWatcher.Stop()
	}
	resyncManager.Stop()
	cancelWatchdog()
	initPool.Close()
	registry.ShutdownAll(shutdownCtx)

	return nil
}

// registerDrivers wires the two bundled reference drivers from their
// TOML sections (Config.Driver["thermostat"], Config.Driver["lightbridge"])
// and registers them with the registry.
func registerDrivers(registry *driver.Registry, cfg *common.Config, found *pairing.Pipeline, updater *resourceio.Pipeline, log common.LoggingClient) {
	ctx := context.Background()

	thermoAddrs := splitCSV(cfg.Driver["thermostat"]["addresses"])
	thermoDriver := thermostat.New(log, found, updater, nil, staticAddressBook(thermoAddrs), staticIPRecoverer{})
	if err := registry.Register(ctx, thermoDriver); err != nil {
		log.Error("startup: registering thermostat driver failed: %v", err)
	}

	bridgeURLs := splitCSV(cfg.Driver["lightbridge"]["bridgeUrls"])
	bridgeDriver := lightbridge.New(log, found, updater, staticBridgeLister(bridgeURLs))
	if err := registry.Register(ctx, bridgeDriver); err != nil {
		log.Error("startup: registering lightbridge driver failed: %v", err)
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type staticAddressBook []string

func (a staticAddressBook) Addresses() []string { return a }

type staticBridgeLister []string

func (b staticBridgeLister) BridgeURLs() []string { return b }

type staticIPRecoverer struct{}

func (staticIPRecoverer) RecoverIP(ctx context.Context, macAddress string) (string, bool) {
	return "", false
}

var _ models.Driver = (*thermostat.Driver)(nil)
var _ models.Driver = (*lightbridge.Driver)(nil)
