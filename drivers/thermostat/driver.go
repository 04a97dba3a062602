// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

// Package thermostat is a reference driver for an IP thermostat
// reachable over Modbus TCP. It is the bundled example of a
// complete models.Driver implementation: discovery by scanning a
// configured address list, resource read/write against two holding
// registers, and the per-device IP monitoring task every IP-addressable
// driver is expected to run for itself.
package thermostat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/ixcore/devicecore/internal/common"
	"github.com/ixcore/devicecore/internal/monitor"
	"github.com/ixcore/devicecore/pkg/models"
)

const (
	className = "thermostat"

	// Holding-register layout of the reference thermostat.
	regCurrentTemperature uint16 = 0 // read-only, tenths of a degree C
	regSetpoint           uint16 = 1 // read/write, tenths of a degree C

	modbusTimeout = 2 * time.Second
)

// AddressBook supplies the static list of host:port Modbus-TCP
// endpoints to probe during discovery. In production this is backed
// by configuration; tests substitute a fixed slice.
type AddressBook interface {
	Addresses() []string
}

// Found is the narrow slice of the device-found pipeline a driver
// needs: reporting a newly seen device.
type Found interface {
	DeviceFound(ctx context.Context, details models.DeviceFoundDetails, neverReject bool) bool
}

// ContactTracker is the watchdog surface the driver pokes on every
// successful poll.
type ContactTracker interface {
	UpdateDeviceDateLastContacted(uuid string)
}

// Driver implements models.Driver plus the CommFailAwareDriver hook,
// and starts one monitor.IPMonitorTask per configured device so the
// core's watchdog never has to speak Modbus itself.
type Driver struct {
	log       common.LoggingClient
	found     Found
	updater   monitor.ResourceUpdater
	contact   ContactTracker
	addresses AddressBook
	recoverer monitor.IPRecoverer

	mu          sync.Mutex
	monitors    map[string]*monitor.IPMonitorTask // by device uuid
	discovering bool
}

func New(log common.LoggingClient, found Found, updater monitor.ResourceUpdater, contact ContactTracker, addresses AddressBook, recoverer monitor.IPRecoverer) *Driver {
	return &Driver{
		log:       log,
		found:     found,
		updater:   updater,
		contact:   contact,
		addresses: addresses,
		recoverer: recoverer,
		monitors:  make(map[string]*monitor.IPMonitorTask),
	}
}

func (d *Driver) DriverName() string              { return "thermostat-modbus" }
func (d *Driver) SupportedDeviceClasses() []string { return []string{className} }

func (d *Driver) Startup(ctx context.Context) error  { return nil }

func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for uuid, task := range d.monitors {
		task.Stop()
		delete(d.monitors, uuid)
	}
	return nil
}

// DiscoverDevices probes every configured address with a connect-and-
// read of the identifying register; a reply of any shape is treated
// as "found a thermostat at this address" and reported upstream.
func (d *Driver) DiscoverDevices(ctx context.Context, class string) error {
	if class != className {
		return nil
	}
	d.mu.Lock()
	if d.discovering {
		d.mu.Unlock()
		return nil
	}
	d.discovering = true
	d.mu.Unlock()

	go d.scan(ctx)
	return nil
}

func (d *Driver) scan(ctx context.Context) {
	for _, addr := range d.addresses.Addresses() {
		d.mu.Lock()
		active := d.discovering
		d.mu.Unlock()
		if !active {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		client, handler, err := dial(addr)
		if err != nil {
			continue
		}
		_, err = client.ReadHoldingRegisters(regCurrentTemperature, 1)
		handler.Close()
		if err != nil {
			continue
		}

		uuid := "thermostat-" + addr
		details := models.DeviceFoundDetails{
			UUID:            uuid,
			DeviceClass:     className,
			Manufacturer:    "Circutor",
			Model:           "CVM-NET",
			HardwareVersion: "1",
			FirmwareVersion: "1",
			DriverName:      d.DriverName(),
		}
		if d.found != nil {
			d.found.DeviceFound(context.Background(), details, false)
		}
	}
}

func (d *Driver) StopDiscoveringDevices(ctx context.Context, class string) error {
	d.mu.Lock()
	d.discovering = false
	d.mu.Unlock()
	return nil
}

// ConfigureDevice stores the dialed address as device metadata; the
// reference driver keeps resources on the device itself rather than
// creating endpoints, since a thermostat exposes one logical surface.
func (d *Driver) ConfigureDevice(ctx context.Context, device *models.Device, descriptor *models.DeviceDescriptor) error {
	addr := addressFromUUID(device.UUID)
	device.Metadata = append(device.Metadata, &models.Metadata{ID: "modbusAddress", Value: &addr})
	return nil
}

func (d *Driver) FetchInitialResourceValues(ctx context.Context, device *models.Device, bag *models.ValueBag) error {
	addr := addressFromUUID(device.UUID)
	client, handler, err := dial(addr)
	if err != nil {
		return fmt.Errorf("thermostat: initial connect to %s failed: %w", addr, err)
	}
	defer handler.Close()

	raw, err := client.ReadHoldingRegisters(regCurrentTemperature, 1)
	if err != nil {
		return fmt.Errorf("thermostat: initial read from %s failed: %w", addr, err)
	}
	bag.SetString("temperature", formatTenths(raw))

	raw, err = client.ReadHoldingRegisters(regSetpoint, 1)
	if err == nil {
		bag.SetString("setpoint", formatTenths(raw))
	}
	bag.SetString(common.ResourceIPAddress, addr)
	return nil
}

func (d *Driver) RegisterResources(ctx context.Context, device *models.Device, bag *models.ValueBag) error {
	if v, ok := bag.Get("temperature"); ok {
		device.Resources = append(device.Resources, &models.Resource{
			ID: "temperature", Type: models.TypeTemperature, Value: v,
			Mode: models.Readable | models.EmitEvents, CachingPolicy: models.CachingAlways,
		})
	}
	if v, ok := bag.Get("setpoint"); ok {
		device.Resources = append(device.Resources, &models.Resource{
			ID: "setpoint", Type: models.TypeTemperature, Value: v,
			Mode: models.Readable | models.Writeable | models.EmitEvents, CachingPolicy: models.CachingAlways,
		})
	}
	if v, ok := bag.Get(common.ResourceIPAddress); ok {
		device.Resources = append(device.Resources, &models.Resource{
			ID: common.ResourceIPAddress, Type: models.TypeIPAddress, Value: v,
			Mode: models.Readable, CachingPolicy: models.CachingAlways,
		})
	}

	d.startMonitor(device)
	return nil
}

func (d *Driver) startMonitor(device *models.Device) {
	addr := addressFromUUID(device.UUID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.monitors[device.UUID]; exists {
		return
	}
	// failuresForScan=1: IP recovery is attempted after the first
	// failed poll, not after a run of consecutive failures.
	d.monitors[device.UUID] = monitor.StartIPMonitor(
		device.UUID, device.UUID, addr, d, d.recoverer, d.updater, d.log, 0, 1,
	)
}

// Poll implements monitor.DevicePoller: re-read the temperature
// register and report it through the resource-update API, exactly
// the contract the core documents for IP-addressable drivers.
func (d *Driver) Poll(ctx context.Context, deviceUUID, currentIP string) error {
	client, handler, err := dial(currentIP)
	if err != nil {
		return err
	}
	defer handler.Close()

	raw, err := client.ReadHoldingRegisters(regCurrentTemperature, 1)
	if err != nil {
		return err
	}

	if d.updater != nil {
		value := formatTenths(raw)
		d.updater.UpdateResource(deviceUUID, "", "temperature", &value, nil)
	}
	if d.contact != nil {
		d.contact.UpdateDeviceDateLastContacted(deviceUUID)
	}
	return nil
}

func (d *Driver) ReadResource(ctx context.Context, res *models.Resource) (*string, error) {
	addr := addressFromUUID(res.DeviceUUID)
	client, handler, err := dial(addr)
	if err != nil {
		return nil, err
	}
	defer handler.Close()

	reg, err := registerFor(res.ID)
	if err != nil {
		return nil, err
	}
	raw, err := client.ReadHoldingRegisters(reg, 1)
	if err != nil {
		return nil, err
	}
	value := formatTenths(raw)
	return &value, nil
}

func (d *Driver) WriteResource(ctx context.Context, res *models.Resource, prev, newValue *string) bool {
	if res.ID != "setpoint" || newValue == nil {
		return false
	}
	addr := addressFromUUID(res.DeviceUUID)
	client, handler, err := dial(addr)
	if err != nil {
		if d.log != nil {
			d.log.Warn("thermostat: write connect to %s failed: %v", addr, err)
		}
		return false
	}
	defer handler.Close()

	tenths, err := parseTenths(*newValue)
	if err != nil {
		return false
	}
	if _, err := client.WriteSingleRegister(regSetpoint, tenths); err != nil {
		if d.log != nil {
			d.log.Warn("thermostat: write to %s failed: %v", addr, err)
		}
		return false
	}
	if d.updater != nil {
		d.updater.UpdateResource(res.DeviceUUID, "", "setpoint", newValue, nil)
	}
	return true
}

func (d *Driver) DeviceRemoved(ctx context.Context, device *models.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if task, ok := d.monitors[device.UUID]; ok {
		task.Stop()
		delete(d.monitors, device.UUID)
	}
}

// CommunicationFailed/CommunicationRestored implement
// models.CommFailAwareDriver; the thermostat has nothing extra to do
// beyond what the watchdog already records in the commFail resource.
func (d *Driver) CommunicationFailed(device *models.Device) {
	if d.log != nil {
		d.log.Warn("thermostat: communication failed for device %s", device.UUID)
	}
}

func (d *Driver) CommunicationRestored(device *models.Device) {
	if d.log != nil {
		d.log.Info("thermostat: communication restored for device %s", device.UUID)
	}
}

func registerFor(resourceID string) (uint16, error) {
	switch resourceID {
	case "temperature":
		return regCurrentTemperature, nil
	case "setpoint":
		return regSetpoint, nil
	default:
		return 0, fmt.Errorf("thermostat: unknown resource %q", resourceID)
	}
}

func addressFromUUID(uuid string) string {
	const prefix = "thermostat-"
	if len(uuid) > len(prefix) && uuid[:len(prefix)] == prefix {
		return uuid[len(prefix):]
	}
	return uuid
}

func dial(addr string) (modbus.Client, *modbus.TCPClientHandler, error) {
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = modbusTimeout
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient(handler), handler, nil
}

func formatTenths(raw []byte) string {
	if len(raw) < 2 {
		return "0"
	}
	tenths := int(raw[0])<<8 | int(raw[1])
	whole := tenths / 10
	frac := tenths % 10
	return fmt.Sprintf("%d.%d", whole, frac)
}

func parseTenths(s string) (uint16, error) {
	var whole, frac int
	if _, err := fmt.Sscanf(s, "%d.%d", &whole, &frac); err != nil {
		if _, err2 := fmt.Sscanf(s, "%d", &whole); err2 != nil {
			return 0, err
		}
		frac = 0
	}
	return uint16(whole*10 + frac), nil
}
