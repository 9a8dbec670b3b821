package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// AdapterCentral is the Central backed by the host Bluetooth adapter.
type AdapterCentral struct {
	adapter    *bluetooth.Adapter
	deviceName string
	logger     *slog.Logger

	enableOnce sync.Once
	enableErr  error
	dial       func(bluetooth.Address, bluetooth.ConnectionParams) (bluetooth.Device, error)

	mu     sync.Mutex
	onLost map[string]func()
}

// NewAdapterCentral scans on adapter. When deviceName is set only peripherals
// advertising that local name are considered.
func NewAdapterCentral(adapter *bluetooth.Adapter, deviceName string, logger *slog.Logger) *AdapterCentral {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &AdapterCentral{
		adapter:    adapter,
		deviceName: deviceName,
		logger:     logger,
		dial:       adapter.Connect,
		onLost:     make(map[string]func()),
	}
}

func (c *AdapterCentral) enable() error {
	c.enableOnce.Do(func() {
		c.adapter.SetConnectHandler(c.onConnectChange)
		c.enableErr = c.adapter.Enable()
	})
	return c.enableErr
}

func (c *AdapterCentral) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := device.Address.String()
	c.mu.Lock()
	fn := c.onLost[key]
	delete(c.onLost, key)
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *AdapterCentral) Connect(ctx context.Context, services []bluetooth.UUID, onLost func()) (Peripheral, error) {
	if err := c.enable(); err != nil {
		return nil, fmt.Errorf("%w: enable adapter: %w", ErrDeviceUnavailable, err)
	}

	result, err := c.scan(ctx, services)
	if err != nil {
		return nil, err
	}
	c.logger.Info("ble peripheral found", "address", result.Address.String(), "name", result.LocalName(), "rssi", result.RSSI)
	return c.open(ctx, result.Address, onLost)
}

// open connects to addr and discovers its services. onLost is registered
// before connecting so a drop during discovery still reaches the caller.
func (c *AdapterCentral) open(ctx context.Context, addr bluetooth.Address, onLost func()) (Peripheral, error) {
	key := addr.String()
	c.mu.Lock()
	c.onLost[key] = onLost
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.onLost, key)
		c.mu.Unlock()
	}

	device, err := c.connect(ctx, addr)
	if err != nil {
		forget()
		return nil, fmt.Errorf("%w: connect %s: %w", ErrDeviceUnavailable, key, err)
	}

	discovered, err := device.DiscoverServices(nil)
	if err != nil {
		forget()
		_ = device.Disconnect()
		return nil, fmt.Errorf("%w: discover services: %w", ErrServiceSetupFailed, err)
	}

	return &adapterPeripheral{central: c, key: key, device: device, services: discovered}, nil
}

// connect bounds the platform connect by ctx. The platform call itself cannot
// be cancelled; when ctx wins, the device is released once it returns.
func (c *AdapterCentral) connect(ctx context.Context, addr bluetooth.Address) (bluetooth.Device, error) {
	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		device, err := c.dial(addr, bluetooth.ConnectionParams{})
		done <- result{device: device, err: err}
	}()

	select {
	case r := <-done:
		return r.device, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return bluetooth.Device{}, ctx.Err()
	}
}

func (c *AdapterCentral) scan(ctx context.Context, services []bluetooth.UUID) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !c.matches(r, services) {
				return
			}
			select {
			case found <- r:
			default:
			}
			_ = a.StopScan()
		})
	}()

	select {
	case r := <-found:
		<-scanErr
		return r, nil
	case err := <-scanErr:
		select {
		case r := <-found:
			return r, nil
		default:
		}
		if err == nil {
			err = fmt.Errorf("scan ended without a match")
		}
		return bluetooth.ScanResult{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	case <-ctx.Done():
		_ = c.adapter.StopScan()
		<-scanErr
		return bluetooth.ScanResult{}, fmt.Errorf("%w: scan: %w", ErrDeviceUnavailable, ctx.Err())
	}
}

func (c *AdapterCentral) matches(r bluetooth.ScanResult, services []bluetooth.UUID) bool {
	if c.deviceName != "" && r.LocalName() != c.deviceName {
		return false
	}
	for _, uuid := range services {
		if r.HasServiceUUID(uuid) {
			return true
		}
	}
	return len(services) == 0 && c.deviceName != ""
}

type adapterPeripheral struct {
	central  *AdapterCentral
	key      string
	device   bluetooth.Device
	services []bluetooth.DeviceService
}

func (p *adapterPeripheral) Characteristic(service, characteristic bluetooth.UUID) (Characteristic, error) {
	for _, svc := range p.services {
		if svc.UUID() != service {
			continue
		}
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{characteristic})
		if err != nil {
			return nil, fmt.Errorf("%w: discover %s: %w", ErrServiceSetupFailed, characteristic.String(), err)
		}
		if len(chars) != 1 {
			return nil, fmt.Errorf("%w: expected one %s characteristic, found %d", ErrServiceSetupFailed, characteristic.String(), len(chars))
		}
		return &adapterCharacteristic{char: chars[0]}, nil
	}
	return nil, fmt.Errorf("%w: service %s not found", ErrServiceSetupFailed, service.String())
}

func (p *adapterPeripheral) Disconnect() error {
	p.central.mu.Lock()
	delete(p.central.onLost, p.key)
	p.central.mu.Unlock()
	return p.device.Disconnect()
}

type adapterCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *adapterCharacteristic) Subscribe(handler func(payload []byte)) error {
	return c.char.EnableNotifications(handler)
}

func (c *adapterCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
