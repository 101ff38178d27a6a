package printer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"
)

const DefaultScanTimeout = 15 * time.Second

// TinyGoAdapter scans for and connects BLE printers with tinygo bluetooth.
// GATT discovery and writes go through BlueZ, which reports the real
// characteristic flags and supports acknowledged writes.
type TinyGoAdapter struct {
	adapter     *bluetooth.Adapter
	namePrefix  string
	scanTimeout time.Duration
}

func NewTinyGoAdapter(namePrefix string, scanTimeout time.Duration) *TinyGoAdapter {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		namePrefix:  namePrefix,
		scanTimeout: scanTimeout,
	}
}

func (a *TinyGoAdapter) Connect(ctx context.Context) (BLEDevice, error) {
	if err := a.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	result, err := a.scan(ctx)
	if err != nil {
		return nil, err
	}

	dev, err := a.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", result.Address.String(), err)
	}

	bus, err := systemBus()
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}

	return newBluezDevice(result.Address.String(), bus, deviceLink{
		discover: func() error {
			// resolves once BlueZ has exported the GATT tree
			_, err := dev.DiscoverServices(nil)
			return err
		},
		disconnect: func() error {
			return dev.Disconnect()
		},
	}), nil
}

func (a *TinyGoAdapter) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" || !strings.HasPrefix(name, a.namePrefix) {
				return
			}
			select {
			case found <- result:
				adapter.StopScan()
			default:
			}
		})
	}()

	timer := time.NewTimer(a.scanTimeout)
	defer timer.Stop()

	select {
	case result := <-found:
		return result, nil
	case err := <-scanErr:
		// StopScan after a match also ends Scan
		select {
		case result := <-found:
			return result, nil
		default:
		}
		if err == nil {
			err = ErrDeviceNotFound
		}
		return bluetooth.ScanResult{}, fmt.Errorf("scan for printer: %w", err)
	case <-timer.C:
		a.adapter.StopScan()
		return bluetooth.ScanResult{}, fmt.Errorf("%w: no device named %q within %s", ErrDeviceNotFound, a.namePrefix, a.scanTimeout)
	case <-ctx.Done():
		a.adapter.StopScan()
		return bluetooth.ScanResult{}, ctx.Err()
	}
}
