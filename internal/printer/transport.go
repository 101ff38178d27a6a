package printer

import (
	"context"
	"errors"
	"fmt"
	"photobooth-kiosk/internal/domain"
	"strings"
	"sync"
	"time"
)

const (
	DefaultChunkSize          = 20
	DefaultChunkDelay         = 15 * time.Millisecond
	DefaultMaxWriteNoResponse = 512
	USBBulkEndpoint           = 1
)

var (
	ErrNotConnected             = errors.New("printer not connected")
	ErrGATTDisconnected         = errors.New("bluetooth printer disconnected")
	ErrNoWritableCharacteristic = errors.New("no writable characteristic found on printer")
	ErrDeviceNotFound           = errors.New("printer device not found")
	ErrShortWrite               = errors.New("short write to printer")
)

// Transport carries a command buffer to a connected printer
type Transport interface {
	Type() domain.ConnectionType
	Send(ctx context.Context, data []byte) error
	Connected() bool
	Close() error
}

// USBDevice is an opened printer with a bulk OUT endpoint.
type USBDevice interface {
	Write(data []byte) (int, error)
	Close() error
}

type USBBus interface {
	Open(ctx context.Context, vendorID uint16) (USBDevice, error)
}

type BLECharacteristic interface {
	UUID() string
	CanWrite() bool
	CanWriteWithoutResponse() bool
	Write(p []byte) error
	WriteWithoutResponse(p []byte) error
}

type BLEService interface {
	UUID() string
	Characteristics() ([]BLECharacteristic, error)
}

type BLEDevice interface {
	Services() ([]BLEService, error)
	Connected() bool
	Disconnect() error
}

type BLEAdapter interface {
	Connect(ctx context.Context) (BLEDevice, error)
}

// usbTransport sends the whole buffer in one bulk transfer
type usbTransport struct {
	mu     sync.Mutex
	dev    USBDevice
	closed bool
}

func newUSBTransport(dev USBDevice) *usbTransport {
	return &usbTransport{dev: dev}
}

func (t *usbTransport) Type() domain.ConnectionType {
	return domain.ConnectionUSB
}

func (t *usbTransport) write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrNotConnected
	}

	n, err := t.dev.Write(data)
	if err != nil {
		return fmt.Errorf("usb bulk transfer: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(data))
	}
	return nil
}

// Send runs the blocking bulk transfer and honors ctx cancellation
func (t *usbTransport) Send(ctx context.Context, data []byte) error {
	result := make(chan error, 1)

	go func() {
		result <- t.write(data)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("usb transfer cancelled: %w", ctx.Err())
	}
}

func (t *usbTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *usbTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.dev.Close()
}

// bleTransport streams the buffer in small GATT writes
type bleTransport struct {
	mu            sync.Mutex
	dev           BLEDevice
	char          BLECharacteristic
	chunkSize     int
	chunkDelay    time.Duration
	maxNoResponse int
	sleep         func(ctx context.Context, d time.Duration) error
	closed        bool
}

func (t *bleTransport) Type() domain.ConnectionType {
	return domain.ConnectionBluetooth
}

func (t *bleTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrNotConnected
	}
	if !t.dev.Connected() {
		return ErrGATTDisconnected
	}

	for offset := 0; offset < len(data); offset += t.chunkSize {
		end := min(offset+t.chunkSize, len(data))

		if err := t.writeChunk(data[offset:end]); err != nil {
			if !t.dev.Connected() {
				return ErrGATTDisconnected
			}
			return fmt.Errorf("write chunk at offset %d: %w", offset, err)
		}

		if end < len(data) {
			if err := t.sleep(ctx, t.chunkDelay); err != nil {
				return fmt.Errorf("bluetooth transfer cancelled: %w", err)
			}
		}
	}
	return nil
}

func (t *bleTransport) writeChunk(chunk []byte) error {
	if t.char.CanWriteWithoutResponse() && len(chunk) <= t.maxNoResponse {
		if err := t.char.WriteWithoutResponse(chunk); err == nil {
			return nil
		}
	}
	return t.char.Write(chunk)
}

func (t *bleTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.dev.Connected()
}

func (t *bleTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.dev.Disconnect()
}

// findWritable prefers the characteristic with preferredUUID, else the
// first writable one across all services.
func findWritable(dev BLEDevice, preferredUUID string) (BLECharacteristic, error) {
	services, err := dev.Services()
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}

	var fallback BLECharacteristic
	for _, svc := range services {
		chars, err := svc.Characteristics()
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", svc.UUID(), err)
		}
		for _, c := range chars {
			if !c.CanWrite() && !c.CanWriteWithoutResponse() {
				continue
			}
			if preferredUUID != "" && equalUUID(c.UUID(), preferredUUID) {
				return c, nil
			}
			if fallback == nil {
				fallback = c
			}
		}
	}

	if fallback == nil {
		return nil, fmt.Errorf("%w (%d services probed)", ErrNoWritableCharacteristic, len(services))
	}
	return fallback, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func equalUUID(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
