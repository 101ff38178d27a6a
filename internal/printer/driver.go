// Package printer drives ESC/POS thermal printers over USB and Bluetooth LE.
package printer

import (
	"context"
	"fmt"
	"image"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/imaging"
	"sync"
	"time"
)

const (
	DefaultCopyPause = 500 * time.Millisecond
	// Common serial characteristic on BLE receipt printers.
	DefaultSerialCharacteristic = "00002af1-0000-1000-8000-00805f9b34fb"
)

type Options struct {
	RasterWidth          int
	ChunkSize            int
	ChunkDelay           time.Duration
	CopyPause            time.Duration
	MaxWriteNoResponse   int
	SerialCharacteristic string
	Sleep                func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.RasterWidth <= 0 {
		o.RasterWidth = DefaultRasterWidth
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	if o.CopyPause <= 0 {
		o.CopyPause = DefaultCopyPause
	}
	if o.MaxWriteNoResponse <= 0 {
		o.MaxWriteNoResponse = DefaultMaxWriteNoResponse
	}
	if o.SerialCharacteristic == "" {
		o.SerialCharacteristic = DefaultSerialCharacteristic
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// DefaultOptions returns the stock timings for 58mm printers
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

// Driver owns the single printer connection of the kiosk.
type Driver struct {
	usb    USBBus
	ble    BLEAdapter
	opts   Options
	logger domain.Logger

	mu        sync.Mutex
	transport Transport

	printMu sync.Mutex
}

func NewDriver(usb USBBus, ble BLEAdapter, opts Options, logger domain.Logger) *Driver {
	return &Driver{
		usb:    usb,
		ble:    ble,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// teardown closes the current transport. Caller holds d.mu.
func (d *Driver) teardown() {
	if d.transport == nil {
		return
	}
	if err := d.transport.Close(); err != nil {
		d.logger.WithError(err).WithField("type", d.transport.Type()).Warn("printer close failed")
	}
	d.transport = nil
}

// ConnectUSB replaces any connection with the first USB printer matching vendorID.
// A zero vendorID matches any device.
func (d *Driver) ConnectUSB(ctx context.Context, vendorID uint16) error {
	if d.usb == nil {
		return fmt.Errorf("usb: %w", ErrDeviceNotFound)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardown()

	dev, err := d.usb.Open(ctx, vendorID)
	if err != nil {
		return fmt.Errorf("connect usb printer: %w", err)
	}
	d.transport = newUSBTransport(dev)

	d.logger.WithField("vendor_id", fmt.Sprintf("0x%04x", vendorID)).Info("usb printer connected")
	return nil
}

// ConnectBLE replaces any connection with a Bluetooth LE printer.
func (d *Driver) ConnectBLE(ctx context.Context) error {
	if d.ble == nil {
		return fmt.Errorf("bluetooth: %w", ErrDeviceNotFound)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardown()

	dev, err := d.ble.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect bluetooth printer: %w", err)
	}

	char, err := findWritable(dev, d.opts.SerialCharacteristic)
	if err != nil {
		_ = dev.Disconnect()
		return fmt.Errorf("connect bluetooth printer: %w", err)
	}

	d.transport = &bleTransport{
		dev:           dev,
		char:          char,
		chunkSize:     d.opts.ChunkSize,
		chunkDelay:    d.opts.ChunkDelay,
		maxNoResponse: d.opts.MaxWriteNoResponse,
		sleep:         d.opts.Sleep,
	}

	d.logger.WithField("characteristic", char.UUID()).Info("bluetooth printer connected")
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardown()
	return nil
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil && d.transport.Connected()
}

func (d *Driver) Type() domain.ConnectionType {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == nil {
		return domain.ConnectionNone
	}
	return d.transport.Type()
}

func (d *Driver) Status() domain.PrinterStatus {
	return domain.PrinterStatus{Connected: d.IsConnected(), Type: d.Type()}
}

// PrintPhotostrip prints quantity copies of a data URL image.
func (d *Driver) PrintPhotostrip(ctx context.Context, dataURL string, quantity int) error {
	img, err := imaging.DecodeDataURL(dataURL)
	if err != nil {
		return fmt.Errorf("decode photostrip: %w", err)
	}
	return d.PrintImage(ctx, img, quantity)
}

func (d *Driver) PrintImage(ctx context.Context, img image.Image, quantity int) error {
	// fail before spending time on dithering
	if !d.hasTransport() {
		return ErrNotConnected
	}
	return d.PrintRaw(ctx, EncodeImage(img, d.opts.RasterWidth), quantity)
}

func (d *Driver) hasTransport() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil
}

// PrintRaw sends data once per copy with a pause between copies.
func (d *Driver) PrintRaw(ctx context.Context, data []byte, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}

	d.mu.Lock()
	t := d.transport
	d.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}

	d.printMu.Lock()
	defer d.printMu.Unlock()

	start := time.Now()
	for i := 0; i < quantity; i++ {
		if i > 0 {
			if err := d.opts.Sleep(ctx, d.opts.CopyPause); err != nil {
				return fmt.Errorf("print cancelled: %w", err)
			}
		}
		if err := t.Send(ctx, data); err != nil {
			return fmt.Errorf("print copy %d of %d: %w", i+1, quantity, err)
		}
	}

	d.logger.WithFields(map[string]any{
		"type":    t.Type(),
		"copies":  quantity,
		"bytes":   len(data),
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("print job sent")
	return nil
}
