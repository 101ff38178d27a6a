package printer

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// GoUSBBus opens thermal printers through libusb.
type GoUSBBus struct {
	ctx *gousb.Context
}

func NewGoUSBBus() *GoUSBBus {
	return &GoUSBBus{ctx: gousb.NewContext()}
}

func (b *GoUSBBus) Open(ctx context.Context, vendorID uint16) (USBDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return vendorID == 0 || desc.Vendor == gousb.ID(vendorID)
	})
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("enumerate usb devices: %w", err)
		}
		return nil, fmt.Errorf("%w: vendor 0x%04x", ErrDeviceNotFound, vendorID)
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	usbDev, err := claim(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return usbDev, nil
}

func claim(dev *gousb.Device) (*goUSBDevice, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("detach kernel driver: %w", err)
	}

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		return nil, fmt.Errorf("select usb config %d: %w", cfgNum, err)
	}

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("claim usb interface: %w", err)
	}

	ep, err := intf.OutEndpoint(USBBulkEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("open bulk endpoint %d: %w", USBBulkEndpoint, err)
	}

	return &goUSBDevice{dev: dev, cfg: cfg, intf: intf, ep: ep}, nil
}

func (b *GoUSBBus) Close() error {
	return b.ctx.Close()
}

type goUSBDevice struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	ep   *gousb.OutEndpoint
}

func (d *goUSBDevice) Write(data []byte) (int, error) {
	return d.ep.Write(data)
}

func (d *goUSBDevice) Close() error {
	d.intf.Close()
	if err := d.cfg.Close(); err != nil {
		d.dev.Close()
		return err
	}
	return d.dev.Close()
}
