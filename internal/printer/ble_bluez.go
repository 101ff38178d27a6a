package printer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezDest                = "org.bluez"
	bluezDevice1             = "org.bluez.Device1"
	bluezGattService1        = "org.bluez.GattService1"
	bluezGattCharacteristic1 = "org.bluez.GattCharacteristic1"

	writeTypeRequest = "request"
	writeTypeCommand = "command"
)

var ErrBLEUnsupported = errors.New("bluetooth printers need BlueZ")

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezBus is the slice of the BlueZ D-Bus API the printer uses
type bluezBus interface {
	ManagedObjects() (managedObjects, error)
	WriteValue(path dbus.ObjectPath, p []byte, writeType string) error
	DeviceConnected(path dbus.ObjectPath) (bool, error)
}

type deviceLink struct {
	discover   func() error
	disconnect func() error
}

type bluezDevice struct {
	address string
	bus     bluezBus
	link    deviceLink

	mu        sync.Mutex
	path      dbus.ObjectPath
	connected bool
}

func newBluezDevice(address string, bus bluezBus, link deviceLink) *bluezDevice {
	return &bluezDevice{
		address:   address,
		bus:       bus,
		link:      link,
		connected: true,
	}
}

// Services lists the GATT services of the device in handle order
func (d *bluezDevice) Services() ([]BLEService, error) {
	if d.link.discover != nil {
		if err := d.link.discover(); err != nil {
			return nil, err
		}
	}

	objects, err := d.bus.ManagedObjects()
	if err != nil {
		return nil, fmt.Errorf("list bluez objects: %w", err)
	}

	path, ok := devicePath(objects, d.address)
	if !ok {
		return nil, fmt.Errorf("%w: %s not known to bluez", ErrDeviceNotFound, d.address)
	}
	d.mu.Lock()
	d.path = path
	d.mu.Unlock()

	return gattServices(objects, path, d), nil
}

func (d *bluezDevice) Connected() bool {
	d.mu.Lock()
	connected, path := d.connected, d.path
	d.mu.Unlock()

	if !connected || path == "" {
		return connected
	}
	if ok, err := d.bus.DeviceConnected(path); err == nil && !ok {
		d.markLost()
		return false
	}
	return true
}

func (d *bluezDevice) markLost() {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
}

func (d *bluezDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false
	if d.link.disconnect == nil {
		return nil
	}
	return d.link.disconnect()
}

type bluezService struct {
	uuid  string
	chars []BLECharacteristic
}

func (s *bluezService) UUID() string { return s.uuid }

func (s *bluezService) Characteristics() ([]BLECharacteristic, error) {
	return s.chars, nil
}

type bluezCharacteristic struct {
	path            dbus.ObjectPath
	uuid            string
	write           bool
	writeNoResponse bool
	dev             *bluezDevice
}

func (c *bluezCharacteristic) UUID() string                  { return c.uuid }
func (c *bluezCharacteristic) CanWrite() bool                { return c.write }
func (c *bluezCharacteristic) CanWriteWithoutResponse() bool { return c.writeNoResponse }

func (c *bluezCharacteristic) WriteWithoutResponse(p []byte) error {
	return c.dev.bus.WriteValue(c.path, p, writeTypeCommand)
}

// Write is the acknowledged path. A failure here means the GATT link is gone.
func (c *bluezCharacteristic) Write(p []byte) error {
	if err := c.dev.bus.WriteValue(c.path, p, writeTypeRequest); err != nil {
		c.dev.markLost()
		return err
	}
	return nil
}

func devicePath(objects managedObjects, address string) (dbus.ObjectPath, bool) {
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok {
			continue
		}
		if addr, _ := props["Address"].Value().(string); strings.EqualFold(addr, address) {
			return path, true
		}
	}
	return "", false
}

// gattServices builds the service tree below device. BlueZ names objects
// after their attribute handles, so sorting by path gives handle order.
func gattServices(objects managedObjects, device dbus.ObjectPath, dev *bluezDevice) []BLEService {
	prefix := string(device) + "/"

	var servicePaths, charPaths []dbus.ObjectPath
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if _, ok := ifaces[bluezGattService1]; ok {
			servicePaths = append(servicePaths, path)
		}
		if _, ok := ifaces[bluezGattCharacteristic1]; ok {
			charPaths = append(charPaths, path)
		}
	}
	sortPaths(servicePaths)
	sortPaths(charPaths)

	services := make([]*bluezService, len(servicePaths))
	byPath := make(map[dbus.ObjectPath]*bluezService, len(servicePaths))
	for i, path := range servicePaths {
		uuid, _ := objects[path][bluezGattService1]["UUID"].Value().(string)
		services[i] = &bluezService{uuid: uuid}
		byPath[path] = services[i]
	}

	for _, path := range charPaths {
		props := objects[path][bluezGattCharacteristic1]
		servicePath, _ := props["Service"].Value().(dbus.ObjectPath)
		svc, ok := byPath[servicePath]
		if !ok {
			continue
		}
		uuid, _ := props["UUID"].Value().(string)
		flags, _ := props["Flags"].Value().([]string)
		write, noResponse := writeFlags(flags)
		svc.chars = append(svc.chars, &bluezCharacteristic{
			path:            path,
			uuid:            uuid,
			write:           write,
			writeNoResponse: noResponse,
			dev:             dev,
		})
	}

	out := make([]BLEService, len(services))
	for i, s := range services {
		out[i] = s
	}
	return out
}

func writeFlags(flags []string) (write, noResponse bool) {
	for _, f := range flags {
		switch f {
		case "write", "reliable-write":
			write = true
		case "write-without-response":
			noResponse = true
		}
	}
	return write, noResponse
}

func sortPaths(paths []dbus.ObjectPath) {
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
}
