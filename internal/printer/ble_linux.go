//go:build linux

package printer

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

type dbusBluez struct {
	conn *dbus.Conn
}

func systemBus() (bluezBus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &dbusBluez{conn: conn}, nil
}

func (b *dbusBluez) ManagedObjects() (managedObjects, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := b.conn.Object(bluezDest, "/").
		Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, err
	}
	return managedObjects(objects), nil
}

func (b *dbusBluez) WriteValue(path dbus.ObjectPath, p []byte, writeType string) error {
	options := map[string]dbus.Variant{"type": dbus.MakeVariant(writeType)}
	return b.conn.Object(bluezDest, path).
		Call(bluezGattCharacteristic1+".WriteValue", 0, p, options).Err
}

func (b *dbusBluez) DeviceConnected(path dbus.ObjectPath) (bool, error) {
	v, err := b.conn.Object(bluezDest, path).GetProperty(bluezDevice1 + ".Connected")
	if err != nil {
		return false, err
	}
	connected, _ := v.Value().(bool)
	return connected, nil
}
