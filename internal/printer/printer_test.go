package printer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"photobooth-kiosk/internal/imaging"
	"photobooth-kiosk/internal/logger"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

type fakeChar struct {
	uuid        string
	write       bool
	noResponse  bool
	failNoResp  bool
	mu          sync.Mutex
	writes      [][]byte
	ackWrites   int
	noRespTries int
}

func (c *fakeChar) UUID() string                  { return c.uuid }
func (c *fakeChar) CanWrite() bool                { return c.write }
func (c *fakeChar) CanWriteWithoutResponse() bool { return c.noResponse }

func (c *fakeChar) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackWrites++
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeChar) WriteWithoutResponse(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noRespTries++
	if c.failNoResp {
		return errors.New("not permitted")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

type fakeService struct {
	uuid  string
	chars []*fakeChar
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) Characteristics() ([]BLECharacteristic, error) {
	out := make([]BLECharacteristic, len(s.chars))
	for i, c := range s.chars {
		out[i] = c
	}
	return out, nil
}

type fakeBLEDevice struct {
	services     []*fakeService
	connected    bool
	disconnected int
}

func (d *fakeBLEDevice) Services() ([]BLEService, error) {
	out := make([]BLEService, len(d.services))
	for i, s := range d.services {
		out[i] = s
	}
	return out, nil
}

func (d *fakeBLEDevice) Connected() bool { return d.connected }

func (d *fakeBLEDevice) Disconnect() error {
	d.connected = false
	d.disconnected++
	return nil
}

type fakeBLEAdapter struct {
	dev *fakeBLEDevice
	err error
}

func (a *fakeBLEAdapter) Connect(ctx context.Context) (BLEDevice, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.dev.connected = true
	return a.dev, nil
}

type fakeUSBDevice struct {
	writes [][]byte
	closed bool
}

func (d *fakeUSBDevice) Write(data []byte) (int, error) {
	d.writes = append(d.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (d *fakeUSBDevice) Close() error {
	d.closed = true
	return nil
}

type fakeUSBBus struct {
	dev      *fakeUSBDevice
	vendorID uint16
}

func (b *fakeUSBBus) Open(ctx context.Context, vendorID uint16) (USBDevice, error) {
	b.vendorID = vendorID
	if b.dev == nil {
		return nil, ErrDeviceNotFound
	}
	return b.dev, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func (r *sleepRecorder) count(d time.Duration) int {
	n := 0
	for _, s := range r.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

func serialPrinter() (*fakeBLEDevice, *fakeChar) {
	char := &fakeChar{uuid: DefaultSerialCharacteristic, write: true, noResponse: true}
	dev := &fakeBLEDevice{services: []*fakeService{
		{uuid: "180a", chars: []*fakeChar{{uuid: "2a29"}}},
		{uuid: "18f0", chars: []*fakeChar{{uuid: "2af0", write: true}, char}},
	}}
	return dev, char
}

func TestBLEChunkedCopies(t *testing.T) {
	dev, char := serialPrinter()
	rec := &sleepRecorder{}
	d := NewDriver(nil, &fakeBLEAdapter{dev: dev}, Options{Sleep: rec.sleep}, logger.NewNop())

	if err := d.ConnectBLE(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	payload := bytes.Repeat([]byte{0xAA}, 200)
	if err := d.PrintRaw(context.Background(), payload, 3); err != nil {
		t.Fatalf("print: %v", err)
	}

	if len(char.writes) != 30 {
		t.Fatalf("chunk writes = %d, want 30", len(char.writes))
	}
	for i, w := range char.writes {
		if len(w) != 20 {
			t.Fatalf("chunk %d has %d bytes", i, len(w))
		}
	}
	if char.ackWrites != 0 {
		t.Fatalf("acknowledged writes = %d, want 0", char.ackWrites)
	}
	if got := rec.count(DefaultChunkDelay); got != 27 {
		t.Fatalf("inter-chunk delays = %d, want 27", got)
	}
	if got := rec.count(DefaultCopyPause); got != 2 {
		t.Fatalf("inter-copy pauses = %d, want 2", got)
	}
}

func TestBLEFallsBackToAcknowledgedWrite(t *testing.T) {
	dev, char := serialPrinter()
	char.failNoResp = true
	rec := &sleepRecorder{}
	d := NewDriver(nil, &fakeBLEAdapter{dev: dev}, Options{Sleep: rec.sleep}, logger.NewNop())

	if err := d.ConnectBLE(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := d.PrintRaw(context.Background(), make([]byte, 45), 1); err != nil {
		t.Fatalf("print: %v", err)
	}
	if char.ackWrites != 3 || char.noRespTries != 3 {
		t.Fatalf("ack=%d noResp=%d, want 3 and 3", char.ackWrites, char.noRespTries)
	}
}

func TestBLECharacteristicSelection(t *testing.T) {
	t.Run("prefers serial uuid", func(t *testing.T) {
		dev, char := serialPrinter()
		got, err := findWritable(dev, DefaultSerialCharacteristic)
		if err != nil || got != char {
			t.Fatalf("got %v, %v", got, err)
		}
	})

	t.Run("first writable otherwise", func(t *testing.T) {
		dev, _ := serialPrinter()
		got, err := findWritable(dev, "0000ffff-0000-1000-8000-00805f9b34fb")
		if err != nil || got.UUID() != "2af0" {
			t.Fatalf("got %v, %v", got, err)
		}
	})

	t.Run("none writable", func(t *testing.T) {
		dev := &fakeBLEDevice{services: []*fakeService{{uuid: "180a", chars: []*fakeChar{{uuid: "2a29"}}}}}
		d := NewDriver(nil, &fakeBLEAdapter{dev: dev}, Options{}, logger.NewNop())
		err := d.ConnectBLE(context.Background())
		if !errors.Is(err, ErrNoWritableCharacteristic) {
			t.Fatalf("want ErrNoWritableCharacteristic, got %v", err)
		}
		if dev.disconnected != 1 || d.IsConnected() {
			t.Fatal("device left connected after failed probe")
		}
	})
}

type fakeBluez struct {
	objects   managedObjects
	connected bool
	writes    []string
	failWrite bool
}

func (b *fakeBluez) ManagedObjects() (managedObjects, error) { return b.objects, nil }

func (b *fakeBluez) WriteValue(path dbus.ObjectPath, p []byte, writeType string) error {
	if b.failWrite {
		return errors.New("le-connection-abort-by-local")
	}
	b.writes = append(b.writes, string(path)+" "+writeType)
	return nil
}

func (b *fakeBluez) DeviceConnected(path dbus.ObjectPath) (bool, error) {
	return b.connected, nil
}

// bluezPrinter exports a printer the way BlueZ does: the generic access
// service comes first and only carries read-only characteristics.
func bluezPrinter() *fakeBluez {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_66_22_0A_1B_2C_3D")
	other := dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66")
	char := func(service dbus.ObjectPath, uuid string, flags ...string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{bluezGattCharacteristic1: {
			"UUID":    dbus.MakeVariant(uuid),
			"Service": dbus.MakeVariant(service),
			"Flags":   dbus.MakeVariant(flags),
		}}
	}
	service := func(uuid string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{bluezGattService1: {"UUID": dbus.MakeVariant(uuid)}}
	}

	return &fakeBluez{connected: true, objects: managedObjects{
		dev:   {bluezDevice1: {"Address": dbus.MakeVariant("66:22:0A:1B:2C:3D")}},
		other: {bluezDevice1: {"Address": dbus.MakeVariant("11:22:33:44:55:66")}},

		dev + "/service0001":          service("00001800-0000-1000-8000-00805f9b34fb"),
		dev + "/service0001/char0002": char(dev+"/service0001", "00002a00-0000-1000-8000-00805f9b34fb", "read"),
		dev + "/service0001/char0004": char(dev+"/service0001", "00002a01-0000-1000-8000-00805f9b34fb", "read"),

		dev + "/service000e":          service("0000ff00-0000-1000-8000-00805f9b34fb"),
		dev + "/service000e/char0011": char(dev+"/service000e", "0000ff01-0000-1000-8000-00805f9b34fb", "notify"),
		dev + "/service000e/char000f": char(dev+"/service000e", "0000ff02-0000-1000-8000-00805f9b34fb", "write-without-response", "write"),

		other + "/service0001":          service("0000ff00-0000-1000-8000-00805f9b34fb"),
		other + "/service0001/char0002": char(other+"/service0001", "0000ff09-0000-1000-8000-00805f9b34fb", "write"),
	}}
}

func TestBluezCharacteristicFlags(t *testing.T) {
	bus := bluezPrinter()
	dev := newBluezDevice("66:22:0a:1b:2c:3d", bus, deviceLink{})

	char, err := findWritable(dev, DefaultSerialCharacteristic)
	if err != nil {
		t.Fatalf("find writable: %v", err)
	}
	if char.UUID() != "0000ff02-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("picked %s, want the vendor write characteristic", char.UUID())
	}
	if !char.CanWrite() || !char.CanWriteWithoutResponse() {
		t.Fatal("write flags not read from bluez")
	}

	services, err := dev.Services()
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 2 || services[0].UUID() != "00001800-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("services out of handle order or leaked from another device: %d", len(services))
	}
	gap, _ := services[0].Characteristics()
	for _, c := range gap {
		if c.CanWrite() || c.CanWriteWithoutResponse() {
			t.Fatalf("read-only characteristic %s reported writable", c.UUID())
		}
	}
}

func TestBluezWriteTypes(t *testing.T) {
	bus := bluezPrinter()
	dev := newBluezDevice("66:22:0A:1B:2C:3D", bus, deviceLink{})
	char, err := findWritable(dev, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := char.WriteWithoutResponse([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := char.Write([]byte{2}); err != nil {
		t.Fatal(err)
	}
	path := "/org/bluez/hci0/dev_66_22_0A_1B_2C_3D/service000e/char000f"
	if len(bus.writes) != 2 || bus.writes[0] != path+" command" || bus.writes[1] != path+" request" {
		t.Fatalf("writes = %v", bus.writes)
	}

	bus.failWrite = true
	if err := char.Write([]byte{3}); err == nil {
		t.Fatal("expected write error")
	}
	if dev.Connected() {
		t.Fatal("failed acknowledged write should mark the link lost")
	}
}

func TestBluezLinkDropped(t *testing.T) {
	bus := bluezPrinter()
	disconnects := 0
	dev := newBluezDevice("66:22:0A:1B:2C:3D", bus, deviceLink{disconnect: func() error {
		disconnects++
		return nil
	}})
	if _, err := dev.Services(); err != nil {
		t.Fatal(err)
	}

	bus.connected = false
	if dev.Connected() {
		t.Fatal("bluez reports the device gone")
	}
	if err := dev.Disconnect(); err != nil || disconnects != 0 {
		t.Fatalf("disconnect after loss: %v, calls %d", err, disconnects)
	}
}

func TestStaleGATTFailsFast(t *testing.T) {
	dev, char := serialPrinter()
	d := NewDriver(nil, &fakeBLEAdapter{dev: dev}, Options{Sleep: (&sleepRecorder{}).sleep}, logger.NewNop())
	if err := d.ConnectBLE(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	dev.connected = false
	err := d.PrintRaw(context.Background(), make([]byte, 100), 1)
	if !errors.Is(err, ErrGATTDisconnected) {
		t.Fatalf("want ErrGATTDisconnected, got %v", err)
	}
	if len(char.writes) != 0 {
		t.Fatalf("wrote %d chunks to a stale session", len(char.writes))
	}
}

func TestPrintWithoutConnection(t *testing.T) {
	d := NewDriver(nil, nil, Options{}, logger.NewNop())

	if err := d.PrintRaw(context.Background(), []byte{1}, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("PrintRaw: want ErrNotConnected, got %v", err)
	}

	url, _ := imaging.EncodeDataURL(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err := d.PrintPhotostrip(context.Background(), url, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("PrintPhotostrip: want ErrNotConnected, got %v", err)
	}
	if d.Type() != "none" {
		t.Fatalf("type = %s, want none", d.Type())
	}
}

func TestUSBSingleTransferPerCopy(t *testing.T) {
	usb := &fakeUSBDevice{}
	bus := &fakeUSBBus{dev: usb}
	rec := &sleepRecorder{}
	d := NewDriver(bus, nil, Options{Sleep: rec.sleep}, logger.NewNop())

	if err := d.ConnectUSB(context.Background(), 0x0416); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if bus.vendorID != 0x0416 || d.Type() != "usb" {
		t.Fatalf("vendor=%x type=%s", bus.vendorID, d.Type())
	}

	if err := d.PrintRaw(context.Background(), make([]byte, 5000), 2); err != nil {
		t.Fatalf("print: %v", err)
	}
	if len(usb.writes) != 2 || len(usb.writes[0]) != 5000 {
		t.Fatalf("usb writes = %d", len(usb.writes))
	}
	if rec.count(DefaultCopyPause) != 1 {
		t.Fatalf("copy pauses = %v", rec.sleeps)
	}
}

func TestConnectReplacesPreviousTransport(t *testing.T) {
	usb := &fakeUSBDevice{}
	dev, _ := serialPrinter()
	d := NewDriver(&fakeUSBBus{dev: usb}, &fakeBLEAdapter{dev: dev}, Options{}, logger.NewNop())

	if err := d.ConnectUSB(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if err := d.ConnectBLE(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !usb.closed {
		t.Fatal("usb device not released before bluetooth connect")
	}
	if d.Type() != "bluetooth" {
		t.Fatalf("type = %s", d.Type())
	}

	d.Disconnect()
	if dev.disconnected != 1 || d.IsConnected() {
		t.Fatal("disconnect did not release bluetooth device")
	}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y) * 255 / (w + h))
			img.Set(x, y, color.RGBA{v, v / 2, 255 - v, 255})
		}
	}
	return img
}

func TestDitherDeterministic(t *testing.T) {
	img := gradient(120, 90)
	a := EncodeImage(img, DefaultRasterWidth)
	b := EncodeImage(img, DefaultRasterWidth)
	if !bytes.Equal(a, b) {
		t.Fatal("same input produced different ESC/POS output")
	}
}

func TestDitherExtremes(t *testing.T) {
	black := Dither([]float64{0, 0, 0, 0}, 2, 2)
	white := Dither([]float64{255, 255, 255, 255}, 2, 2)
	for i := range black {
		if !black[i] || white[i] {
			t.Fatalf("pixel %d: black=%v white=%v", i, black[i], white[i])
		}
	}

	// mid gray must produce a mix of dots
	mid := Dither([]float64{127.5, 127.5, 127.5, 127.5}, 2, 2)
	var dots int
	for _, b := range mid {
		if b {
			dots++
		}
	}
	if dots == 0 || dots == 4 {
		t.Fatalf("mid gray dithered to %d/4 dots", dots)
	}
}

func TestGrayscaleWeights(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{100, 200, 50, 255})
	got := Grayscale(img)[0]
	want := 0.299*100 + 0.587*200 + 0.114*50
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("gray = %v, want %v", got, want)
	}
}

func TestPackMSBFirst(t *testing.T) {
	black := make([]bool, 10)
	black[0] = true
	black[9] = true
	bmp := Pack(black, 10, 1)
	if bmp.WidthBytes != 2 || bmp.Data[0] != 0x80 || bmp.Data[1] != 0x40 {
		t.Fatalf("packed = %+v", bmp)
	}
}

func TestEncodeRasterLayout(t *testing.T) {
	bmp := Bitmap{WidthBytes: 85, Height: 300, Data: make([]byte, 85*300)}
	out := EncodeRaster(bmp)

	header := []byte{0x1B, 0x40, 0x1B, 0x61, 0x01, 0x1D, 0x76, 0x30, 0x00, 85, 0, 0x2C, 0x01}
	if !bytes.HasPrefix(out, header) {
		t.Fatalf("header = % x", out[:len(header)])
	}
	trailer := []byte{0x1D, 0x56, 0x00, 0x0A, 0x1B, 0x61, 0x00}
	if !bytes.HasSuffix(out, trailer) {
		t.Fatalf("trailer = % x", out[len(out)-len(trailer):])
	}
	if len(out) != len(header)+len(bmp.Data)+len(trailer) {
		t.Fatalf("length = %d", len(out))
	}
}

func TestRasterizeWidth(t *testing.T) {
	bmp := Rasterize(gradient(340, 100), DefaultRasterWidth)
	if bmp.WidthBytes != 85 || bmp.Height != 200 {
		t.Fatalf("bitmap %dx%d", bmp.WidthBytes, bmp.Height)
	}
}
