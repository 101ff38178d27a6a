package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"photobooth-kiosk/internal/guard"
	"photobooth-kiosk/internal/imaging"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	mu     sync.Mutex
	img    image.Image
	closed bool
}

func (s *fakeStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSource struct {
	stream   *fakeStream
	rejectID string
	fail     error
	opened   []Constraints
}

func (s *fakeSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	s.opened = append(s.opened, c)
	if s.fail != nil {
		return nil, s.fail
	}
	if c.DeviceID != "" && c.DeviceID == s.rejectID {
		return nil, ErrDeviceRejected
	}
	return s.stream, nil
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSelectConstraints(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		saved    string
		want     Constraints
	}{
		{"mobile ignores saved id", PlatformMobile, "/dev/video2", Constraints{FacingMode: FacingEnvironment}},
		{"desktop uses saved id", PlatformDesktop, "/dev/video2", Constraints{DeviceID: "/dev/video2"}},
		{"desktop without saved id", PlatformDesktop, "", Constraints{FacingMode: FacingEnvironment}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectConstraints(tt.platform, tt.saved)
			if got.DeviceID != tt.want.DeviceID || got.FacingMode != tt.want.FacingMode {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if got.AspectRatio != 4.0/3.0 {
				t.Fatalf("aspect = %v", got.AspectRatio)
			}
		})
	}
}

func TestOpenRelaxesRejectedDevice(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{}, rejectID: "/dev/video9"}

	stream, err := Open(context.Background(), src, PlatformDesktop, "/dev/video9")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if stream == nil || len(src.opened) != 2 {
		t.Fatalf("opened %d times", len(src.opened))
	}
	if src.opened[1].DeviceID != "" || src.opened[1].FacingMode != FacingEnvironment {
		t.Fatalf("relaxed constraints = %+v", src.opened[1])
	}
}

func TestOpenFailureIsUnavailable(t *testing.T) {
	src := &fakeSource{fail: errors.New("permission denied")}
	_, err := Open(context.Background(), src, PlatformDesktop, "")
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("want ErrCameraUnavailable, got %v", err)
	}

	if _, err := Open(context.Background(), nil, PlatformDesktop, ""); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("nil source: got %v", err)
	}
}

func TestStartBeforeAcquire(t *testing.T) {
	c := NewController(&fakeSource{}, nil, Options{}, Events{})
	if err := c.Start(context.Background()); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("want ErrCameraUnavailable, got %v", err)
	}
}

func TestCaptureSequence(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{img: solid(640, 640, color.RGBA{200, 10, 10, 255})}}

	var (
		mu     sync.Mutex
		slept  time.Duration
		ticks  []int
		during []int
	)
	done := make(chan []string, 1)

	var c *Controller
	c = NewController(src, guard.NewToken("countdown", 0), Options{
		CountdownSeconds: 3,
		InitialDelay:     200 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			slept += d
			mu.Unlock()
			during = append(during, len(c.Photos()))
			return nil
		},
	}, Events{
		OnTick:     func(n int) { ticks = append(ticks, n) },
		OnComplete: func(p []string) { done <- p },
	})

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var photos []string
	select {
	case photos = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not complete")
	}

	if len(photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(photos))
	}
	for _, n := range during {
		if n != 0 {
			t.Fatal("photo buffer filled before countdown finished")
		}
	}
	if want := []int{3, 2, 1, 0}; len(ticks) != len(want) || ticks[0] != 3 || ticks[3] != 0 {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	if slept != 200*time.Millisecond+3*time.Second {
		t.Fatalf("slept %v", slept)
	}

	img, err := imaging.DecodeDataURL(photos[0])
	if err != nil {
		t.Fatalf("decode photo: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Fatalf("photo %dx%d, want 640x480", b.Dx(), b.Dy())
	}
}

func TestMultiplePhotos(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{img: solid(400, 300, color.White)}}
	done := make(chan []string, 1)
	var captured []int

	c := NewController(src, nil, Options{
		TargetPhotos: 3,
		Sleep:        func(ctx context.Context, d time.Duration) error { return nil },
	}, Events{
		OnCapture:  func(i int, _ string) { captured = append(captured, i) },
		OnComplete: func(p []string) { done <- p },
	})
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	photos := <-done
	if len(photos) != 3 || len(captured) != 3 || captured[2] != 2 {
		t.Fatalf("photos=%d captured=%v", len(photos), captured)
	}
}

func TestRetakeDuringCountdownIsNoop(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{img: solid(400, 300, color.White)}}
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	done := make(chan []string, 1)

	c := NewController(src, nil, Options{
		TargetPhotos: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}, Events{OnComplete: func(p []string) { done <- p }})

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.SetPhotos([]string{"data:image/png;base64,AAAA"})
	before := c.Photos()

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := c.Retake(context.Background(), 0); !errors.Is(err, ErrCountdownActive) {
		t.Fatalf("want ErrCountdownActive, got %v", err)
	}
	if got := c.Photos(); len(got) != 1 || got[0] != before[0] {
		t.Fatalf("buffer changed during countdown: %v", got)
	}

	close(release)
	<-done
}

func TestRetakeReplacesInPlace(t *testing.T) {
	stream := &fakeStream{img: solid(400, 300, color.White)}
	done := make(chan []string, 1)
	c := NewController(&fakeSource{stream: stream}, nil, Options{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	}, Events{OnComplete: func(p []string) { done <- p }})

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.SetPhotos([]string{"old-0", "old-1"})

	if err := c.Retake(context.Background(), 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("want ErrIndexOutOfRange, got %v", err)
	}
	if err := c.Retake(context.Background(), 1); err != nil {
		t.Fatalf("retake: %v", err)
	}

	photos := <-done
	if len(photos) != 2 || photos[0] != "old-0" || photos[1] == "old-1" {
		t.Fatalf("photos = %v", photos)
	}
}

func TestStopReleasesStream(t *testing.T) {
	stream := &fakeStream{}
	c := NewController(&fakeSource{stream: stream}, nil, Options{}, Events{})
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.SetPhotos([]string{"a"})

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if !stream.closed || c.Ready() || len(c.Photos()) != 0 {
		t.Fatal("stop left state behind")
	}
	// a second acquisition reopens cleanly
	if err := c.Acquire(context.Background()); err != nil || !c.Ready() {
		t.Fatalf("reacquire: %v", err)
	}
}

func TestRGBToImage(t *testing.T) {
	// 3px wide rows are 9 bytes padded to 12
	data := make([]byte, 12*2)
	data[0], data[1], data[2] = 10, 20, 30
	data[12+6], data[12+7], data[12+8] = 40, 50, 60

	img, err := rgbToImage(data, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{10, 20, 30, 255}) {
		t.Fatalf("pixel (0,0) = %v", got)
	}
	if got := img.RGBAAt(2, 1); got != (color.RGBA{40, 50, 60, 255}) {
		t.Fatalf("pixel (2,1) = %v", got)
	}
	if _, err := rgbToImage(data[:10], 3, 2); err == nil {
		t.Fatal("expected short frame error")
	}
}
