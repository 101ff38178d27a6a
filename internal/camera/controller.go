package camera

import (
	"context"
	"fmt"
	"photobooth-kiosk/internal/guard"
	"photobooth-kiosk/internal/imaging"
	"sync"
	"time"
)

const (
	DefaultCountdownSeconds = 3
	DefaultInitialDelay     = 500 * time.Millisecond
	DefaultTick             = time.Second
	DefaultBetweenDelay     = 1500 * time.Millisecond
)

type Options struct {
	CountdownSeconds int
	InitialDelay     time.Duration
	Tick             time.Duration
	BetweenDelay     time.Duration
	TargetPhotos     int
	Platform         string
	DeviceID         string
	Sleep            func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.CountdownSeconds <= 0 {
		o.CountdownSeconds = DefaultCountdownSeconds
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.BetweenDelay < 0 {
		o.BetweenDelay = 0
	}
	if o.TargetPhotos <= 0 {
		o.TargetPhotos = 1
	}
	if o.Platform == "" {
		o.Platform = PlatformDesktop
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Events are called from the capture goroutine.
type Events struct {
	OnTick     func(remaining int)
	OnCapture  func(index int, photo string)
	OnComplete func(photos []string)
	OnError    func(err error)
}

// Controller owns the camera stream and the photo buffer of one session.
// Photos are PNG data URLs cropped to 4:3.
type Controller struct {
	source Source
	token  *guard.Token
	opts   Options
	events Events

	mu     sync.Mutex
	stream Stream
	photos []string
	cancel context.CancelFunc
}

// NewController builds a controller. token is shared by every countdown in
// the kiosk so only one can run at a time.
func NewController(source Source, token *guard.Token, opts Options, events Events) *Controller {
	if token == nil {
		token = guard.NewToken("countdown", 0)
	}
	return &Controller{
		source: source,
		token:  token,
		opts:   opts.withDefaults(),
		events: events,
	}
}

func (c *Controller) TargetPhotos() int {
	return c.opts.TargetPhotos
}

// Acquire opens the video stream if it is not already open
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}
	stream, err := Open(ctx, c.source, c.opts.Platform, c.opts.DeviceID)
	if err != nil {
		return err
	}
	c.stream = stream
	return nil
}

func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Start runs countdown and capture until the target photo count is reached.
func (c *Controller) Start(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.opts.Sleep(ctx, c.opts.InitialDelay); err != nil {
			return err
		}
		for {
			n := len(c.Photos())
			if n >= c.opts.TargetPhotos {
				return nil
			}
			if err := c.countdown(ctx); err != nil {
				return err
			}
			if err := c.capture(ctx, n, false); err != nil {
				return err
			}
			if n+1 < c.opts.TargetPhotos {
				if err := c.opts.Sleep(ctx, c.opts.BetweenDelay); err != nil {
					return err
				}
			}
		}
	})
}

// Retake replaces the photo at index. It fails with ErrCountdownActive and
// leaves the buffer untouched while any countdown runs.
func (c *Controller) Retake(ctx context.Context, index int) error {
	if c.token.Busy() {
		return ErrCountdownActive
	}
	if index < 0 || index >= len(c.Photos()) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.countdown(ctx); err != nil {
			return err
		}
		return c.capture(ctx, index, true)
	})
}

func (c *Controller) run(parent context.Context, seq func(ctx context.Context) error) error {
	if !c.Ready() {
		return fmt.Errorf("%w: stream not acquired", ErrCameraUnavailable)
	}

	ticket, ok := c.token.Begin()
	if !ok {
		return ErrCountdownActive
	}

	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		defer c.token.End(ticket)

		if err := seq(ctx); err != nil {
			if ctx.Err() == nil && c.events.OnError != nil {
				c.events.OnError(err)
			}
			return
		}
		if c.events.OnComplete != nil && c.token.Current(ticket) {
			c.events.OnComplete(c.Photos())
		}
	}()
	return nil
}

func (c *Controller) countdown(ctx context.Context) error {
	for remaining := c.opts.CountdownSeconds; remaining > 0; remaining-- {
		if c.events.OnTick != nil {
			c.events.OnTick(remaining)
		}
		if err := c.opts.Sleep(ctx, c.opts.Tick); err != nil {
			return err
		}
	}
	if c.events.OnTick != nil {
		c.events.OnTick(0)
	}
	return nil
}

func (c *Controller) capture(ctx context.Context, index int, replace bool) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("%w: stream closed", ErrCameraUnavailable)
	}

	frame, err := stream.Frame()
	if err != nil {
		return fmt.Errorf("grab frame: %w", err)
	}
	photo, err := imaging.EncodeDataURL(imaging.CropToAspect(frame, AspectWidth, AspectHeight))
	if err != nil {
		return fmt.Errorf("encode photo: %w", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return ctx.Err()
	}
	if replace {
		if index >= len(c.photos) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		c.photos[index] = photo
	} else {
		c.photos = append(c.photos, photo)
		index = len(c.photos) - 1
	}
	c.mu.Unlock()

	if c.events.OnCapture != nil {
		c.events.OnCapture(index, photo)
	}
	return nil
}

// Photos returns a copy of the photo buffer
func (c *Controller) Photos() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.photos...)
}

func (c *Controller) SetPhotos(photos []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.photos = append([]string(nil), photos...)
}

// Reset cancels any running sequence and clears the buffer, keeping the stream.
func (c *Controller) Reset() {
	c.abort()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.photos = nil
}

// Stop cancels any running sequence, releases the stream and clears state.
func (c *Controller) Stop() error {
	c.abort()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.photos = nil
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	if err != nil {
		return fmt.Errorf("close camera stream: %w", err)
	}
	return nil
}

func (c *Controller) abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.token.Supersede()
	}
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
