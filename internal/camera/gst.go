package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"photobooth-kiosk/internal/domain"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const (
	DefaultCaptureWidth      = 1280
	DefaultCaptureHeight     = 960
	DefaultFirstFrameTimeout = 5 * time.Second
)

var errNoFrame = errors.New("no frame received yet")

// GstSource opens cameras through a GStreamer pipeline:
//
//	v4l2src|autovideosrc → videoconvert → videoscale → capsfilter(RGB) → appsink
type GstSource struct {
	Width             int
	Height            int
	FirstFrameTimeout time.Duration
	Logger            domain.Logger
}

func NewGstSource(width, height int, logger domain.Logger) *GstSource {
	if width <= 0 || height <= 0 {
		width, height = DefaultCaptureWidth, DefaultCaptureHeight
	}
	return &GstSource{
		Width:             width,
		Height:            height,
		FirstFrameTimeout: DefaultFirstFrameTimeout,
		Logger:            logger,
	}
}

func (s *GstSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	gst.Init(nil)

	pipeline, appsink, err := s.build(c)
	if err != nil {
		return nil, err
	}

	stream := &gstStream{pipeline: pipeline, width: s.Width, height: s.Height, first: make(chan struct{})}
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: stream.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, s.reject(c, fmt.Errorf("start pipeline: %w", err))
	}

	if err := stream.waitFirstFrame(ctx, s.FirstFrameTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, s.reject(c, err)
	}

	if s.Logger != nil {
		s.Logger.WithFields(map[string]any{
			"device": c.DeviceID,
			"facing": c.FacingMode,
			"width":  s.Width,
			"height": s.Height,
		}).Info("camera stream opened")
	}
	return stream, nil
}

// reject marks failures of an explicit device so callers can relax constraints
func (s *GstSource) reject(c Constraints, err error) error {
	if c.DeviceID != "" {
		return fmt.Errorf("%w: %s: %v", ErrDeviceRejected, c.DeviceID, err)
	}
	return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
}

func (s *GstSource) build(c Constraints) (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}

	var src *gst.Element
	if c.DeviceID != "" {
		src, err = gst.NewElement("v4l2src")
		if err == nil {
			src.SetProperty("device", c.DeviceID)
		}
	} else {
		src, err = gst.NewElement("autovideosrc")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create source: %v", ErrCameraUnavailable, err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", s.Width, s.Height),
	))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, nil, fmt.Errorf("add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, nil, fmt.Errorf("link pipeline elements: %w", err)
	}
	return pipeline, appsink, nil
}

// gstStream keeps the latest RGB frame delivered by the appsink
type gstStream struct {
	pipeline *gst.Pipeline
	width    int
	height   int

	mu     sync.Mutex
	latest []byte
	once   sync.Once
	first  chan struct{}
	closed bool
}

func (s *gstStream) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	data := buffer.Map(gst.MapRead).Bytes()
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	if len(frame) == 0 {
		return gst.FlowOK
	}

	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
	s.once.Do(func() { close(s.first) })
	return gst.FlowOK
}

func (s *gstStream) waitFirstFrame(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-s.first:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("no frame within %s", timeout)
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		case gst.MessageEOS:
			return errors.New("end of stream before first frame")
		}
	}
}

func (s *gstStream) Frame() (image.Image, error) {
	s.mu.Lock()
	data := s.latest
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("%w: stream closed", ErrCameraUnavailable)
	}
	if data == nil {
		return nil, errNoFrame
	}
	return rgbToImage(data, s.width, s.height)
}

func (s *gstStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.latest = nil
	return s.pipeline.SetState(gst.StateNull)
}

// rgbToImage converts packed RGB rows, padded to 4 bytes, into RGBA.
func rgbToImage(data []byte, w, h int) (*image.RGBA, error) {
	stride := (w*3 + 3) &^ 3
	if len(data) < stride*(h-1)+w*3 {
		return nil, fmt.Errorf("short frame: %d bytes for %dx%d", len(data), w, h)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := data[y*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img, nil
}
