// Package camera acquires a live video source and runs the countdown capture
// sequence of a kiosk session.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrCountdownActive   = errors.New("countdown already running")
	ErrDeviceRejected    = errors.New("camera device rejected")
	ErrIndexOutOfRange   = errors.New("photo index out of range")
)

const (
	PlatformDesktop = "desktop"
	PlatformMobile  = "mobile"

	FacingEnvironment = "environment"
)

// Captured photos are cropped to this aspect ratio.
const (
	AspectWidth  = 4
	AspectHeight = 3
)

// Constraints select a video device. DeviceID wins over FacingMode when set.
type Constraints struct {
	DeviceID    string
	FacingMode  string
	AspectRatio float64
}

// Source opens live video streams
type Source interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open video device. Frame returns the most recent frame.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// SelectConstraints picks the first constraint set to try. Mobile platforms
// enumerate devices unreliably and always get the environment-facing camera.
func SelectConstraints(platform, savedDeviceID string) Constraints {
	c := Constraints{AspectRatio: float64(AspectWidth) / AspectHeight}
	if platform == PlatformMobile || savedDeviceID == "" {
		c.FacingMode = FacingEnvironment
		return c
	}
	c.DeviceID = savedDeviceID
	return c
}

// Open acquires a stream, retrying with relaxed constraints when the saved
// device id is rejected.
func Open(ctx context.Context, src Source, platform, savedDeviceID string) (Stream, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no video source configured", ErrCameraUnavailable)
	}

	c := SelectConstraints(platform, savedDeviceID)
	stream, err := src.Open(ctx, c)
	if err == nil {
		return stream, nil
	}

	if c.DeviceID != "" && errors.Is(err, ErrDeviceRejected) {
		relaxed := Constraints{FacingMode: FacingEnvironment, AspectRatio: c.AspectRatio}
		stream, err = src.Open(ctx, relaxed)
		if err == nil {
			return stream, nil
		}
	}

	if errors.Is(err, ErrCameraUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
}
