// Package compositor merges captured photos into frame templates.
//
// Slots are configured in template pixels with a center origin. The frame
// image's real size is authoritative: slots are rescaled from the template
// size to the image size before drawing. The photo always covers its slot,
// is clipped to it, and the frame is drawn last over the whole canvas.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/imaging"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// Reference template canvas, 8x11 cm at 300 DPI.
const (
	ReferenceWidth  = 945
	ReferenceHeight = 1299
)

var (
	ErrEmptyImage          = errors.New("image has no pixels")
	ErrSlotOutsideCanvas   = errors.New("photo slot lies outside the frame")
	ErrSlotIndexOutOfRange = errors.New("photo slot index out of range")
)

type Options struct {
	// PhotoArea is center based, in template pixels.
	PhotoArea      domain.PhotoSlot
	TemplateWidth  float64
	TemplateHeight float64
	Mirror         bool
}

// Placement is where the photo lands on the frame canvas.
type Placement struct {
	Canvas image.Rectangle
	Slot   image.Rectangle
	Photo  domain.Rect
}

// SlotTopLeft converts a center based slot into a top-left rectangle
func SlotTopLeft(slot domain.PhotoSlot) domain.Rect {
	return domain.Rect{
		X:      slot.X - slot.Width/2,
		Y:      slot.Y - slot.Height/2,
		Width:  slot.Width,
		Height: slot.Height,
	}
}

// ClampRect trims r to the [0,w]x[0,h] canvas
func ClampRect(r domain.Rect, w, h float64) domain.Rect {
	x0 := math.Max(0, r.X)
	y0 := math.Max(0, r.Y)
	x1 := math.Min(w, r.X+r.Width)
	y1 := math.Min(h, r.Y+r.Height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return domain.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// CoverRect returns the rectangle a photo of photoW x photoH is drawn into so
// that it fills slot completely, overflow split evenly on both sides.
func CoverRect(photoW, photoH float64, slot domain.Rect) domain.Rect {
	photoAspect := photoW / photoH
	slotAspect := slot.Width / slot.Height

	var w, h float64
	if photoAspect > slotAspect {
		h = slot.Height
		w = slot.Height * photoAspect
	} else {
		w = slot.Width
		h = slot.Width / photoAspect
	}

	return domain.Rect{
		X:      slot.X + (slot.Width-w)/2,
		Y:      slot.Y + (slot.Height-h)/2,
		Width:  w,
		Height: h,
	}
}

func templateSize(opts Options) (float64, float64) {
	w, h := opts.TemplateWidth, opts.TemplateHeight
	if w <= 0 {
		w = ReferenceWidth
	}
	if h <= 0 {
		h = ReferenceHeight
	}
	return w, h
}

// Place computes the slot and photo rectangles for a frame image of canvas size.
func Place(photo, canvas image.Rectangle, opts Options) (Placement, error) {
	if photo.Empty() || canvas.Empty() {
		return Placement{}, ErrEmptyImage
	}

	cw, ch := float64(canvas.Dx()), float64(canvas.Dy())
	tw, th := templateSize(opts)
	sx, sy := cw/tw, ch/th

	slot := SlotTopLeft(opts.PhotoArea)
	slot = domain.Rect{X: slot.X * sx, Y: slot.Y * sy, Width: slot.Width * sx, Height: slot.Height * sy}
	slot = ClampRect(slot, cw, ch)

	slotRect := toRectangle(slot)
	if slotRect.Empty() {
		return Placement{}, ErrSlotOutsideCanvas
	}

	return Placement{
		Canvas: image.Rect(0, 0, canvas.Dx(), canvas.Dy()),
		Slot:   slotRect,
		Photo:  CoverRect(float64(photo.Dx()), float64(photo.Dy()), slot),
	}, nil
}

func toRectangle(r domain.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.Width)),
		int(math.Round(r.Y+r.Height)),
	)
}

// Merge draws photo into the frame's slot and the frame on top.
func Merge(photo, frame image.Image, opts Options) (*image.RGBA, error) {
	if photo == nil || frame == nil {
		return nil, ErrEmptyImage
	}

	p, err := Place(photo.Bounds(), frame.Bounds(), opts)
	if err != nil {
		return nil, err
	}

	drawn := toRectangle(p.Photo)
	scaled := image.NewRGBA(image.Rect(0, 0, drawn.Dx(), drawn.Dy()))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), photo, photo.Bounds(), draw.Src, nil)

	origin := drawn.Min
	var src image.Image = scaled
	if opts.Mirror {
		src = imaging.FlipHorizontal(scaled)
		// reflect around the slot's horizontal center
		origin.X = p.Slot.Min.X + p.Slot.Max.X - drawn.Max.X
	}

	canvas := image.NewRGBA(p.Canvas)
	// drawing into p.Slot only is the clip
	draw.Draw(canvas, p.Slot, src, p.Slot.Min.Sub(origin), draw.Over)
	draw.Draw(canvas, p.Canvas, frame, frame.Bounds().Min, draw.Over)

	return canvas, nil
}

// MergeDataURL merges and encodes the result as a PNG data URL.
func MergeDataURL(photo, frame image.Image, opts Options) (string, error) {
	merged, err := Merge(photo, frame, opts)
	if err != nil {
		return "", err
	}
	return imaging.EncodeDataURL(merged)
}

// OverlayRect returns a slot as fractions of the template, for the capture screen mask.
func OverlayRect(frame domain.Frame, slotIndex int) (domain.Rect, error) {
	if slotIndex < 0 || slotIndex >= len(frame.PhotoSlots) {
		return domain.Rect{}, ErrSlotIndexOutOfRange
	}

	tw, th := templateSize(Options{TemplateWidth: frame.TemplateWidth, TemplateHeight: frame.TemplateHeight})
	r := ClampRect(SlotTopLeft(frame.PhotoSlots[slotIndex]), tw, th)

	return domain.Rect{X: r.X / tw, Y: r.Y / th, Width: r.Width / tw, Height: r.Height / th}, nil
}

// Compositor merges photos into configured frames, caching decoded frame images.
type Compositor struct {
	loader *imaging.Loader
	logger domain.Logger

	mu     sync.Mutex
	frames map[string]image.Image
}

func New(loader *imaging.Loader, logger domain.Logger) *Compositor {
	return &Compositor{
		loader: loader,
		logger: logger,
		frames: make(map[string]image.Image),
	}
}

// FrameImage loads the frame file once per source
func (c *Compositor) FrameImage(ctx context.Context, src string) (image.Image, error) {
	c.mu.Lock()
	img, ok := c.frames[src]
	c.mu.Unlock()
	if ok {
		return img, nil
	}

	img, err := c.loader.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("load frame template: %w", err)
	}

	c.mu.Lock()
	c.frames[src] = img
	c.mu.Unlock()
	return img, nil
}

// MergeFrame merges photo into the given slot of frame and returns a PNG data URL.
func (c *Compositor) MergeFrame(ctx context.Context, photo image.Image, frame domain.Frame, slotIndex int, mirror bool) (string, error) {
	if slotIndex < 0 || slotIndex >= len(frame.PhotoSlots) {
		return "", ErrSlotIndexOutOfRange
	}

	start := time.Now()
	frameImg, err := c.FrameImage(ctx, frame.FrameFileURL)
	if err != nil {
		return "", err
	}

	url, err := MergeDataURL(photo, frameImg, Options{
		PhotoArea:      frame.PhotoSlots[slotIndex],
		TemplateWidth:  frame.TemplateWidth,
		TemplateHeight: frame.TemplateHeight,
		Mirror:         mirror,
	})
	if err != nil {
		return "", fmt.Errorf("merge photo into frame %d: %w", frame.ID, err)
	}

	c.logger.WithFields(map[string]any{
		"frame_id": frame.ID,
		"mirror":   mirror,
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}).Debug("photo merged")

	return url, nil
}
