package handler

import (
	"context"
	"errors"
	"fmt"
	"photobooth-kiosk/internal/camera"
	"photobooth-kiosk/internal/compositor"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/services"
)

func (h *KioskHandler) enterFrame(next, prev domain.KioskState) {
	h.view.Frames = h.activeFrames()
	h.view.FrameError = ""
	h.view.PayBusy = false
	h.view.PromoFocus = false
}

func (h *KioskHandler) findFrame(id int) (domain.Frame, bool) {
	for _, f := range h.settings.Frames {
		if f.ID == id && f.IsActive {
			return f, true
		}
	}
	return domain.Frame{}, false
}

func (h *KioskHandler) handleSelectFrame(params map[string]any) error {
	if err := h.requireState(domain.StateFrame); err != nil {
		return err
	}
	id, err := intParam(params, "frame_id")
	if err != nil {
		return err
	}
	frame, ok := h.findFrame(id)
	if !ok {
		return fmt.Errorf("%w: unknown frame %d", domain.ErrInvalidParams, id)
	}

	client := h.client
	admitted := h.guarded(h.frameToken, TIMEOUT_BACKEND, func(ctx context.Context) func() {
		_, err := client.SaveFrame(ctx, frame.ID)
		return func() {
			if err != nil {
				h.logger.WithError(err).WithField("frame_id", frame.ID).Warn("failed to save frame choice")
				h.view.FrameError = inlineError(err, MSG_FRAME_SAVE_FAILED)
				return
			}
			if h.machine.State() != domain.StateFrame {
				return
			}

			h.frame = &frame
			h.deps.Sessions.Update(func(s *domain.KioskSession) { s.FrameID = frame.ID })
			h.record(services.JournalFrameSaved, map[string]any{"frame_id": frame.ID})
			h.machine.SetState(domain.StateCapture)
		}
	})
	if admitted {
		h.view.SelectedFrameID = frame.ID
		h.view.FrameError = ""
	}
	return nil
}

// enterCapture prepares a fresh capture only when coming from frame
// selection. Returning from preview keeps the photos already taken.
func (h *KioskHandler) enterCapture(next, prev domain.KioskState) {
	if prev != domain.StateFrame {
		h.view.Capturing = false
		h.view.Countdown = 0
		h.view.CaptureComplete = len(h.photos) >= h.targetPhotos()
		return
	}

	h.stopCamera()
	h.camera = h.newCameraController()
	h.photos = nil
	h.merged = ""

	h.view.Photos = nil
	h.view.TargetPhotos = h.camera.TargetPhotos()
	h.view.CaptureComplete = false
	h.view.Capturing = false
	h.view.Countdown = 0
	h.view.CameraReady = false
	h.view.CameraError = ""
	h.view.CaptureOverlay = nil

	if h.frame != nil {
		overlay, err := compositor.OverlayRect(*h.frame, 0)
		if err != nil {
			h.logger.WithError(err).WithField("frame_id", h.frame.ID).Warn("frame has no usable photo slot")
		} else {
			h.view.CaptureOverlay = &overlay
		}
	}

	h.acquireCamera()
}

// newCameraController wires controller callbacks back onto the loop
func (h *KioskHandler) newCameraController() *camera.Controller {
	gen := h.deps.Sessions.Generation()

	var ctrl *camera.Controller
	ctrl = camera.NewController(h.deps.Camera, h.countdown, h.settings.Capture, camera.Events{
		OnTick: func(remaining int) {
			h.post(gen, func() {
				if h.camera != ctrl {
					return
				}
				h.view.Countdown = remaining
			})
		},
		OnCapture: func(index int, photo string) {
			h.post(gen, func() {
				if h.camera != ctrl {
					return
				}
				h.photos = ctrl.Photos()
				h.view.Photos = h.photos
				h.record(services.JournalPhotoCaptured, map[string]any{"index": index})
			})
		},
		OnComplete: func(photos []string) {
			h.post(gen, func() {
				if h.camera != ctrl {
					return
				}
				h.photos = photos
				h.view.Photos = photos
				h.view.Capturing = false
				h.view.Countdown = 0
				h.view.CaptureComplete = len(photos) >= ctrl.TargetPhotos()
			})
		},
		OnError: func(err error) {
			h.post(gen, func() {
				if h.camera != ctrl {
					return
				}
				h.logger.WithError(err).Error("photo capture failed")
				h.view.Capturing = false
				h.view.Countdown = 0
				h.view.CameraError = MSG_CAPTURE_FAILED
			})
		},
	})
	return ctrl
}

// acquireCamera opens the stream off the loop
func (h *KioskHandler) acquireCamera() {
	ctrl := h.camera
	if ctrl == nil {
		return
	}

	h.async("camera", TIMEOUT_CAMERA, nil, func(ctx context.Context) func() {
		err := ctrl.Acquire(ctx)
		return func() {
			if h.camera != ctrl {
				return
			}
			if err != nil {
				h.logger.WithError(err).Error("camera acquisition failed")
				h.presenter.Alert("warning", fmt.Sprintf(MSG_ALERT_CAMERA_FAILED, err))
				h.view.CameraReady = false
				h.view.CameraError = MSG_CAMERA_UNAVAILABLE
				return
			}
			h.view.CameraReady = true
			h.view.CameraError = ""
		}
	})
}

func (h *KioskHandler) stopCamera() {
	if h.camera == nil {
		return
	}
	if err := h.camera.Stop(); err != nil {
		h.logger.WithError(err).Warn("failed to release camera")
	}
	h.camera = nil
	h.view.CameraReady = false
}

func (h *KioskHandler) handleCameraRetry() error {
	if err := h.requireState(domain.StateCapture); err != nil {
		return err
	}
	if h.camera == nil {
		h.camera = h.newCameraController()
		h.camera.SetPhotos(h.photos)
	}
	h.view.CameraError = ""
	h.acquireCamera()
	return nil
}

func (h *KioskHandler) handleCaptureStart() error {
	if err := h.requireState(domain.StateCapture); err != nil {
		return err
	}
	if h.camera == nil || !h.camera.Ready() {
		return fmt.Errorf("%w: camera not ready", domain.ErrActionNotAllowed)
	}
	if h.view.CaptureComplete {
		return fmt.Errorf("%w: all photos taken", domain.ErrActionNotAllowed)
	}

	if err := h.camera.Start(h.ctx); err != nil {
		return h.captureError(err)
	}
	h.view.Capturing = true
	h.view.CameraError = ""
	return nil
}

func (h *KioskHandler) handleRetake(params map[string]any) error {
	if err := h.requireState(domain.StateCapture); err != nil {
		return err
	}
	index, err := intParam(params, "index")
	if err != nil {
		return err
	}
	if h.countdown.Busy() {
		return nil
	}
	if h.camera == nil {
		return fmt.Errorf("%w: camera not ready", domain.ErrActionNotAllowed)
	}

	if err := h.camera.Retake(h.ctx, index); err != nil {
		if errors.Is(err, camera.ErrCountdownActive) {
			return nil
		}
		return h.captureError(err)
	}
	h.view.Capturing = true
	h.view.CameraError = ""
	return nil
}

func (h *KioskHandler) captureError(err error) error {
	switch {
	case errors.Is(err, camera.ErrCountdownActive):
		return fmt.Errorf("%w: countdown running", domain.ErrActionNotAllowed)
	case errors.Is(err, camera.ErrIndexOutOfRange):
		return fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
	case errors.Is(err, camera.ErrCameraUnavailable):
		h.view.CameraReady = false
		h.view.CameraError = MSG_CAMERA_UNAVAILABLE
		return nil
	default:
		h.logger.WithError(err).Error("failed to start capture")
		h.view.CameraError = MSG_CAPTURE_FAILED
		return nil
	}
}

func (h *KioskHandler) handleCaptureContinue() error {
	if err := h.requireState(domain.StateCapture); err != nil {
		return err
	}
	if !h.view.CaptureComplete || h.countdown.Busy() {
		return fmt.Errorf("%w: capture not complete", domain.ErrActionNotAllowed)
	}
	h.machine.SetState(domain.StatePreview)
	return nil
}
