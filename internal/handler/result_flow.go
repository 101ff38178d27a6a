package handler

import (
	"context"
	"fmt"
	"photobooth-kiosk/internal/backend"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/guard"
	"photobooth-kiosk/internal/imaging"
	"photobooth-kiosk/internal/services"
	"time"
)

// enterPreview snapshots the captured photos. Nothing is merged until the
// guest picks a photo.
func (h *KioskHandler) enterPreview(next, prev domain.KioskState) {
	if prev != domain.StateCapture {
		return
	}

	if h.camera != nil {
		h.photos = h.camera.Photos()
	}
	h.merged = ""
	h.pending = false

	h.view.Photos = h.photos
	h.view.SelectedPhoto = 0
	h.view.MergedImage = ""
	h.view.PrintEnabled = false
	h.view.PrintError = ""
	h.view.PreviewMessage = MSG_PREVIEW_SELECT
	h.view.FramePreview = ""
	if h.frame != nil {
		h.view.FramePreview = h.frame.PreviewImageURL
		if h.view.FramePreview == "" {
			h.view.FramePreview = h.frame.FrameFileURL
		}
	}
}

func (h *KioskHandler) handleSelectPhoto(params map[string]any) error {
	if err := h.requireState(domain.StatePreview); err != nil {
		return err
	}
	index, err := intParam(params, "index")
	if err != nil {
		return err
	}
	if index < 0 || index >= len(h.photos) {
		return fmt.Errorf("%w: photo %d out of range", domain.ErrInvalidParams, index)
	}
	if err := h.requireIdlePrinter(); err != nil {
		return err
	}

	h.mirror.Cancel()
	h.view.SelectedPhoto = index
	h.merge()
	return nil
}

func (h *KioskHandler) handleToggleMirror() error {
	if err := h.requireState(domain.StatePreview); err != nil {
		return err
	}
	if err := h.requireIdlePrinter(); err != nil {
		return err
	}

	h.view.Mirror = !h.view.Mirror
	h.view.PrintEnabled = false

	gen := h.deps.Sessions.Generation()
	h.mirror.Trigger(func() {
		h.post(gen, func() {
			if h.machine.State() == domain.StatePreview {
				h.merge()
			}
		})
	})
	return nil
}

// requireIdlePrinter keeps the merged strip fixed while it is being printed
func (h *KioskHandler) requireIdlePrinter() error {
	if h.printToken.Busy() {
		return fmt.Errorf("%w: printing", domain.ErrActionNotAllowed)
	}
	return nil
}

// merge composites the selected photo into the frame. A request made while a
// merge runs is remembered and served once the running one finishes.
func (h *KioskHandler) merge() {
	if h.frame == nil || len(h.photos) == 0 {
		return
	}

	ticket, ok := h.mergeToken.Begin()
	if !ok {
		h.pending = true
		return
	}
	h.pending = false

	index := h.view.SelectedPhoto
	if index >= len(h.photos) {
		index = 0
	}
	photo := h.photos[index]
	frame := *h.frame
	mirror := h.view.Mirror
	slot := min(index, len(frame.PhotoSlots)-1)

	h.view.PreviewMessage = ""
	h.view.PrintEnabled = false

	release := func() { h.mergeToken.End(ticket) }
	h.async("merge", TIMEOUT_MERGE, release, func(ctx context.Context) func() {
		start := time.Now()
		img, err := imaging.DecodeDataURL(photo)
		var merged string
		if err == nil {
			merged, err = h.deps.Compositor.MergeFrame(ctx, img, frame, slot, mirror)
		}
		elapsed := time.Since(start)

		return func() {
			if h.machine.State() != domain.StatePreview {
				return
			}
			if h.pending {
				h.merge()
				return
			}
			if err != nil {
				h.logger.WithError(err).WithField("frame_id", frame.ID).Error("photo merge failed")
				h.view.PreviewMessage = MSG_MERGE_FAILED
				return
			}

			h.merged = merged
			h.view.MergedImage = merged
			h.view.PrintEnabled = true
			h.record(services.JournalMerged, map[string]any{
				"frame_id":    frame.ID,
				"photo":       index,
				"mirror":      mirror,
				"duration_ms": elapsed.Milliseconds(),
			})
		}
	})
}

func (h *KioskHandler) handlePreviewContinue() error {
	if err := h.requireState(domain.StatePreview); err != nil {
		return err
	}
	if h.merged == "" || !h.view.PrintEnabled {
		return fmt.Errorf("%w: no merged photo yet", domain.ErrActionNotAllowed)
	}

	h.mirror.Cancel()
	h.print(h.merged)
	return nil
}

// handleLegacyPrint routes through the PRINT state
func (h *KioskHandler) handleLegacyPrint() error {
	if err := h.requireState(domain.StatePreview); err != nil {
		return err
	}
	h.mirror.Cancel()
	h.machine.SetState(domain.StatePrint)
	return nil
}

func (h *KioskHandler) enterPrint(next, prev domain.KioskState) {
	if h.merged == "" {
		h.view.PreviewMessage = MSG_PREVIEW_SELECT
		h.machine.SetState(domain.StatePreview)
		return
	}
	h.print(h.merged)
}

// print sends the strip to the printer and then shows the result screen.
// A failed print still goes to the result screen with a banner.
func (h *KioskHandler) print(strip string) {
	copies := h.view.CopyCount
	if copies <= 0 {
		copies = 1
	}
	session := h.session

	if !h.deps.Printer.IsConnected() {
		h.printFailed(session, copies, fmt.Errorf("printer not connected"), MSG_PRINT_NOT_CONNECTED)
		h.machine.SetState(domain.StateResult)
		return
	}

	transport := h.deps.Printer.Type()
	admitted := h.guarded(h.printToken, TIMEOUT_PRINT, func(ctx context.Context) func() {
		start := time.Now()
		err := h.deps.Printer.PrintPhotostrip(ctx, strip, copies)
		elapsed := time.Since(start)

		return func() {
			h.view.Printing = false
			if err != nil {
				h.printFailed(session, copies, err, MSG_PRINT_FAILED)
			} else {
				if obs, ok := h.observe(); ok {
					obs.Benchmark("print photostrip", elapsed)
				}
				h.record(services.JournalPrinted, map[string]any{
					"copies":      copies,
					"transport":   transport,
					"duration_ms": elapsed.Milliseconds(),
				})
			}
			h.machine.SetState(domain.StateResult)
		}
	})
	if admitted {
		h.view.Printing = true
		h.view.PrintEnabled = false
		h.view.PrintError = ""
	}
}

func (h *KioskHandler) printFailed(session string, copies int, err error, message string) {
	if obs, ok := h.observe(); ok {
		obs.Failure(fmt.Sprintf("print failed for session %s: %v", session, err))
	} else {
		h.logger.WithError(err).WithField("session", session).Error("print failed")
	}
	h.presenter.Alert("error", fmt.Sprintf(MSG_ALERT_PRINT_FAILED, session, err))
	h.view.PrintError = message
	h.record(services.JournalPrintFailed, map[string]any{
		"copies": copies,
		"error":  err.Error(),
	})
}

type upload struct {
	key   string
	kind  string
	data  string
	index *int
}

// pendingUploads lists media not yet stored for this session
func (h *KioskHandler) pendingUploads() []upload {
	var out []upload
	if h.merged != "" {
		if _, done := h.uploaded[backend.MediaStrip]; !done {
			out = append(out, upload{key: backend.MediaStrip, kind: backend.MediaStrip, data: h.merged})
		}
	}
	for i, photo := range h.photos {
		key := fmt.Sprintf("%s:%d", backend.MediaImage, i)
		if _, done := h.uploaded[key]; done {
			continue
		}
		index := i
		out = append(out, upload{key: key, kind: backend.MediaImage, data: photo, index: &index})
	}
	return out
}

// enterResult uploads what is missing, completes the session and shows the
// QR code. Entering again only retries the uploads that failed.
func (h *KioskHandler) enterResult(next, prev domain.KioskState) {
	h.view.Printing = false
	h.view.UploadError = ""
	h.showResultCode()
	h.startResultTimer()

	items := h.pendingUploads()
	client := h.client
	session := h.session

	h.async("result", TIMEOUT_UPLOAD, nil, func(ctx context.Context) func() {
		done := make(map[string]string, len(items))
		var failed error
		for i, item := range items {
			resp, err := client.SaveMedia(ctx, item.kind, item.data, item.index)
			if err != nil {
				failed = err
				continue
			}
			done[item.key] = resp.URL
			if obs, ok := h.observe(); ok {
				obs.Progress("uploading result media", i+1, len(items))
			}
		}
		if failed == nil {
			_, failed = client.UpdateSession(ctx, map[string]any{"status": domain.SessionCompleted})
		}

		return func() {
			for k, v := range done {
				h.uploaded[k] = v
			}
			h.deps.Sessions.Update(func(s *domain.KioskSession) {
				for k, v := range done {
					s.MediaURLs[k] = v
				}
				if failed == nil {
					s.Status = domain.SessionCompleted
				}
			})

			if failed != nil {
				h.logger.WithError(failed).WithField("session", session).Error("result upload failed")
				h.presenter.Alert("warning", fmt.Sprintf(MSG_ALERT_UPLOAD_FAILED, session, failed))
				h.view.UploadError = MSG_UPLOAD_FAILED
				h.record(services.JournalUploadFailed, map[string]any{
					"uploaded": len(done),
					"total":    len(items),
					"error":    failed.Error(),
				})
				return
			}

			h.record(services.JournalUploaded, map[string]any{"count": len(done)})
			h.record(services.JournalSessionCompleted, nil)
		}
	})
}

// showResultCode renders the guest link even when uploads fail
func (h *KioskHandler) showResultCode() {
	url, err := h.deps.QR.ResultURL(h.session)
	if err != nil {
		h.logger.WithError(err).Warn("no result link available")
		return
	}
	code, err := h.deps.QR.DataURL(url)
	if err != nil {
		h.logger.WithError(err).Warn("failed to render result qr code")
	}
	h.view.ResultURL = url
	h.view.QRCode = code
}

// startResultTimer returns an untouched result screen to idle
func (h *KioskHandler) startResultTimer() {
	h.stopResultTimer()
	if h.settings.ResultIdleTimeout <= 0 {
		return
	}

	h.resultGen++
	timerGen := h.resultGen
	gen := h.deps.Sessions.Generation()
	h.resultTimer = time.AfterFunc(h.settings.ResultIdleTimeout, func() {
		h.post(gen, func() {
			if h.resultGen != timerGen || h.machine.State() != domain.StateResult {
				return
			}
			h.logger.WithField("session", h.session).Info("result screen idle, resetting kiosk")
			h.machine.SetState(domain.StateReset)
		})
	})
}

func (h *KioskHandler) stopResultTimer() {
	if h.resultTimer != nil {
		h.resultTimer.Stop()
		h.resultTimer = nil
	}
	h.resultGen++
}

func (h *KioskHandler) handleFinish() error {
	if err := h.requireState(domain.StateResult); err != nil {
		return err
	}
	h.machine.SetState(domain.StateReset)
	return nil
}

func (h *KioskHandler) handleReset() error {
	h.machine.SetState(domain.StateReset)
	return nil
}

// enterReset releases everything the session held and returns to idle
func (h *KioskHandler) enterReset(next, prev domain.KioskState) {
	if h.session != "" && prev != domain.StateResult {
		h.record(services.JournalSessionReset, map[string]any{"from": prev})
	}

	h.stopCamera()
	h.mirror.Cancel()
	h.stopResultTimer()
	for _, token := range []*guard.Token{
		h.countdown, h.reviewToken, h.promoToken, h.payToken, h.frameToken, h.mergeToken, h.printToken,
	} {
		token.Supersede()
	}

	h.deps.Sessions.End()
	h.session = ""
	h.client = h.deps.Backend
	h.frame = nil
	h.photos = nil
	h.merged = ""
	h.pending = false
	h.uploaded = make(map[string]string)
	h.voucherCode = ""
	h.discount = nil
	h.paid = false
	h.promoReturn = ""

	h.machine.SetState(domain.StateIdle)
}

// handleBack steps one screen back where the flow allows it
func (h *KioskHandler) handleBack() error {
	switch state := h.machine.State(); state {
	case domain.StateReviewOrder:
		h.machine.SetState(domain.StateReset)
	case domain.StatePromoCode:
		h.machine.SetState(h.promoReturnState())
	case domain.StatePayment:
		h.machine.SetState(domain.StateReviewOrder)
	case domain.StateFrame:
		if h.paid {
			return fmt.Errorf("%w: order already paid", domain.ErrActionNotAllowed)
		}
		h.machine.SetState(domain.StatePayment)
	case domain.StateCapture:
		if h.countdown.Busy() {
			return fmt.Errorf("%w: countdown running", domain.ErrActionNotAllowed)
		}
		h.stopCamera()
		h.photos = nil
		h.view.Photos = nil
		h.view.CaptureOverlay = nil
		h.machine.SetState(domain.StateFrame)
	case domain.StatePreview:
		if h.printToken.Busy() {
			return fmt.Errorf("%w: printing", domain.ErrActionNotAllowed)
		}
		h.mirror.Cancel()
		h.view.MergedImage = ""
		h.view.PrintEnabled = false
		h.merged = ""
		h.machine.SetState(domain.StateCapture)
	default:
		return fmt.Errorf("%w: %s", domain.ErrActionNotAllowed, state)
	}
	return nil
}
