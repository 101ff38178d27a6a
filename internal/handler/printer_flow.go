package handler

import (
	"context"
	"fmt"
	"photobooth-kiosk/internal/domain"
)

func (h *KioskHandler) handlePrinterConnectUSB(params map[string]any) error {
	vendorID := h.settings.USBVendorID
	if _, ok := params["vendor_id"]; ok {
		v, err := intParam(params, "vendor_id")
		if err != nil {
			return err
		}
		if v <= 0 || v > 0xFFFF {
			return fmt.Errorf("%w: vendor_id out of range", domain.ErrInvalidParams)
		}
		vendorID = uint16(v)
	}

	h.printerTask("usb connect", func(ctx context.Context) (string, error) {
		if err := h.deps.Printer.ConnectUSB(ctx, vendorID); err != nil {
			return "", err
		}
		return fmt.Sprintf(MSG_PRINTER_CONNECTED, domain.ConnectionUSB), nil
	})
	return nil
}

func (h *KioskHandler) handlePrinterConnectBLE() error {
	h.printerTask("bluetooth connect", func(ctx context.Context) (string, error) {
		if err := h.deps.Printer.ConnectBLE(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf(MSG_PRINTER_CONNECTED, domain.ConnectionBluetooth), nil
	})
	return nil
}

func (h *KioskHandler) handlePrinterDisconnect() error {
	h.printerTask("disconnect", func(ctx context.Context) (string, error) {
		if err := h.deps.Printer.Disconnect(); err != nil {
			return "", err
		}
		return MSG_PRINTER_DISCONNECTED, nil
	})
	return nil
}

// printerTask runs a printer connection change off the loop. The printer
// outlives guest sessions so the result is applied whatever the session.
func (h *KioskHandler) printerTask(op string, work func(ctx context.Context) (string, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, TIMEOUT_PRINTER_CONNECT)
		defer cancel()

		notice, err := work(ctx)
		h.loop.Post(func() {
			if err != nil {
				h.logger.WithError(err).WithField("op", op).Error("printer operation failed")
				h.presenter.Alert("warning", fmt.Sprintf(MSG_PRINTER_CONNECT_FAILED, err))
				notice = fmt.Sprintf(MSG_PRINTER_CONNECT_FAILED, err)
			} else {
				h.logger.WithFields(map[string]any{
					"op":   op,
					"type": h.deps.Printer.Type(),
				}).Info("printer updated")
			}
			h.view.Notice = notice
			h.render()
		})
	}()
}
