package handler

import (
	"context"
	"errors"
	"fmt"
	"photobooth-kiosk/internal/backend"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/services"
	"strings"
)

func (h *KioskHandler) enterIdle(next, prev domain.KioskState) {
	h.resetView()
}

func (h *KioskHandler) enterReviewOrder(next, prev domain.KioskState) {
	minCopies := h.deps.Pricing.MinCopies()
	h.voucherCode = ""
	h.discount = nil

	h.view.CopyCount = minCopies
	h.view.TotalLabel = h.deps.Pricing.TotalLabel(minCopies)
	h.view.PaymentError = ""
	h.view.PromoCode = ""
	h.view.ContinueEnabled = true
}

func (h *KioskHandler) enterPromoCode(next, prev domain.KioskState) {
	if prev == domain.StateReviewOrder || prev == domain.StatePayment {
		h.promoReturn = prev
	}
	h.view.PromoCode = ""
	h.view.PromoError = ""
	h.view.PromoFocus = true
	h.view.PromoBusy = false
}

func (h *KioskHandler) enterPayment(next, prev domain.KioskState) {
	h.view.PromoFocus = false
	h.view.PaymentError = ""
	h.view.RedirectURL = ""
	h.view.PayBusy = false
	h.view.TotalLabel = services.TotalLabel(h.total())
	h.view.ShowPayCard = h.showPayCard()
}

// showPayCard is false on a free kiosk, where the cheapest option costs
// nothing, and for an order that has nothing left to pay
func (h *KioskHandler) showPayCard() bool {
	return h.deps.Pricing.BasePrice() > 0 && h.total() > 0
}

// total is the amount the guest pays for the current copy count
func (h *KioskHandler) total() int64 {
	if h.discount != nil {
		return *h.discount
	}
	price, _ := h.deps.Pricing.Price(h.view.CopyCount)
	return price
}

func (h *KioskHandler) handleStart() error {
	if err := h.requireState(domain.StateIdle); err != nil {
		return err
	}
	h.startSession()
	h.machine.SetState(domain.StateReviewOrder)
	return nil
}

func (h *KioskHandler) handleSelectCopies(params map[string]any) error {
	if err := h.requireState(domain.StateReviewOrder, domain.StatePayment); err != nil {
		return err
	}
	copies, err := intParam(params, "copies")
	if err != nil {
		return err
	}
	if !h.deps.Pricing.Valid(copies) {
		return fmt.Errorf("%w: no price for %d copies", domain.ErrInvalidParams, copies)
	}

	// a voucher was validated for the previous count
	h.voucherCode = ""
	h.discount = nil

	h.view.CopyCount = copies
	h.view.TotalLabel = h.deps.Pricing.TotalLabel(copies)
	if h.machine.State() == domain.StatePayment {
		h.view.ShowPayCard = h.showPayCard()
		h.view.RedirectURL = ""
	}

	h.deps.Sessions.Update(func(s *domain.KioskSession) {
		s.CopyCount = copies
		s.VoucherCode = ""
	})
	return nil
}

func (h *KioskHandler) handleReviewContinue() error {
	if err := h.requireState(domain.StateReviewOrder); err != nil {
		return err
	}

	client := h.client
	copies := h.view.CopyCount
	admitted := h.guarded(h.reviewToken, TIMEOUT_BACKEND, func(ctx context.Context) func() {
		_, err := client.UpdateSession(ctx, map[string]any{"copy_count": copies})
		return func() {
			h.view.ContinueEnabled = true
			if err != nil {
				h.logger.WithError(err).Warn("failed to save copy count")
				h.view.PaymentError = inlineError(err, MSG_REVIEW_FAILED)
				return
			}
			if h.machine.State() == domain.StateReviewOrder {
				h.machine.SetState(domain.StatePayment)
			}
		}
	})
	if admitted {
		h.view.ContinueEnabled = false
		h.view.PaymentError = ""
	}
	return nil
}

func (h *KioskHandler) handleOpenPromo() error {
	if err := h.requireState(domain.StateReviewOrder, domain.StatePayment); err != nil {
		return err
	}
	h.machine.SetState(domain.StatePromoCode)
	return nil
}

func (h *KioskHandler) handleClosePromo() error {
	if err := h.requireState(domain.StatePromoCode); err != nil {
		return err
	}
	h.machine.SetState(h.promoReturnState())
	return nil
}

func (h *KioskHandler) promoReturnState() domain.KioskState {
	if h.promoReturn == "" {
		return domain.StatePayment
	}
	return h.promoReturn
}

func (h *KioskHandler) handleApplyPromo(params map[string]any) error {
	if err := h.requireState(domain.StatePromoCode); err != nil {
		return err
	}
	code, err := stringParam(params, "code")
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	h.view.PromoCode = code
	if code == "" {
		h.view.PromoError = MSG_PROMO_EMPTY
		return nil
	}

	client := h.client
	copies := h.view.CopyCount
	admitted := h.guarded(h.promoToken, TIMEOUT_BACKEND, func(ctx context.Context) func() {
		voucher, err := client.ValidateVoucher(ctx, code, copies)
		if err == nil && voucher.Free() {
			_, err = client.ApplyVoucher(ctx, code, copies)
		}

		return func() {
			h.view.PromoBusy = false
			if err != nil {
				h.logger.WithError(err).WithField("code", code).Warn("promo code check failed")
				h.view.PromoError = inlineError(err, MSG_PROMO_FAILED)
				return
			}
			if !voucher.Valid {
				h.view.PromoError = MSG_PROMO_INVALID
				if voucher.Message != "" {
					h.view.PromoError = voucher.Message
				}
				return
			}
			h.applyVoucher(code, voucher)
		}
	})
	if admitted {
		h.view.PromoBusy = true
		h.view.PromoError = ""
	}
	return nil
}

// applyVoucher stores an accepted voucher and moves on. A voucher that
// zeroes the order skips payment.
func (h *KioskHandler) applyVoucher(code string, voucher *backend.VoucherResponse) {
	if h.machine.State() != domain.StatePromoCode {
		return
	}

	h.voucherCode = code
	h.deps.Sessions.Update(func(s *domain.KioskSession) { s.VoucherCode = code })
	if voucher.AmountAfterDiscount != nil {
		amount := int64(*voucher.AmountAfterDiscount)
		if amount < 0 {
			amount = 0
		}
		h.discount = &amount
	}

	if voucher.Free() || h.total() == 0 {
		h.paid = true
		h.record(services.JournalVoucherApplied, map[string]any{"code": code, "free": true})
		h.machine.SetState(domain.StateFrame)
		return
	}

	h.record(services.JournalVoucherApplied, map[string]any{"code": code, "free": false})
	h.view.TotalLabel = services.TotalLabel(h.total())
	h.machine.SetState(domain.StatePayment)
}

func (h *KioskHandler) handlePay() error {
	if err := h.requireState(domain.StatePayment); err != nil {
		return err
	}
	if h.total() == 0 {
		return fmt.Errorf("%w: nothing to pay", domain.ErrActionNotAllowed)
	}

	client := h.client
	copies := h.view.CopyCount
	voucher := h.voucherCode
	admitted := h.guarded(h.payToken, TIMEOUT_BACKEND, func(ctx context.Context) func() {
		payment, err := client.CreatePayment(ctx, copies, voucher)
		return func() {
			h.view.PayBusy = false
			switch {
			case errors.Is(err, backend.ErrIncompatibleBackend):
				h.logger.WithError(err).Error("payment endpoint returned an unsupported response")
				h.presenter.Alert("error", fmt.Sprintf(MSG_ALERT_BACKEND_CONFIG, err))
				h.view.PaymentError = MSG_PAYMENT_UNAVAILABLE
			case err != nil:
				h.logger.WithError(err).Warn("payment creation failed")
				h.view.PaymentError = inlineError(err, MSG_PAYMENT_FAILED)
			default:
				h.view.RedirectURL = payment.RedirectURL
				h.record(services.JournalPaymentCreated, map[string]any{"copies": copies})
			}
		}
	})
	if admitted {
		h.view.PayBusy = true
		h.view.PaymentError = ""
	}
	return nil
}

func (h *KioskHandler) handlePaymentConfirmed() error {
	if err := h.requireState(domain.StatePayment); err != nil {
		return err
	}
	h.paid = true
	h.machine.SetState(domain.StateFrame)
	return nil
}

func (h *KioskHandler) handleConfirmFree() error {
	if err := h.requireState(domain.StatePayment); err != nil {
		return err
	}
	if h.total() != 0 {
		return fmt.Errorf("%w: order is not free", domain.ErrActionNotAllowed)
	}

	client := h.client
	copies := h.view.CopyCount
	admitted := h.guarded(h.payToken, TIMEOUT_BACKEND, func(ctx context.Context) func() {
		_, err := client.ConfirmFree(ctx, copies)
		return func() {
			h.view.PayBusy = false
			if err != nil {
				h.logger.WithError(err).Warn("free session confirmation failed")
				h.view.PaymentError = inlineError(err, MSG_FREE_FAILED)
				return
			}
			if h.machine.State() == domain.StatePayment {
				h.paid = true
				h.machine.SetState(domain.StateFrame)
			}
		}
	})
	if admitted {
		h.view.PayBusy = true
		h.view.PaymentError = ""
	}
	return nil
}

// inlineError prefers the server's own message for the guest
func inlineError(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
