package handler

import "time"

// Guest facing messages
const (
	MSG_REVIEW_FAILED = "We couldn't save your order. Please try again."

	MSG_PROMO_EMPTY   = "Please enter a promo code."
	MSG_PROMO_INVALID = "This promo code is not valid."
	MSG_PROMO_FAILED  = "We couldn't check this promo code. Please try again."

	MSG_PAYMENT_FAILED      = "Payment could not be started. Please try again."
	MSG_PAYMENT_UNAVAILABLE = "Payment is unavailable right now. Please call our staff."
	MSG_FREE_FAILED         = "We couldn't confirm your free session. Please try again."

	MSG_FRAME_SAVE_FAILED = "We couldn't save your frame choice. Please try again."

	MSG_CAMERA_UNAVAILABLE = "Camera is not available. Tap retry or call our staff."
	MSG_CAPTURE_FAILED     = "Taking the photo failed. Please try again."

	MSG_PREVIEW_SELECT = "Tap a photo to see it in your frame."
	MSG_MERGE_FAILED   = "We couldn't prepare your photo. Tap it to try again."

	MSG_PRINT_NOT_CONNECTED = "Printer is not connected. Please call our staff for your prints."
	MSG_PRINT_FAILED        = "Printing failed. Please call our staff for your prints."

	MSG_UPLOAD_FAILED = "Your photos could not be saved online. Scan the code later or ask our staff."

	MSG_PRINTER_CONNECTED      = "Printer connected (%s)."
	MSG_PRINTER_CONNECT_FAILED = "Printer connection failed: %v"
	MSG_PRINTER_DISCONNECTED   = "Printer disconnected."
)

// Operator messages
const (
	MSG_OPERATOR_STATUS = "📸 Kiosk status\n\n" +
		"State: %s\n" +
		"Session: %s\n" +
		"Printer: %s\n" +
		"Camera: %s\n"

	MSG_OPERATOR_SUMMARY_HEADER = "\nLast 24h:\n"
	MSG_OPERATOR_SUMMARY_LINE   = "• %s: %d\n"
	MSG_OPERATOR_RECENT_HEADER  = "\nRecent:\n"
	MSG_OPERATOR_RECENT_LINE    = "• %s %s %s\n"
	MSG_OPERATOR_RESET          = "🔄 Kiosk reset to idle."
	MSG_OPERATOR_UNKNOWN        = "Commands: /status, /reset"

	MSG_ALERT_PRINT_FAILED   = "🖨️ Print failed for session %s: %v"
	MSG_ALERT_CAMERA_FAILED  = "📷 Camera unavailable: %v"
	MSG_ALERT_UPLOAD_FAILED  = "☁️ Upload failed for session %s: %v"
	MSG_ALERT_BACKEND_CONFIG = "⚠️ Backend configuration error: %v"
)

// Timeout constants
const (
	TIMEOUT_BACKEND         = 30 * time.Second
	TIMEOUT_UPLOAD          = 90 * time.Second
	TIMEOUT_MERGE           = 20 * time.Second
	TIMEOUT_PRINT           = 2 * time.Minute
	TIMEOUT_CAMERA          = 15 * time.Second
	TIMEOUT_PRINTER_CONNECT = 30 * time.Second
	TIMEOUT_OPERATOR        = 10 * time.Second
)

// OPERATOR_RECENT_ENTRIES is how many journal entries /status lists
const OPERATOR_RECENT_ENTRIES = 5
