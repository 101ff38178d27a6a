package domain

import (
	"context"
	"errors"
	"time"
)

// Kiosk states
type KioskState string

const (
	StateIdle        KioskState = "IDLE"
	StateReviewOrder KioskState = "REVIEW_ORDER"
	StatePromoCode   KioskState = "PROMO_CODE"
	StatePayment     KioskState = "PAYMENT"
	StateFrame       KioskState = "FRAME"
	StateCapture     KioskState = "CAPTURE"
	StatePreview     KioskState = "PREVIEW"
	StatePrint       KioskState = "PRINT"
	StateResult      KioskState = "RESULT"
	StateReset       KioskState = "RESET"
)

// Session status values sent to the backend
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// Printer connection types
type ConnectionType string

const (
	ConnectionNone      ConnectionType = "none"
	ConnectionUSB       ConnectionType = "usb"
	ConnectionBluetooth ConnectionType = "bluetooth"
)

var (
	ErrUnknownAction    = errors.New("unknown action")
	ErrInvalidParams    = errors.New("invalid action parameters")
	ErrActionNotAllowed = errors.New("action not allowed in current state")
)

// PhotoSlot is expressed in template pixels. X and Y are the slot center.
type PhotoSlot struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width" validate:"gt=0"`
	Height float64 `yaml:"height" json:"height" validate:"gt=0"`
}

// Rect is a top-left based rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Frame template
type Frame struct {
	ID              int         `yaml:"id" json:"id" validate:"required"`
	Name            string      `yaml:"name" json:"name" validate:"required"`
	PreviewImageURL string      `yaml:"preview_image_url" json:"preview_image_url"`
	FrameFileURL    string      `yaml:"frame_file_url" json:"frame_file_url" validate:"required"`
	PhotoSlots      []PhotoSlot `yaml:"photo_slots" json:"photo_slots" validate:"required,min=1,dive"`
	TemplateWidth   float64     `yaml:"template_width" json:"template_width"`
	TemplateHeight  float64     `yaml:"template_height" json:"template_height"`
	IsActive        bool        `yaml:"is_active" json:"is_active"`
}

// CopyPriceOptions maps a copy count to the total price for that count.
type CopyPriceOptions map[int]int64

type CopyOption struct {
	Copies int    `json:"copies"`
	Price  int64  `json:"price"`
	Label  string `json:"label"`
}

// Kiosk session, local cache of the server-side record
type KioskSession struct {
	ID          string
	FrameID     int
	CopyCount   int
	VoucherCode string
	Status      SessionStatus
	MediaURLs   map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Events
type ActionEvent struct {
	Context context.Context
	Name    string
	Params  map[string]any
}

type OperatorCommand struct {
	ChatID  int64
	Command string
}

type Alert struct {
	Level   string
	Message string
}

type OperatorReply struct {
	ChatID int64
	Text   string
}

type PrinterStatus struct {
	Connected bool           `json:"connected"`
	Type      ConnectionType `json:"type"`
}

// ScreenView is everything the touch UI renders for the current screen.
type ScreenView struct {
	State  KioskState `json:"state"`
	Screen string     `json:"screen"`

	SessionID       string       `json:"session_id,omitempty"`
	CopyCount       int          `json:"copy_count"`
	CopyOptions     []CopyOption `json:"copy_options"`
	TotalLabel      string       `json:"total_label"`
	ContinueEnabled bool         `json:"continue_enabled"`
	PaymentError    string       `json:"payment_error,omitempty"`
	ShowPayCard     bool         `json:"show_pay_card"`
	PayBusy         bool         `json:"pay_busy"`
	RedirectURL     string       `json:"redirect_url,omitempty"`

	PromoCode  string `json:"promo_code"`
	PromoError string `json:"promo_error,omitempty"`
	PromoFocus bool   `json:"promo_focus"`
	PromoBusy  bool   `json:"promo_busy"`

	Frames          []Frame `json:"frames,omitempty"`
	SelectedFrameID int     `json:"selected_frame_id,omitempty"`
	FrameError      string  `json:"frame_error,omitempty"`

	CameraReady     bool     `json:"camera_ready"`
	CameraError     string   `json:"camera_error,omitempty"`
	Countdown       int      `json:"countdown"`
	Capturing       bool     `json:"capturing"`
	CaptureOverlay  *Rect    `json:"capture_overlay,omitempty"`
	Photos          []string `json:"photos,omitempty"`
	TargetPhotos    int      `json:"target_photos"`
	CaptureComplete bool     `json:"capture_complete"`

	SelectedPhoto  int    `json:"selected_photo"`
	Mirror         bool   `json:"mirror"`
	FramePreview   string `json:"frame_preview,omitempty"`
	MergedImage    string `json:"merged_image,omitempty"`
	PreviewMessage string `json:"preview_message,omitempty"`
	PrintEnabled   bool   `json:"print_enabled"`
	Printing       bool   `json:"printing"`

	PrintError  string `json:"print_error,omitempty"`
	UploadError string `json:"upload_error,omitempty"`
	ResultURL   string `json:"result_url,omitempty"`
	QRCode      string `json:"qr_code,omitempty"`

	Notice  string        `json:"notice,omitempty"`
	Printer PrinterStatus `json:"printer"`
}
