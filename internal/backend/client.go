// Package backend is the HTTP client for the kiosk session endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"photobooth-kiosk/internal/domain"
	"strings"
	"time"
)

const (
	HeaderCSRF       = "X-CSRF-TOKEN"
	SessionParameter = "{session}"
	DefaultTimeout   = 30 * time.Second

	genericFailure = "request failed"
)

var (
	ErrIncompatibleBackend = errors.New("incompatible backend: payment response carries snap_token")
	ErrEndpointMissing     = errors.New("endpoint not configured")
)

// APIError is a non-2xx response or a 2xx one with "success": false
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Endpoints are the server-injected URLs. Any of them may contain {session}.
type Endpoints struct {
	SaveFrame       string `yaml:"save_frame" validate:"required"`
	UpdateSession   string `yaml:"update_session" validate:"required"`
	SaveMedia       string `yaml:"save_media" validate:"required"`
	CreatePayment   string `yaml:"create_payment"`
	ValidateVoucher string `yaml:"validate_voucher"`
	ApplyVoucher    string `yaml:"apply_voucher"`
	ConfirmFree     string `yaml:"confirm_free"`
}

type Client struct {
	endpoints Endpoints
	csrfToken string
	session   string
	http      *http.Client
	logger    domain.Logger
}

func NewClient(endpoints Endpoints, csrfToken string, httpClient *http.Client, logger domain.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		endpoints: endpoints,
		csrfToken: csrfToken,
		http:      httpClient,
		logger:    logger,
	}
}

// WithSession returns a client whose endpoints resolve {session} to id.
func (c *Client) WithSession(id string) *Client {
	cp := *c
	cp.session = id
	return &cp
}

func (c *Client) Session() string {
	return c.session
}

type SaveFrameResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (c *Client) SaveFrame(ctx context.Context, frameID int) (*SaveFrameResponse, error) {
	var out SaveFrameResponse
	body := map[string]any{"frame_id": frameID}
	if err := c.do(ctx, http.MethodPost, "save frame", c.endpoints.SaveFrame, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type UpdateSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UpdateSession sends an arbitrary patch, e.g. {"status": "completed"}.
func (c *Client) UpdateSession(ctx context.Context, patch map[string]any) (*UpdateSessionResponse, error) {
	var out UpdateSessionResponse
	if err := c.do(ctx, http.MethodPatch, "update session", c.endpoints.UpdateSession, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

const (
	MediaStrip = "strip"
	MediaImage = "image"
)

type SaveMediaResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// SaveMedia uploads a data URL. index is set for captured photos only.
func (c *Client) SaveMedia(ctx context.Context, mediaType, data string, index *int) (*SaveMediaResponse, error) {
	body := map[string]any{"type": mediaType, "data": data}
	if index != nil {
		body["index"] = *index
	}

	var out SaveMediaResponse
	if err := c.do(ctx, http.MethodPost, "save media", c.endpoints.SaveMedia, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type PaymentResponse struct {
	RedirectURL string `json:"redirect_url,omitempty"`
	Message     string `json:"message,omitempty"`
	SnapToken   string `json:"snap_token,omitempty"`
}

func (c *Client) CreatePayment(ctx context.Context, copies int, voucherCode string) (*PaymentResponse, error) {
	body := map[string]any{"copy_count": copies}
	if voucherCode != "" {
		body["voucher_code"] = voucherCode
	}

	var out PaymentResponse
	if err := c.do(ctx, http.MethodPost, "create payment", c.endpoints.CreatePayment, body, &out); err != nil {
		return nil, err
	}
	if out.SnapToken != "" {
		return nil, ErrIncompatibleBackend
	}
	if out.RedirectURL == "" {
		msg := out.Message
		if msg == "" {
			msg = "payment redirect missing"
		}
		return nil, fmt.Errorf("create payment: %s", msg)
	}
	return &out, nil
}

type VoucherResponse struct {
	Valid               bool     `json:"valid"`
	AmountAfterDiscount *float64 `json:"amount_after_discount,omitempty"`
	Message             string   `json:"message,omitempty"`
}

// Free reports whether the voucher brings the order total to zero.
func (v *VoucherResponse) Free() bool {
	return v.Valid && v.AmountAfterDiscount != nil && *v.AmountAfterDiscount <= 0
}

func (c *Client) ValidateVoucher(ctx context.Context, code string, copies int) (*VoucherResponse, error) {
	var out VoucherResponse
	body := map[string]any{"code": code, "copy_count": copies}
	if err := c.do(ctx, http.MethodPost, "validate voucher", c.endpoints.ValidateVoucher, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (c *Client) ApplyVoucher(ctx context.Context, code string, copies int) (*ResultResponse, error) {
	var out ResultResponse
	body := map[string]any{"code": code, "copy_count": copies}
	if err := c.do(ctx, http.MethodPost, "apply voucher", c.endpoints.ApplyVoucher, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmFree(ctx context.Context, copies int) (*ResultResponse, error) {
	var out ResultResponse
	body := map[string]any{"copy_count": copies}
	if err := c.do(ctx, http.MethodPost, "confirm free", c.endpoints.ConfirmFree, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) resolve(endpoint string) string {
	return strings.ReplaceAll(endpoint, SessionParameter, c.session)
}

// do sends body as JSON and decodes a JSON response into out. No retries.
func (c *Client) do(ctx context.Context, method, op, endpoint string, body, out any) error {
	if endpoint == "" {
		return fmt.Errorf("%s: %w", op, ErrEndpointMissing)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderCSRF, c.csrfToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	c.logger.WithFields(map[string]any{
		"op":       op,
		"status":   resp.StatusCode,
		"session":  c.session,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: serverMessage(raw)}
	}

	if refused(raw) {
		return &APIError{Status: resp.StatusCode, Message: serverMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// refused reports a 2xx body carrying "success": false
func refused(raw []byte) bool {
	var body struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	return body.Success != nil && !*body.Success
}

// serverMessage extracts "message" or "error" from a JSON body.
func serverMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return genericFailure
}
