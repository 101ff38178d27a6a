package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"photobooth-kiosk/internal/logger"
	"testing"
)

type recorded struct {
	method string
	path   string
	csrf   string
	accept string
	body   map[string]any
}

func newServer(t *testing.T, status int, response string, got *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.csrf = r.Header.Get(HeaderCSRF)
		got.accept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func endpoints(base string) Endpoints {
	return Endpoints{
		SaveFrame:       base + "/sessions/{session}/frame",
		UpdateSession:   base + "/sessions/{session}",
		SaveMedia:       base + "/sessions/{session}/media",
		CreatePayment:   base + "/sessions/{session}/payment",
		ValidateVoucher: base + "/vouchers/validate",
		ApplyVoucher:    base + "/sessions/{session}/voucher",
		ConfirmFree:     base + "/sessions/{session}/free",
	}
}

func TestSaveFrameSendsHeaders(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusOK, `{"success":true}`, &got)
	c := NewClient(endpoints(srv.URL), "csrf-123", srv.Client(), logger.NewNop()).WithSession("abc")

	resp, err := c.SaveFrame(context.Background(), 7)
	if err != nil {
		t.Fatalf("save frame: %v", err)
	}
	if !resp.Success {
		t.Fatal("success = false")
	}
	if got.method != http.MethodPost || got.path != "/sessions/abc/frame" {
		t.Fatalf("%s %s", got.method, got.path)
	}
	if got.csrf != "csrf-123" || got.accept != "application/json" {
		t.Fatalf("csrf=%q accept=%q", got.csrf, got.accept)
	}
	if got.body["frame_id"] != float64(7) {
		t.Fatalf("body = %v", got.body)
	}
}

func TestUpdateSessionUsesPatch(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusOK, `{"success":true}`, &got)
	c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop()).WithSession("s1")

	if _, err := c.UpdateSession(context.Background(), map[string]any{"status": "completed"}); err != nil {
		t.Fatal(err)
	}
	if got.method != http.MethodPatch || got.body["status"] != "completed" {
		t.Fatalf("%s %v", got.method, got.body)
	}
}

func TestSaveMediaIndex(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusOK, `{"success":true,"url":"https://cdn/x.png"}`, &got)
	c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

	resp, err := c.SaveMedia(context.Background(), MediaStrip, "data:image/png;base64,AA==", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.URL != "https://cdn/x.png" {
		t.Fatalf("url = %q", resp.URL)
	}
	if _, ok := got.body["index"]; ok {
		t.Fatal("strip upload must not carry an index")
	}

	idx := 0
	if _, err := c.SaveMedia(context.Background(), MediaImage, "data:x", &idx); err != nil {
		t.Fatal(err)
	}
	if got.body["index"] != float64(0) || got.body["type"] != "image" {
		t.Fatalf("body = %v", got.body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server message", http.StatusUnprocessableEntity, `{"message":"frame is inactive"}`, "frame is inactive"},
		{"error field", http.StatusBadRequest, `{"error":"bad copy count"}`, "bad copy count"},
		{"html body", http.StatusInternalServerError, `<html>oops</html>`, genericFailure},
		{"empty body", http.StatusBadGateway, ``, genericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got recorded
			srv := newServer(t, tt.status, tt.body, &got)
			c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

			_, err := c.SaveFrame(context.Background(), 1)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("want *APIError, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Message != tt.wantMsg {
				t.Fatalf("got %d %q", apiErr.Status, apiErr.Message)
			}
		})
	}
}

func TestRefusedSuccessBody(t *testing.T) {
	calls := []struct {
		name string
		call func(c *Client) error
	}{
		{"apply voucher", func(c *Client) error { _, err := c.ApplyVoucher(context.Background(), "USED", 1); return err }},
		{"confirm free", func(c *Client) error { _, err := c.ConfirmFree(context.Background(), 1); return err }},
		{"save frame", func(c *Client) error { _, err := c.SaveFrame(context.Background(), 3); return err }},
		{"update session", func(c *Client) error {
			_, err := c.UpdateSession(context.Background(), map[string]any{"status": "completed"})
			return err
		}},
	}
	for _, tt := range calls {
		t.Run(tt.name, func(t *testing.T) {
			var got recorded
			srv := newServer(t, http.StatusOK, `{"success":false,"message":"voucher already used"}`, &got)
			c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

			var apiErr *APIError
			if err := tt.call(c); !errors.As(err, &apiErr) {
				t.Fatalf("want *APIError, got %v", err)
			}
			if apiErr.Status != http.StatusOK || apiErr.Message != "voucher already used" {
				t.Fatalf("got %d %q", apiErr.Status, apiErr.Message)
			}
		})
	}

	t.Run("without message", func(t *testing.T) {
		var got recorded
		srv := newServer(t, http.StatusOK, `{"success":false}`, &got)
		c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

		_, err := c.ConfirmFree(context.Background(), 1)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != genericFailure {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("success omitted", func(t *testing.T) {
		var got recorded
		srv := newServer(t, http.StatusOK, `{"valid":false,"message":"expired"}`, &got)
		c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

		resp, err := c.ValidateVoucher(context.Background(), "OLD", 1)
		if err != nil || resp.Valid || resp.Message != "expired" {
			t.Fatalf("resp=%+v err=%v", resp, err)
		}
	})
}

func TestCreatePayment(t *testing.T) {
	t.Run("redirect", func(t *testing.T) {
		var got recorded
		srv := newServer(t, http.StatusOK, `{"redirect_url":"https://pay/123"}`, &got)
		c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

		resp, err := c.CreatePayment(context.Background(), 2, "")
		if err != nil || resp.RedirectURL != "https://pay/123" {
			t.Fatalf("resp=%v err=%v", resp, err)
		}
		if _, ok := got.body["voucher_code"]; ok {
			t.Fatal("empty voucher code sent")
		}
	})

	t.Run("snap token", func(t *testing.T) {
		var got recorded
		srv := newServer(t, http.StatusOK, `{"snap_token":"abc"}`, &got)
		c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

		if _, err := c.CreatePayment(context.Background(), 1, "X"); !errors.Is(err, ErrIncompatibleBackend) {
			t.Fatalf("want ErrIncompatibleBackend, got %v", err)
		}
	})

	t.Run("missing redirect", func(t *testing.T) {
		var got recorded
		srv := newServer(t, http.StatusOK, `{"message":"gateway down"}`, &got)
		c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

		if _, err := c.CreatePayment(context.Background(), 1, ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestValidateVoucherFree(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusOK, `{"valid":true,"amount_after_discount":0}`, &got)
	c := NewClient(endpoints(srv.URL), "t", srv.Client(), logger.NewNop())

	resp, err := c.ValidateVoucher(context.Background(), "FREE100", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Free() {
		t.Fatalf("voucher %+v not free", resp)
	}
	if got.body["code"] != "FREE100" || got.body["copy_count"] != float64(2) {
		t.Fatalf("body = %v", got.body)
	}

	partial := VoucherResponse{Valid: true}
	if partial.Free() {
		t.Fatal("voucher without amount reported free")
	}
}

func TestMissingEndpoint(t *testing.T) {
	c := NewClient(Endpoints{}, "t", nil, logger.NewNop())
	if _, err := c.ConfirmFree(context.Background(), 1); !errors.Is(err, ErrEndpointMissing) {
		t.Fatalf("want ErrEndpointMissing, got %v", err)
	}
}
