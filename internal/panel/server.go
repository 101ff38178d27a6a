// Package panel serves the local HTTP API used by the kiosk touch screen.
//
// The panel never calls the kiosk directly. Actions are published on the
// event bus and the latest screen is cached from screen update events.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"photobooth-kiosk/internal/domain"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gookit/event"
)

var ShutdownTimeout = 2 * time.Second

const maxActionBody = 1 << 20

// QRCoder renders result links as PNG images
type QRCoder interface {
	PNG(url string) ([]byte, error)
}

type Server struct {
	Addr   string
	ln     net.Listener
	server *http.Server
	router *chi.Mux

	eventManager *event.Manager
	qr           QRCoder
	logger       domain.Logger

	mu   sync.RWMutex
	view *domain.ScreenView
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the panel server and subscribes it to screen updates
func NewServer(addr string, eventManager *event.Manager, qr QRCoder, logger domain.Logger) *Server {
	s := &Server{
		Addr:         addr,
		router:       chi.NewRouter(),
		eventManager: eventManager,
		qr:           qr,
		logger:       logger,
		server: &http.Server{
			MaxHeaderBytes:    1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	})
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/screen", s.handleScreen)
		r.Post("/actions/{action}", s.handleAction)
		r.Get("/result/qr.png", s.handleResultQR)
	})

	s.server.Handler = s.router

	eventManager.On("panel.screen.update", event.ListenerFunc(func(e event.Event) error {
		view, ok := e.Get("view").(*domain.ScreenView)
		if !ok {
			return fmt.Errorf("invalid screen update event")
		}
		s.mu.Lock()
		s.view = view
		s.mu.Unlock()
		return nil
	}))

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	var err error
	if s.ln, err = net.Listen("tcp", s.Addr); err != nil {
		return err
	}
	go func() {
		if err := s.server.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("panel server stopped")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.ln == nil {
		return fmt.Errorf("panel server has not been started or is already stopped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown panel server: %w", err)
	}
	s.ln = nil
	return nil
}

func (s *Server) current() (domain.ScreenView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil {
		return domain.ScreenView{}, false
	}
	return *s.view, true
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	view, ok := s.current()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "kiosk not ready"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")

	params := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
			return
		}
	}

	err, _ = s.eventManager.Fire("panel.action.received", event.M{
		"event": &domain.ActionEvent{
			Context: r.Context(),
			Name:    name,
			Params:  params,
		},
	})
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	s.handleScreen(w, r)
}

func (s *Server) handleResultQR(w http.ResponseWriter, r *http.Request) {
	view, ok := s.current()
	if !ok || view.ResultURL == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no result available"})
		return
	}

	png, err := s.qr.PNG(view.ResultURL)
	if err != nil {
		s.logger.WithError(err).Error("failed to render result qr code")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to render qr code"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrActionNotAllowed):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger reports each request through the observability logger when available
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if obs, ok := s.logger.(domain.Observability); ok {
			obs.API(r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start))
			return
		}
		s.logger.WithFields(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": ww.Status(),
		}).Debug("panel request")
	})
}
