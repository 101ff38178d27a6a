package handler

import (
	"context"
	"errors"
	"fmt"
	"photobooth-kiosk/internal/backend"
	"photobooth-kiosk/internal/camera"
	"photobooth-kiosk/internal/compositor"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/eventloop"
	"photobooth-kiosk/internal/fsm"
	"photobooth-kiosk/internal/guard"
	"photobooth-kiosk/internal/printer"
	"photobooth-kiosk/internal/services"
	"time"

	"github.com/gookit/event"
)

// Settings are the kiosk behaviour knobs taken from configuration
type Settings struct {
	InitialState      domain.KioskState
	Frames            []domain.Frame
	Mirror            bool
	MirrorDebounce    time.Duration
	ResultIdleTimeout time.Duration
	USBVendorID       uint16
	Capture           camera.Options
}

type Dependencies struct {
	Loop         *eventloop.Loop
	EventManager *event.Manager
	Backend      *backend.Client
	Pricing      *services.Pricing
	Sessions     *services.SessionService
	Journal      *services.JournalService
	QR           *services.QRService
	Compositor   *compositor.Compositor
	Printer      *printer.Driver
	Camera       camera.Source
	Logger       domain.Logger
}

// KioskHandler drives the guest flow. All of its state is owned by the event
// loop goroutine; work that blocks runs elsewhere and posts results back.
type KioskHandler struct {
	deps      Dependencies
	settings  Settings
	logger    domain.Logger
	presenter *Presenter
	loop      *eventloop.Loop
	machine   *fsm.Machine
	ctx       context.Context

	view    domain.ScreenView
	client  *backend.Client
	session string

	promoReturn domain.KioskState
	voucherCode string
	discount    *int64
	paid        bool

	frame    *domain.Frame
	camera   *camera.Controller
	photos   []string
	merged   string
	pending  bool
	uploaded map[string]string

	resultTimer *time.Timer
	resultGen   uint64

	countdown   *guard.Token
	reviewToken *guard.Token
	promoToken  *guard.Token
	payToken    *guard.Token
	frameToken  *guard.Token
	mergeToken  *guard.Token
	printToken  *guard.Token
	mirror      *guard.Debouncer
}

// NewKioskHandler creates the kiosk orchestrator. Start must be called before use.
func NewKioskHandler(deps Dependencies, settings Settings) *KioskHandler {
	if settings.MirrorDebounce <= 0 {
		settings.MirrorDebounce = 800 * time.Millisecond
	}

	h := &KioskHandler{
		deps:        deps,
		settings:    settings,
		logger:      deps.Logger,
		presenter:   NewPresenter(deps.EventManager),
		loop:        deps.Loop,
		ctx:         context.Background(),
		client:      deps.Backend,
		uploaded:    make(map[string]string),
		countdown:   guard.NewToken("countdown", 0),
		reviewToken: guard.NewToken("review", 0),
		promoToken:  guard.NewToken("promo", 0),
		payToken:    guard.NewToken("payment", 0),
		frameToken:  guard.NewToken("frame", 0),
		mergeToken:  guard.NewToken("merge", 0),
		printToken:  guard.NewToken("print", 0),
		mirror:      guard.NewDebouncer(settings.MirrorDebounce),
	}

	h.machine = fsm.New(settings.InitialState, map[domain.KioskState]fsm.Handler{
		domain.StateIdle:        h.enterIdle,
		domain.StateReviewOrder: h.enterReviewOrder,
		domain.StatePromoCode:   h.enterPromoCode,
		domain.StatePayment:     h.enterPayment,
		domain.StateFrame:       h.enterFrame,
		domain.StateCapture:     h.enterCapture,
		domain.StatePreview:     h.enterPreview,
		domain.StatePrint:       h.enterPrint,
		domain.StateResult:      h.enterResult,
		domain.StateReset:       h.enterReset,
	})

	// screen visibility first, before any entry action
	h.machine.Subscribe(func(next, prev domain.KioskState) {
		h.view.State = next
		h.render()
	})
	h.machine.Subscribe(func(next, prev domain.KioskState) {
		h.logger.WithFields(map[string]any{
			"from":    prev,
			"to":      next,
			"session": h.session,
		}).Debug("kiosk state changed")
	})

	return h
}

// Start binds the handler to ctx, registers listeners and publishes the first screen
func (h *KioskHandler) Start(ctx context.Context) error {
	h.ctx = ctx
	h.RegisterEventListeners()

	return h.loop.Do(ctx, func() error {
		h.resetView()
		state := h.machine.State()
		h.view.State = state
		if state != domain.StateIdle {
			h.startSession()
			h.enter(state)
		}
		h.render()
		return nil
	})
}

// enter runs the entry action for a non-idle initial state
func (h *KioskHandler) enter(state domain.KioskState) {
	switch state {
	case domain.StateReviewOrder:
		h.enterReviewOrder(state, domain.StateIdle)
	case domain.StatePayment:
		h.enterPayment(state, domain.StateReviewOrder)
	}
}

// Shutdown resets the kiosk, releasing the camera and pending timers
func (h *KioskHandler) Shutdown(ctx context.Context) error {
	return h.loop.Do(ctx, func() error {
		h.machine.SetState(domain.StateReset)
		return nil
	})
}

// RegisterEventListeners registers listeners for panel actions and operator commands
func (h *KioskHandler) RegisterEventListeners() {
	h.deps.EventManager.On("panel.action.received", event.ListenerFunc(func(e event.Event) error {
		action, ok := e.Get("event").(*domain.ActionEvent)
		if !ok {
			return fmt.Errorf("invalid panel action event")
		}
		return h.Dispatch(action)
	}))

	h.deps.EventManager.On("operator.command.received", event.ListenerFunc(func(e event.Event) error {
		cmd, ok := e.Get("event").(*domain.OperatorCommand)
		if !ok {
			return fmt.Errorf("invalid operator command event")
		}
		return h.HandleOperatorCommand(cmd)
	}))
}

// Dispatch runs action on the event loop and waits until it has been applied
func (h *KioskHandler) Dispatch(action *domain.ActionEvent) error {
	ctx := action.Context
	if ctx == nil {
		ctx = h.ctx
	}

	return h.loop.Do(ctx, func() error {
		err := h.apply(action.Name, action.Params)
		h.render()
		if err != nil && !errors.Is(err, domain.ErrUnknownAction) {
			h.logger.WithError(err).WithFields(map[string]any{
				"action": action.Name,
				"state":  h.machine.State(),
			}).Debug("action rejected")
		}
		return err
	})
}

// Snapshot returns a copy of the current screen
func (h *KioskHandler) Snapshot(ctx context.Context) (domain.ScreenView, error) {
	var view domain.ScreenView
	err := h.loop.Do(ctx, func() error {
		view = h.view
		view.Screen = fsm.DeriveVisibleScreen(view.State)
		view.Photos = append([]string(nil), view.Photos...)
		view.Printer = h.deps.Printer.Status()
		return nil
	})
	return view, err
}

func (h *KioskHandler) apply(name string, params map[string]any) error {
	switch name {
	case "start":
		return h.handleStart()
	case "select_copies":
		return h.handleSelectCopies(params)
	case "review_continue":
		return h.handleReviewContinue()
	case "open_promo":
		return h.handleOpenPromo()
	case "apply_promo":
		return h.handleApplyPromo(params)
	case "close_promo":
		return h.handleClosePromo()
	case "pay":
		return h.handlePay()
	case "payment_confirmed":
		return h.handlePaymentConfirmed()
	case "confirm_free":
		return h.handleConfirmFree()
	case "select_frame":
		return h.handleSelectFrame(params)
	case "camera_retry":
		return h.handleCameraRetry()
	case "capture_start":
		return h.handleCaptureStart()
	case "retake":
		return h.handleRetake(params)
	case "capture_continue":
		return h.handleCaptureContinue()
	case "select_photo":
		return h.handleSelectPhoto(params)
	case "toggle_mirror":
		return h.handleToggleMirror()
	case "preview_continue":
		return h.handlePreviewContinue()
	case "print":
		return h.handleLegacyPrint()
	case "finish":
		return h.handleFinish()
	case "reset":
		return h.handleReset()
	case "back":
		return h.handleBack()
	case "printer_connect_usb":
		return h.handlePrinterConnectUSB(params)
	case "printer_connect_ble":
		return h.handlePrinterConnectBLE()
	case "printer_disconnect":
		return h.handlePrinterDisconnect()
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownAction, name)
	}
}

// requireState fails unless the machine is in one of states
func (h *KioskHandler) requireState(states ...domain.KioskState) error {
	current := h.machine.State()
	for _, s := range states {
		if s == current {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrActionNotAllowed, current)
}

func (h *KioskHandler) render() {
	h.view.Printer = h.deps.Printer.Status()
	h.presenter.Render(h.view)
}

// resetView returns the screen to its idle baseline
func (h *KioskHandler) resetView() {
	minCopies := h.deps.Pricing.MinCopies()
	h.view = domain.ScreenView{
		State:           h.machine.State(),
		CopyCount:       minCopies,
		CopyOptions:     h.deps.Pricing.Options(),
		TotalLabel:      h.deps.Pricing.TotalLabel(minCopies),
		ContinueEnabled: true,
		Frames:          h.activeFrames(),
		TargetPhotos:    h.targetPhotos(),
		Mirror:          h.settings.Mirror,
	}
}

func (h *KioskHandler) targetPhotos() int {
	if h.settings.Capture.TargetPhotos > 0 {
		return h.settings.Capture.TargetPhotos
	}
	return 1
}

func (h *KioskHandler) activeFrames() []domain.Frame {
	out := make([]domain.Frame, 0, len(h.settings.Frames))
	for _, f := range h.settings.Frames {
		if f.IsActive {
			out = append(out, f)
		}
	}
	return out
}

// startSession opens a new guest session with a fresh id
func (h *KioskHandler) startSession() {
	s := h.deps.Sessions.Start()
	h.session = s.ID
	h.client = h.deps.Backend.WithSession(s.ID)
	h.view.SessionID = s.ID
	h.uploaded = make(map[string]string)
	h.record(services.JournalSessionStarted, nil)

	h.logger.WithField("session", s.ID).Info("guest session started")
}

// async runs work off the loop. The closure it returns is applied on the
// loop unless the session changed in the meantime. release always runs on
// the loop first.
func (h *KioskHandler) async(op string, timeout time.Duration, release func(), work func(ctx context.Context) func()) {
	gen := h.deps.Sessions.Generation()

	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, timeout)
		defer cancel()

		apply := work(ctx)

		posted := h.loop.Post(func() {
			if release != nil {
				release()
			}
			if h.deps.Sessions.Generation() != gen {
				h.logger.WithField("op", op).Debug("stale result ignored")
				return
			}
			if apply != nil {
				apply()
			}
			h.render()
		})
		if !posted && release != nil {
			release()
		}
	}()
}

// guarded is async behind token. It reports false when a run is already in flight.
func (h *KioskHandler) guarded(token *guard.Token, timeout time.Duration, work func(ctx context.Context) func()) bool {
	ticket, ok := token.Begin()
	if !ok {
		return false
	}
	h.async(token.Name(), timeout, func() { token.End(ticket) }, work)
	return true
}

// post applies fn on the loop if the session is unchanged
func (h *KioskHandler) post(gen uint64, fn func()) {
	h.loop.Post(func() {
		if h.deps.Sessions.Generation() != gen {
			return
		}
		fn()
		h.render()
	})
}

// record queues a journal entry for the current session
func (h *KioskHandler) record(kind string, detail map[string]any) {
	h.deps.Journal.Record(h.session, kind, detail)
}

func (h *KioskHandler) observe() (domain.Observability, bool) {
	obs, ok := h.logger.(domain.Observability)
	return obs, ok
}

func intParam(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidParams, key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidParams, key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidParams, key)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", domain.ErrInvalidParams, key)
	}
	return s, nil
}
