package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"photobooth-kiosk/internal/backend"
	"photobooth-kiosk/internal/camera"
	"photobooth-kiosk/internal/compositor"
	"photobooth-kiosk/internal/config"
	"photobooth-kiosk/internal/database"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/eventloop"
	"photobooth-kiosk/internal/handler"
	"photobooth-kiosk/internal/imaging"
	"photobooth-kiosk/internal/logger"
	"photobooth-kiosk/internal/panel"
	"photobooth-kiosk/internal/printer"
	"photobooth-kiosk/internal/repository"
	"photobooth-kiosk/internal/services"
	"photobooth-kiosk/internal/telegram"

	"github.com/gookit/event"
	"github.com/joho/godotenv"
)

type Application struct {
	logger       *logger.ZLogXAdapter
	db           database.DB
	config       *config.Config
	services     *Services
	devices      *Devices
	handlers     *Handlers
	eventManager *event.Manager
	loop         *eventloop.Loop
	panel        *panel.Server
}

type Services struct {
	Session *services.SessionService
	Pricing *services.Pricing
	Journal *services.JournalService
	QR      *services.QRService
}

type Devices struct {
	USB     *printer.GoUSBBus
	Printer *printer.Driver
	Camera  *camera.GstSource
}

type Handlers struct {
	Kiosk *handler.KioskHandler
}

// main initializes and runs the kiosk orchestrator
func main() {
	app, err := NewApplication()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Close()

	if err := app.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// NewApplication creates a new application instance with all dependencies
func NewApplication() (*Application, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load(getEnv("KIOSK_CONFIG", config.DefaultPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := initializeDatabase(cfg.JournalDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal database: %w", err)
	}

	eventManager := event.NewManager("app")
	loop := eventloop.New(256, logger)

	services, err := initializeServices(cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	devices := initializeDevices(cfg, logger)
	handlers := initializeHandlers(cfg, services, devices, loop, eventManager, logger)

	app := &Application{
		config:       cfg,
		logger:       logger,
		db:           db,
		services:     services,
		devices:      devices,
		handlers:     handlers,
		eventManager: eventManager,
		loop:         loop,
		panel:        panel.NewServer(cfg.PanelAddr, eventManager, services.QR, logger),
	}

	return app, nil
}

// Run starts the application and handles graceful shutdown
func (app *Application) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// the loop outlives ctx so shutdown can still reset the kiosk
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.loop.Run(loopCtx); err != nil {
			app.logger.WithError(err).Error("event loop stopped")
		}
	}()

	if err := app.handlers.Kiosk.Start(ctx); err != nil {
		return fmt.Errorf("failed to start kiosk: %w", err)
	}

	if err := app.panel.Start(); err != nil {
		return fmt.Errorf("failed to start panel server: %w", err)
	}

	if app.config.TelegramEnabled() {
		telegramBot, err := telegram.NewTelegram(app.config.TelegramToken, app.config.TelegramChatID, app.logger, app.eventManager)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			telegramBot.Start(ctx)
		}()
	}

	app.logStartupMessages()

	<-ctx.Done()
	app.logger.Info("Shutting down kiosk")

	if err := app.panel.Stop(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.WithError(err).Warn("panel shutdown failed")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := app.handlers.Kiosk.Shutdown(shutdownCtx); err != nil {
		app.logger.WithError(err).Warn("kiosk shutdown failed")
	}
	stopLoop()
	wg.Wait()
	return nil
}

// Close performs cleanup operations
func (app *Application) Close() {
	if app.devices != nil {
		if err := app.devices.Printer.Disconnect(); err != nil {
			app.logger.WithError(err).Warn("failed to disconnect printer")
		}
		if err := app.devices.USB.Close(); err != nil {
			app.logger.WithError(err).Warn("failed to close usb context")
		}
	}
	if app.services != nil {
		app.services.Journal.Close()
	}
	if app.db != nil {
		if err := app.db.Close(context.Background()); err != nil {
			app.logger.WithError(err).Error("failed to close journal database")
		}
	}
}

// logStartupMessages displays startup information
func (app *Application) logStartupMessages() {
	app.logger.Success("Kiosk started")
	app.logger.Info("📟 Panel API listening on " + app.config.PanelAddr)
	app.logger.Infof("🖼️ %d frames, %d copy options", len(app.config.Frames), len(app.config.CopyPrices))
	if app.db != nil {
		app.logger.Info("🗄️ Journal database connected (" + string(app.db.Dialect()) + ")")
	}
	if app.config.TelegramEnabled() {
		app.logger.Info("🤖 Operator bot enabled")
	}
	app.logger.Info("✅ Ready for guests")
}

// initializeLogger creates and configures the application logger
func initializeLogger(cfg *config.Config) (*logger.ZLogXAdapter, error) {
	logConfig := &logger.Config{
		Level:          cfg.LogLevel,
		DateTimeLayout: "02/01/2006 15:04:05",
		Colored:        !cfg.LogJSON,
		JSONFormat:     cfg.LogJSON,
		UseEmoji:       true,
	}

	log, err := logger.New(logConfig)
	if err != nil {
		return nil, err
	}

	return &logger.ZLogXAdapter{ZLogX: log}, nil
}

// initializeDatabase opens the journal store, a blank dsn disables the journal
func initializeDatabase(dsn string) (database.DB, error) {
	if dsn == "" {
		return nil, nil
	}

	ctx := context.Background()
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := repository.NewJournalRepository(db).EnsureSchema(ctx); err != nil {
		db.Close(ctx)
		return nil, err
	}
	return db, nil
}

// initializeServices creates all application services with their dependencies
func initializeServices(cfg *config.Config, db database.DB, logger domain.Logger) (*Services, error) {
	pricing, err := services.NewPricing(cfg.CopyPrices)
	if err != nil {
		return nil, err
	}

	var journalRepository domain.JournalRepository
	if db != nil {
		journalRepository = repository.NewJournalRepository(db)
	}

	return &Services{
		Session: services.NewSessionService(),
		Pricing: pricing,
		Journal: services.NewJournalService(journalRepository, logger),
		QR:      services.NewQRService(cfg.Result.URLTemplate, cfg.Result.QRSize),
	}, nil
}

// initializeDevices prepares printer and camera access, nothing is opened yet
func initializeDevices(cfg *config.Config, logger domain.Logger) *Devices {
	usb := printer.NewGoUSBBus()
	ble := printer.NewTinyGoAdapter(cfg.Printer.BLENamePrefix, cfg.Printer.BLEScanTimeout)

	driver := printer.NewDriver(usb, ble, printer.Options{
		RasterWidth:          cfg.Printer.RasterWidth,
		ChunkSize:            cfg.Printer.ChunkSize,
		ChunkDelay:           cfg.Printer.ChunkDelay,
		CopyPause:            cfg.Printer.CopyPause,
		MaxWriteNoResponse:   cfg.Printer.MaxWriteNoResponse,
		SerialCharacteristic: cfg.Printer.SerialCharacteristic,
	}, logger)

	return &Devices{
		USB:     usb,
		Printer: driver,
		Camera:  camera.NewGstSource(cfg.Capture.Width, cfg.Capture.Height, logger),
	}
}

// initializeHandlers creates the kiosk handler with the shared event manager
func initializeHandlers(cfg *config.Config, svc *Services, dev *Devices, loop *eventloop.Loop, eventManager *event.Manager, logger domain.Logger) *Handlers {
	httpClient := &http.Client{Timeout: cfg.BackendTimeout}

	return &Handlers{
		Kiosk: handler.NewKioskHandler(handler.Dependencies{
			Loop:         loop,
			EventManager: eventManager,
			Backend:      backend.NewClient(cfg.Backend, cfg.CSRFToken, httpClient, logger),
			Pricing:      svc.Pricing,
			Sessions:     svc.Session,
			Journal:      svc.Journal,
			QR:           svc.QR,
			Compositor:   compositor.New(imaging.NewLoader(httpClient, cfg.AssetsDir), logger),
			Printer:      dev.Printer,
			Camera:       dev.Camera,
			Logger:       logger,
		}, handler.Settings{
			InitialState:      cfg.InitialState,
			Frames:            cfg.Frames,
			Mirror:            cfg.Preview.Mirror,
			MirrorDebounce:    cfg.Preview.MirrorDebounce,
			ResultIdleTimeout: cfg.Result.IdleTimeout,
			USBVendorID:       cfg.Printer.USBVendorID,
			Capture: camera.Options{
				CountdownSeconds: cfg.Capture.CountdownSeconds,
				InitialDelay:     cfg.Capture.InitialDelay,
				BetweenDelay:     cfg.Capture.BetweenDelay,
				TargetPhotos:     cfg.Capture.MaxPhotos,
				Platform:         cfg.Capture.Platform,
				DeviceID:         cfg.Capture.DeviceID,
			},
		}),
	}
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
