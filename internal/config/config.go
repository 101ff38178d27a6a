// Package config loads the kiosk YAML file and environment overrides.
package config

import (
	"fmt"
	"os"
	"photobooth-kiosk/internal/backend"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/fsm"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "etc/kiosk.yml"

type CaptureConfig struct {
	CountdownSeconds int           `yaml:"countdown_seconds" validate:"gte=0,lte=30"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	BetweenDelay     time.Duration `yaml:"between_delay"`
	MaxPhotos        int           `yaml:"max_photos" validate:"gte=0,lte=10"`
	Platform         string        `yaml:"platform" validate:"omitempty,oneof=desktop mobile"`
	DeviceID         string        `yaml:"device_id"`
	Width            int           `yaml:"width" validate:"gte=0"`
	Height           int           `yaml:"height" validate:"gte=0"`
}

type PrinterConfig struct {
	RasterWidth          int           `yaml:"raster_width" validate:"gte=0"`
	ChunkSize            int           `yaml:"chunk_size" validate:"gte=0,lte=512"`
	ChunkDelay           time.Duration `yaml:"chunk_delay"`
	CopyPause            time.Duration `yaml:"copy_pause"`
	MaxWriteNoResponse   int           `yaml:"max_write_no_response" validate:"gte=0"`
	SerialCharacteristic string        `yaml:"serial_characteristic"`
	USBVendorID          uint16        `yaml:"usb_vendor_id"`
	BLENamePrefix        string        `yaml:"ble_name_prefix"`
	BLEScanTimeout       time.Duration `yaml:"ble_scan_timeout"`
}

type PreviewConfig struct {
	MirrorDebounce time.Duration `yaml:"mirror_debounce"`
	Mirror         bool          `yaml:"mirror"`
}

type ResultConfig struct {
	URLTemplate string        `yaml:"url_template" validate:"required"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	QRSize      int           `yaml:"qr_size" validate:"gte=0"`
}

type Config struct {
	InitialState   domain.KioskState       `yaml:"initial_state"`
	CSRFToken      string                  `yaml:"csrf_token"`
	AssetsDir      string                  `yaml:"assets_dir"`
	Backend        backend.Endpoints       `yaml:"backend"`
	BackendTimeout time.Duration           `yaml:"backend_timeout"`
	Frames         []domain.Frame          `yaml:"frames" validate:"required,min=1,dive"`
	CopyPrices     domain.CopyPriceOptions `yaml:"copy_prices" validate:"required,min=1"`
	Capture        CaptureConfig           `yaml:"capture"`
	Printer        PrinterConfig           `yaml:"printer"`
	Preview        PreviewConfig           `yaml:"preview"`
	Result         ResultConfig            `yaml:"result"`

	// Environment only
	PanelAddr      string `yaml:"-" validate:"required"`
	LogLevel       string `yaml:"-" validate:"oneof=trace debug info warn error"`
	LogJSON        bool   `yaml:"-"`
	JournalDSN     string `yaml:"-"`
	TelegramToken  string `yaml:"-"`
	TelegramChatID int64  `yaml:"-"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if !fsm.IsValid(cfg.InitialState) {
		return nil, fmt.Errorf("invalid initial_state %q", cfg.InitialState)
	}
	for n := range cfg.CopyPrices {
		if n < 1 {
			return nil, fmt.Errorf("copy_prices: invalid copy count %d", n)
		}
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.PanelAddr = getEnv("PANEL_ADDR", ":8085")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogJSON = getEnvAsBool("LOG_JSON", false)
	c.JournalDSN = getEnv("JOURNAL_DSN", "")
	c.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	c.TelegramChatID = getEnvAsInt64("TELEGRAM_CHAT_ID", 0)
	c.CSRFToken = getEnv("KIOSK_CSRF_TOKEN", c.CSRFToken)
}

func (c *Config) applyDefaults() {
	if c.InitialState == "" {
		c.InitialState = domain.StateIdle
	}
	if c.AssetsDir == "" {
		c.AssetsDir = "."
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = backend.DefaultTimeout
	}
	if c.Capture.MaxPhotos == 0 {
		c.Capture.MaxPhotos = 1
	}
	if c.Capture.CountdownSeconds == 0 {
		c.Capture.CountdownSeconds = 3
	}
	if c.Capture.Platform == "" {
		c.Capture.Platform = "desktop"
	}
	if c.Preview.MirrorDebounce <= 0 {
		c.Preview.MirrorDebounce = 800 * time.Millisecond
	}
	if c.Result.IdleTimeout == 0 {
		c.Result.IdleTimeout = 60 * time.Second
	}
}

// TelegramEnabled reports whether the operator bot has what it needs to run
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
