package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	messageWidth   = 56
	callerWidth    = 20
	progressBarLen = 20
)

var (
	timestampColor = color.New(color.FgHiCyan, color.Italic)
	callerColor    = color.New(color.FgHiMagenta)
	messageColor   = color.New(color.FgWhite)
	fieldKeyColor  = color.New(color.FgHiYellow)
	fieldValColor  = color.New(color.FgCyan)
)

type levelStyle struct {
	tag   string
	glyph string
	color *color.Color
}

var levelStyles = map[string]levelStyle{
	zerolog.LevelTraceValue: {"TRAC", "◇", color.New(color.FgHiBlack, color.Bold)},
	zerolog.LevelDebugValue: {"DEBG", "◈", color.New(color.FgHiBlue, color.Bold)},
	zerolog.LevelInfoValue:  {"INFO", "◉", color.New(color.FgHiGreen, color.Bold)},
	zerolog.LevelWarnValue:  {"WARN", "◎", color.New(color.FgHiYellow, color.Bold)},
	zerolog.LevelErrorValue: {"ERRO", "✖", color.New(color.FgHiRed, color.Bold)},
	zerolog.LevelFatalValue: {"FATL", "☠", color.New(color.FgHiRed, color.Bold)},
	zerolog.LevelPanicValue: {"PANC", "☠", color.New(color.FgWhite, color.BgRed, color.Bold)},
}

type Config struct {
	Level          string
	DateTimeLayout string
	Colored        bool
	JSONFormat     bool
	UseEmoji       bool
	// Output defaults to stdout.
	Output io.Writer
}

// ZLogX is a zerolog logger with kiosk console formatting and observability helpers
type ZLogX struct {
	*zerolog.Logger
	config *Config
}

// New creates a logger from config, nil selects console output at info level
func New(config *Config) (*ZLogX, error) {
	if config == nil {
		config = &Config{
			Level:          "info",
			DateTimeLayout: time.RFC3339,
			Colored:        true,
		}
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if config.JSONFormat {
		base = zerolog.New(config.Output).With().Timestamp().Logger()
	} else {
		base = zerolog.New(newConsoleWriter(config)).With().Timestamp().Logger()
	}

	base = base.With().CallerWithSkipFrameCount(3).Logger()

	return &ZLogX{Logger: &base, config: config}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *ZLogXAdapter {
	nop := zerolog.Nop()
	return &ZLogXAdapter{ZLogX: &ZLogX{Logger: &nop, config: &Config{}}}
}

func newConsoleWriter(config *Config) zerolog.ConsoleWriter {
	writer := zerolog.ConsoleWriter{
		Out:        config.Output,
		NoColor:    !config.Colored,
		TimeFormat: config.DateTimeLayout,
		PartsOrder: []string{"time", "level", "caller", "message"},
	}
	if !config.Colored {
		return writer
	}

	f := &consoleFormatter{config: config}
	writer.FormatTimestamp = f.timestamp
	writer.FormatLevel = f.level
	writer.FormatCaller = f.caller
	writer.FormatMessage = f.message
	writer.FormatFieldName = f.fieldName
	writer.FormatFieldValue = f.fieldValue
	return writer
}

type consoleFormatter struct {
	config *Config
}

func (f *consoleFormatter) level(i any) string {
	style, ok := levelStyles[fmt.Sprint(i)]
	if !ok {
		return color.New(color.FgHiWhite).Sprint(" ???? ")
	}
	if f.config.UseEmoji {
		return style.color.Sprintf(" %s %s ", style.glyph, style.tag)
	}
	return style.color.Sprintf(" %s ", style.tag)
}

func (f *consoleFormatter) message(i any) string {
	msg, _ := i.(string)
	if msg == "" {
		return messageColor.Sprint("│ -")
	}
	if strings.Contains(msg, "\n") {
		lines := strings.Split(msg, "\n")
		for n, line := range lines {
			lines[n] = messageColor.Sprintf("│ %s", line)
		}
		return strings.Join(lines, "\n")
	}
	return messageColor.Sprintf("│ %-*s", messageWidth, truncate(msg, messageWidth))
}

func (f *consoleFormatter) caller(i any) string {
	name, _ := i.(string)
	if name == "" {
		return ""
	}
	file, line, found := strings.Cut(filepath.Base(name), ":")
	if !found {
		return callerColor.Sprintf("┤ %s ├", file)
	}
	file = strings.TrimSuffix(file, ".go")
	return callerColor.Sprintf("┤ %-*s:%4s ├", callerWidth, truncate(file, callerWidth), line)
}

func (f *consoleFormatter) timestamp(i any) string {
	raw, ok := i.(string)
	if !ok {
		return timestampColor.Sprintf("[ %v ]", i)
	}
	ts, err := time.ParseInLocation(time.RFC3339, raw, time.Local)
	if err != nil {
		return timestampColor.Sprintf("[ %s ]", raw)
	}
	return timestampColor.Sprintf("[ %s ]", ts.Format(f.config.DateTimeLayout))
}

func (f *consoleFormatter) fieldName(i any) string {
	return fieldKeyColor.Sprint(fmt.Sprint(i))
}

func (f *consoleFormatter) fieldValue(i any) string {
	switch v := i.(type) {
	case string:
		if strings.ContainsAny(v, " \t\n\r\"'") {
			return "=" + fieldValColor.Sprintf("%q", v)
		}
		return "=" + fieldValColor.Sprint(v)
	case bool:
		if v {
			return "=" + color.HiGreenString("true")
		}
		return "=" + color.HiRedString("false")
	case nil:
		return "=" + color.HiBlackString("null")
	default:
		return "=" + fieldValColor.Sprint(v)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Success logs a completed kiosk operation
func (zl *ZLogX) Success(msg string) {
	if zl.config.UseEmoji {
		msg = "✅ " + msg
	}
	zl.Info().Msg(msg)
}

// Failure logs a failed kiosk operation
func (zl *ZLogX) Failure(msg string) {
	if zl.config.UseEmoji {
		msg = "❌ " + msg
	}
	zl.Error().Msg(msg)
}

// Progress logs a step of a multi-part operation such as result uploads
func (zl *ZLogX) Progress(msg string, current, total int) {
	percent := 100
	if total > 0 {
		percent = current * 100 / total
	}

	zl.Info().
		Str("progress", progressBar(percent)).
		Int("current", current).
		Int("total", total).
		Msg(msg)
}

// Benchmark logs the duration of a named operation
func (zl *ZLogX) Benchmark(name string, duration time.Duration) {
	msg := "took"
	if zl.config.UseEmoji {
		msg = durationGlyph(duration) + " " + msg
	}

	zl.Debug().
		Str("operation", name).
		Str("duration", duration.Round(time.Millisecond).String()).
		Msg(msg)
}

// API logs a panel request with a level derived from the status code
func (zl *ZLogX) API(method, path, remoteAddr string, statusCode int, duration time.Duration) {
	level := zerolog.InfoLevel
	switch {
	case statusCode >= 500:
		level = zerolog.ErrorLevel
	case statusCode >= 400:
		level = zerolog.WarnLevel
	}

	zl.WithLevel(level).
		Str("method", method).
		Str("path", path).
		Str("remote_addr", remoteAddr).
		Int("status_code", statusCode).
		Str("duration", duration.Round(time.Millisecond).String()).
		Msg("panel request")
}

func (zl *ZLogX) derive(l zerolog.Logger) *ZLogX {
	return &ZLogX{Logger: &l, config: zl.config}
}

func progressBar(percent int) string {
	if percent > 100 {
		percent = 100
	}
	filled := percent * progressBarLen / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", progressBarLen-filled) + fmt.Sprintf("] %d%%", percent)
}

func durationGlyph(d time.Duration) string {
	switch {
	case d < 10*time.Millisecond:
		return "⚡"
	case d < 100*time.Millisecond:
		return "🚀"
	case d < time.Second:
		return "🚶"
	default:
		return "🐌"
	}
}
