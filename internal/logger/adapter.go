package logger

import (
	"fmt"
	"photobooth-kiosk/internal/domain"
	"time"
)

type ZLogXAdapter struct {
	*ZLogX
}

var (
	_ domain.Logger        = (*ZLogXAdapter)(nil)
	_ domain.Observability = (*ZLogXAdapter)(nil)
)

func (s *ZLogXAdapter) Debug(args ...any) { s.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (s *ZLogXAdapter) Info(args ...any)  { s.Logger.Info().Msg(fmt.Sprint(args...)) }
func (s *ZLogXAdapter) Warn(args ...any)  { s.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (s *ZLogXAdapter) Error(args ...any) { s.Logger.Error().Msg(fmt.Sprint(args...)) }

func (s *ZLogXAdapter) Debugf(format string, args ...any) { s.Logger.Debug().Msgf(format, args...) }
func (s *ZLogXAdapter) Infof(format string, args ...any)  { s.Logger.Info().Msgf(format, args...) }
func (s *ZLogXAdapter) Warnf(format string, args ...any)  { s.Logger.Warn().Msgf(format, args...) }
func (s *ZLogXAdapter) Errorf(format string, args ...any) { s.Logger.Error().Msgf(format, args...) }

// WithError keeps the console config so Success/Failure still work on derived loggers.
func (s *ZLogXAdapter) WithError(err error) domain.Logger {
	return &ZLogXAdapter{s.derive(s.With().Err(err).Logger())}
}

func (s *ZLogXAdapter) WithField(key string, value any) domain.Logger {
	return &ZLogXAdapter{s.derive(s.With().Interface(key, value).Logger())}
}

func (s *ZLogXAdapter) WithFields(fields map[string]any) domain.Logger {
	return &ZLogXAdapter{s.derive(s.With().Fields(fields).Logger())}
}

func (s *ZLogXAdapter) Success(msg string) { s.ZLogX.Success(msg) }
func (s *ZLogXAdapter) Failure(msg string) { s.ZLogX.Failure(msg) }

func (s *ZLogXAdapter) Progress(msg string, current, total int) {
	s.ZLogX.Progress(msg, current, total)
}

func (s *ZLogXAdapter) Benchmark(name string, duration time.Duration) {
	s.ZLogX.Benchmark(name, duration)
}

func (s *ZLogXAdapter) API(method, path, remoteAddr string, statusCode int, duration time.Duration) {
	s.ZLogX.API(method, path, remoteAddr, statusCode, duration)
}

