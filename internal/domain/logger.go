package domain

import "time"

// Logger is the logging surface every kiosk component depends on.
type Logger interface {
	// Derived loggers carry the extra fields on every line
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	WithError(err error) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Observability adds the console helpers used for operator facing output.
// Components type-assert a Logger to it and fall back to plain logging.
type Observability interface {
	Logger

	Success(msg string)
	Failure(msg string)
	Progress(msg string, current, total int)
	Benchmark(name string, duration time.Duration)
	API(method, path, remoteAddr string, statusCode int, duration time.Duration)
}
