// Package eventloop runs kiosk work on a single goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"photobooth-kiosk/internal/domain"
)

var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger domain.Logger
}

// New creates a loop with room for buffer pending tasks
func New(buffer int, logger domain.Logger) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes posted tasks in order until ctx is done
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-l.tasks:
			if err := l.exec(task); err != nil && l.logger != nil {
				l.logger.WithError(err).Error("event loop task panicked")
			}
		}
	}
}

func (l *Loop) exec(task func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	task()
	return nil
}

// Post queues fn and reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for its result.
// Calling Do from the loop goroutine deadlocks.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	task := func() {
		var fnErr error
		if err := l.exec(func() { fnErr = fn() }); err != nil {
			result <- err
			return
		}
		result <- fnErr
	}

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
