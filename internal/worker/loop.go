// Package worker provides the periodic background tasks owned by each service.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when the loop is running.
var ErrAlreadyRunning = errors.New("worker already running")

// Task is one cycle of periodic work.
type Task func(ctx context.Context) error

// Loop runs a Task, then sleeps a fixed interval, until stopped. Cycles never overlap.
// A cycle in progress when the loop is stopped runs to completion.
type Loop struct {
	name     string
	interval time.Duration
	task     Task

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a stopped Loop.
func NewLoop(name string, interval time.Duration, task Task) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		task:     task,
	}
}

// Name returns the name used in logs.
func (l *Loop) Name() string {
	return l.name
}

// Start runs the loop in its own goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)

		_ = l.Run(ctx)
	}()

	return nil
}

// Stop cancels a loop started with Start and waits for the current cycle, or for ctx.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if done == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	return nil
}

// Run blocks, cycling until ctx is done. It always returns nil.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Worker started", slog.String("worker", l.name), slog.Duration("interval", l.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopped", slog.String("worker", l.name))

			return nil
		case <-timer.C:
			if err := l.task(context.WithoutCancel(ctx)); err != nil {
				slog.Error("Worker cycle failed", slog.String("worker", l.name), slog.Any("error", err))
			}

			timer.Reset(l.interval)
		}
	}
}
