// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/snapwave/snapwave/pkg/errutil"
)

// ErrClosed is returned by Async.Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Async sends notifications in the background so request latency does not
// depend on the mail transport. Dispatch never reports delivery errors;
// they are logged and counted.
type Async struct {
	next     Dispatcher
	logger   *slog.Logger
	recorder Recorder
	timeout  time.Duration
	slots    chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// AsyncOption configures Async.
type AsyncOption func(*Async)

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) AsyncOption {
	return func(a *Async) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithTimeout bounds each background send.
func WithTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithConcurrency bounds the number of in-flight sends. Notifications
// beyond the limit are dropped and counted.
func WithConcurrency(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.slots = make(chan struct{}, n)
		}
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordNotification(string, string) {}

// NewAsync wraps next.
func NewAsync(next Dispatcher, opts ...AsyncOption) *Async {
	a := &Async{
		next:     next,
		logger:   slog.Default(),
		recorder: noopRecorder{},
		timeout:  10 * time.Second,
		slots:    make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dispatch schedules n and returns immediately. The send is detached from
// ctx cancellation but keeps its values (trace context).
func (a *Async) Dispatch(ctx context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return oops.Code("NOTIFY_CLOSED").Wrap(ErrClosed)
	}

	select {
	case a.slots <- struct{}{}:
	default:
		a.recorder.RecordNotification(string(n.Kind), StatusDropped)
		a.logger.WarnContext(ctx, "notification dropped, too many in flight", "notification", n)
		return nil
	}

	a.wg.Add(1)
	go a.send(context.WithoutCancel(ctx), n)
	return nil
}

func (a *Async) send(ctx context.Context, n Notification) {
	defer a.wg.Done()
	defer func() { <-a.slots }()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.next.Dispatch(ctx, n); err != nil {
		a.recorder.RecordNotification(string(n.Kind), StatusFailed)
		errutil.Log(ctx, a.logger, slog.LevelError, "notification delivery failed", err)
		return
	}
	a.recorder.RecordNotification(string(n.Kind), StatusSent)
}

// Close stops accepting notifications and waits for in-flight sends until
// ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("NOTIFY_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}

var _ Dispatcher = (*Async)(nil)
