// Package interrupt provides scoped operator-abort handling for long-running waits.
//
// A wait acquires a Handle on entry and releases it on every exit path:
//
//	ctx, handle, err := interrupt.Acquire(ctx)
//	if err != nil {
//		return err
//	}
//	defer handle.Release()
//
// An abort cancels the returned context. Work that is already committed on the
// remote side is never rolled back.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

var (
	ErrAborted    = errors.New("aborted by operator")
	ErrWaitActive = errors.New("another cancellable wait is already active")
)

// DefaultSignals are the signals that abort a wait when none are given.
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Default is the process-wide registry used by Acquire.
var Default = &Registry{}

// Registry makes sure at most one Handle is active at a time.
type Registry struct {
	active atomic.Bool
}

// Handle is the interruption scope of a single wait.
type Handle struct {
	registry *Registry
	cancel   context.CancelCauseFunc
	signals  chan os.Signal
	done     chan struct{}
	abort    sync.Once
	release  sync.Once
	aborted  atomic.Bool
}

// CancelledError is returned by a wait that was stopped before it completed.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return "wait cancelled"
	}
	return fmt.Sprintf("wait cancelled: %s", e.Cause)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Cancelled builds the cancellation outcome of a finished context.
func Cancelled(ctx context.Context) *CancelledError {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return &CancelledError{Cause: cause}
}

func Acquire(parent context.Context, signals ...os.Signal) (context.Context, *Handle, error) {
	return Default.Acquire(parent, signals...)
}

// Acquire registers for external interruption. The handle must be released when
// the wait returns, regardless of outcome.
func (r *Registry) Acquire(parent context.Context, signals ...os.Signal) (context.Context, *Handle, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, nil, ErrWaitActive
	}

	if len(signals) == 0 {
		signals = DefaultSignals
	}

	ctx, cancel := context.WithCancelCause(parent)
	h := &Handle{
		registry: r,
		cancel:   cancel,
		signals:  make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}

	signal.Notify(h.signals, signals...)

	go func() {
		select {
		case <-h.signals:
			h.Abort()
		case <-h.done:
		}
	}()

	return ctx, h, nil
}

// Abort stops the wait at its next checkpoint. Only the first call has any effect.
func (h *Handle) Abort() {
	h.abort.Do(func() {
		h.aborted.Store(true)
		h.cancel(ErrAborted)
	})
}

// Aborted reports whether Abort has been called.
func (h *Handle) Aborted() bool {
	return h.aborted.Load()
}

// Release deregisters signal handling and frees the registry slot.
func (h *Handle) Release() {
	h.release.Do(func() {
		signal.Stop(h.signals)
		close(h.done)
		h.cancel(context.Canceled)
		h.registry.active.Store(false)
	})
}
