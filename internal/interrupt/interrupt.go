// Package interrupt provides a single-producer, many-consumer cancellation
// latch shared by the pipeline, the gather/fan-out worker pools, and every
// network driver. It wraps a context.Context with a dedicated value that
// can also express a cooperative, interruptible sleep — something a bare
// context.Context doesn't give you directly.
package interrupt

import (
	"context"
	"time"

	"github.com/eprints2archives/eprints2archives/internal/errs"
)

// Token is a process-wide cancellation signal. The zero value is not
// usable; construct one with New.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Token bound to a parent context. Cancelling the parent has
// the same effect as calling Set.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Set raises the interrupt. It is idempotent and safe to call from any
// goroutine, including a signal handler.
func (t *Token) Set() {
	t.cancel()
}

// IsSet reports whether the token has been raised.
func (t *Token) IsSet() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// RaiseIfSet returns a *errs.UserCancelled if the token has been raised,
// nil otherwise. Loops in the pipeline and every driver call this at each
// iteration boundary.
func (t *Token) RaiseIfSet() error {
	if t.IsSet() {
		return &errs.UserCancelled{Msg: "interrupted"}
	}
	return nil
}

// Wait sleeps up to d, returning early — and with a non-nil error — if the
// token is raised while waiting. It never busy-waits.
func (t *Token) Wait(d time.Duration) error {
	if d <= 0 {
		return t.RaiseIfSet()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return t.RaiseIfSet()
	case <-t.ctx.Done():
		return &errs.UserCancelled{Msg: "interrupted while waiting"}
	}
}

// Context returns the underlying context, for passing to network calls
// that accept one directly (http.NewRequestWithContext and friends).
func (t *Token) Context() context.Context {
	return t.ctx
}
