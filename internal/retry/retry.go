// Package retry wraps fallible operations in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTransient marks errors that callers know to be worth retrying on the
// network profile (HTTP 429/5xx, empty upstream bodies).
var ErrTransient = errors.New("transient failure")

// MarkTransient tags err so that IsIOError matches it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// OnRetry observes a failed attempt right before the policy sleeps.
type OnRetry func(attempt int, err error, wait time.Duration)

// Policy bounds how an operation is retried.
type Policy struct {
	Name        string
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	// AttemptTimeout bounds every single attempt; zero leaves the caller's context as is.
	AttemptTimeout time.Duration
	Retryable      Classifier
	Logger         *slog.Logger
	OnRetry        OnRetry
}

// Network is the profile for plain HTTP fetches: short waits, I/O errors only.
func Network() Policy {
	return Policy{
		Name:           "network",
		MaxAttempts:    3,
		MinWait:        1 * time.Second,
		MaxWait:        5 * time.Second,
		AttemptTimeout: 30 * time.Second,
		Retryable:      IsIOError,
	}
}

// Browser is the profile for headless-browser sessions. Automation failures are
// heterogeneous, so every error except cancellation is retried.
func Browser() Policy {
	return Policy{
		Name:           "browser",
		MaxAttempts:    2,
		MinWait:        2 * time.Second,
		MaxWait:        5 * time.Second,
		AttemptTimeout: 60 * time.Second,
		Retryable:      AnyError,
	}
}

// LLM is the profile for chat-completion calls: connection and timeout errors only.
// Malformed answers are handled by the callers' own parse fallbacks.
func LLM() Policy {
	return Policy{
		Name:           "llm",
		MaxAttempts:    3,
		MinWait:        2 * time.Second,
		MaxWait:        10 * time.Second,
		AttemptTimeout: 10 * time.Minute,
		Retryable:      IsConnectionError,
	}
}

// WithLogger returns a copy of the policy that logs each retry.
func (p Policy) WithLogger(logger *slog.Logger) Policy {
	p.Logger = logger
	return p
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations producing a result.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var (
		result  T
		attempt int
	)

	operation := func() error {
		attempt++
		attemptCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		v, err := op(attemptCtx)
		if err == nil {
			result = v
			return nil
		}

		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("attempt timed out after %s: %w: %w", p.AttemptTimeout, context.DeadlineExceeded, err)
		}
		if !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("retrying after failure",
				"policy", p.Name,
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"wait", wait,
				"error", err,
			)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	return result, err
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MinWait < 0 {
		p.MinWait = 0
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	if p.Retryable == nil {
		p.Retryable = AnyError
	}
	return p
}

func (p Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.AttemptTimeout)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	// WithMaxRetries treats zero as unlimited.
	if p.MaxAttempts == 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinWait
	b.MaxInterval = p.MaxWait
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// AnyError retries everything but caller cancellation.
func AnyError(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// IsIOError matches transport failures, timeouts and errors marked transient.
func IsIOError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	return isConnectionFailure(err)
}

// IsConnectionError matches transport failures and timeouts only.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return isConnectionFailure(err)
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if urlErr.Err != nil && urlErr.Err != err {
			return isConnectionFailure(urlErr.Err)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
