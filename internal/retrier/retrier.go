// Package retrier runs an operation a fixed number of times with a fixed
// delay between attempts, stopping early on terminal errors.
package retrier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Defaults used when a Policy leaves a field unset.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Policy bounds a retried operation.
type Policy struct {
	Attempts uint
	Delay    time.Duration
}

// Default returns the three attempts, one second policy.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

func (p Policy) normalized() Policy {
	if p.Attempts == 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// terminalError marks an error that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so Do returns it without further attempts.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// isTerminal reports whether err was marked with Terminal.
func isTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Do calls fn until it succeeds, returns a Terminal error, the attempts are
// exhausted, or ctx is done. A done ctx wins: its error is returned even when
// an attempt failed before. Otherwise Do returns the last error fn produced,
// with any Terminal marker removed.
func Do(ctx context.Context, p Policy, log *slog.Logger, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	err := retry.Do(
		func() error {
			err := fn(ctx)
			if err == nil {
				lastErr = nil
				return nil
			}
			var t *terminalError
			if errors.As(err, &t) {
				lastErr = t.err
				return retry.Unrecoverable(t.err)
			}
			lastErr = err
			return err
		},
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			if log != nil {
				log.Debug("retrying", "op", op, "attempt", n+1, "error", err)
			}
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}
