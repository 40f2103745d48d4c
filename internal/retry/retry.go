// Package retry implements bounded retries with exponential backoff.
// The server uses it for the startup database ping, where the database
// container may still be coming up.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error as not worth retrying. Do unwraps it and
// returns the inner error immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do gives up on the first occurrence.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do invokes fn until it succeeds, up to maxAttempts times. The wait between
// attempts starts at baseDelay and doubles each round, with ±25% jitter so
// concurrent callers don't reconnect in lockstep. A cancelled ctx ends the
// wait early with ctx.Err(). maxAttempts below 1 is treated as 1.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(lastErr, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
	}
}

// jittered spreads d across [0.75d, 1.25d].
func jittered(d time.Duration) time.Duration {
	quarter := int64(d / 4)
	if quarter <= 0 {
		return d
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	offset := int64(binary.LittleEndian.Uint64(b[:])>>1) % (2*quarter + 1) //nolint:gosec // bounded modulus
	return d - time.Duration(quarter) + time.Duration(offset)
}
