// Package retry runs an operation a bounded number of times, sleeping
// between attempts either for a fixed (optionally growing) delay or for
// the delay the server asked for.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 are treated as 1.
	MaxAttempts int
	// Delay is used when the failing call carries no server hint.
	Delay time.Duration
	// Multiplier grows Delay after every failed attempt when greater than 1.
	Multiplier float64
	// UseServerHint makes a RetryAfterError's delay win over Delay.
	UseServerHint bool
	// MaxDelay caps any single wait. Zero means no cap.
	MaxDelay time.Duration
	// Timer is swapped out in tests so waits can be observed without sleeping.
	Timer backoff.Timer
	// Name prefixes log lines.
	Name string
}

// RetryAfterError marks a failure the server asked us to retry after a delay.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// ErrAttemptsExhausted wraps the last error once MaxAttempts calls failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Do calls op until it succeeds, returns a Permanent error, the context is
// cancelled, or MaxAttempts calls have failed.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	b := &hintBackOff{policy: p, base: fixedOrExponential(p)}
	attempt := 0
	stopped := false
	wrapped := func() error {
		attempt++
		err := op()
		b.lastHint = 0
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			stopped = true
			return err
		}
		var hint *RetryAfterError
		if errors.As(err, &hint) {
			b.lastHint = hint.After
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).Warnf("%sattempt %d/%d failed, retrying in %s", p.prefix(), attempt, p.MaxAttempts, wait)
	}

	var bo backoff.BackOff = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	if ctx != nil {
		bo = backoff.WithContext(bo, ctx)
	}

	err := backoff.RetryNotifyWithTimer(wrapped, bo, notify, p.Timer)
	switch {
	case err == nil:
		return nil
	case stopped:
		return err
	case ctx != nil && ctx.Err() != nil:
		return err
	case attempt >= p.MaxAttempts:
		return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
	}
	return err
}

func (p Policy) prefix() string {
	if p.Name == "" {
		return ""
	}
	return p.Name + ": "
}

func fixedOrExponential(p Policy) backoff.BackOff {
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.Delay)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.Reset()
	return eb
}

// hintBackOff prefers the delay carried by the last RetryAfterError.
type hintBackOff struct {
	policy   Policy
	base     backoff.BackOff
	lastHint time.Duration
}

func (h *hintBackOff) NextBackOff() time.Duration {
	next := h.base.NextBackOff()
	if h.policy.UseServerHint && h.lastHint > 0 {
		next = h.lastHint
	}
	if h.policy.MaxDelay > 0 && next > h.policy.MaxDelay {
		next = h.policy.MaxDelay
	}
	return next
}

func (h *hintBackOff) Reset() {
	h.base.Reset()
	h.lastHint = 0
}

// ParseRetryAfter reads a Retry-After header value given either as
// delay-seconds or as an HTTP date. ok is false when the value is unusable.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
