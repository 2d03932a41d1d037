// Package retry implements the calling-layer retry policy for device registration.
//
// The registration core never retries. Callers wrap it with Do, which retries only
// errors whose code is on the policy's allow-list and waits between attempts
// according to a fixed schedule.
package retry

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/tendant/simple-device/pkg/errors"
)

// Policy decides whether and when a failed operation is attempted again
type Policy struct {
	// MaxAttempts counts the first call; values below 1 mean a single attempt
	MaxAttempts int
	// Schedule holds the wait before each retry. The last entry repeats when attempts outnumber it.
	Schedule []time.Duration
	// Retryable lists the error codes worth another attempt
	Retryable []apperrors.ErrorCode
	// OnRetry is called before each wait; nil logs a warning
	OnRetry func(err error, wait time.Duration)
}

// DefaultPolicy makes three attempts, waiting 1s then 2s, on TRANSIENT, TIMEOUT and RESOURCE_UNAVAILABLE
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Schedule:    []time.Duration{time.Second, 2 * time.Second},
		Retryable: []apperrors.ErrorCode{
			apperrors.ErrCodeTransient,
			apperrors.ErrCodeTimeout,
			apperrors.ErrCodeResourceUnavailable,
		},
	}
}

// IsRetryable reports whether err carries an allow-listed code.
// Errors without a code are never retried.
func (p Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, code := range p.Retryable {
		if apperrors.IsCode(err, code) {
			return true
		}
	}
	return false
}

// Do runs op until it succeeds, fails with a non-retryable error, runs out of
// attempts or ctx is done. The last error from op is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	onRetry := p.OnRetry
	if onRetry == nil {
		onRetry = func(err error, wait time.Duration) {
			slog.Warn("Retrying after error", "code", apperrors.GetCode(err), "wait", wait, "err", err)
		}
	}

	operation := func() error {
		err := op(ctx)
		if err != nil && !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(newScheduleBackOff(p.Schedule, p.MaxAttempts), ctx)
	return backoff.RetryNotify(operation, b, onRetry)
}

// scheduleBackOff hands out the policy's waits and stops after the last allowed attempt
type scheduleBackOff struct {
	schedule    []time.Duration
	maxAttempts int
	retries     int
}

func newScheduleBackOff(schedule []time.Duration, maxAttempts int) *scheduleBackOff {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &scheduleBackOff{schedule: slices.Clone(schedule), maxAttempts: maxAttempts}
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.retries+1 >= b.maxAttempts {
		return backoff.Stop
	}
	var wait time.Duration
	if len(b.schedule) > 0 {
		wait = b.schedule[min(b.retries, len(b.schedule)-1)]
	}
	b.retries++
	return wait
}

func (b *scheduleBackOff) Reset() {
	b.retries = 0
}
