// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resilience

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cabana/internal/logger"
)

// RetryOptions controls WithRetry behavior
type RetryOptions struct {
	// MaxAttempts is the total number of invocations, including the first
	MaxAttempts int

	// BaseDelay is the delay before the second attempt
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth
	MaxDelay time.Duration

	// BackoffFactor is the multiplier applied per attempt
	BackoffFactor float64

	// RetryableErrors, when non-empty, is a substring allow-list: an error
	// is retried only if its message contains one of these. Empty means
	// every error is retried.
	RetryableErrors []string

	// OnRetry, if set, is invoked before each sleep with the attempt
	// number (1-based) and the error that triggered the retry
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryOptions returns the tuning used for panel connection attempts
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// WithRetry calls operation up to opts.MaxAttempts times with exponential
// backoff between attempts. A non-retryable error aborts immediately and is
// returned as-is. Cancellation of ctx stops further attempts.
func WithRetry(ctx context.Context, operation func() error, opts RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffFactor <= 0 {
		opts.BackoffFactor = 2.0
	}

	log := logger.Component("retry")

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr, opts.RetryableErrors) {
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Msg("Error not in retryable class, aborting")
			return lastErr
		}

		if attempt == opts.MaxAttempts {
			break
		}

		delay := backoffDelay(opts, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, lastErr)
		}
		log.Debug().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", opts.MaxAttempts, lastErr)
}

// backoffDelay computes min(base * factor^(attempt-1), max)
func backoffDelay(opts RetryOptions, attempt int) time.Duration {
	delay := float64(opts.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= opts.BackoffFactor
	}
	if opts.MaxDelay > 0 && delay > float64(opts.MaxDelay) {
		return opts.MaxDelay
	}
	return time.Duration(delay)
}

func isRetryable(err error, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	msg := err.Error()
	for _, substr := range allowList {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
