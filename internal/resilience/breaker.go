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
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
)

// BreakerState is the circuit breaker state
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Consecutive successes required in HALF_OPEN before closing again
const halfOpenSuccessThreshold = 3

// ErrCircuitOpen is returned by Execute while the breaker is open and the
// reset timeout has not yet elapsed
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// CircuitBreaker gates connection attempts after repeated failures. It
// trips to OPEN after failureThreshold failures, rejects everything until
// resetTimeout has elapsed since the last failure, then lets a single probe
// through in HALF_OPEN.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	state             BreakerState
	failures          int
	lastFailure       time.Time
	halfOpenSuccesses int

	now    func() time.Time
	logger zerolog.Logger
	mutex  sync.Mutex
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            BreakerClosed,
		now:              time.Now,
		logger:           logger.Component("breaker"),
	}
}

// Execute runs operation if the breaker allows it, recording the outcome.
// While OPEN it rejects immediately without invoking the operation.
func (cb *CircuitBreaker) Execute(operation func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	if err := operation(); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// allow decides whether an attempt may proceed, transitioning OPEN to
// HALF_OPEN when the reset timeout has elapsed
func (cb *CircuitBreaker) allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != BreakerOpen {
		return nil
	}

	if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
		return ErrCircuitOpen
	}

	cb.state = BreakerHalfOpen
	cb.halfOpenSuccesses = 0
	cb.logger.Info().
		Dur("reset_timeout", cb.resetTimeout).
		Msg("Circuit breaker half-open, allowing probe attempt")
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= halfOpenSuccessThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.halfOpenSuccesses = 0
			cb.logger.Info().Msg("Circuit breaker closed after successful probes")
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	// Failures only accumulate in CLOSED and HALF_OPEN
	if cb.state == BreakerOpen {
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()

	// A HALF_OPEN probe failure re-opens immediately: the counter never
	// dropped below the threshold on the OPEN -> HALF_OPEN transition.
	if cb.failures >= cb.failureThreshold {
		cb.state = BreakerOpen
		cb.halfOpenSuccesses = 0
		cb.logger.Warn().
			Int("failures", cb.failures).
			Dur("reset_timeout", cb.resetTimeout).
			Msg("Circuit breaker opened")
	}
}

// Reset forces the breaker back to CLOSED with all counters zeroed, used
// for operator-triggered recovery
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = BreakerClosed
	cb.failures = 0
	cb.halfOpenSuccesses = 0
	cb.lastFailure = time.Time{}
	cb.logger.Info().Msg("Circuit breaker reset by operator")
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}
