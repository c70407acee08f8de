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
	"sync"
	"time"
)

const (
	// Consecutive failures tolerated before the link counts as unhealthy
	healthFailureThreshold = 3

	// Time without a recorded success before the link counts as stale
	healthStalenessWindow = 5 * time.Minute

	// Latency samples kept for the rolling average
	latencyHistorySize = 100
)

// HealthSnapshot is a derived view of link health, recomputed on every
// GetHealth call rather than cached
type HealthSnapshot struct {
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	LastSuccess         time.Time     `json:"last_success"`
	AverageLatency      time.Duration `json:"average_latency_ns"`
	Samples             int           `json:"latency_samples"`
}

// HealthMonitor tracks rolling success/failure/latency for the panel link
type HealthMonitor struct {
	consecutiveFailures int
	lastError           string
	lastSuccess         time.Time
	latencies           []time.Duration

	now   func() time.Time
	mutex sync.Mutex
}

// NewHealthMonitor creates a monitor with the current time as the initial
// success mark, so a freshly started session is not instantly stale
func NewHealthMonitor() *HealthMonitor {
	m := &HealthMonitor{
		now:       time.Now,
		latencies: make([]time.Duration, 0, latencyHistorySize),
	}
	m.lastSuccess = m.now()
	return m
}

// RecordSuccess resets the failure streak and optionally appends a latency
// sample to the bounded history
func (m *HealthMonitor) RecordSuccess(latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.consecutiveFailures = 0
	m.lastError = ""
	m.lastSuccess = m.now()

	if latency > 0 {
		// Keep the last N samples
		m.latencies = append(m.latencies, latency)
		if len(m.latencies) > latencyHistorySize {
			m.latencies = m.latencies[1:]
		}
	}
}

// RecordFailure increments the failure streak and records the message
func (m *HealthMonitor) RecordFailure(message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.consecutiveFailures++
	m.lastError = message
}

// GetHealth derives the current health snapshot. The link is unhealthy when
// the failure streak passes the threshold or no success has been recorded
// within the staleness window; both are evaluated fresh on every call.
func (m *HealthMonitor) GetHealth() HealthSnapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var total time.Duration
	for _, l := range m.latencies {
		total += l
	}
	var average time.Duration
	if len(m.latencies) > 0 {
		average = total / time.Duration(len(m.latencies))
	}

	healthy := m.consecutiveFailures <= healthFailureThreshold &&
		m.now().Sub(m.lastSuccess) <= healthStalenessWindow

	return HealthSnapshot{
		Healthy:             healthy,
		ConsecutiveFailures: m.consecutiveFailures,
		LastError:           m.lastError,
		LastSuccess:         m.lastSuccess,
		AverageLatency:      average,
		Samples:             len(m.latencies),
	}
}
