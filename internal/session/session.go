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

package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/panel"
	"cabana/internal/protocol"
	"cabana/internal/resilience"
)

// Config tunes one panel session
type Config struct {
	// Address is the panel's host:port
	Address string

	// DialTimeout bounds a single connection attempt
	DialTimeout time.Duration

	// CommandPacing is the gap between queued command writes
	CommandPacing time.Duration

	// DiscoveryPacing is the gap between hardware-definition queries
	DiscoveryPacing time.Duration

	// RateLimit / RateWindow bound accepted commands per rolling window
	RateLimit  int
	RateWindow time.Duration

	// BreakerThreshold / BreakerResetTimeout tune the connection breaker
	BreakerThreshold    int
	BreakerResetTimeout time.Duration

	// DeadLetterSize / DeadLetterRetention bound the dead letter queue
	DeadLetterSize      int
	DeadLetterRetention time.Duration

	// HeartbeatTimeout is the inbound-silence ceiling before a forced
	// reconnect. Panels chatter constantly, so hours of silence means the
	// peer is gone even if the socket looks healthy.
	HeartbeatTimeout time.Duration

	// ReconnectSpacing is the minimum gap between connection attempts
	ReconnectSpacing time.Duration
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.CommandPacing <= 0 {
		c.CommandPacing = 250 * time.Millisecond
	}
	if c.DiscoveryPacing <= 0 {
		c.DiscoveryPacing = 100 * time.Millisecond
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 30
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 60 * time.Second
	}
	if c.DeadLetterSize <= 0 {
		c.DeadLetterSize = 100
	}
	if c.DeadLetterRetention <= 0 {
		c.DeadLetterRetention = 24 * time.Hour
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 4 * time.Hour
	}
	if c.ReconnectSpacing <= 0 {
		c.ReconnectSpacing = 30 * time.Second
	}
}

// Parameter keys subscribed on every discovered entity
var subscriptionKeys = []string{
	protocol.ParamStatus,
	protocol.ParamName,
	protocol.ParamLowSetpoint,
	protocol.ParamHighSetpoint,
	protocol.ParamProbe,
}

// SessionManager owns the lifecycle of one panel connection: dialing through
// the breaker and retry policy, running discovery after each connect,
// routing inbound frames and pacing outbound commands. All collaborators
// are wired at construction; nothing registers handlers after startup.
type SessionManager struct {
	config   Config
	registry panel.Registry

	reader      *protocol.FrameReader
	router      *ResponseRouter
	discovery   *DiscoveryCoordinator
	queue       *CommandQueue
	breaker     *resilience.CircuitBreaker
	health      *resilience.HealthMonitor
	deadLetters *resilience.DeadLetterQueue
	rateLimiter *resilience.RateLimiter
	retryOpts   resilience.RetryOptions

	dial func(ctx context.Context, address string) (net.Conn, error)

	conn        net.Conn
	generation  int
	connected   bool
	lastInbound time.Time
	lastAttempt time.Time

	entities     map[string]*panel.Entity
	pumpCircuits map[string]*panel.PumpCircuit

	reconnectCh chan string
	stopCh      chan struct{}

	now    func() time.Time
	sleep  func(time.Duration)
	logger zerolog.Logger
	mutex  sync.Mutex
}

// NewSessionManager builds a fully wired session for one panel
func NewSessionManager(config Config, registry panel.Registry) *SessionManager {
	config.applyDefaults()

	s := &SessionManager{
		config:      config,
		registry:    registry,
		reader:      protocol.NewFrameReader(protocol.DefaultMaxBufferSize),
		breaker:     resilience.NewCircuitBreaker(config.BreakerThreshold, config.BreakerResetTimeout),
		health:      resilience.NewHealthMonitor(),
		deadLetters: resilience.NewDeadLetterQueue(config.DeadLetterSize, config.DeadLetterRetention),
		rateLimiter: resilience.NewRateLimiter(config.RateLimit, config.RateWindow),
		reconnectCh: make(chan string, 1),
		stopCh:      make(chan struct{}),
		now:         time.Now,
		sleep:       time.Sleep,
		logger:      logger.Component("session"),
	}

	s.retryOpts = resilience.DefaultRetryOptions()
	s.retryOpts.RetryableErrors = connectionErrorMarkers

	s.dial = func(ctx context.Context, address string) (net.Conn, error) {
		dialer := net.Dialer{Timeout: config.DialTimeout}
		return dialer.DialContext(ctx, "tcp", address)
	}

	s.discovery = NewDiscoveryCoordinator(config.DiscoveryPacing, s.writeFrame, s.handleDiscoveryComplete)
	s.queue = NewCommandQueue(config.CommandPacing, s.writeFrame, nil, s.deadLetters, s.RequestReconnect)
	s.router = NewResponseRouter(RouterHooks{
		OnDiscoveryAnswer: s.discovery.HandleAnswer,
		OnEntityUpdate:    s.applyEntityUpdate,
		OnPumpTelemetry:   s.applyPumpTelemetry,
		IsPumpCircuit:     s.isPumpCircuit,
		IsKnownEntity:     s.isKnownEntity,
		RequestReconnect:  s.RequestReconnect,
	})
	s.queue.onSent = s.router.TrackSent

	return s
}

// Run maintains the session until ctx is cancelled: connect, serve, and on
// loss of the connection wait out the attempt spacing and reconnect
func (s *SessionManager) Run(ctx context.Context) error {
	s.logger.Info().Str("address", s.config.Address).Msg("Session starting")

	go s.heartbeatLoop(ctx)

	for {
		if ctx.Err() != nil {
			s.teardown()
			return ctx.Err()
		}

		s.enforceAttemptSpacing()

		if err := s.connect(ctx); err != nil {
			s.logger.Error().
				Err(err).
				Str("breaker", string(s.breaker.State())).
				Msg("Connection attempt failed")
			continue
		}

		select {
		case reason := <-s.reconnectCh:
			s.logger.Warn().Str("reason", reason).Msg("Reconnecting")
			s.teardown()
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case <-s.stopCh:
			s.teardown()
			return nil
		}
	}
}

// Stop ends the session loop
func (s *SessionManager) Stop() {
	close(s.stopCh)
}

// RequestReconnect asks the session loop to drop and redial. Safe to call
// from any goroutine; a second request while one is pending is ignored.
func (s *SessionManager) RequestReconnect(reason string) {
	select {
	case s.reconnectCh <- reason:
	default:
		s.logger.Warn().
			Str("reason", reason).
			Msg("Reconnect already pending, ignoring duplicate request")
	}
}

// ResetBreaker forces the connection breaker closed, used for
// operator-triggered recovery alongside an explicit reconnect
func (s *SessionManager) ResetBreaker() {
	s.breaker.Reset()
}

// SetParams submits a parameter write for one panel object. The command is
// repaired by the sanitizer, checked against the rate limit, then queued.
func (s *SessionManager) SetParams(objnam string, params map[string]interface{}) error {
	frame := protocol.NewWriteRequest([]protocol.ObjectEntry{{Objnam: objnam, Params: params}})
	return s.submit(frame)
}

// SubmitFrame queues an already-built request, used by dead letter replay
func (s *SessionManager) SubmitFrame(frame *protocol.Frame) error {
	return s.submit(frame)
}

func (s *SessionManager) submit(frame *protocol.Frame) error {
	protocol.SanitizeRequest(frame)

	if !s.rateLimiter.RecordRequest() {
		return fmt.Errorf("rate limit exceeded: %d commands in %s", s.config.RateLimit, s.config.RateWindow)
	}
	return s.queue.Enqueue(frame)
}

// ReplayDeadLetters drains the dead letter queue back into the command
// queue with fresh correlation ids, returning the number requeued
func (s *SessionManager) ReplayDeadLetters() int {
	entries := s.deadLetters.Drain()
	replayed := 0
	for _, entry := range entries {
		frame := entry.Command
		frame.MessageID = protocol.GenerateMessageID()
		if err := s.submit(frame); err != nil {
			s.logger.Warn().
				Err(err).
				Str("original_id", entry.OriginalID).
				Msg("Dead letter replay rejected")
			continue
		}
		replayed++
	}
	s.logger.Info().
		Int("replayed", replayed).
		Int("dropped", len(entries)-replayed).
		Msg("Dead letter replay finished")
	return replayed
}

// connect dials through the breaker and retry policy and starts the per
// connection read loop and discovery run
func (s *SessionManager) connect(ctx context.Context) error {
	s.mutex.Lock()
	s.lastAttempt = s.now()
	s.mutex.Unlock()

	return s.breaker.Execute(func() error {
		return resilience.WithRetry(ctx, func() error {
			return s.connectOnce(ctx)
		}, s.retryOpts)
	})
}

func (s *SessionManager) connectOnce(ctx context.Context) error {
	started := s.now()
	conn, err := s.dial(ctx, s.config.Address)
	if err != nil {
		s.health.RecordFailure(err.Error())
		return fmt.Errorf("dial %s: %w", s.config.Address, err)
	}

	s.mutex.Lock()
	s.conn = conn
	s.generation++
	generation := s.generation
	s.connected = true
	s.lastInbound = s.now()
	s.mutex.Unlock()

	// Clear a reconnect request left over from the dead connection
	select {
	case <-s.reconnectCh:
	default:
	}

	s.reader.Reset()
	s.health.RecordSuccess(s.now().Sub(started))
	s.logger.Info().
		Str("address", s.config.Address).
		Int("generation", generation).
		Msg("Connected to panel")

	go s.readLoop(conn, generation)

	s.discovery.Reset()
	s.discovery.Start()
	s.queue.Resume()
	return nil
}

// teardown closes the current connection if any
func (s *SessionManager) teardown() {
	s.mutex.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// enforceAttemptSpacing sleeps until the minimum gap since the previous
// connection attempt has elapsed
func (s *SessionManager) enforceAttemptSpacing() {
	s.mutex.Lock()
	last := s.lastAttempt
	s.mutex.Unlock()

	if last.IsZero() {
		return
	}
	elapsed := s.now().Sub(last)
	if elapsed < s.config.ReconnectSpacing {
		wait := s.config.ReconnectSpacing - elapsed
		s.logger.Debug().Dur("wait", wait).Msg("Spacing out connection attempt")
		s.sleep(wait)
	}
}

// readLoop pulls bytes off one connection and feeds the frame reader. It
// exits when the connection dies; a stale loop never triggers a reconnect
// for a newer generation.
func (s *SessionManager) readLoop(conn net.Conn, generation int) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.noteInbound()
			frames, appendErr := s.reader.Append(buf[:n])
			for _, frame := range frames {
				s.router.Route(frame)
			}
			if appendErr != nil {
				s.logger.Error().
					Err(appendErr).
					Msg("Inbound buffer overflow, stream resynchronized")
			}
		}
		if err != nil {
			if s.isCurrent(generation) {
				s.logger.Warn().
					Err(err).
					Int("generation", generation).
					Msg("Connection read failed")
				s.RequestReconnect("read error: " + err.Error())
			}
			return
		}
	}
}

// writeFrame serializes and writes one frame to the live connection,
// appending the line terminator
func (s *SessionManager) writeFrame(frame *protocol.Frame) error {
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := frame.Serialize()
	if err != nil {
		return err
	}

	started := s.now()
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.health.RecordFailure(err.Error())
		return fmt.Errorf("write to panel: %w", err)
	}
	s.health.RecordSuccess(s.now().Sub(started))
	return nil
}

// heartbeatLoop enforces the inbound-silence ceiling. A socket can sit in
// ESTABLISHED long after the peer is gone, so prolonged silence is treated
// as a dead connection.
func (s *SessionManager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkSilence()
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// checkSilence requests a reconnect when nothing has been heard from the
// panel within the heartbeat timeout
func (s *SessionManager) checkSilence() {
	s.mutex.Lock()
	connected := s.connected
	last := s.lastInbound
	s.mutex.Unlock()

	if !connected {
		return
	}
	silence := s.now().Sub(last)
	if silence > s.config.HeartbeatTimeout {
		s.logger.Warn().
			Dur("silence", silence).
			Dur("ceiling", s.config.HeartbeatTimeout).
			Msg("No inbound traffic within heartbeat ceiling")
		s.RequestReconnect(fmt.Sprintf("no inbound traffic for %s", silence.Round(time.Second)))
	}
}

func (s *SessionManager) noteInbound() {
	s.mutex.Lock()
	s.lastInbound = s.now()
	s.mutex.Unlock()
}

func (s *SessionManager) isCurrent(generation int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connected && s.generation == generation
}

// handleDiscoveryComplete turns the merged discovery buffer into the
// entity set, reconciles the registry and subscribes to updates for every
// discovered object
func (s *SessionManager) handleDiscoveryComplete(buffer map[string]interface{}) {
	tree := panel.BuildTree(buffer)

	s.mutex.Lock()
	stale := make(map[string]bool)
	for objnam := range s.entities {
		stale[objnam] = true
	}
	s.entities = make(map[string]*panel.Entity, len(tree.Entities))
	for i := range tree.Entities {
		entity := tree.Entities[i]
		s.entities[entity.ObjectName] = &entity
		delete(stale, entity.ObjectName)
	}
	s.pumpCircuits = tree.PumpCircuits
	s.mutex.Unlock()

	for i := range tree.Entities {
		s.registry.Upsert(tree.Entities[i].Clone())
	}
	for objnam := range stale {
		s.registry.Remove(objnam)
	}

	s.logger.Info().
		Int("entities", len(tree.Entities)).
		Int("pump_circuits", len(tree.PumpCircuits)).
		Int("removed", len(stale)).
		Msg("Hardware tree reconciled")

	// Subscribe to change notifications for every discovered object
	for i := range tree.Entities {
		request := protocol.NewSubscribeRequest(tree.Entities[i].ObjectName, subscriptionKeys)
		if err := s.queue.Enqueue(request); err != nil {
			s.logger.Warn().
				Err(err).
				Str("objnam", tree.Entities[i].ObjectName).
				Msg("Failed to queue subscription")
		}
	}
}

func (s *SessionManager) applyEntityUpdate(objnam string, changes map[string]interface{}) {
	s.mutex.Lock()
	entity, ok := s.entities[objnam]
	if !ok {
		s.mutex.Unlock()
		return
	}
	entity.ApplyUpdate(changes)
	snapshot := entity.Clone()
	s.mutex.Unlock()

	s.registry.Upsert(snapshot)
	s.logger.Debug().
		Str("objnam", objnam).
		Interface("changes", changes).
		Msg("Entity updated")
}

func (s *SessionManager) applyPumpTelemetry(objnam string, changes map[string]interface{}) {
	s.mutex.Lock()
	circuit, ok := s.pumpCircuits[objnam]
	if !ok {
		s.mutex.Unlock()
		return
	}
	changed := circuit.ApplyTelemetry(changes)
	pump := circuit.Pump
	s.mutex.Unlock()

	if changed {
		s.logger.Debug().
			Str("objnam", objnam).
			Str("pump", pump).
			Interface("changes", changes).
			Msg("Pump circuit telemetry updated")
	}
}

func (s *SessionManager) isPumpCircuit(objnam string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.pumpCircuits[objnam]
	return ok
}

func (s *SessionManager) isKnownEntity(objnam string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.entities[objnam]
	return ok
}

// Health returns the connection health snapshot
func (s *SessionManager) Health() resilience.HealthSnapshot {
	return s.health.GetHealth()
}

// DeadLetters returns the parked commands for the diagnostics API
func (s *SessionManager) DeadLetters() []resilience.DeadLetterEntry {
	return s.deadLetters.GetFailedCommands()
}

// Connected reports whether a connection is currently established
func (s *SessionManager) Connected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connected
}

// Stats reports a diagnostics snapshot across all session components
func (s *SessionManager) Stats() map[string]interface{} {
	s.mutex.Lock()
	connected := s.connected
	generation := s.generation
	lastInbound := s.lastInbound
	entityCount := len(s.entities)
	pumpCircuitCount := len(s.pumpCircuits)
	s.mutex.Unlock()

	dlStats := s.deadLetters.GetStats()
	return map[string]interface{}{
		"address":          s.config.Address,
		"connected":        connected,
		"generation":       generation,
		"last_inbound":     lastInbound,
		"discovery_state":  string(s.discovery.State()),
		"entities":         entityCount,
		"pump_circuits":    pumpCircuitCount,
		"breaker_state":    string(s.breaker.State()),
		"breaker_failures": s.breaker.Failures(),
		"queue_size":       s.queue.Size(),
		"rate_in_window":   s.rateLimiter.InWindow(),
		"dead_letters":     dlStats.Size,
		"parse_errors":     s.router.ParseErrorCount(),
		"framing":          s.reader.Stats(),
	}
}
