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

package bridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/panel"
	"cabana/internal/session"
)

// Daemon composes the panel session and the diagnostics API into one
// long-running bridge process
type Daemon struct {
	config   *Config
	registry *panel.MemoryRegistry
	session  *session.SessionManager
	api      *APIServer

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	mutex   sync.Mutex
}

// NewDaemon creates a new bridge daemon from a config file
func NewDaemon(configPath string) (*Daemon, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewDaemonWithConfig(config), nil
}

// NewDaemonWithConfig creates a new bridge daemon from an in-memory config
func NewDaemonWithConfig(config *Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	registry := panel.NewMemoryRegistry()
	sess := session.NewSessionManager(config.SessionConfig(), registry)

	return &Daemon{
		config:   config,
		registry: registry,
		session:  sess,
		api:      NewAPIServer(sess, registry, config),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Component("daemon"),
	}
}

// Start runs the daemon until a shutdown signal arrives
func (d *Daemon) Start() error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mutex.Unlock()

	d.logger.Info().
		Str("panel", d.config.PanelAddress()).
		Str("api", d.config.API.Address).
		Msg("Starting bridge daemon")

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- d.session.Run(d.ctx)
	}()

	apiErr := make(chan error, 1)
	go func() {
		if err := d.api.Start(); err != nil && err != http.ErrServerClosed {
			apiErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-apiErr:
		d.logger.Error().Err(err).Msg("API server failed")
		d.Stop()
		return err
	case err := <-sessionErr:
		if err != nil && err != context.Canceled {
			d.logger.Error().Err(err).Msg("Session loop exited")
			d.Stop()
			return err
		}
	}

	d.Stop()
	return nil
}

// Stop shuts down the daemon components
func (d *Daemon) Stop() {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return
	}
	d.running = false
	d.mutex.Unlock()

	d.logger.Info().Msg("Stopping bridge daemon")
	d.cancel()
	if err := d.api.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("API server stop failed")
	}
}

// Session exposes the panel session, used by the status command
func (d *Daemon) Session() *session.SessionManager {
	return d.session
}
