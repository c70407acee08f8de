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
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/panel"
	"cabana/internal/session"
)

// APIServer exposes the bridge's diagnostics and control surface over HTTP
type APIServer struct {
	session         *session.SessionManager
	registry        *panel.MemoryRegistry
	config          *Config
	logger          zerolog.Logger
	server          *http.Server
	jwtService      *JWTService
	passwordService *PasswordService
	authMiddleware  *AuthMiddleware
}

// NewAPIServer creates a new API server
func NewAPIServer(sess *session.SessionManager, registry *panel.MemoryRegistry, config *Config) *APIServer {
	jwtService := NewJWTService(config.Security.JWT.SecretKey, config.Security.JWT.Issuer, config.Security.JWT.ExpiryHours)
	passwordService := NewPasswordService()
	authMiddleware := NewAuthMiddleware(jwtService, config.Security.AuthRequired)

	return &APIServer{
		session:         sess,
		registry:        registry,
		config:          config,
		logger:          logger.Component("api"),
		jwtService:      jwtService,
		passwordService: passwordService,
		authMiddleware:  authMiddleware,
	}
}

// Router builds the HTTP route table
func (api *APIServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(api.loggingMiddleware)
	router.Use(api.corsMiddleware)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	// Read-only diagnostics
	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")
	apiRouter.HandleFunc("/stats", api.handleStats).Methods("GET")
	apiRouter.HandleFunc("/entities", api.handleEntities).Methods("GET")
	apiRouter.HandleFunc("/entities/{objnam}", api.handleEntity).Methods("GET")
	apiRouter.HandleFunc("/deadletters", api.handleDeadLetters).Methods("GET")

	// Mutating endpoints, JWT-protected when auth is enabled
	apiRouter.Handle("/entities/{objnam}/params", api.authMiddleware.RequireAuth(http.HandlerFunc(api.handleSetParams))).Methods("POST")
	apiRouter.Handle("/deadletters/replay", api.authMiddleware.RequireAuth(http.HandlerFunc(api.handleReplay))).Methods("POST")
	apiRouter.Handle("/reconnect", api.authMiddleware.RequireAuth(http.HandlerFunc(api.handleReconnect))).Methods("POST")

	// Authentication
	apiRouter.HandleFunc("/auth/login", api.handleLogin).Methods("POST")

	return router
}

// Start starts the HTTP API server
func (api *APIServer) Start() error {
	timeout := api.config.GetAPITimeout()
	api.server = &http.Server{
		Addr:         api.config.API.Address,
		Handler:      api.Router(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  60 * time.Second,
	}

	api.logger.Info().
		Str("address", api.config.API.Address).
		Bool("auth_required", api.config.Security.AuthRequired).
		Msg("Starting API server")

	return api.server.ListenAndServe()
}

// Stop stops the API server
func (api *APIServer) Stop() error {
	if api.server != nil {
		return api.server.Close()
	}
	return nil
}

// Middleware
func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		api.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (api *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Response helpers
func (api *APIServer) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (api *APIServer) sendError(w http.ResponseWriter, status int, message string) {
	api.sendJSON(w, status, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Diagnostics endpoints
func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := api.session.Health()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}

	api.sendJSON(w, status, map[string]interface{}{
		"healthy":   health.Healthy,
		"connected": api.session.Connected(),
		"health":    health,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (api *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, http.StatusOK, api.session.Stats())
}

func (api *APIServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities := api.registry.Entities()
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(entities),
		"entities": entities,
	})
}

func (api *APIServer) handleEntity(w http.ResponseWriter, r *http.Request) {
	objnam := mux.Vars(r)["objnam"]
	entity, ok := api.registry.Get(objnam)
	if !ok {
		api.sendError(w, http.StatusNotFound, "unknown entity: "+objnam)
		return
	}
	api.sendJSON(w, http.StatusOK, entity)
}

func (api *APIServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries := api.session.DeadLetters()
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// Control endpoints
func (api *APIServer) handleSetParams(w http.ResponseWriter, r *http.Request) {
	objnam := mux.Vars(r)["objnam"]

	var params map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		api.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(params) == 0 {
		api.sendError(w, http.StatusBadRequest, "params cannot be empty")
		return
	}

	if err := api.session.SetParams(objnam, params); err != nil {
		api.sendError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	api.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"objnam": objnam,
	})
}

func (api *APIServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	replayed := api.session.ReplayDeadLetters()
	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"replayed": replayed,
	})
}

func (api *APIServer) handleReconnect(w http.ResponseWriter, r *http.Request) {
	api.session.ResetBreaker()
	api.session.RequestReconnect("operator requested reconnect")
	api.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"reconnecting": true,
	})
}

// Authentication endpoints
func (api *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		api.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	operator := api.config.Security.Operator
	if operator.Username == "" || request.Username != operator.Username {
		api.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	valid, err := api.passwordService.VerifyPassword(request.Password, operator.PasswordHash)
	if err != nil || !valid {
		api.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := api.jwtService.GenerateToken(operator.Username)
	if err != nil {
		api.sendError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": api.config.Security.JWT.ExpiryHours * 3600,
	})
}
