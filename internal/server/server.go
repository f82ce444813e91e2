// Copyright 2025 Tom Barlow
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

// Package server provides the HTTP surface of the daemon: the tick API,
// diagnostics, health, Prometheus metrics, and the /files endpoint that
// backs filesystem object-store signed URLs.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/catsync/internal/config"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
	catsyncerrors "github.com/tombee/catsync/pkg/errors"
)

// Ticker is the orchestrator surface the API drives.
type Ticker interface {
	Tick(ctx context.Context, req pipeline.TickRequest) (*pipeline.TickResponse, error)
}

// Server is the daemon HTTP server.
type Server struct {
	ticker Ticker
	store  store.Store
	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a server. files, when non-nil, is mounted under /files/
// to serve filesystem object-store signed URLs; the s3 backend signs
// its own URLs and passes nil.
func New(ticker Ticker, st store.Store, files http.Handler, cfg config.ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		ticker: ticker,
		store:  st,
		cfg:    cfg,
		logger: catsynclog.WithComponent(logger, "server"),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/v1/sync", s.requireAuth(s.handleSync))
	s.mux.HandleFunc("GET /api/v1/sync", s.requireAuth(s.handleDiagnostics))
	s.mux.HandleFunc("GET /api/v1/sync/{id}", s.requireAuth(s.handleDiagnostics))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if files != nil {
		s.mux.Handle("GET /files/", files)
	}

	return s
}

// ServeHTTP implements http.Handler with request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Info("request completed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
}

// Run serves until the context is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return ctx.Err()
}

// requireAuth enforces the bearer token on API endpoints. Without a
// configured token the API is open, which is the local-dev default.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.recordAuthFailure(r)
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

// bearerToken extracts the token from the Authorization header.
// The prefix match is case-insensitive per RFC 6750.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// recordAuthFailure logs the refusal, attaching an event to the current
// run when a scheduled trigger is being rejected so the failure is
// visible in run diagnostics, not just daemon logs.
func (s *Server) recordAuthFailure(r *http.Request) {
	s.logger.Warn("auth failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	if r.Method != http.MethodPost {
		return
	}
	running, err := s.store.ListRunning(r.Context())
	if err != nil || len(running) == 0 {
		return
	}
	if err := s.store.LogEvent(r.Context(), running[0].ID, store.LevelWarn, "cron_auth_failed", map[string]any{
		"path": r.URL.Path,
	}); err != nil {
		s.logger.Warn("event log failed", catsynclog.Error(err))
	}
}

// handleSync performs one orchestrator tick.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req pipeline.TickRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}
	if req.Trigger == "" {
		req.Trigger = store.TriggerManual
	}
	if req.Trigger != store.TriggerManual && req.Trigger != store.TriggerCron {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown trigger %q", req.Trigger))
		return
	}

	resp, err := s.ticker.Tick(r.Context(), req)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("tick failed", catsynclog.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDiagnostics returns a read-only run dump without advancing it.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ticker.Tick(r.Context(), pipeline.TickRequest{
		Mode:        "diagnostics",
		ResumeRunID: r.PathValue("id"),
	})
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("diagnostics failed", catsynclog.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", catsynclog.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func isNotFound(err error) bool {
	var nf *catsyncerrors.NotFoundError
	return errors.As(err, &nf)
}
