// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api serves the small operational HTTP surface: liveness, last run
// status and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sweeparr/sweeparr/internal/buildinfo"
	"github.com/sweeparr/sweeparr/internal/domain"
	"github.com/sweeparr/sweeparr/internal/models"
)

type Server struct {
	cfg           *domain.Config
	settingsStore *models.SettingsStore
	activityStore *models.ActivityLogStore
	httpServer    *http.Server
}

func NewServer(cfg *domain.Config, settingsStore *models.SettingsStore, activityStore *models.ActivityLogStore) *Server {
	s := &Server{
		cfg:           cfg,
		settingsStore: settingsStore,
		activityStore: activityStore,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/activity", s.handleActivity)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("ops HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

// handleStatus reports the last sync/match runs from the settings table.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settingsStore.All(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load status"})
		return
	}

	status := map[string]any{
		"version": buildinfo.Get(),
	}
	for _, key := range []string{
		models.SettingLastSyncAt, models.SettingLastSyncResult,
		models.SettingLastMatchAt, models.SettingLastMatchResult,
	} {
		if value, ok := settings[key]; ok {
			var decoded any
			if json.Unmarshal([]byte(value), &decoded) == nil {
				status[key] = decoded
			} else {
				status[key] = value
			}
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.activityStore.Recent(r.Context(), 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load activity"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
