// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net"
	"net/http"
	_ "net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/api/handlers"
	"github.com/autobrr/quistream/internal/domain"
)

// NewPprofHandler serves the net/http/pprof endpoints plus runtime controls
// for block and mutex profiling.
func NewPprofHandler() http.Handler {
	controller := handlers.NewPprofController()

	r := chi.NewRouter()

	// Registered on http.DefaultServeMux by the net/http/pprof import.
	r.HandleFunc("/debug/pprof/*", func(w http.ResponseWriter, req *http.Request) {
		http.DefaultServeMux.ServeHTTP(w, req)
	})
	r.Route("/debug/pprof/control", controller.Routes)

	return r
}

// StartPprofServer starts the profiling server in the background when enabled.
// The returned server is nil when profiling is off.
func StartPprofServer(cfg *domain.Config) *http.Server {
	if !cfg.PprofEnabled {
		return nil
	}

	addr := net.JoinHostPort(cfg.PprofHost, strconv.Itoa(cfg.PprofPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewPprofHandler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info().Msgf("Starting pprof server on %s", addr)
		log.Info().Msgf("  - CPU:    go tool pprof http://%s/debug/pprof/profile?seconds=30", addr)
		log.Info().Msgf("  - Heap:   go tool pprof http://%s/debug/pprof/heap", addr)
		log.Info().Msgf("  - Status: curl http://%s/debug/pprof/control/status", addr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Profiling server failed")
		}
	}()

	return srv
}
