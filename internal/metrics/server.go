// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const realm = "quistream metrics"

type MetricsServer struct {
	server         *http.Server
	manager        *Manager
	basicAuthUsers map[string]string
}

// NewMetricsServer serves the manager's registry on /metrics. basicAuthUsers
// is a comma separated list of user:password pairs; malformed entries are
// skipped.
func NewMetricsServer(manager *Manager, host string, port int, basicAuthUsers string) *MetricsServer {
	s := &MetricsServer{
		manager:        manager,
		basicAuthUsers: parseBasicAuthUsers(basicAuthUsers),
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if len(s.basicAuthUsers) > 0 {
			r.Use(BasicAuth(realm, s.basicAuthUsers))
		}
		r.Handle("/metrics", manager.Handler())
	})

	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)
	for entry := range strings.SplitSeq(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, pass, ok := strings.Cut(entry, ":")
		if !ok || user == "" {
			log.Warn().Msg("Skipping malformed metrics basic auth entry")
			continue
		}
		users[user] = pass
	}
	return users
}

// BasicAuth rejects requests without one of the given user/password pairs.
func BasicAuth(realm string, users map[string]string) func(http.Handler) http.Handler {
	return chimiddleware.BasicAuth(realm, users)
}

func (s *MetricsServer) ListenAndServe() error {
	log.Info().Msgf("Starting metrics server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *MetricsServer) Stop() error {
	return s.server.Close()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
