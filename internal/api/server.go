// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/api/handlers"
	"github.com/autobrr/quistream/internal/api/middleware"
	"github.com/autobrr/quistream/internal/api/sse"
	"github.com/autobrr/quistream/internal/domain"
	"github.com/autobrr/quistream/pkg/httphelpers"
)

const readHeaderTimeout = 10 * time.Second

// Dependencies holds everything the HTTP layer needs.
type Dependencies struct {
	Config *domain.Config
	Loader handlers.TorrentLoader
	// Events may be nil, which disables /api/events.
	Events *sse.SessionEvents
	// Ready may be nil, which makes the server always ready.
	Ready handlers.ReadyFunc
}

type Server struct {
	server *http.Server
	logger zerolog.Logger

	config *domain.Config
	loader handlers.TorrentLoader
	events *sse.SessionEvents
	ready  handlers.ReadyFunc
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		// No WriteTimeout: stream responses run as long as the viewer watches.
		server: &http.Server{
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       2 * time.Minute,
		},
		logger: log.Logger.With().Str("module", "http").Logger(),
		config: deps.Config,
		loader: deps.Loader,
		events: deps.Events,
		ready:  deps.Ready,
	}
}

// Handler builds the router. Routes live under the configured base URL.
func (s *Server) Handler() (*chi.Mux, error) {
	compress, err := middleware.Compress(-1)
	if err != nil {
		return nil, errors.Wrap(err, "could not create compression middleware")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(s.cors().Handler)

	health := handlers.NewHealthHandler(s.ready)
	r.Get("/", health.HandleRoot)
	r.Route("/health", health.Routes)

	extensions := s.config.Extensions()
	r.Route("/stream", handlers.NewStreamHandler(s.loader, extensions).Routes)

	r.Route("/api", func(r chi.Router) {
		if s.events != nil {
			r.Get("/events", s.events.Serve)
		}

		r.Group(func(r chi.Router) {
			r.Use(compress)

			r.Get("/version", handlers.NewVersionHandler().GetVersion)
			r.Route("/torrent", handlers.NewTorrentHandler(s.loader, extensions).Routes)
			r.Route("/sessions", handlers.NewSessionsHandler(s.loader).Routes)
		})
	})

	base := httphelpers.NormalizeBasePath(s.config.BaseURL)
	if base == "" {
		return r, nil
	}

	root := chi.NewRouter()
	root.Mount(base, r)
	root.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, httphelpers.JoinBasePath(base, "/"), http.StatusFound)
	})
	return root, nil
}

func (s *Server) cors() *cors.Cors {
	origins := s.config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Range", "If-Range", "X-Requested-With"},
		ExposedHeaders:   []string{"Accept-Ranges", "Content-Length", "Content-Range", "ETag", handlers.SessionHeader},
		AllowCredentials: len(s.config.CORSAllowedOrigins) > 0,
		MaxAge:           300,
	})
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)))
	if err != nil {
		return errors.Wrap(err, "could not listen")
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.server.Handler = handler

	s.logger.Info().Msgf("Starting HTTP server on %s", listener.Addr())

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown ends event streams, then waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.events != nil {
		if err := s.events.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close event streams")
		}
	}
	return s.server.Shutdown(ctx)
}
