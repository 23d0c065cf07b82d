// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/quistream/internal/api"
	"github.com/autobrr/quistream/internal/api/sse"
	"github.com/autobrr/quistream/internal/buildinfo"
	"github.com/autobrr/quistream/internal/config"
	"github.com/autobrr/quistream/internal/domain"
	"github.com/autobrr/quistream/internal/metrics"
	"github.com/autobrr/quistream/internal/pkg/timeouts"
	"github.com/autobrr/quistream/internal/stream"
	"github.com/autobrr/quistream/internal/swarm"
)

const progressLogInterval = 5 * time.Second

type serveOptions struct {
	configDir string
	torrent   string
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configDir, "config-dir", "", "Config directory or config.toml path (default: platform config dir)")
	cmd.Flags().StringVar(&o.torrent, "torrent", "", "Magnet URI, info-hash or .torrent path to load at startup (overrides config)")
}

func RunServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the streaming server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	appConfig, err := config.New(opts.configDir)
	if err != nil {
		return errors.Wrap(err, "could not load config")
	}
	defer appConfig.Close()

	cfg := appConfig.Config
	if opts.torrent != "" {
		cfg.Torrent = opts.torrent
	}
	cfg.Version = buildinfo.Version

	if err := appConfig.ApplyLogConfig(); err != nil {
		return errors.Wrap(err, "could not configure logging")
	}
	appConfig.Watch()

	redacted := cfg.Redacted()
	log.Info().
		Str("version", buildinfo.Version).
		Str("config", appConfig.ConfigFile()).
		Msg("Starting quistream")
	log.Debug().Interface("config", redacted).Msg("Loaded configuration")

	rateLimit, err := cfg.DownloadRateLimitBytes()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := sse.NewSessionEvents(0)
	loader := swarm.NewLoader(
		swarm.ClientOpener(swarm.Config{
			DataDir:           cfg.DataDir,
			Connections:       cfg.Connections,
			ListenPort:        cfg.ListenPort,
			DownloadRateLimit: rateLimit,
			MetadataTimeout:   cfg.MetadataTimeout,
			PieceTimeout:      cfg.PieceTimeout,
			UserAgent:         buildinfo.UserAgent,
		}),
		stream.Options{
			PieceTimeout: cfg.PieceTimeout,
			Observers: []stream.Observer{
				stream.NewLogObserver(log.Logger.With().Str("module", "stream").Logger(), progressLogInterval),
				events,
			},
		},
	)

	if cfg.Torrent != "" {
		go preload(ctx, loader, cfg.Torrent)
	}

	srv := api.NewServer(&api.Dependencies{
		Config: cfg,
		Loader: loader,
		Events: events,
		Ready:  readiness(cfg, loader),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var metricsServer *metrics.MetricsServer
	if cfg.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(metrics.NewManager(loader), cfg.MetricsHost, cfg.MetricsPort, cfg.MetricsBasicAuthUsers)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	pprofServer := api.StartPprofServer(cfg)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("HTTP server stopped")
		}
	}

	shutdownCtx, cancel := timeouts.WithShutdownTimeout(context.Background())
	defer cancel()

	// Ending the sessions first lets in-flight stream responses return.
	if err := loader.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to tear down torrent")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down HTTP server")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down metrics server")
		}
	}
	if pprofServer != nil {
		if err := pprofServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down profiling server")
		}
	}

	log.Info().Msg("Stopped")
	return serveErr
}

func preload(ctx context.Context, loader *swarm.Loader, source string) {
	log.Info().Msg("Loading configured torrent")

	loaded, err := loader.Load(ctx, source)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Msg("Failed to load torrent")
		return
	}

	log.Info().
		Str("infoHash", loaded.Descriptor.InfoHash).
		Str("name", loaded.Descriptor.Name).
		Int("files", len(loaded.Descriptor.Files)).
		Msg("Torrent ready")
}

// readiness reports not-ready until a configured torrent has loaded. Without
// one the server loads on demand and is always ready.
func readiness(cfg *domain.Config, loader *swarm.Loader) func() error {
	return func() error {
		if cfg.Torrent == "" {
			return nil
		}
		if _, ok := loader.Current(); !ok {
			return errors.New("torrent not loaded")
		}
		return nil
	}
}
