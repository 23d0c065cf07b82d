// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/buildinfo"
)

// Manager owns the registry exposed on /metrics. Each manager has its own
// registry so tests never touch the global one.
type Manager struct {
	registry        *prometheus.Registry
	streamCollector *StreamCollector
}

func NewManager(source Source) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quistream_build_info",
		Help: "Build information of the running binary",
	}, []string{"version", "commit", "goversion"})
	buildInfo.WithLabelValues(buildinfo.Version, buildinfo.Commit, runtime.Version()).Set(1)
	registry.MustRegister(buildInfo)

	streamCollector := NewStreamCollector(source)
	registry.MustRegister(streamCollector)

	log.Debug().Msg("Metrics registry initialized")

	return &Manager{
		registry:        registry,
		streamCollector: streamCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promLogger routes promhttp collection errors to zerolog.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	log.Warn().Msgf("metrics: %v", v)
}
