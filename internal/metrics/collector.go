// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/stream"
	"github.com/autobrr/quistream/internal/swarm"
)

// Source reports the loaded torrent. *swarm.Loader satisfies it.
type Source interface {
	Current() (*swarm.Loaded, bool)
}

var bufferedStates = []stream.PieceState{
	stream.PieceRequested,
	stream.PieceDownloading,
	stream.PieceReady,
}

type StreamCollector struct {
	source Source

	torrentLoadedDesc   *prometheus.Desc
	sessionsActiveDesc  *prometheus.Desc
	sessionsStartedDesc *prometheus.Desc
	sessionsTotalDesc   *prometheus.Desc
	bytesEmittedDesc    *prometheus.Desc
	piecesDesc          *prometheus.Desc
	bufferResidentDesc  *prometheus.Desc
	bufferPeakDesc      *prometheus.Desc
	evictionsDesc       *prometheus.Desc
	peersDesc           *prometheus.Desc
	bytesCompletedDesc  *prometheus.Desc
	piecesCompletedDesc *prometheus.Desc
}

func NewStreamCollector(source Source) *StreamCollector {
	return &StreamCollector{
		source: source,

		torrentLoadedDesc: prometheus.NewDesc(
			"quistream_torrent_loaded",
			"Whether a torrent is loaded (1=loaded, 0=not loaded)",
			nil,
			nil,
		),
		sessionsActiveDesc: prometheus.NewDesc(
			"quistream_sessions_active",
			"Number of stream sessions currently emitting bytes",
			nil,
			nil,
		),
		sessionsStartedDesc: prometheus.NewDesc(
			"quistream_sessions_started_total",
			"Total number of stream sessions started",
			nil,
			nil,
		),
		sessionsTotalDesc: prometheus.NewDesc(
			"quistream_sessions_total",
			"Total number of finished stream sessions by outcome",
			[]string{"outcome"},
			nil,
		),
		bytesEmittedDesc: prometheus.NewDesc(
			"quistream_bytes_emitted_total",
			"Total number of bytes written to stream consumers",
			nil,
			nil,
		),
		piecesDesc: prometheus.NewDesc(
			"quistream_pieces",
			"Number of buffered pieces by state",
			[]string{"state"},
			nil,
		),
		bufferResidentDesc: prometheus.NewDesc(
			"quistream_buffer_resident_bytes",
			"Bytes of piece data held in memory",
			nil,
			nil,
		),
		bufferPeakDesc: prometheus.NewDesc(
			"quistream_buffer_peak_bytes",
			"Highest number of piece bytes held in memory at once",
			nil,
			nil,
		),
		evictionsDesc: prometheus.NewDesc(
			"quistream_buffer_evictions_total",
			"Total number of pieces evicted from memory",
			nil,
			nil,
		),
		peersDesc: prometheus.NewDesc(
			"quistream_torrent_peers",
			"Number of peers by connection state",
			[]string{"state"},
			nil,
		),
		bytesCompletedDesc: prometheus.NewDesc(
			"quistream_torrent_bytes_completed",
			"Bytes of the torrent verified on disk",
			nil,
			nil,
		),
		piecesCompletedDesc: prometheus.NewDesc(
			"quistream_torrent_pieces_completed",
			"Number of torrent pieces verified on disk",
			nil,
			nil,
		),
	}
}

func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrentLoadedDesc
	ch <- c.sessionsActiveDesc
	ch <- c.sessionsStartedDesc
	ch <- c.sessionsTotalDesc
	ch <- c.bytesEmittedDesc
	ch <- c.piecesDesc
	ch <- c.bufferResidentDesc
	ch <- c.bufferPeakDesc
	ch <- c.evictionsDesc
	ch <- c.peersDesc
	ch <- c.bytesCompletedDesc
	ch <- c.piecesCompletedDesc
}

func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	var (
		loaded *swarm.Loaded
		ok     bool
	)
	if c.source != nil {
		loaded, ok = c.source.Current()
	}

	if !ok {
		ch <- prometheus.MustNewConstMetric(c.torrentLoadedDesc, prometheus.GaugeValue, 0)
		log.Trace().Msg("No torrent loaded, skipping stream metrics")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.torrentLoadedDesc, prometheus.GaugeValue, 1)

	stats := loaded.Manager.Stats()

	ch <- prometheus.MustNewConstMetric(c.sessionsActiveDesc, prometheus.GaugeValue, float64(stats.Active))
	ch <- prometheus.MustNewConstMetric(c.sessionsStartedDesc, prometheus.CounterValue, float64(stats.Started))
	ch <- prometheus.MustNewConstMetric(c.sessionsTotalDesc, prometheus.CounterValue, float64(stats.Completed), stream.OutcomeCompleted.String())
	ch <- prometheus.MustNewConstMetric(c.sessionsTotalDesc, prometheus.CounterValue, float64(stats.Failed), stream.OutcomeFailed.String())
	ch <- prometheus.MustNewConstMetric(c.sessionsTotalDesc, prometheus.CounterValue, float64(stats.Cancelled), stream.OutcomeCancelled.String())
	ch <- prometheus.MustNewConstMetric(c.bytesEmittedDesc, prometheus.CounterValue, float64(stats.BytesEmitted))

	for _, state := range bufferedStates {
		ch <- prometheus.MustNewConstMetric(c.piecesDesc, prometheus.GaugeValue, float64(stats.Buffer.ByState[state]), state.String())
	}
	ch <- prometheus.MustNewConstMetric(c.bufferResidentDesc, prometheus.GaugeValue, float64(stats.Buffer.Resident))
	ch <- prometheus.MustNewConstMetric(c.bufferPeakDesc, prometheus.GaugeValue, float64(stats.Buffer.Peak))
	ch <- prometheus.MustNewConstMetric(c.evictionsDesc, prometheus.CounterValue, float64(stats.Buffer.Evictions))

	status := loaded.Swarm.Status()
	ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(status.ActivePeers), "active")
	ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(status.TotalPeers), "known")
	ch <- prometheus.MustNewConstMetric(c.bytesCompletedDesc, prometheus.GaugeValue, float64(status.BytesCompleted))
	ch <- prometheus.MustNewConstMetric(c.piecesCompletedDesc, prometheus.GaugeValue, float64(status.PiecesComplete))
}
