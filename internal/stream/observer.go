// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/autobrr/quistream/pkg/debounce"
)

// LogObserver writes session lifecycle events to a zerolog logger. Progress
// lines are throttled per session.
type LogObserver struct {
	logger   zerolog.Logger
	interval time.Duration

	mu         sync.Mutex
	debouncers map[uint64]*debounce.Debouncer
}

func NewLogObserver(logger zerolog.Logger, interval time.Duration) *LogObserver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &LogObserver{
		logger:     logger.With().Str("module", "stream").Logger(),
		interval:   interval,
		debouncers: make(map[uint64]*debounce.Debouncer),
	}
}

func (o *LogObserver) SessionStarted(info SessionInfo) {
	o.logger.Info().
		Uint64("sessionId", info.ID).
		Str("file", info.File).
		Int64("start", info.Start).
		Int64("end", info.End).
		Int("pieces", info.LastPiece-info.FirstPiece+1).
		Msg("Streaming range")
}

func (o *LogObserver) SessionProgress(info SessionInfo) {
	o.mu.Lock()
	d, ok := o.debouncers[info.ID]
	if !ok {
		d = debounce.New(o.interval)
		o.debouncers[info.ID] = d
	}
	o.mu.Unlock()

	d.Do(func() {
		total := info.End - info.Start + 1
		o.logger.Debug().
			Uint64("sessionId", info.ID).
			Str("sent", humanize.IBytes(uint64(info.Emitted))).
			Str("total", humanize.IBytes(uint64(total))).
			Msg("Stream progress")
	})
}

func (o *LogObserver) SessionFinished(info SessionInfo) {
	o.mu.Lock()
	d := o.debouncers[info.ID]
	delete(o.debouncers, info.ID)
	o.mu.Unlock()

	if d != nil {
		d.Cancel()
	}

	var ev *zerolog.Event
	switch info.Outcome {
	case OutcomeFailed.String():
		ev = o.logger.Warn()
	case OutcomeCancelled.String():
		ev = o.logger.Debug()
	default:
		ev = o.logger.Info()
	}

	if info.Error != "" {
		ev = ev.Err(errors.New(info.Error))
	}

	ev.Uint64("sessionId", info.ID).
		Str("outcome", info.Outcome).
		Str("sent", humanize.IBytes(uint64(info.Emitted))).
		Dur("duration", info.Duration).
		Msg("Stream session finished")
}
