// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sse publishes stream session lifecycle events to browsers over
// server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"

	"github.com/autobrr/quistream/internal/stream"
)

const (
	// Topic is the single topic every subscriber joins.
	Topic = "sessions"

	EventSessionStarted  = "session-started"
	EventSessionProgress = "session-progress"
	EventSessionFinished = "session-finished"
	EventHeartbeat       = "heartbeat"

	defaultProgressInterval = time.Second
	heartbeatInterval       = 15 * time.Second
)

// EventPayload is the JSON body of every event.
type EventPayload struct {
	Type      string              `json:"type"`
	Session   *stream.SessionInfo `json:"session,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// SessionEvents is a stream.Observer that fans session events out to SSE
// subscribers. Progress events are throttled per session.
type SessionEvents struct {
	server           *sse.Server
	progressInterval time.Duration

	closing atomic.Bool

	mu       sync.Mutex
	progress map[uint64]*rate.Sometimes

	ctx    context.Context //nolint:containedctx // lifecycle root for the heartbeat loop
	cancel context.CancelFunc
}

var _ stream.Observer = (*SessionEvents)(nil)

func NewSessionEvents(progressInterval time.Duration) *SessionEvents {
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}

	replayer, err := sse.NewFiniteReplayer(4, true)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create SSE replayer; reconnecting clients may miss events")
		replayer = nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &SessionEvents{
		server: &sse.Server{
			Provider: &sse.Joe{Replayer: replayer},
		},
		progressInterval: progressInterval,
		progress:         make(map[uint64]*rate.Sometimes),
		ctx:              ctx,
		cancel:           cancel,
	}
	e.server.OnSession = e.onSession

	go e.heartbeatLoop()

	return e
}

// Serve implements GET /api/events. It blocks until the client goes away.
func (e *SessionEvents) Serve(w http.ResponseWriter, r *http.Request) {
	if e.closing.Load() {
		http.Error(w, "event stream shutting down", http.StatusServiceUnavailable)
		return
	}

	// Event streams are long-lived; drop any server write deadline.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	e.server.ServeHTTP(w, r)
}

func (e *SessionEvents) onSession(w http.ResponseWriter, _ *http.Request) ([]string, bool) {
	if e.closing.Load() {
		http.Error(w, "event stream shutting down", http.StatusServiceUnavailable)
		return nil, false
	}
	return []string{Topic}, true
}

func (e *SessionEvents) SessionStarted(info stream.SessionInfo) {
	e.publish(EventSessionStarted, &info)
}

func (e *SessionEvents) SessionProgress(info stream.SessionInfo) {
	e.mu.Lock()
	s, ok := e.progress[info.ID]
	if !ok {
		s = &rate.Sometimes{Interval: e.progressInterval}
		e.progress[info.ID] = s
	}
	e.mu.Unlock()

	s.Do(func() { e.publish(EventSessionProgress, &info) })
}

func (e *SessionEvents) SessionFinished(info stream.SessionInfo) {
	e.mu.Lock()
	delete(e.progress, info.ID)
	e.mu.Unlock()

	e.publish(EventSessionFinished, &info)
}

func (e *SessionEvents) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.publish(EventHeartbeat, nil)
		}
	}
}

func (e *SessionEvents) publish(eventType string, info *stream.SessionInfo) {
	if e.closing.Load() {
		return
	}

	encoded, err := json.Marshal(EventPayload{
		Type:      eventType,
		Session:   info,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to marshal SSE payload")
		return
	}

	message := &sse.Message{Type: sse.Type(eventType)}
	message.AppendData(string(encoded))

	if err := e.server.Publish(message, Topic); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to publish SSE message")
	}
}

// Shutdown disconnects every subscriber. Events published afterwards are
// dropped.
func (e *SessionEvents) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	if !e.closing.CompareAndSwap(false, true) {
		return nil
	}

	e.cancel()

	if ctx == nil {
		ctx = context.Background()
	}

	if err := e.server.Shutdown(ctx); err != nil &&
		!errors.Is(err, sse.ErrProviderClosed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
