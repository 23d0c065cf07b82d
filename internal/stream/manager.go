// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Observer is told about session lifecycle events. Calls are made without
// any stream lock held and must not block for long.
type Observer interface {
	SessionStarted(info SessionInfo)
	SessionProgress(info SessionInfo)
	SessionFinished(info SessionInfo)
}

// Options configures a Manager.
type Options struct {
	// PieceTimeout bounds how long a session waits for any single piece.
	// Zero waits forever.
	PieceTimeout time.Duration
	Observers    []Observer
}

// Request describes one streaming request against the loaded torrent.
type Request struct {
	Layout Layout
	Range  ByteRange
	// Playable is false when the torrent has no file eligible for streaming.
	Playable bool
	// Label names the file in logs and session listings.
	Label string
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Active       int         `json:"active"`
	Started      uint64      `json:"started"`
	Completed    uint64      `json:"completed"`
	Failed       uint64      `json:"failed"`
	Cancelled    uint64      `json:"cancelled"`
	BytesEmitted int64       `json:"bytesEmitted"`
	Buffer       BufferStats `json:"-"`
}

// Manager owns the scheduler and buffer for one engine and tracks every
// active session.
type Manager struct {
	engine    Engine
	buffer    *Buffer
	scheduler *Scheduler
	opts      Options

	nextID atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*Session

	closing atomic.Bool

	started      atomic.Uint64
	completed    atomic.Uint64
	failed       atomic.Uint64
	cancelled    atomic.Uint64
	bytesEmitted atomic.Int64
}

func NewManager(engine Engine, opts Options) *Manager {
	buffer := NewBuffer()
	return &Manager{
		engine:    engine,
		buffer:    buffer,
		scheduler: NewScheduler(engine, buffer),
		opts:      opts,
		sessions:  make(map[uint64]*Session),
	}
}

// Start validates the request, claims its piece window and registers a new
// session. The caller drives the session with Run.
func (m *Manager) Start(req Request, sink Sink) (*Session, error) {
	if m.closing.Load() {
		return nil, ErrManagerClosed
	}
	if !req.Playable {
		return nil, ErrNoPlayableContent
	}
	if sink == nil {
		return nil, errors.New("stream: nil sink")
	}

	layout := req.Layout.normalize()
	window, err := Translate(layout, req.Range)
	if err != nil {
		return nil, err
	}

	id := m.nextID.Add(1)
	s := &Session{
		id:           id,
		label:        req.Label,
		layout:       layout,
		window:       window,
		sink:         sink,
		manager:      m,
		started:      time.Now(),
		pieceTimeout: m.opts.PieceTimeout,
		cancelCh:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.cursor.Store(window.Range.Start)

	s.handle = m.scheduler.Acquire(id, window)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.started.Add(1)

	// Shutdown may have raced past the registration above.
	if m.closing.Load() {
		s.Cancel()
		return nil, ErrManagerClosed
	}

	log.Debug().
		Uint64("sessionId", id).
		Str("file", req.Label).
		Str("range", window.Range.String()).
		Int("firstPiece", window.FirstPiece).
		Int("lastPiece", window.LastPiece).
		Msg("Stream session started")

	info := s.Info()
	for _, o := range m.opts.Observers {
		o.SessionStarted(info)
	}

	return s, nil
}

// Cancel cancels the session with the given id. It reports whether the
// session was active.
func (m *Manager) Cancel(id uint64) bool {
	s := m.Session(id)
	if s == nil {
		return false
	}
	s.Cancel()
	return true
}

func (m *Manager) Session(id uint64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Sessions lists active sessions ordered by id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()

	return Stats{
		Active:       active,
		Started:      m.started.Load(),
		Completed:    m.completed.Load(),
		Failed:       m.failed.Load(),
		Cancelled:    m.cancelled.Load(),
		BytesEmitted: m.bytesEmitted.Load(),
		Buffer:       m.buffer.Snapshot(),
	}
}

func (m *Manager) Buffer() *Buffer {
	return m.buffer
}

// Shutdown cancels every session and tears the engine down. Only the first
// call does any work.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		s.Cancel()
	}

	done := make(chan error, 1)
	go func() { done <- m.engine.Teardown() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("teardown engine: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("teardown engine: %w", ctx.Err())
	}
}

func (m *Manager) progress(s *Session) {
	if len(m.opts.Observers) == 0 {
		return
	}
	info := s.Info()
	for _, o := range m.opts.Observers {
		o.SessionProgress(info)
	}
}

func (m *Manager) finished(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	info := s.Info()
	switch info.Outcome {
	case OutcomeCompleted.String():
		m.completed.Add(1)
	case OutcomeFailed.String():
		m.failed.Add(1)
	default:
		m.cancelled.Add(1)
	}

	for _, o := range m.opts.Observers {
		o.SessionFinished(info)
	}
}
