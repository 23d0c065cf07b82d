// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Scheduler turns session windows into swarm priorities and fans piece
// completions out to the sessions waiting on them.
//
// Scheduler.mu and Buffer.mu are never held together, and engine calls are
// made without holding either. prio orders refcount transitions with the
// engine priority calls they cause, so a Deprioritize for an evicted piece
// can never land after a Prioritize for the same piece re-acquired
// concurrently. Lock order is prio, then Buffer.mu or Scheduler.mu.
type Scheduler struct {
	engine Engine
	buffer *Buffer

	prio sync.Mutex

	mu   sync.Mutex
	subs map[uint64]*subscription
}

type subscription struct {
	id     uint64
	window Window
	// next is the lowest piece index the session still holds.
	next   atomic.Int64
	notify chan struct{}
	failed chan error
}

func (s *subscription) needs(index int) bool {
	return int64(index) >= s.next.Load() && index <= s.window.LastPiece
}

func (s *subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) fail(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

// NewScheduler registers itself on the engine's callbacks.
func NewScheduler(engine Engine, buffer *Buffer) *Scheduler {
	s := &Scheduler{
		engine: engine,
		buffer: buffer,
		subs:   make(map[uint64]*subscription),
	}

	engine.OnPieceComplete(s.pieceComplete)
	engine.OnPieceUnavailable(s.pieceUnavailable)
	engine.OnFailure(s.engineFailure)

	return s
}

// Acquire references every piece of the window for session id and asks the
// engine for the missing ones in ascending order.
func (s *Scheduler) Acquire(id uint64, window Window) *Handle {
	sub := &subscription{
		id:     id,
		window: window,
		notify: make(chan struct{}, 1),
		failed: make(chan error, 1),
	}
	sub.next.Store(int64(window.FirstPiece))

	// Subscribe before prioritizing so completions delivered synchronously
	// by the engine are not missed.
	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	s.prio.Lock()
	pending := s.buffer.retain(window.Indices())
	if len(pending) > 0 {
		s.buffer.markDownloading(pending)
		s.engine.Prioritize(pending)
	}
	s.prio.Unlock()

	log.Trace().
		Uint64("sessionId", id).
		Int("firstPiece", window.FirstPiece).
		Int("lastPiece", window.LastPiece).
		Int("pending", len(pending)).
		Msg("Acquired piece window")

	return &Handle{
		sched: s,
		sub:   sub,
		next:  window.FirstPiece,
	}
}

func (s *Scheduler) pieceComplete(index int, data []byte) {
	if !s.buffer.Put(index, data) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.needs(index) {
			sub.signal()
		}
	}
}

func (s *Scheduler) pieceUnavailable(index int, reason error) {
	if state, ok := s.buffer.State(index); ok && state == PieceReady {
		return
	}

	err := fmt.Errorf("%w: piece %d: %w", ErrPieceUnavailable, index, reason)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.needs(index) {
			sub.fail(err)
		}
	}
}

func (s *Scheduler) engineFailure(cause error) {
	err := fmt.Errorf("%w: %w", ErrSwarmFailure, cause)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		sub.fail(err)
	}
}

func (s *Scheduler) unsubscribe(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Scheduler) releaseIndices(indices []int) {
	s.prio.Lock()
	defer s.prio.Unlock()

	evicted := s.buffer.release(indices)
	if len(evicted) == 0 {
		return
	}
	if d, ok := s.engine.(Deprioritizer); ok {
		d.Deprioritize(evicted)
	}
}

// Active returns the number of subscribed sessions.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Handle is a session's claim on its piece window. Pieces are released from
// the front as they are consumed; Release drops whatever is left.
type Handle struct {
	sched *Scheduler
	sub   *subscription

	mu       sync.Mutex
	next     int
	released bool
}

// Notify fires (coalesced) whenever a piece the session needs becomes Ready.
func (h *Handle) Notify() <-chan struct{} {
	return h.sub.notify
}

// Failed delivers the first unrecoverable error affecting the session.
func (h *Handle) Failed() <-chan error {
	return h.sub.failed
}

func (h *Handle) Window() Window {
	return h.sub.window
}

// ReleasePiece drops the reference on the lowest held piece once it has been
// fully consumed. Out-of-order or repeated calls are ignored.
func (h *Handle) ReleasePiece(index int) bool {
	h.mu.Lock()
	if h.released || index != h.next || index > h.sub.window.LastPiece {
		h.mu.Unlock()
		return false
	}
	h.next++
	h.sub.next.Store(int64(h.next))
	h.mu.Unlock()

	h.sched.releaseIndices([]int{index})
	return true
}

// Release drops every reference still held and unsubscribes. Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	var remaining []int
	for i := h.next; i <= h.sub.window.LastPiece; i++ {
		remaining = append(remaining, i)
	}
	h.next = h.sub.window.LastPiece + 1
	h.sub.next.Store(int64(h.next))
	h.mu.Unlock()

	h.sched.unsubscribe(h.sub.id)
	if len(remaining) > 0 {
		h.sched.releaseIndices(remaining)
	}
}
