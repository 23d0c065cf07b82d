// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives a session's bytes. Done is closed when the consumer goes
// away; a nil channel means the sink never signals disconnects.
type Sink interface {
	io.Writer
	Done() <-chan struct{}
}

// Outcome is a session's terminal state.
type Outcome int32

const (
	OutcomeActive Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActive:
		return "active"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Session streams one byte range to one sink.
type Session struct {
	id      uint64
	label   string
	layout  Layout
	window  Window
	sink    Sink
	handle  *Handle
	manager *Manager
	started time.Time

	pieceTimeout time.Duration

	cursor  atomic.Int64
	emitted atomic.Int64
	// stopped is set by the terminal transition under writeMu, and writes
	// check it under writeMu, so no write starts after finish returns.
	stopped atomic.Bool
	writeMu sync.Mutex

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	mu       sync.Mutex
	outcome  Outcome
	err      error
	finished time.Time
}

// SessionInfo is a snapshot for logs, observers and the API.
type SessionInfo struct {
	ID         uint64        `json:"id"`
	File       string        `json:"file"`
	Start      int64         `json:"start"`
	End        int64         `json:"end"`
	FirstPiece int           `json:"firstPiece"`
	LastPiece  int           `json:"lastPiece"`
	Cursor     int64         `json:"cursor"`
	Emitted    int64         `json:"emitted"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Window() Window {
	return s.window
}

// Done is closed after the terminal transition.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err is the terminal error; nil while active or after successful completion.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emitted is the number of bytes written to the sink so far.
func (s *Session) Emitted() int64 {
	return s.emitted.Load()
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	outcome, err, finished := s.outcome, s.err, s.finished
	s.mu.Unlock()

	if finished.IsZero() {
		finished = time.Now()
	}

	info := SessionInfo{
		ID:         s.id,
		File:       s.label,
		Start:      s.window.Range.Start,
		End:        s.window.Range.End,
		FirstPiece: s.window.FirstPiece,
		LastPiece:  s.window.LastPiece,
		Cursor:     s.cursor.Load(),
		Emitted:    s.emitted.Load(),
		Outcome:    outcome.String(),
		StartedAt:  s.started,
		Duration:   finished.Sub(s.started),
	}
	if err != nil {
		info.Error = err.Error()
	}
	return info
}

// Cancel ends the session and releases its pieces. It is idempotent and
// safe to call while Run is writing; an in-flight write is allowed to return
// first, and no write starts once Cancel has returned.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
	s.finish(OutcomeCancelled, ErrSessionCancelled)
}

// Run emits the range to the sink in ascending order as pieces become Ready.
// It returns nil when every byte was written, otherwise the terminal error.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeSink()

	end := s.window.Range.End
	for {
		if s.stopped.Load() {
			return s.Err()
		}

		cursor := s.cursor.Load()
		if cursor > end {
			s.finish(OutcomeCompleted, nil)
			return s.Err()
		}

		piece := s.layout.PieceOf(cursor)
		data, ok := s.manager.buffer.Get(piece)
		if !ok {
			if err := s.wait(ctx, piece); err != nil {
				return err
			}
			continue
		}

		pieceStart := s.layout.PieceStart(piece)
		lo := cursor - pieceStart
		hi := int64(len(data))
		if last := end - pieceStart + 1; last < hi {
			hi = last
		}
		if lo < 0 || hi <= lo {
			s.finish(OutcomeFailed, fmt.Errorf("%w: piece %d holds %d bytes, need offset %d",
				ErrSwarmFailure, piece, len(data), lo))
			return s.Err()
		}

		s.writeMu.Lock()
		if s.stopped.Load() {
			s.writeMu.Unlock()
			return s.Err()
		}
		n, err := s.sink.Write(data[lo:hi])
		if n > 0 {
			s.cursor.Add(int64(n))
			s.emitted.Add(int64(n))
			s.manager.bytesEmitted.Add(int64(n))
		}
		s.writeMu.Unlock()

		if err == nil && int64(n) < hi-lo {
			err = io.ErrShortWrite
		}
		if err != nil {
			s.finish(OutcomeCancelled, fmt.Errorf("%w: %w", ErrSinkWrite, err))
			return s.Err()
		}

		if pieceStart+int64(len(data)) <= s.cursor.Load() {
			s.handle.ReleasePiece(piece)
		}
		s.manager.progress(s)
	}
}

// wait blocks until the piece might be Ready, or finishes the session.
func (s *Session) wait(ctx context.Context, piece int) error {
	var timeout <-chan time.Time
	if s.pieceTimeout > 0 {
		timer := time.NewTimer(s.pieceTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.handle.Notify():
		return nil
	case err := <-s.handle.Failed():
		s.finish(OutcomeFailed, err)
	case <-s.sink.Done():
		s.finish(OutcomeCancelled, fmt.Errorf("%w: consumer disconnected", ErrSessionCancelled))
	case <-ctx.Done():
		s.finish(OutcomeCancelled, fmt.Errorf("%w: %w", ErrSessionCancelled, ctx.Err()))
	case <-s.cancelCh:
		s.finish(OutcomeCancelled, ErrSessionCancelled)
	case <-timeout:
		s.finish(OutcomeFailed, fmt.Errorf("%w: piece %d not ready after %s",
			ErrPieceUnavailable, piece, s.pieceTimeout))
	}
	return s.Err()
}

// finish is the only terminal transition. The first caller wins; everything
// after it is a no-op. It must not be called with writeMu held.
func (s *Session) finish(outcome Outcome, err error) bool {
	s.writeMu.Lock()
	s.mu.Lock()
	if s.outcome != OutcomeActive {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return false
	}
	s.outcome = outcome
	s.err = err
	s.finished = time.Now()
	s.stopped.Store(true)
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.handle.Release()
	s.manager.finished(s)
	close(s.done)
	return true
}

func (s *Session) closeSink() {
	if c, ok := s.sink.(io.Closer); ok {
		_ = c.Close()
	}
}
