// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"bytes"
	"errors"
	"slices"
	"sync"
)

// fakeEngine serves pieces out of an in-memory torrent. Nothing is delivered
// unless the test asks for it, or autoDeliver is set.
type fakeEngine struct {
	content     []byte
	pieceLength int64
	autoDeliver bool

	mu            sync.Mutex
	prioritized   [][]int
	deprioritized []int
	teardowns     int
	teardownErr   error

	onComplete    func(int, []byte)
	onUnavailable func(int, error)
	onFailure     func(error)
}

func newFakeEngine(length int, pieceLength int64) *fakeEngine {
	content := make([]byte, length)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}
	return &fakeEngine{content: content, pieceLength: pieceLength}
}

func (f *fakeEngine) layout() Layout {
	return Layout{PieceLength: f.pieceLength, FileLength: int64(len(f.content))}
}

func (f *fakeEngine) pieceCount() int {
	return int((int64(len(f.content)) + f.pieceLength - 1) / f.pieceLength)
}

func (f *fakeEngine) piece(i int) []byte {
	start := int64(i) * f.pieceLength
	end := min(start+f.pieceLength, int64(len(f.content)))
	return bytes.Clone(f.content[start:end])
}

func (f *fakeEngine) Prioritize(indices []int) {
	f.mu.Lock()
	f.prioritized = append(f.prioritized, slices.Clone(indices))
	auto := f.autoDeliver
	f.mu.Unlock()

	if auto {
		for _, i := range indices {
			f.complete(i)
		}
	}
}

func (f *fakeEngine) Deprioritize(indices []int) {
	f.mu.Lock()
	f.deprioritized = append(f.deprioritized, indices...)
	f.mu.Unlock()
}

func (f *fakeEngine) OnPieceComplete(fn func(int, []byte)) {
	f.mu.Lock()
	f.onComplete = fn
	f.mu.Unlock()
}

func (f *fakeEngine) OnPieceUnavailable(fn func(int, error)) {
	f.mu.Lock()
	f.onUnavailable = fn
	f.mu.Unlock()
}

func (f *fakeEngine) OnFailure(fn func(error)) {
	f.mu.Lock()
	f.onFailure = fn
	f.mu.Unlock()
}

func (f *fakeEngine) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return f.teardownErr
}

func (f *fakeEngine) complete(i int) {
	f.mu.Lock()
	fn := f.onComplete
	f.mu.Unlock()
	fn(i, f.piece(i))
}

func (f *fakeEngine) unavailable(i int, reason error) {
	f.mu.Lock()
	fn := f.onUnavailable
	f.mu.Unlock()
	fn(i, reason)
}

func (f *fakeEngine) fail(err error) {
	f.mu.Lock()
	fn := f.onFailure
	f.mu.Unlock()
	fn(err)
}

func (f *fakeEngine) prioritizedCalls() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.prioritized)
}

func (f *fakeEngine) deprioritizedIndices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deprioritized)
}

// memSink collects bytes. It can fail after a byte budget or be closed to
// simulate the consumer going away.
type memSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	failAfter int64
	writes    int

	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

var errSinkBroken = errors.New("broken pipe")

func newMemSink() *memSink {
	return &memSink{failAfter: -1, done: make(chan struct{})}
}

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.failAfter >= 0 && int64(s.buf.Len()+len(p)) > s.failAfter {
		n := int(s.failAfter) - s.buf.Len()
		s.buf.Write(p[:n])
		return n, errSinkBroken
	}
	return s.buf.Write(p)
}

func (s *memSink) Done() <-chan struct{} {
	return s.done
}

func (s *memSink) disconnect() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *memSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

func (s *memSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func (s *memSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
