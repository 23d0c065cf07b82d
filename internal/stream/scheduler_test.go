// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_OverlappingWindowsShareReferences(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(10*16, 16)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	a := sched.Acquire(1, Window{FirstPiece: 2, LastPiece: 5})
	b := sched.Acquire(2, Window{FirstPiece: 4, LastPiece: 7})
	assert.Equal(t, 2, sched.Active())

	for i, want := range map[int]int{1: 0, 2: 1, 3: 1, 4: 2, 5: 2, 6: 1, 7: 1, 8: 0} {
		assert.Equal(t, want, buffer.RefCount(i), "piece %d", i)
	}

	// Pieces that are not Ready yet are requested by every window needing them.
	assert.Equal(t, [][]int{{2, 3, 4, 5}, {4, 5, 6, 7}}, engine.prioritizedCalls())

	a.Release()
	a.Release()

	for i, want := range map[int]int{2: 0, 3: 0, 4: 1, 5: 1, 6: 1, 7: 1} {
		assert.Equal(t, want, buffer.RefCount(i), "piece %d", i)
	}
	assert.ElementsMatch(t, []int{2, 3}, engine.deprioritizedIndices())
	assert.Equal(t, 1, sched.Active())

	b.Release()
	assert.Equal(t, 0, buffer.Snapshot().Records)
	assert.Equal(t, 0, sched.Active())
}

func TestScheduler_ReadyPiecesAreNotRequestedAgain(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(4*16, 16)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	a := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 3})
	engine.complete(1)
	engine.complete(2)

	b := sched.Acquire(2, Window{FirstPiece: 1, LastPiece: 3})
	calls := engine.prioritizedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []int{3}, calls[1])

	a.Release()
	b.Release()
}

func TestScheduler_CompletionSignalsOnlyInterestedSessions(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(10*16, 16)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	a := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 2})
	b := sched.Acquire(2, Window{FirstPiece: 5, LastPiece: 6})
	defer a.Release()
	defer b.Release()

	engine.complete(1)

	select {
	case <-a.Notify():
	default:
		t.Fatal("expected a notification for session 1")
	}
	select {
	case <-b.Notify():
		t.Fatal("session 2 does not need piece 1")
	default:
	}

	data, ok := buffer.Get(1)
	require.True(t, ok)
	assert.Equal(t, engine.piece(1), data)
}

func TestScheduler_CompletionOutsideAnyWindowIsDropped(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(10*16, 16)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	h := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 1})
	defer h.Release()

	engine.complete(8)
	_, ok := buffer.State(8)
	assert.False(t, ok)
	assert.Equal(t, int64(0), buffer.Resident())
}

func TestScheduler_UnavailableFailsWaitingSessions(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(10*16, 16)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	a := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 3})
	b := sched.Acquire(2, Window{FirstPiece: 6, LastPiece: 7})
	defer a.Release()
	defer b.Release()

	reason := errors.New("no peers")
	engine.unavailable(2, reason)

	select {
	case err := <-a.Failed():
		require.ErrorIs(t, err, ErrPieceUnavailable)
		require.ErrorIs(t, err, reason)
	default:
		t.Fatal("expected failure for session 1")
	}
	select {
	case <-b.Failed():
		t.Fatal("session 2 is not affected")
	default:
	}
}

func TestScheduler_UnavailableIgnoredForReadyPiece(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(4*16, 16)
	sched := NewScheduler(engine, NewBuffer())

	h := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 3})
	defer h.Release()

	engine.complete(0)
	engine.unavailable(0, errors.New("late"))

	select {
	case <-h.Failed():
		t.Fatal("ready piece must not fail the session")
	default:
	}
}

func TestScheduler_EngineFailureFailsEveryone(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(10*16, 16)
	sched := NewScheduler(engine, NewBuffer())

	a := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 1})
	b := sched.Acquire(2, Window{FirstPiece: 8, LastPiece: 9})
	defer a.Release()
	defer b.Release()

	engine.fail(errors.New("tracker gone"))

	for _, h := range []*Handle{a, b} {
		select {
		case err := <-h.Failed():
			require.ErrorIs(t, err, ErrSwarmFailure)
		default:
			t.Fatal("expected failure")
		}
	}
}

func TestHandle_ReleasePieceInOrder(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(10*16, 16)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	h := sched.Acquire(1, Window{FirstPiece: 2, LastPiece: 4})

	assert.False(t, h.ReleasePiece(3), "out of order release is ignored")
	assert.Equal(t, 1, buffer.RefCount(3))

	assert.True(t, h.ReleasePiece(2))
	assert.False(t, h.ReleasePiece(2), "repeated release is ignored")
	assert.Equal(t, 0, buffer.RefCount(2))

	// A consumed piece no longer wakes the session.
	engine.complete(2)
	select {
	case <-h.Notify():
		t.Fatal("piece 2 was already consumed")
	default:
	}

	h.Release()
	assert.False(t, h.ReleasePiece(3))
	assert.Equal(t, 0, buffer.Snapshot().Records)
	assert.ElementsMatch(t, []int{2, 3, 4}, engine.deprioritizedIndices())
}

func TestScheduler_OverlappingRangesKeepSharedPieces(t *testing.T) {
	t.Parallel()

	layout := Layout{PieceLength: 16384, FileLength: 1_000_000}
	wa, err := Translate(layout, ByteRange{Start: 0, End: 99_999})
	require.NoError(t, err)
	wb, err := Translate(layout, ByteRange{Start: 50_000, End: 149_999})
	require.NoError(t, err)

	engine := newFakeEngine(1_000_000, 16384)
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	a := sched.Acquire(1, wa)
	b := sched.Acquire(2, wb)
	defer b.Release()

	for i := wa.FirstPiece; i <= wb.LastPiece; i++ {
		want := 1
		if wa.Contains(i) && wb.Contains(i) {
			want = 2
		}
		assert.Equal(t, want, buffer.RefCount(i), "piece %d", i)
	}

	for i := wb.FirstPiece; i <= wa.LastPiece; i++ {
		engine.complete(i)
	}
	a.Release()

	for i := wb.FirstPiece; i <= wa.LastPiece; i++ {
		state, ok := buffer.State(i)
		require.True(t, ok, "piece %d", i)
		assert.Equal(t, PieceReady, state)
		assert.Equal(t, 1, buffer.RefCount(i))
	}
	for i := wa.FirstPiece; i < wb.FirstPiece; i++ {
		_, ok := buffer.State(i)
		assert.False(t, ok, "piece %d", i)
	}
}

// wantEngine tracks which pieces the swarm is currently asked for, the way a
// real swarm keeps per-piece priority. Deprioritize parks until gate closes.
type wantEngine struct {
	*fakeEngine

	wmu    sync.Mutex
	wanted map[int]bool

	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (w *wantEngine) Prioritize(indices []int) {
	w.wmu.Lock()
	for _, i := range indices {
		w.wanted[i] = true
	}
	w.wmu.Unlock()
	w.fakeEngine.Prioritize(indices)
}

func (w *wantEngine) Deprioritize(indices []int) {
	w.once.Do(func() { close(w.entered) })
	<-w.gate

	w.wmu.Lock()
	for _, i := range indices {
		w.wanted[i] = false
	}
	w.wmu.Unlock()
	w.fakeEngine.Deprioritize(indices)
}

func (w *wantEngine) isWanted(i int) bool {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.wanted[i]
}

func TestScheduler_ReacquireDuringEvictionStaysWanted(t *testing.T) {
	t.Parallel()

	engine := &wantEngine{
		fakeEngine: newFakeEngine(4*16, 16),
		wanted:     make(map[int]bool),
		entered:    make(chan struct{}),
		gate:       make(chan struct{}),
	}
	buffer := NewBuffer()
	sched := NewScheduler(engine, buffer)

	a := sched.Acquire(1, Window{FirstPiece: 0, LastPiece: 0})
	require.True(t, engine.isWanted(0))

	released := make(chan struct{})
	go func() {
		a.Release()
		close(released)
	}()
	<-engine.entered

	acquired := make(chan *Handle, 1)
	go func() {
		acquired <- sched.Acquire(2, Window{FirstPiece: 0, LastPiece: 0})
	}()

	// The second window must not be requested while the eviction is in flight.
	require.Never(t, func() bool {
		return len(engine.prioritizedCalls()) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(engine.gate)
	<-released

	var b *Handle
	select {
	case b = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not complete")
	}
	defer b.Release()

	assert.Equal(t, [][]int{{0}, {0}}, engine.prioritizedCalls())
	assert.True(t, engine.isWanted(0))
	assert.Equal(t, 1, buffer.RefCount(0))

	state, ok := buffer.State(0)
	require.True(t, ok)
	assert.Equal(t, PieceDownloading, state)
}
