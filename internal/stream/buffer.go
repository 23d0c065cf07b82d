// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"sync"
)

// PieceState is the lifecycle of a piece record.
type PieceState int

const (
	PieceRequested PieceState = iota + 1
	PieceDownloading
	PieceReady
	PieceEvicted
)

func (s PieceState) String() string {
	switch s {
	case PieceRequested:
		return "requested"
	case PieceDownloading:
		return "downloading"
	case PieceReady:
		return "ready"
	case PieceEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

type pieceRecord struct {
	state PieceState
	refs  int
	data  []byte
}

// Buffer holds piece data for every piece at least one session still needs.
// A record whose reference count drops to zero is evicted on the spot, so the
// resident set never outgrows the union of the active sessions' windows.
type Buffer struct {
	mu        sync.Mutex
	records   map[int]*pieceRecord
	resident  int64
	peak      int64
	evictions uint64
}

// BufferStats is a point-in-time view of the buffer.
type BufferStats struct {
	Records   int
	ByState   map[PieceState]int
	Resident  int64
	Peak      int64
	Evictions uint64
}

func NewBuffer() *Buffer {
	return &Buffer{records: make(map[int]*pieceRecord)}
}

// Get returns the data of a Ready piece.
func (b *Buffer) Get(index int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[index]
	if !ok || rec.state != PieceReady {
		return nil, false
	}
	return rec.data, true
}

// Put stores data for a referenced piece and marks it Ready. Data for pieces
// nobody references, or that are already Ready, is dropped.
func (b *Buffer) Put(index int, data []byte) bool {
	if data == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[index]
	if !ok || rec.refs == 0 || rec.state == PieceReady {
		return false
	}

	rec.state = PieceReady
	rec.data = data
	b.resident += int64(len(data))
	if b.resident > b.peak {
		b.peak = b.resident
	}
	return true
}

// State reports a record's state. Absent records report false.
func (b *Buffer) State(index int) (PieceState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[index]
	if !ok {
		return 0, false
	}
	return rec.state, true
}

func (b *Buffer) RefCount(index int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, ok := b.records[index]; ok {
		return rec.refs
	}
	return 0
}

// Resident is the number of piece-data bytes currently held.
func (b *Buffer) Resident() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resident
}

func (b *Buffer) Snapshot() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BufferStats{
		Records:   len(b.records),
		ByState:   make(map[PieceState]int, 3),
		Resident:  b.resident,
		Peak:      b.peak,
		Evictions: b.evictions,
	}
	for _, rec := range b.records {
		stats.ByState[rec.state]++
	}
	return stats
}

// retain takes one reference on each index, creating Requested records as
// needed, and returns the indices that are not Ready yet in the given order.
func (b *Buffer) retain(indices []int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := make([]int, 0, len(indices))
	for _, i := range indices {
		rec, ok := b.records[i]
		if !ok {
			rec = &pieceRecord{state: PieceRequested}
			b.records[i] = rec
		}
		rec.refs++
		if rec.state != PieceReady {
			pending = append(pending, i)
		}
	}
	return pending
}

func (b *Buffer) markDownloading(indices []int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, i := range indices {
		if rec, ok := b.records[i]; ok && rec.state == PieceRequested {
			rec.state = PieceDownloading
		}
	}
}

// release drops one reference per index and evicts records that reach zero.
// It returns the evicted indices.
func (b *Buffer) release(indices []int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted []int
	for _, i := range indices {
		rec, ok := b.records[i]
		if !ok || rec.refs == 0 {
			continue
		}
		rec.refs--
		if rec.refs > 0 {
			continue
		}

		b.resident -= int64(len(rec.data))
		rec.data = nil
		rec.state = PieceEvicted
		delete(b.records, i)
		b.evictions++
		evicted = append(evicted, i)
	}
	return evicted
}
