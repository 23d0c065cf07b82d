// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package swarmtest provides an in-memory swarm for tests of code that
// sits above the torrent engine.
package swarmtest

import (
	"bytes"
	"context"
	"path"
	"slices"
	"sync"

	"github.com/autobrr/quistream/internal/descriptor"
	"github.com/autobrr/quistream/internal/swarm"
)

// FileSpec declares one file of a synthetic torrent.
type FileSpec struct {
	Path   string
	Length int64
}

// Swarm serves pieces of generated content from memory. By default every
// prioritized piece completes immediately; Hold defers delivery until
// Deliver is called.
type Swarm struct {
	desc    *descriptor.Descriptor
	content []byte

	mu            sync.Mutex
	held          bool
	onComplete    func(int, []byte)
	onUnavailable func(int, error)
	onFailure     func(error)
	prioritized   [][]int
	deprioritized []int
	teardowns     int
}

var _ swarm.Swarm = (*Swarm)(nil)

// New builds a torrent whose files are laid out back to back.
func New(infoHash string, pieceLength int64, files ...FileSpec) *Swarm {
	desc := &descriptor.Descriptor{
		InfoHash:    infoHash,
		Name:        "synthetic",
		PieceLength: pieceLength,
	}

	var offset int64
	for i, f := range files {
		desc.Files = append(desc.Files, descriptor.File{
			Index:  i,
			Path:   f.Path,
			Name:   path.Base(f.Path),
			Offset: offset,
			Length: f.Length,
		})
		offset += f.Length
	}
	if len(files) == 1 {
		desc.Name = desc.Files[0].Name
	}
	desc.TotalLength = offset
	desc.PieceCount = int((offset + pieceLength - 1) / pieceLength)

	content := make([]byte, offset)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}

	return &Swarm{desc: desc, content: content}
}

// Opener returns a swarm.OpenFunc that always yields s.
func (s *Swarm) Opener() swarm.OpenFunc {
	return func(context.Context, swarm.Source) (swarm.Swarm, error) {
		return s, nil
	}
}

// FileContent returns the bytes of the file at index.
func (s *Swarm) FileContent(index int) []byte {
	f := s.desc.Files[index]
	return bytes.Clone(s.content[f.Offset : f.Offset+f.Length])
}

// Hold stops automatic delivery of prioritized pieces.
func (s *Swarm) Hold() {
	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
}

// Deliver completes piece i.
func (s *Swarm) Deliver(i int) {
	s.mu.Lock()
	fn := s.onComplete
	s.mu.Unlock()
	if fn != nil {
		fn(i, s.piece(i))
	}
}

// Unavailable reports piece i as lost.
func (s *Swarm) Unavailable(i int, reason error) {
	s.mu.Lock()
	fn := s.onUnavailable
	s.mu.Unlock()
	if fn != nil {
		fn(i, reason)
	}
}

// Fail reports a fatal engine error.
func (s *Swarm) Fail(err error) {
	s.mu.Lock()
	fn := s.onFailure
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Prioritized returns every Prioritize call seen so far.
func (s *Swarm) Prioritized() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.prioritized)
}

// Teardowns counts Teardown calls.
func (s *Swarm) Teardowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardowns
}

func (s *Swarm) piece(i int) []byte {
	start := int64(i) * s.desc.PieceLength
	end := min(start+s.desc.PieceLength, int64(len(s.content)))
	return bytes.Clone(s.content[start:end])
}

func (s *Swarm) Prioritize(indices []int) {
	s.mu.Lock()
	s.prioritized = append(s.prioritized, slices.Clone(indices))
	held := s.held
	s.mu.Unlock()

	if held {
		return
	}
	for _, i := range indices {
		s.Deliver(i)
	}
}

func (s *Swarm) Deprioritize(indices []int) {
	s.mu.Lock()
	s.deprioritized = append(s.deprioritized, indices...)
	s.mu.Unlock()
}

func (s *Swarm) OnPieceComplete(fn func(int, []byte)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

func (s *Swarm) OnPieceUnavailable(fn func(int, error)) {
	s.mu.Lock()
	s.onUnavailable = fn
	s.mu.Unlock()
}

func (s *Swarm) OnFailure(fn func(error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

func (s *Swarm) Descriptor() *descriptor.Descriptor {
	return s.desc
}

func (s *Swarm) Status() swarm.Status {
	return swarm.Status{
		InfoHash:   s.desc.InfoHash,
		Name:       s.desc.Name,
		Length:     s.desc.TotalLength,
		PieceCount: s.desc.PieceCount,
	}
}

func (s *Swarm) Teardown() error {
	s.mu.Lock()
	s.teardowns++
	s.mu.Unlock()
	return nil
}
