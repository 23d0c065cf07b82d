// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

// Engine is the swarm collaborator. Callbacks may fire on any goroutine, in
// any order across piece indices, and possibly from inside Prioritize.
type Engine interface {
	// Prioritize asks the swarm to fetch the given pieces, most urgent first.
	// Pieces the engine already has are delivered through OnPieceComplete.
	Prioritize(indices []int)
	OnPieceComplete(fn func(index int, data []byte))
	OnPieceUnavailable(fn func(index int, reason error))
	// OnFailure reports a fatal engine error.
	OnFailure(fn func(err error))
	Teardown() error
}

// Deprioritizer is implemented by engines that can stop fetching pieces no
// session needs any more. It must not block.
type Deprioritizer interface {
	Deprioritize(indices []int)
}
