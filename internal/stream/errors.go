// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import "errors"

var (
	// ErrInvalidRange is returned for malformed or out-of-bounds byte ranges.
	ErrInvalidRange = errors.New("invalid range")
	// ErrNoPlayableContent is returned when the torrent has no file eligible for streaming.
	ErrNoPlayableContent = errors.New("no playable content")
	// ErrPieceUnavailable terminates a session whose piece cannot be supplied by the swarm.
	ErrPieceUnavailable = errors.New("piece unavailable")
	// ErrSinkWrite marks a failed write to the consumer. It ends the session as cancelled.
	ErrSinkWrite = errors.New("sink write failed")
	// ErrSwarmFailure wraps fatal errors reported by the swarm engine.
	ErrSwarmFailure = errors.New("swarm engine failure")
	// ErrSessionCancelled is the terminal error of a cancelled or disconnected session.
	ErrSessionCancelled = errors.New("session cancelled")
	// ErrManagerClosed is returned by Start after Shutdown.
	ErrManagerClosed = errors.New("stream manager closed")
)
