// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package timeouts

import (
	"context"
	"time"
)

const (
	// DefaultMetadataTimeout bounds how long a magnet waits for its info dictionary.
	DefaultMetadataTimeout = 2 * time.Minute
	// MaxMetadataTimeout caps configured metadata timeouts.
	MaxMetadataTimeout = 10 * time.Minute
	// DefaultPieceTimeout bounds how long a session waits on a single piece.
	DefaultPieceTimeout = 90 * time.Second
	// AddTorrentTimeout bounds how long the swarm client may take to accept a source.
	AddTorrentTimeout = 10 * time.Second
	// ShutdownTimeout bounds graceful shutdown of servers and the swarm.
	ShutdownTimeout = 15 * time.Second
)

// ClampMetadataTimeout returns the default for non-positive values and caps
// anything above the maximum.
func ClampMetadataTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultMetadataTimeout
	}
	if d > MaxMetadataTimeout {
		return MaxMetadataTimeout
	}
	return d
}

// WithMetadataTimeout derives a context bounded by the metadata timeout.
// A context that already has a deadline is returned unchanged with a no-op cancel.
func WithMetadataTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, ClampMetadataTimeout(timeout))
}

// WithShutdownTimeout derives a context for graceful shutdown.
func WithShutdownTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, ShutdownTimeout)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
