// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/quistream/internal/descriptor"
	"github.com/autobrr/quistream/internal/stream"
)

var (
	// ErrTorrentMismatch is returned when a request names a different torrent
	// than the one already loaded.
	ErrTorrentMismatch = errors.New("a different torrent is already loaded")
	ErrNotLoaded       = errors.New("no torrent loaded")
	ErrLoaderClosed    = errors.New("loader closed")
)

// Swarm is a loaded torrent as the rest of the process sees it.
type Swarm interface {
	stream.Engine
	stream.Deprioritizer
	Descriptor() *descriptor.Descriptor
	Status() Status
}

// OpenFunc opens a swarm for a parsed source.
type OpenFunc func(ctx context.Context, src Source) (Swarm, error)

// Loaded bundles the process's torrent with the stream manager driving it.
type Loaded struct {
	Source     Source
	Swarm      Swarm
	Descriptor *descriptor.Descriptor
	Manager    *stream.Manager
}

// Loader loads at most one torrent per process. Concurrent requests for the
// same torrent share one load.
type Loader struct {
	open OpenFunc
	opts stream.Options

	group singleflight.Group

	mu      sync.Mutex
	current *Loaded
	closed  bool
}

func NewLoader(open OpenFunc, opts stream.Options) *Loader {
	return &Loader{open: open, opts: opts}
}

// ClientOpener returns an OpenFunc backed by the anacrolix client.
func ClientOpener(cfg Config) OpenFunc {
	return func(ctx context.Context, src Source) (Swarm, error) {
		return Open(ctx, cfg, src)
	}
}

// Load returns the loaded torrent, loading raw first if nothing is loaded.
// An empty raw only succeeds once something is loaded.
func (l *Loader) Load(ctx context.Context, raw string) (*Loaded, error) {
	if raw == "" {
		if cur, ok := l.Current(); ok {
			return cur, nil
		}
		return nil, ErrNotLoaded
	}

	src, err := ParseSource(raw)
	if err != nil {
		return nil, err
	}

	if cur, err := l.matchCurrent(src); cur != nil || err != nil {
		return cur, err
	}

	v, err, _ := l.group.Do(src.Key(), func() (any, error) {
		if cur, err := l.matchCurrent(src); cur != nil || err != nil {
			return cur, err
		}

		// The load outlives the request that triggered it.
		sw, err := l.open(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, fmt.Errorf("load torrent %s: %w", src.Key(), err)
		}

		loaded := &Loaded{
			Source:     src,
			Swarm:      sw,
			Descriptor: sw.Descriptor(),
			Manager:    stream.NewManager(sw, l.opts),
		}

		l.mu.Lock()
		switch {
		case l.closed:
			l.mu.Unlock()
			_ = sw.Teardown()
			return nil, ErrLoaderClosed
		case l.current != nil:
			// Lost a race against a different torrent.
			l.mu.Unlock()
			_ = sw.Teardown()
			return nil, fmt.Errorf("%w: %s", ErrTorrentMismatch, l.current.Source.Key())
		}
		l.current = loaded
		l.mu.Unlock()

		log.Info().
			Str("infoHash", src.Key()).
			Str("name", loaded.Descriptor.Name).
			Msg("Torrent loaded")

		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Loaded), nil
}

func (l *Loader) matchCurrent(src Source) (*Loaded, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLoaderClosed
	}
	if l.current == nil {
		return nil, nil
	}
	if l.current.Source.Key() != src.Key() {
		return nil, fmt.Errorf("%w: %s", ErrTorrentMismatch, l.current.Source.Key())
	}
	return l.current, nil
}

// Current returns the loaded torrent, if any.
func (l *Loader) Current() (*Loaded, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.current != nil
}

// Shutdown stops accepting loads and tears the loaded torrent down.
func (l *Loader) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cur := l.current
	l.mu.Unlock()

	if cur == nil {
		return nil
	}
	return cur.Manager.Shutdown(ctx)
}
