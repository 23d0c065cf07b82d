// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swarm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var ErrInvalidSource = errors.New("invalid torrent source")

// Source identifies the torrent to stream: a magnet link, a bare info-hash
// or a .torrent file on disk.
type Source struct {
	Magnet   string
	InfoHash metainfo.Hash
	MetaInfo *metainfo.MetaInfo
}

// Key is the lowercase hex info-hash.
func (s Source) Key() string {
	return s.InfoHash.HexString()
}

func (s Source) Kind() string {
	switch {
	case s.Magnet != "":
		return "magnet"
	case s.MetaInfo != nil:
		return "file"
	default:
		return "infohash"
	}
}

// ParseSource accepts a magnet URI, a 40 character hex info-hash, or a path
// to a .torrent file.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, fmt.Errorf("%w: empty", ErrInvalidSource)
	}

	if strings.HasPrefix(strings.ToLower(raw), "magnet:") {
		m, err := metainfo.ParseMagnetUri(raw)
		if err != nil {
			return Source{}, fmt.Errorf("%w: %w", ErrInvalidSource, err)
		}
		return Source{Magnet: raw, InfoHash: m.InfoHash}, nil
	}

	if len(raw) == 40 && isHex(raw) {
		var h metainfo.Hash
		if err := h.FromHexString(raw); err != nil {
			return Source{}, fmt.Errorf("%w: %w", ErrInvalidSource, err)
		}
		return Source{InfoHash: h}, nil
	}

	if _, err := os.Stat(raw); err != nil {
		return Source{}, fmt.Errorf("%w: not a magnet, info-hash or readable file: %w", ErrInvalidSource, err)
	}
	mi, err := metainfo.LoadFromFile(raw)
	if err != nil {
		return Source{}, fmt.Errorf("%w: load %s: %w", ErrInvalidSource, raw, err)
	}
	return Source{InfoHash: mi.HashInfoBytes(), MetaInfo: mi}, nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
