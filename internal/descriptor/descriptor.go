// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package descriptor describes a torrent's files and where they sit in
// piece space.
package descriptor

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/text/unicode/norm"

	"github.com/autobrr/quistream/internal/stream"
)

// DefaultExtensions are the file suffixes eligible for streaming.
var DefaultExtensions = []string{".mkv", ".mp4"}

var ErrFileNotFound = errors.New("file not found in torrent")

// File is one file of a torrent. Offset is torrent-global.
type File struct {
	Index  int    `json:"index" yaml:"index"`
	Path   string `json:"path" yaml:"path"`
	Name   string `json:"name" yaml:"name"`
	Offset int64  `json:"offset" yaml:"offset"`
	Length int64  `json:"length" yaml:"length"`
}

// Descriptor is the immutable shape of the loaded torrent.
type Descriptor struct {
	InfoHash    string `json:"infoHash" yaml:"infoHash"`
	Name        string `json:"name" yaml:"name"`
	PieceLength int64  `json:"pieceLength" yaml:"pieceLength"`
	PieceCount  int    `json:"pieceCount" yaml:"pieceCount"`
	TotalLength int64  `json:"totalLength" yaml:"totalLength"`
	Files       []File `json:"files" yaml:"files"`
}

// FromInfo builds a descriptor from a parsed info dictionary.
func FromInfo(infoHash string, info *metainfo.Info) (*Descriptor, error) {
	if info == nil {
		return nil, errors.New("missing info dictionary")
	}
	if info.PieceLength <= 0 {
		return nil, fmt.Errorf("invalid piece length %d", info.PieceLength)
	}

	d := &Descriptor{
		InfoHash:    infoHash,
		Name:        info.BestName(),
		PieceLength: info.PieceLength,
		PieceCount:  info.NumPieces(),
	}

	var offset int64
	for i, fi := range info.UpvertedFiles() {
		p := d.Name
		if len(fi.BestPath()) > 0 {
			p = strings.Join(fi.BestPath(), "/")
		}
		d.Files = append(d.Files, File{
			Index:  i,
			Path:   p,
			Name:   path.Base(p),
			Offset: offset,
			Length: fi.Length,
		})
		offset += fi.Length
	}
	d.TotalLength = offset

	return d, nil
}

// PlayableFile picks the file to stream. An empty name selects the first
// file, in torrent order, whose extension is in exts. A non-empty name must
// match a file's path or base name and carry an allowed extension.
//
// When nothing qualifies the error wraps stream.ErrNoPlayableContent; an
// unknown name wraps ErrFileNotFound.
func (d *Descriptor) PlayableFile(name string, exts []string) (File, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	if name == "" {
		for _, f := range d.Files {
			if f.Length > 0 && HasExtension(f.Name, exts) {
				return f, nil
			}
		}
		return File{}, fmt.Errorf("%w: no %s file in %q", stream.ErrNoPlayableContent, strings.Join(exts, "/"), d.Name)
	}

	want := norm.NFC.String(strings.TrimPrefix(name, "/"))
	for _, f := range d.Files {
		if norm.NFC.String(f.Path) != want && norm.NFC.String(f.Name) != want {
			continue
		}
		if f.Length == 0 || !HasExtension(f.Name, exts) {
			return File{}, fmt.Errorf("%w: %q is not streamable", stream.ErrNoPlayableContent, f.Path)
		}
		return f, nil
	}
	return File{}, fmt.Errorf("%w: %q", ErrFileNotFound, name)
}

// Layout places f in the torrent's piece space.
func (d *Descriptor) Layout(f File) stream.Layout {
	return stream.Layout{
		PieceLength:   d.PieceLength,
		PieceCount:    d.PieceCount,
		TorrentLength: d.TotalLength,
		FileOffset:    f.Offset,
		FileLength:    f.Length,
	}
}

// Pieces returns the first and last piece a file touches.
func (d *Descriptor) Pieces(f File) (first, last int) {
	if f.Length == 0 {
		return int(f.Offset / d.PieceLength), int(f.Offset / d.PieceLength)
	}
	return int(f.Offset / d.PieceLength), int((f.Offset + f.Length - 1) / d.PieceLength)
}

// HasExtension reports whether name ends in one of exts, ignoring case.
func HasExtension(name string, exts []string) bool {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
