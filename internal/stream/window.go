// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import "fmt"

// ToEOF as a range end means "through the last byte of the file".
const ToEOF int64 = -1

// Layout describes where a file sits inside the torrent's piece space.
// Piece indices are torrent-global; file offsets are relative to the file.
type Layout struct {
	PieceLength   int64
	PieceCount    int
	TorrentLength int64
	FileOffset    int64
	FileLength    int64
}

func (l Layout) normalize() Layout {
	if l.TorrentLength <= 0 {
		l.TorrentLength = l.FileOffset + l.FileLength
	}
	if l.PieceCount <= 0 && l.PieceLength > 0 {
		l.PieceCount = int((l.TorrentLength + l.PieceLength - 1) / l.PieceLength)
	}
	return l
}

func (l Layout) valid() bool {
	return l.PieceLength > 0 &&
		l.FileLength > 0 &&
		l.FileOffset >= 0 &&
		l.FileOffset+l.FileLength <= l.TorrentLength &&
		int64(l.PieceCount)*l.PieceLength >= l.TorrentLength
}

// PieceSize returns the length of piece i. Only the final piece may be short.
func (l Layout) PieceSize(i int) int64 {
	l = l.normalize()
	if i < 0 || i >= l.PieceCount {
		return 0
	}
	if i == l.PieceCount-1 {
		return l.TorrentLength - int64(i)*l.PieceLength
	}
	return l.PieceLength
}

// PieceOf returns the piece holding the file-relative byte off.
func (l Layout) PieceOf(off int64) int {
	return int((l.FileOffset + off) / l.PieceLength)
}

// PieceStart returns the file-relative offset of the first byte of piece i.
// It is negative when the piece begins inside a preceding file.
func (l Layout) PieceStart(i int) int64 {
	return int64(i)*l.PieceLength - l.FileOffset
}

// ByteRange is an inclusive, file-relative byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// Length is only meaningful for a resolved range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) String() string {
	if r.End == ToEOF {
		return fmt.Sprintf("%d-", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Window is the contiguous run of pieces that covers a resolved ByteRange.
type Window struct {
	FirstPiece int
	LastPiece  int
	// FirstPieceOffset is the position of Range.Start inside FirstPiece.
	FirstPieceOffset int64
	// LastPieceLength is the number of bytes needed from LastPiece.
	LastPieceLength int64
	Range           ByteRange
}

func (w Window) Contains(i int) bool {
	return i >= w.FirstPiece && i <= w.LastPiece
}

func (w Window) Span() int {
	return w.LastPiece - w.FirstPiece + 1
}

// Indices lists the window's pieces in ascending order.
func (w Window) Indices() []int {
	out := make([]int, 0, w.Span())
	for i := w.FirstPiece; i <= w.LastPiece; i++ {
		out = append(out, i)
	}
	return out
}

// Translate maps a byte range onto the piece window that covers it. An End of
// ToEOF resolves to the last byte of the file. Integer arithmetic only.
func Translate(layout Layout, r ByteRange) (Window, error) {
	l := layout.normalize()
	if !l.valid() {
		return Window{}, fmt.Errorf("%w: bad layout (piece length %d, file length %d, offset %d)",
			ErrInvalidRange, l.PieceLength, l.FileLength, l.FileOffset)
	}

	end := r.End
	if end == ToEOF {
		end = l.FileLength - 1
	}

	switch {
	case r.Start < 0:
		return Window{}, fmt.Errorf("%w: negative start %d", ErrInvalidRange, r.Start)
	case r.Start >= l.FileLength:
		return Window{}, fmt.Errorf("%w: start %d beyond file length %d", ErrInvalidRange, r.Start, l.FileLength)
	case end < 0 || end >= l.FileLength:
		return Window{}, fmt.Errorf("%w: end %d beyond file length %d", ErrInvalidRange, end, l.FileLength)
	case r.Start > end:
		return Window{}, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, r.Start, end)
	}

	absStart := l.FileOffset + r.Start
	absEnd := l.FileOffset + end

	first := int(absStart / l.PieceLength)
	last := int(absEnd / l.PieceLength)

	return Window{
		FirstPiece:       first,
		LastPiece:        last,
		FirstPieceOffset: absStart - int64(first)*l.PieceLength,
		LastPieceLength:  absEnd - int64(last)*l.PieceLength + 1,
		Range:            ByteRange{Start: r.Start, End: end},
	}, nil
}
