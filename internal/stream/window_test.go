// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	movie := Layout{PieceLength: 262144, FileLength: 10_000_000}
	shortTail := Layout{PieceLength: 64, FileLength: 200}
	inner := Layout{PieceLength: 64, FileOffset: 100, FileLength: 1000, TorrentLength: 2000}

	tests := []struct {
		name   string
		layout Layout
		rng    ByteRange
		want   Window
	}{
		{
			name:   "first kilobyte",
			layout: Layout{PieceLength: 16384, FileLength: 1_000_000},
			rng:    ByteRange{Start: 0, End: 999},
			want:   Window{FirstPiece: 0, LastPiece: 0, FirstPieceOffset: 0, LastPieceLength: 1000, Range: ByteRange{Start: 0, End: 999}},
		},
		{
			name:   "mid file range",
			layout: movie,
			rng:    ByteRange{Start: 1_000_000, End: 1_999_999},
			want: Window{
				FirstPiece:       3,
				LastPiece:        7,
				FirstPieceOffset: 213568,
				LastPieceLength:  164992,
				Range:            ByteRange{Start: 1_000_000, End: 1_999_999},
			},
		},
		{
			name:   "open ended",
			layout: movie,
			rng:    ByteRange{Start: 0, End: ToEOF},
			want: Window{
				FirstPiece:       0,
				LastPiece:        38,
				FirstPieceOffset: 0,
				LastPieceLength:  10_000_000 - 38*262144,
				Range:            ByteRange{Start: 0, End: 9_999_999},
			},
		},
		{
			name:   "single byte",
			layout: shortTail,
			rng:    ByteRange{Start: 64, End: 64},
			want:   Window{FirstPiece: 1, LastPiece: 1, FirstPieceOffset: 0, LastPieceLength: 1, Range: ByteRange{Start: 64, End: 64}},
		},
		{
			name:   "last byte of short final piece",
			layout: shortTail,
			rng:    ByteRange{Start: 199, End: ToEOF},
			want:   Window{FirstPiece: 3, LastPiece: 3, FirstPieceOffset: 7, LastPieceLength: 8, Range: ByteRange{Start: 199, End: 199}},
		},
		{
			name:   "piece boundary",
			layout: shortTail,
			rng:    ByteRange{Start: 63, End: 64},
			want:   Window{FirstPiece: 0, LastPiece: 1, FirstPieceOffset: 63, LastPieceLength: 1, Range: ByteRange{Start: 63, End: 64}},
		},
		{
			name:   "file inside torrent",
			layout: inner,
			rng:    ByteRange{Start: 0, End: 27},
			want:   Window{FirstPiece: 1, LastPiece: 1, FirstPieceOffset: 36, LastPieceLength: 64, Range: ByteRange{Start: 0, End: 27}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Translate(tt.layout, tt.rng)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslate_Invalid(t *testing.T) {
	t.Parallel()

	layout := Layout{PieceLength: 64, FileLength: 200}

	tests := []struct {
		name   string
		layout Layout
		rng    ByteRange
	}{
		{name: "negative start", layout: layout, rng: ByteRange{Start: -1, End: 10}},
		{name: "start at length", layout: layout, rng: ByteRange{Start: 200, End: ToEOF}},
		{name: "end past length", layout: layout, rng: ByteRange{Start: 0, End: 200}},
		{name: "start after end", layout: layout, rng: ByteRange{Start: 50, End: 10}},
		{name: "negative end", layout: layout, rng: ByteRange{Start: 0, End: -5}},
		{name: "zero piece length", layout: Layout{FileLength: 200}, rng: ByteRange{Start: 0, End: 1}},
		{name: "empty file", layout: Layout{PieceLength: 64}, rng: ByteRange{Start: 0, End: ToEOF}},
		{name: "file past torrent end", layout: Layout{PieceLength: 64, FileOffset: 100, FileLength: 200, TorrentLength: 250}, rng: ByteRange{Start: 0, End: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Translate(tt.layout, tt.rng)
			require.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

// Every byte of a range must fall inside the window, and the window must not
// extend past the pieces those bytes live in.
func TestTranslate_CoversExactly(t *testing.T) {
	t.Parallel()

	layouts := []Layout{
		{PieceLength: 16, FileLength: 100},
		{PieceLength: 16, FileOffset: 5, FileLength: 60, TorrentLength: 90},
		{PieceLength: 7, FileOffset: 21, FileLength: 49},
	}

	for _, layout := range layouts {
		for start := int64(0); start < layout.FileLength; start += 3 {
			for end := start; end < layout.FileLength; end += 5 {
				w, err := Translate(layout, ByteRange{Start: start, End: end})
				require.NoError(t, err)

				assert.Equal(t, layout.PieceOf(start), w.FirstPiece)
				assert.Equal(t, layout.PieceOf(end), w.LastPiece)
				for b := start; b <= end; b++ {
					assert.True(t, w.Contains(layout.PieceOf(b)))
				}
				assert.Equal(t, start, layout.PieceStart(w.FirstPiece)+w.FirstPieceOffset)
				assert.Equal(t, end, layout.PieceStart(w.LastPiece)+w.LastPieceLength-1)
			}
		}
	}
}

func TestLayout_PieceSize(t *testing.T) {
	t.Parallel()

	l := Layout{PieceLength: 64, FileLength: 200}
	assert.Equal(t, int64(64), l.PieceSize(0))
	assert.Equal(t, int64(64), l.PieceSize(2))
	assert.Equal(t, int64(8), l.PieceSize(3))
	assert.Equal(t, int64(0), l.PieceSize(4))
	assert.Equal(t, int64(0), l.PieceSize(-1))
}

func TestWindow_Indices(t *testing.T) {
	t.Parallel()

	w := Window{FirstPiece: 3, LastPiece: 6}
	assert.Equal(t, []int{3, 4, 5, 6}, w.Indices())
	assert.Equal(t, 4, w.Span())
	assert.False(t, w.Contains(2))
	assert.True(t, w.Contains(6))
}

func TestByteRange_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10-", ByteRange{Start: 10, End: ToEOF}.String())
	assert.Equal(t, "0-99", ByteRange{Start: 0, End: 99}.String())
	assert.Equal(t, int64(100), ByteRange{Start: 0, End: 99}.Length())
}
