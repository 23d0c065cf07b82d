// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/quistream/internal/stream"
	"github.com/autobrr/quistream/internal/swarm"
	"github.com/autobrr/quistream/internal/swarm/swarmtest"
)

const (
	testHash  = "c9e15763f722f23e98a29decdfae341b98d53056"
	otherHash = "0123456789abcdef0123456789abcdef01234567"
)

func testMagnet(hash string) string {
	return "magnet:?xt=urn:btih:" + hash
}

func newStreamRouter(loader TorrentLoader) http.Handler {
	r := chi.NewRouter()
	r.Route("/stream", NewStreamHandler(loader, nil).Routes)
	return r
}

func streamRequest(method, magnet, file, rangeHeader string) *http.Request {
	query := url.Values{}
	if magnet != "" {
		query.Set("magnet", magnet)
	}
	if file != "" {
		query.Set("file", file)
	}
	req := httptest.NewRequest(method, "/stream?"+query.Encode(), nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req
}

func TestStreamHandler_Ranges(t *testing.T) {
	t.Parallel()

	const size = 100000

	tests := []struct {
		name          string
		rangeHeader   string
		wantStatus    int
		wantStart     int64
		wantEnd       int64
		wantRangeHdr  string
		wantAccepting bool
	}{
		{
			name:         "first kilobyte",
			rangeHeader:  "bytes=0-999",
			wantStatus:   http.StatusPartialContent,
			wantStart:    0,
			wantEnd:      999,
			wantRangeHdr: "bytes 0-999/100000",
		},
		{
			name:       "whole file without range",
			wantStatus: http.StatusOK,
			wantStart:  0,
			wantEnd:    size - 1,
		},
		{
			name:         "open ended",
			rangeHeader:  "bytes=99000-",
			wantStatus:   http.StatusPartialContent,
			wantStart:    99000,
			wantEnd:      size - 1,
			wantRangeHdr: "bytes 99000-99999/100000",
		},
		{
			name:         "suffix",
			rangeHeader:  "bytes=-500",
			wantStatus:   http.StatusPartialContent,
			wantStart:    size - 500,
			wantEnd:      size - 1,
			wantRangeHdr: "bytes 99500-99999/100000",
		},
		{
			name:         "crosses piece boundary",
			rangeHeader:  "bytes=16000-17000",
			wantStatus:   http.StatusPartialContent,
			wantStart:    16000,
			wantEnd:      17000,
			wantRangeHdr: "bytes 16000-17000/100000",
		},
		{
			name:         "last byte",
			rangeHeader:  "bytes=99999-99999",
			wantStatus:   http.StatusPartialContent,
			wantStart:    99999,
			wantEnd:      99999,
			wantRangeHdr: "bytes 99999-99999/100000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sw := swarmtest.New(testHash, 16384, swarmtest.FileSpec{Path: "movie.mkv", Length: size})
			loader := swarm.NewLoader(sw.Opener(), stream.Options{})
			router := newStreamRouter(loader)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, streamRequest(http.MethodGet, testMagnet(testHash), "", tt.rangeHeader))

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			want := sw.FileContent(0)[tt.wantStart : tt.wantEnd+1]
			assert.Equal(t, want, w.Body.Bytes())
			assert.Equal(t, strconv.Itoa(len(want)), w.Header().Get("Content-Length"))
			assert.Equal(t, tt.wantRangeHdr, w.Header().Get("Content-Range"))
			assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
			assert.Equal(t, "video/x-matroska", w.Header().Get("Content-Type"))
			assert.Equal(t, ETag(testHash, "movie.mkv"), w.Header().Get("ETag"))
			assert.Equal(t, "1", w.Header().Get(SessionHeader))

			loaded, ok := loader.Current()
			require.True(t, ok)
			stats := loaded.Manager.Stats()
			assert.Equal(t, uint64(1), stats.Completed)
			assert.Equal(t, int64(len(want)), stats.BytesEmitted)
			assert.Equal(t, 0, stats.Active)
		})
	}
}

func TestStreamHandler_MultiFileSelection(t *testing.T) {
	t.Parallel()

	sw := swarmtest.New(testHash, 16384,
		swarmtest.FileSpec{Path: "Show/readme.txt", Length: 1234},
		swarmtest.FileSpec{Path: "Show/episode.mp4", Length: 50000},
		swarmtest.FileSpec{Path: "Show/extra.mkv", Length: 40000},
	)
	loader := swarm.NewLoader(sw.Opener(), stream.Options{})
	router := newStreamRouter(loader)

	t.Run("first playable file by default", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, streamRequest(http.MethodGet, testMagnet(testHash), "", "bytes=10-20"))

		require.Equal(t, http.StatusPartialContent, w.Code)
		assert.Equal(t, sw.FileContent(1)[10:21], w.Body.Bytes())
		assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
		assert.Equal(t, "bytes 10-20/50000", w.Header().Get("Content-Range"))
	})

	t.Run("named file", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, streamRequest(http.MethodGet, "", "Show/extra.mkv", "bytes=39990-"))

		require.Equal(t, http.StatusPartialContent, w.Code)
		assert.Equal(t, sw.FileContent(2)[39990:], w.Body.Bytes())
		assert.Equal(t, ETag(testHash, "Show/extra.mkv"), w.Header().Get("ETag"))
	})

	t.Run("unknown file", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, streamRequest(http.MethodGet, "", "missing.mkv", ""))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("non video file", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, streamRequest(http.MethodGet, "", "Show/readme.txt", ""))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStreamHandler_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		preload     bool
		magnet      string
		rangeHeader string
		wantStatus  int
		wantError   string
	}{
		{
			name:       "nothing loaded and no magnet",
			wantStatus: http.StatusBadRequest,
			wantError:  "magnet is required",
		},
		{
			name:       "bad magnet",
			magnet:     "magnet:?dn=nothing",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "different torrent",
			preload:    true,
			magnet:     testMagnet(otherHash),
			wantStatus: http.StatusConflict,
		},
		{
			name:        "start past end",
			preload:     true,
			rangeHeader: "bytes=100000-100010",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "end past end",
			preload:     true,
			rangeHeader: "bytes=0-100000",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "reversed",
			preload:     true,
			rangeHeader: "bytes=500-100",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "multiple ranges",
			preload:     true,
			rangeHeader: "bytes=0-1,5-6",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "wrong unit",
			preload:     true,
			rangeHeader: "items=0-1",
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sw := swarmtest.New(testHash, 16384, swarmtest.FileSpec{Path: "movie.mkv", Length: 100000})
			loader := swarm.NewLoader(sw.Opener(), stream.Options{})
			if tt.preload {
				_, err := loader.Load(t.Context(), testHash)
				require.NoError(t, err)
			}

			w := httptest.NewRecorder()
			newStreamRouter(loader).ServeHTTP(w, streamRequest(http.MethodGet, tt.magnet, "", tt.rangeHeader))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, w.Header().Get("Content-Range"))
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.wantError != "" {
				assert.Contains(t, w.Body.String(), tt.wantError)
			}
			assert.Empty(t, sw.Prioritized(), "no pieces requested for a rejected request")
		})
	}
}

func TestStreamHandler_NoPlayableContent(t *testing.T) {
	t.Parallel()

	sw := swarmtest.New(testHash, 16384, swarmtest.FileSpec{Path: "notes.txt", Length: 4096})
	loader := swarm.NewLoader(sw.Opener(), stream.Options{})

	w := httptest.NewRecorder()
	newStreamRouter(loader).ServeHTTP(w, streamRequest(http.MethodGet, testMagnet(testHash), "", ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no playable content")
}

func TestStreamHandler_Head(t *testing.T) {
	t.Parallel()

	sw := swarmtest.New(testHash, 16384, swarmtest.FileSpec{Path: "movie.mp4", Length: 100000})
	loader := swarm.NewLoader(sw.Opener(), stream.Options{})

	w := httptest.NewRecorder()
	newStreamRouter(loader).ServeHTTP(w, streamRequest(http.MethodHead, testMagnet(testHash), "", "bytes=100-199"))

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "100", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 100-199/100000", w.Header().Get("Content-Range"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Body.Bytes())
	assert.Empty(t, sw.Prioritized())

	loaded, ok := loader.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(0), loaded.Manager.Stats().Started)
}

func TestStreamHandler_PieceUnavailableBeforeFirstByte(t *testing.T) {
	t.Parallel()

	sw := swarmtest.New(testHash, 16384, swarmtest.FileSpec{Path: "movie.mkv", Length: 100000})
	sw.Hold()
	loader := swarm.NewLoader(sw.Opener(), stream.Options{})
	router := newStreamRouter(loader)

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, streamRequest(http.MethodGet, testMagnet(testHash), "", "bytes=0-999"))
	}()

	require.Eventually(t, func() bool { return len(sw.Prioritized()) > 0 }, time.Second, 5*time.Millisecond)
	sw.Unavailable(0, errors.New("no peers"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("Content-Range"))
	assert.Empty(t, w.Header().Get("Content-Length"))
	assert.Contains(t, w.Body.String(), "Failed to stream torrent")

	loaded, ok := loader.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), loaded.Manager.Stats().Failed)
}

func TestRequestedRange(t *testing.T) {
	t.Parallel()

	br, partial, err := requestedRange("", 100)
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Equal(t, stream.ByteRange{Start: 0, End: stream.ToEOF}, br)

	br, partial, err = requestedRange("bytes=5-", 100)
	require.NoError(t, err)
	assert.True(t, partial)
	assert.Equal(t, stream.ByteRange{Start: 5, End: stream.ToEOF}, br)

	_, _, err = requestedRange("bytes=x-y", 100)
	require.Error(t, err)
}

func TestETag(t *testing.T) {
	t.Parallel()

	a := ETag(testHash, "a.mkv")
	assert.Len(t, a, 18)
	assert.Equal(t, a, ETag(testHash, "a.mkv"))
	assert.NotEqual(t, a, ETag(testHash, "b.mkv"))
	assert.NotEqual(t, a, ETag(otherHash, "a.mkv"))
}
