// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	env := newTestDependencies(t)

	server := NewServer(env.deps)
	router, err := server.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/torrent", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSAllowsRangeHeader(t *testing.T) {
	t.Parallel()

	env := newTestDependencies(t)

	server := NewServer(env.deps)
	router, err := server.Handler()
	require.NoError(t, err)

	// Browser video elements send Range on cross-origin seeks.
	req := httptest.NewRequest(http.MethodOptions, "/stream", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "range")

	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	allowedHeaders := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	require.Contains(t, allowedHeaders, "range")
}

func TestCORSExposesRangeHeaders(t *testing.T) {
	t.Parallel()

	env := newTestDependencies(t)

	server := NewServer(env.deps)
	router, err := server.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, streamURL(""), nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Range", "bytes=0-9")

	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	exposed := strings.ToLower(rec.Header().Get("Access-Control-Expose-Headers"))
	require.Contains(t, exposed, "content-range")
	require.Contains(t, exposed, "accept-ranges")
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	t.Parallel()

	env := newTestDependencies(t)

	server := NewServer(env.deps)
	router, err := server.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/torrent", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
