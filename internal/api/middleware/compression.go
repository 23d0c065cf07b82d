// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"

	"github.com/CAFxX/httpcompression"
)

// compressibleTypes never includes media: video bodies are already compressed
// and must keep their byte offsets for Range requests.
var compressibleTypes = []string{
	"application/json",
	"text/plain",
	"text/html",
}

// Compress returns a middleware that compresses JSON and text responses of at
// least minSize bytes using the encodings the client accepts.
func Compress(minSize int) (func(http.Handler) http.Handler, error) {
	if minSize < 0 {
		minSize = httpcompression.DefaultMinSize
	}
	return httpcompression.DefaultAdapter(
		httpcompression.ContentTypes(compressibleTypes, false),
		httpcompression.MinSize(minSize),
	)
}
