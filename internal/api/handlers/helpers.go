// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/descriptor"
	"github.com/autobrr/quistream/internal/stream"
	"github.com/autobrr/quistream/internal/swarm"
	"github.com/autobrr/quistream/pkg/httphelpers"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// ParseUintParam extracts and validates an unsigned integer URL parameter.
// Returns the value and true on success, or 0 and false if invalid (error already sent).
func ParseUintParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (uint64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, paramName))
	if raw == "" {
		RespondError(w, http.StatusBadRequest, displayName+" is required")
		return 0, false
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// StatusForError maps loader, descriptor and stream errors onto HTTP status codes.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, stream.ErrInvalidRange),
		errors.Is(err, httphelpers.ErrMalformedRange),
		errors.Is(err, httphelpers.ErrMultipleRanges),
		errors.Is(err, swarm.ErrInvalidSource),
		errors.Is(err, swarm.ErrNotLoaded):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrNoPlayableContent),
		errors.Is(err, descriptor.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, swarm.ErrTorrentMismatch):
		return http.StatusConflict
	case errors.Is(err, stream.ErrManagerClosed),
		errors.Is(err, swarm.ErrLoaderClosed),
		errors.Is(err, stream.ErrSessionCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondStreamError writes err with its mapped status. Server errors get a
// generic message; client errors echo the cause.
func respondStreamError(w http.ResponseWriter, err error) int {
	status := StatusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Failed to stream torrent"
	}
	if errors.Is(err, swarm.ErrNotLoaded) {
		message = "magnet is required"
	}
	RespondError(w, status, message)
	return status
}
