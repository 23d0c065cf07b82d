// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/stream"
)

// SessionsResponse lists the active stream sessions with manager counters.
type SessionsResponse struct {
	Stats    SessionStats         `json:"stats"`
	Sessions []stream.SessionInfo `json:"sessions"`
}

type SessionStats struct {
	stream.Stats
	BufferedPieces      int            `json:"bufferedPieces"`
	BufferResidentBytes int64          `json:"bufferResidentBytes"`
	BufferPeakBytes     int64          `json:"bufferPeakBytes"`
	Evictions           uint64         `json:"evictions"`
	PieceStates         map[string]int `json:"pieceStates"`
}

type SessionsHandler struct {
	loader TorrentLoader
}

func NewSessionsHandler(loader TorrentLoader) *SessionsHandler {
	return &SessionsHandler{loader: loader}
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/", h.ListSessions)
	r.Get("/{sessionID}", h.GetSession)
	r.Delete("/{sessionID}", h.CancelSession)
}

func (h *SessionsHandler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	resp := SessionsResponse{
		Sessions: []stream.SessionInfo{},
		Stats:    SessionStats{PieceStates: map[string]int{}},
	}

	if loaded, ok := h.loader.Current(); ok {
		resp.Sessions = loaded.Manager.Sessions()
		resp.Stats = sessionStats(loaded.Manager.Stats())
	}

	RespondJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUintParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}

	sess := h.session(id)
	if sess == nil {
		RespondError(w, http.StatusNotFound, "Session not found")
		return
	}
	RespondJSON(w, http.StatusOK, sess.Info())
}

// CancelSession ends an active session. The client of that stream sees its
// response cut short.
func (h *SessionsHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUintParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}

	loaded, ok := h.loader.Current()
	if !ok || !loaded.Manager.Cancel(id) {
		RespondError(w, http.StatusNotFound, "Session not found")
		return
	}

	log.Info().Uint64("sessionId", id).Msg("Stream session cancelled via API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) session(id uint64) *stream.Session {
	loaded, ok := h.loader.Current()
	if !ok {
		return nil
	}
	return loaded.Manager.Session(id)
}

func sessionStats(stats stream.Stats) SessionStats {
	out := SessionStats{
		Stats:               stats,
		BufferedPieces:      stats.Buffer.Records,
		BufferResidentBytes: stats.Buffer.Resident,
		BufferPeakBytes:     stats.Buffer.Peak,
		Evictions:           stats.Buffer.Evictions,
		PieceStates:         make(map[string]int, len(stats.Buffer.ByState)),
	}
	for state, n := range stats.Buffer.ByState {
		out.PieceStates[state.String()] = n
	}
	return out
}
