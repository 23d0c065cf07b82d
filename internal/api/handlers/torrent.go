// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/descriptor"
	"github.com/autobrr/quistream/internal/swarm"
)

// TorrentResponse describes the loaded torrent.
type TorrentResponse struct {
	Source     string                 `json:"source"`
	Torrent    *descriptor.Descriptor `json:"torrent"`
	Release    descriptor.Release     `json:"release"`
	Status     swarm.Status           `json:"status"`
	Playable   *descriptor.File       `json:"playable,omitempty"`
	StreamPath string                 `json:"streamPath,omitempty"`
}

type LoadTorrentRequest struct {
	Source string `json:"source"`
}

type TorrentHandler struct {
	loader     TorrentLoader
	extensions []string
}

func NewTorrentHandler(loader TorrentLoader, extensions []string) *TorrentHandler {
	return &TorrentHandler{
		loader:     loader,
		extensions: extensions,
	}
}

func (h *TorrentHandler) Routes(r chi.Router) {
	r.Get("/", h.GetTorrent)
	r.Post("/", h.LoadTorrent)
}

// GetTorrent returns the loaded torrent, or 404 when nothing is loaded yet.
func (h *TorrentHandler) GetTorrent(w http.ResponseWriter, _ *http.Request) {
	loaded, ok := h.loader.Current()
	if !ok {
		RespondError(w, http.StatusNotFound, "No torrent loaded")
		return
	}
	RespondJSON(w, http.StatusOK, h.describe(loaded))
}

// LoadTorrent loads a magnet, info-hash or .torrent path. Loading the torrent
// that is already loaded is a no-op.
func (h *TorrentHandler) LoadTorrent(w http.ResponseWriter, r *http.Request) {
	var req LoadTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		RespondError(w, http.StatusBadRequest, "source is required")
		return
	}

	loaded, err := h.loader.Load(r.Context(), req.Source)
	if err != nil {
		status := StatusForError(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Failed to load torrent")
			RespondError(w, status, "Failed to load torrent")
			return
		}
		RespondError(w, status, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, h.describe(loaded))
}

func (h *TorrentHandler) describe(loaded *swarm.Loaded) TorrentResponse {
	resp := TorrentResponse{
		Source:  loaded.Source.Kind(),
		Torrent: loaded.Descriptor,
		Release: descriptor.ParseRelease(loaded.Descriptor.Name),
		Status:  loaded.Swarm.Status(),
	}

	file, err := loaded.Descriptor.PlayableFile("", h.extensions)
	if err != nil {
		log.Debug().Err(err).Str("infoHash", loaded.Descriptor.InfoHash).Msg("Torrent has no playable file")
		return resp
	}
	resp.Playable = &file
	resp.StreamPath = "stream?magnet=" + loaded.Source.Key()

	return resp
}
