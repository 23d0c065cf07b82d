// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"runtime"

	"github.com/autobrr/quistream/internal/buildinfo"
)

type VersionResponse struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"goVersion"`
	Platform    string `json:"platform"`
	Development bool   `json:"development"`
}

type VersionHandler struct{}

func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

func (h *VersionHandler) GetVersion(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, VersionResponse{
		Version:     buildinfo.Version,
		Commit:      buildinfo.Commit,
		Date:        buildinfo.Date,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Development: buildinfo.IsDevelopment(buildinfo.Version),
	})
}
