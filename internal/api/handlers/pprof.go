// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PprofController toggles block and mutex profiling at runtime.
type PprofController struct {
	mu            sync.Mutex
	blockRate     int
	mutexFraction int
}

type PprofStatus struct {
	BlockProfileRate     int `json:"blockProfileRate"`
	MutexProfileFraction int `json:"mutexProfileFraction"`
}

func NewPprofController() *PprofController {
	return &PprofController{}
}

func (pc *PprofController) Routes(r chi.Router) {
	r.Post("/block/enable", pc.EnableBlockProfile)
	r.Post("/block/disable", pc.DisableBlockProfile)
	r.Post("/mutex/enable", pc.EnableMutexProfile)
	r.Post("/mutex/disable", pc.DisableMutexProfile)
	r.Get("/status", pc.Status)
}

func (pc *PprofController) EnableBlockProfile(w http.ResponseWriter, r *http.Request) {
	rate, ok := positiveQueryInt(w, r, "rate")
	if !ok {
		return
	}

	pc.mu.Lock()
	runtime.SetBlockProfileRate(rate)
	pc.blockRate = rate
	pc.mu.Unlock()

	log.Info().Int("rate", rate).Msg("Block profiling enabled via API")
	pc.Status(w, r)
}

func (pc *PprofController) DisableBlockProfile(w http.ResponseWriter, r *http.Request) {
	pc.mu.Lock()
	runtime.SetBlockProfileRate(0)
	pc.blockRate = 0
	pc.mu.Unlock()

	log.Info().Msg("Block profiling disabled via API")
	pc.Status(w, r)
}

func (pc *PprofController) EnableMutexProfile(w http.ResponseWriter, r *http.Request) {
	fraction, ok := positiveQueryInt(w, r, "fraction")
	if !ok {
		return
	}

	pc.mu.Lock()
	runtime.SetMutexProfileFraction(fraction)
	pc.mutexFraction = fraction
	pc.mu.Unlock()

	log.Info().Int("fraction", fraction).Msg("Mutex profiling enabled via API")
	pc.Status(w, r)
}

func (pc *PprofController) DisableMutexProfile(w http.ResponseWriter, r *http.Request) {
	pc.mu.Lock()
	runtime.SetMutexProfileFraction(0)
	pc.mutexFraction = 0
	pc.mu.Unlock()

	log.Info().Msg("Mutex profiling disabled via API")
	pc.Status(w, r)
}

func (pc *PprofController) Status(w http.ResponseWriter, _ *http.Request) {
	pc.mu.Lock()
	status := PprofStatus{
		BlockProfileRate:     pc.blockRate,
		MutexProfileFraction: pc.mutexFraction,
	}
	pc.mu.Unlock()

	RespondJSON(w, http.StatusOK, status)
}

// positiveQueryInt reads an optional positive integer, defaulting to 1.
func positiveQueryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 1, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		RespondError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return n, true
}
