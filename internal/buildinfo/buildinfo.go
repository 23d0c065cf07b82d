// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Set at build time with -ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies quistream to trackers and web seeds.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("quistream/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// IsDevelopment reports whether v names a development build rather than a
// tagged release.
func IsDevelopment(v string) bool {
	switch v {
	case "", "dev", "develop", "main", "latest":
		return true
	}
	return strings.HasPrefix(v, "pr-") ||
		strings.HasSuffix(v, "-dev") ||
		strings.HasSuffix(v, "-develop")
}

// String returns the build info as printed by `quistream version`.
func String() string {
	v := Version
	if IsDevelopment(v) {
		v += " (development build)"
	}
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", v, Commit, Date)
}

// JSON returns the build info as a JSON object.
func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	})
}
