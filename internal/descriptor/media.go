// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package descriptor

import (
	"mime"
	"path"
	"strings"

	"github.com/moistari/rls"
)

var videoContentTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
}

// ContentType returns the media type for a file name. Matroska and MP4 are
// fixed; other extensions fall back to the mime table, then octet-stream.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := videoContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Release is scene metadata parsed from a torrent or file name.
type Release struct {
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Year       int    `json:"year,omitempty" yaml:"year,omitempty"`
	Series     int    `json:"series,omitempty" yaml:"series,omitempty"`
	Episode    int    `json:"episode,omitempty" yaml:"episode,omitempty"`
	Resolution string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
	Group      string `json:"group,omitempty" yaml:"group,omitempty"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ParseRelease extracts release metadata from a name. Only descriptive; it
// plays no part in file selection.
func ParseRelease(name string) Release {
	if _, ok := videoContentTypes[strings.ToLower(path.Ext(name))]; ok {
		name = strings.TrimSuffix(name, path.Ext(name))
	}
	r := rls.ParseString(name)
	return Release{
		Title:      r.Title,
		Year:       r.Year,
		Series:     r.Series,
		Episode:    r.Episode,
		Resolution: r.Resolution,
		Source:     r.Source,
		Group:      r.Group,
		Type:       r.Type.String(),
	}
}
