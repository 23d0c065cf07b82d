// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package httphelpers

import "strings"

// NormalizeBasePath turns user input like "stream/" into "/stream". The root
// path normalizes to the empty string.
func NormalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// JoinBasePath appends suffix to an already normalized base path.
func JoinBasePath(base, suffix string) string {
	suffix = strings.TrimPrefix(suffix, "/")
	if suffix == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return base + "/" + suffix
}
