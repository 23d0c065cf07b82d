// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// RedactString replaces a string with asterisks of the same length
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return strings.Repeat("*", len(s))
}

// RedactBasicAuthUsers masks the passwords of a "user:pass,user2:pass2" list
// and keeps the user names readable.
func RedactBasicAuthUsers(users string) string {
	if strings.TrimSpace(users) == "" {
		return ""
	}

	entries := strings.Split(users, ",")
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		user, pass, ok := strings.Cut(entry, ":")
		if !ok {
			entries[i] = RedactString(entry)
			continue
		}
		entries[i] = user + ":" + RedactString(pass)
	}
	return strings.Join(entries, ",")
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.MetricsBasicAuthUsers = RedactBasicAuthUsers(c.MetricsBasicAuthUsers)
	if strings.HasPrefix(strings.TrimSpace(out.Torrent), "magnet:") {
		// Magnets may carry private tracker passkeys.
		out.Torrent = "magnet:" + RedactString(strings.TrimPrefix(strings.TrimSpace(out.Torrent), "magnet:"))
	}
	return out
}
