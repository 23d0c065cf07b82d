// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"math"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	// DataDir is where each run creates its scratch directory for piece data.
	// Empty uses the system temp dir. The scratch directory is removed on
	// shutdown.
	DataDir string `toml:"dataDir" mapstructure:"dataDir"`

	// Torrent is a magnet URI, info-hash or .torrent path loaded at startup.
	// Without it the first /stream?magnet= request loads the torrent.
	Torrent            string        `toml:"torrent" mapstructure:"torrent"`
	Connections        int           `toml:"connections" mapstructure:"connections"`
	ListenPort         int           `toml:"listenPort" mapstructure:"listenPort"`
	DownloadRateLimit  string        `toml:"downloadRateLimit" mapstructure:"downloadRateLimit"`
	MetadataTimeout    time.Duration `toml:"metadataTimeout" mapstructure:"metadataTimeout"`
	PieceTimeout       time.Duration `toml:"pieceTimeout" mapstructure:"pieceTimeout"`
	PlayableExtensions []string      `toml:"playableExtensions" mapstructure:"playableExtensions"`
	CORSAllowedOrigins []string      `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	PprofEnabled bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	PprofHost    string `toml:"pprofHost" mapstructure:"pprofHost"`
	PprofPort    int    `toml:"pprofPort" mapstructure:"pprofPort"`
}

var validLogLevels = []string{"ERROR", "WARN", "INFO", "DEBUG", "TRACE"}

// Validate checks values that would otherwise fail deep inside the swarm
// client or the HTTP server.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return errors.Errorf("listenPort %d out of range", c.ListenPort)
	}
	if c.Connections < 1 {
		return errors.Errorf("connections must be at least 1, got %d", c.Connections)
	}
	if c.MetadataTimeout < 0 {
		return errors.New("metadataTimeout must not be negative")
	}
	if c.PieceTimeout < 0 {
		return errors.New("pieceTimeout must not be negative")
	}
	if c.LogLevel != "" && !isValidLogLevel(c.LogLevel) {
		return errors.Errorf("invalid logLevel %q, expected one of %s", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if _, err := c.DownloadRateLimitBytes(); err != nil {
		return err
	}
	if c.MetricsEnabled && (c.MetricsPort < 1 || c.MetricsPort > 65535) {
		return errors.Errorf("metricsPort %d out of range", c.MetricsPort)
	}
	if c.PprofEnabled && (c.PprofPort < 1 || c.PprofPort > 65535) {
		return errors.Errorf("pprofPort %d out of range", c.PprofPort)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	for _, l := range validLogLevels {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}

// DownloadRateLimitBytes parses DownloadRateLimit ("10MB", "512KB") into bytes
// per second. Empty, "0" and "unlimited" mean no limit and return zero.
func (c *Config) DownloadRateLimitBytes() (int64, error) {
	raw := strings.TrimSpace(c.DownloadRateLimit)
	switch strings.ToLower(raw) {
	case "", "0", "unlimited":
		return 0, nil
	}

	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(raw)); err != nil {
		return 0, errors.Wrapf(err, "invalid downloadRateLimit %q", raw)
	}
	if v.Bytes() > math.MaxInt32 {
		return 0, errors.Errorf("downloadRateLimit %q exceeds %d bytes per second", raw, math.MaxInt32)
	}
	return int64(v.Bytes()), nil
}

// Extensions returns the playable extensions, or nil to use the defaults.
func (c *Config) Extensions() []string {
	out := make([]string, 0, len(c.PlayableExtensions))
	for _, ext := range c.PlayableExtensions {
		if ext = strings.TrimSpace(ext); ext != "" {
			out = append(out, ext)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
