// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/quistream/internal/domain"
	"github.com/autobrr/quistream/internal/pkg/timeouts"
)

const (
	configFileName = "config.toml"
	envPrefix      = "QUISTREAM__"
	appName        = "quistream"
)

var configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "0.0.0.0"
host = "{{ .host }}"

# Port
# Default: 3000 (the PORT environment variable is honored as well)
port = {{ .port }}

# Base URL
# Set custom baseUrl e.g. /stream/ to serve behind a reverse proxy subfolder
# Default: "/"
baseUrl = "/"

# Torrent to load at startup: magnet URI, info-hash or .torrent path
# When unset, the first /stream?magnet= request loads the torrent
#torrent = ""

# Parent directory for the per-run scratch directory holding piece data
# The scratch directory is removed on shutdown. When unset, the system temp dir is used
#dataDir = ""

# Maximum peer connections for the torrent
# Default: 100
connections = 100

# Incoming peer port, 0 picks a random port
# Default: 0
#listenPort = 0

# Download rate limit, e.g. "10MB" or "512KB". "0" is unlimited
# Default: "0"
#downloadRateLimit = "0"

# How long to wait for torrent metadata from the swarm
# Default: "2m"
#metadataTimeout = "2m"

# How long a stream waits for any single piece before failing
# Default: "90s"
#pieceTimeout = "90s"

# File extensions that can be streamed
# Default: [".mkv", ".mp4"]
#playableExtensions = [".mkv", ".mp4"]

# Origins allowed to fetch streams from a browser, ["*"] allows any
# Default: ["*"]
#corsAllowedOrigins = ["*"]

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/quistream.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074
#metricsBasicAuthUsers = "user:password"

# Profiling server
# Default: false
#pprofEnabled = false
#pprofHost = "127.0.0.1"
#pprofPort = 6060
`

// AppConfig wraps the decoded configuration with the viper instance that
// produced it.
type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper

	configDir  string
	configFile string

	mu      sync.Mutex
	logFile *lumberjack.Logger
}

// New loads configuration from configDirOrFile. A directory gets a default
// config.toml written into it when none exists; an empty value uses the
// platform config directory.
func New(configDirOrFile string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{},
		viper:  viper.New(),
	}

	c.defaults()
	c.bindEnv()

	if err := c.resolvePaths(configDirOrFile); err != nil {
		return nil, err
	}
	if err := c.writeDefaultConfig(); err != nil {
		return nil, err
	}

	c.viper.SetConfigFile(c.configFile)
	c.viper.SetConfigType("toml")
	if err := c.viper.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", c.configFile)
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	return c, nil
}

type setting struct {
	key   string
	value any
}

// settings lists every key with its default. Viper lowercases keys, so the
// camelCase spelling needed for env names is kept here.
var settings = []setting{
	{"host", "0.0.0.0"},
	{"port", 3000},
	{"baseUrl", "/"},
	{"logLevel", "INFO"},
	{"logPath", ""},
	{"logMaxSize", 50},
	{"logMaxBackups", 3},
	{"dataDir", ""},
	{"torrent", ""},
	{"connections", 100},
	{"listenPort", 0},
	{"downloadRateLimit", "0"},
	{"metadataTimeout", timeouts.DefaultMetadataTimeout.String()},
	{"pieceTimeout", timeouts.DefaultPieceTimeout.String()},
	{"playableExtensions", []string{".mkv", ".mp4"}},
	{"corsAllowedOrigins", []string{"*"}},
	{"metricsEnabled", false},
	{"metricsHost", "127.0.0.1"},
	{"metricsPort", 9074},
	{"metricsBasicAuthUsers", ""},
	{"pprofEnabled", false},
	{"pprofHost", "127.0.0.1"},
	{"pprofPort", 6060},
}

func (c *AppConfig) defaults() {
	for _, s := range settings {
		c.viper.SetDefault(s.key, s.value)
	}
}

// bindEnv maps every key to QUISTREAM__UPPER_SNAKE, e.g. metricsBasicAuthUsers
// to QUISTREAM__METRICS_BASIC_AUTH_USERS.
func (c *AppConfig) bindEnv() {
	for _, s := range settings {
		if s.key == "port" {
			// The bare PORT variable is what hosting platforms set.
			_ = c.viper.BindEnv(s.key, envName(s.key), "PORT")
			continue
		}
		_ = c.viper.BindEnv(s.key, envName(s.key))
	}
}

func envName(key string) string {
	var b strings.Builder
	b.WriteString(envPrefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func (c *AppConfig) resolvePaths(configDirOrFile string) error {
	if configDirOrFile == "" {
		configDirOrFile = getDefaultConfigDir()
	}

	if strings.HasSuffix(strings.ToLower(configDirOrFile), ".toml") {
		c.configFile = configDirOrFile
		c.configDir = filepath.Dir(configDirOrFile)
	} else {
		c.configDir = configDirOrFile
		c.configFile = filepath.Join(configDirOrFile, configFileName)
	}

	if err := os.MkdirAll(c.configDir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create config directory %s", c.configDir)
	}
	return nil
}

func (c *AppConfig) writeDefaultConfig() error {
	if _, err := os.Stat(c.configFile); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not stat config file %s", c.configFile)
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "could not parse config template")
	}

	host := "0.0.0.0"
	if _, err := os.Stat("/.dockerenv"); err != nil {
		host = "127.0.0.1"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{
		"host":     host,
		"port":     3000,
		"logLevel": "INFO",
	}); err != nil {
		return errors.Wrap(err, "could not render config template")
	}

	if err := os.WriteFile(c.configFile, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "could not write config file %s", c.configFile)
	}

	log.Info().Str("path", c.configFile).Msg("Wrote default config")
	return nil
}

func (c *AppConfig) load() error {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return errors.Wrap(err, "could not decode config")
	}

	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogPath != "" && !filepath.IsAbs(cfg.LogPath) {
		cfg.LogPath = filepath.Join(c.configDir, cfg.LogPath)
	}
	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(c.configDir, cfg.DataDir)
	}
	cfg.MetadataTimeout = timeouts.ClampMetadataTimeout(cfg.MetadataTimeout)

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	cfg.Version = c.Config.Version
	c.Config = cfg
	return nil
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "/"
	}
	if !strings.HasPrefix(baseURL, "/") {
		baseURL = "/" + baseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

// ConfigDir is the directory holding config.toml.
func (c *AppConfig) ConfigDir() string {
	return c.configDir
}

// ConfigFile is the path of the loaded config file.
func (c *AppConfig) ConfigFile() string {
	return c.configFile
}

// ApplyLogConfig points the global zerolog logger at stdout and, when
// logPath is set, a rotated log file.
func (c *AppConfig) ApplyLogConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	level, err := parseLevel(c.Config.LogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	var stdout io.Writer = os.Stdout
	if term.IsTerminal(int(os.Stdout.Fd())) {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	writers := []io.Writer{stdout}

	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
	if c.Config.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Config.LogPath), 0o755); err != nil {
			return errors.Wrapf(err, "could not create log directory for %s", c.Config.LogPath)
		}
		c.logFile = &lumberjack.Logger{
			Filename:   c.Config.LogPath,
			MaxSize:    c.Config.LogMaxSize,
			MaxBackups: c.Config.LogMaxBackups,
		}
		writers = append(writers, c.logFile)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	return nil
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return lvl, nil
}

// Watch reloads the config file when it changes on disk. Only the log level
// takes effect without a restart.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c.reloadLogLevel()
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) reloadLogLevel() {
	raw := c.viper.GetString("logLevel")
	level, err := parseLevel(strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring invalid log level from config reload")
		return
	}

	c.mu.Lock()
	changed := zerolog.GlobalLevel() != level
	c.Config.LogLevel = strings.ToUpper(level.String())
	c.mu.Unlock()

	if changed {
		zerolog.SetGlobalLevel(level)
		log.Info().Str("level", level.String()).Msg("Log level updated from config")
	}
}

// Close releases the log file.
func (c *AppConfig) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logFile != nil {
		err := c.logFile.Close()
		c.logFile = nil
		return err
	}
	return nil
}

func getDefaultConfigDir() string {
	// Containers mount the config volume as XDG_CONFIG_HOME.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg == "/config" {
		return xdg
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, appName)
}
