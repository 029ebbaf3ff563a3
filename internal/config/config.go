// Package config loads applytrack settings from defaults, an optional TOML file and env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration values.
type Config struct {
	// Storage layout
	HomeDir           string
	ManifestDSN       string // file://, badger:// or memory://
	ServiceConfigFile string
	OperationsLogFile string
	MigrationLogDir   string

	// Version lock
	LockTimeout    time.Duration
	LockRetry      time.Duration
	LockStaleAfter time.Duration

	// Operations log
	OperationsLogCap int
	SessionID        string

	// Logging
	LogFile   string
	LogLevel  slog.Level
	levelName string
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	return Config{
		HomeDir:           home,
		ManifestDSN:       "file://" + filepath.Join(home, "manifest.json"),
		ServiceConfigFile: filepath.Join(home, "config.json"),
		OperationsLogFile: filepath.Join(home, "operations.json"),
		MigrationLogDir:   filepath.Join(home, "migration-logs"),

		LockTimeout:    10 * time.Second,
		LockRetry:      100 * time.Millisecond,
		LockStaleAfter: 10 * time.Minute,

		OperationsLogCap: 500,

		LogFile:   filepath.Join(home, "applytrack.log"),
		LogLevel:  slog.LevelInfo,
		levelName: "INFO",
	}
}

// Load resolves configuration: defaults, then the TOML file named by
// APPLYTRACK_CONFIG (or <home>/applytrack.toml when present), then env overrides.
func Load() (Config, error) {
	home := getEnv("APPLYTRACK_HOME", defaultHome())
	cfg := Default(home)

	path := os.Getenv("APPLYTRACK_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, "applytrack.toml")
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.LogLevel = parseLogLevel(cfg.levelName)
	return cfg, nil
}

// mergeFile overlays values from a TOML file. Paths in the file that are
// relative resolve against the home directory.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if file.HomeDir != "" && file.HomeDir != c.HomeDir {
		*c = Default(file.HomeDir)
	}
	setString(&c.ManifestDSN, file.ManifestDSN)
	setPath(&c.ServiceConfigFile, file.ServiceConfigFile, c.HomeDir)
	setPath(&c.OperationsLogFile, file.OperationsLogFile, c.HomeDir)
	setPath(&c.MigrationLogDir, file.MigrationLogDir, c.HomeDir)
	setPath(&c.LogFile, file.LogFile, c.HomeDir)
	setString(&c.SessionID, file.SessionID)
	setString(&c.levelName, file.LogLevel)
	if file.OperationsLogCap > 0 {
		c.OperationsLogCap = file.OperationsLogCap
	}
	for dst, raw := range map[*time.Duration]string{
		&c.LockTimeout:    file.LockTimeout,
		&c.LockRetry:      file.LockRetry,
		&c.LockStaleAfter: file.LockStaleAfter,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: invalid duration %q: %w", path, raw, err)
		}
		*dst = d
	}
	return nil
}

// fileConfig is the on-disk TOML shape; durations are strings like "5s".
type fileConfig struct {
	HomeDir           string `toml:"home_dir"`
	ManifestDSN       string `toml:"manifest_dsn"`
	ServiceConfigFile string `toml:"service_config_file"`
	OperationsLogFile string `toml:"operations_log_file"`
	MigrationLogDir   string `toml:"migration_log_dir"`
	LockTimeout       string `toml:"lock_timeout"`
	LockRetry         string `toml:"lock_retry"`
	LockStaleAfter    string `toml:"lock_stale_after"`
	OperationsLogCap  int    `toml:"operations_log_cap"`
	SessionID         string `toml:"session_id"`
	LogFile           string `toml:"log_file"`
	LogLevel          string `toml:"log_level"`
}

func (c *Config) applyEnvOverrides() {
	setString(&c.ManifestDSN, os.Getenv("APPLYTRACK_MANIFEST_DSN"))
	setString(&c.ServiceConfigFile, os.Getenv("APPLYTRACK_SERVICE_CONFIG"))
	setString(&c.OperationsLogFile, os.Getenv("APPLYTRACK_OPERATIONS_LOG"))
	setString(&c.MigrationLogDir, os.Getenv("APPLYTRACK_MIGRATION_LOG_DIR"))
	setString(&c.SessionID, os.Getenv("APPLYTRACK_SESSION"))
	setString(&c.LogFile, os.Getenv("APPLYTRACK_LOG_FILE"))
	setString(&c.levelName, os.Getenv("APPLYTRACK_LOG_LEVEL"))

	if v := os.Getenv("APPLYTRACK_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LockTimeout = d
		} else {
			slog.Warn("ignoring invalid APPLYTRACK_LOCK_TIMEOUT", "value", v, "error", err)
		}
	}
	if v := os.Getenv("APPLYTRACK_OPERATIONS_LOG_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.OperationsLogCap = n
		} else {
			slog.Warn("ignoring invalid APPLYTRACK_OPERATIONS_LOG_CAP", "value", v)
		}
	}
}

func defaultHome() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".applytrack")
	}
	return ".applytrack"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setPath(dst *string, val, base string) {
	if val == "" {
		return
	}
	if !filepath.IsAbs(val) {
		val = filepath.Join(base, val)
	}
	*dst = val
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
