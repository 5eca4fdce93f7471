package core

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HistoryDisabled is the HISTORY_DB value that turns the run history off.
const HistoryDisabled = "off"

// Config holds all configuration values for a campaign run.
type Config struct {
	// WebUI connection
	ServerURL     string        // Base address of the WebUI started with --api
	Timeout       time.Duration // Per-request HTTP timeout
	ProbePath     string        // Readiness path polled before the campaign
	ProbeInterval time.Duration // Spacing between readiness polls
	ProbeMaxWait  time.Duration // Give up waiting after this long and start anyway

	// Retry and pacing
	MaxRetries          int           // Attempts per image request (first try included)
	RetryBackoff        time.Duration // Linear backoff unit between attempts
	ConsecutiveFailures int           // Terminal failures in a row before a category is abandoned
	PromptRetryLimit    int           // Draws spent looking for an unused prompt
	RequestInterval     time.Duration // Minimum spacing between requests
	RandomSeed          uint64        // 0 means time-based

	// Images per category when a document does not say
	DefaultImagesPerCategory int

	// Categories to run when none are named on the command line. Empty means
	// discover config_<name> documents.
	Categories []string

	// Filesystem
	ConfigDir     string // Category documents and keyword files
	OutputBaseDir string // Parent of the per-category output directories
	HistoryDB     string // SQLite path, or HistoryDisabled
	LogFile       string

	HistoryRetentionDays int   // Runs older than this are pruned at startup; 0 keeps everything
	MinFreeDiskMB        int64 // Preflight warns below this much free space in OutputBaseDir

	// Logging
	LogLevel string
	DevMode  bool
}

// HistoryEnabled reports whether run history should be recorded.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDB != "" && !strings.EqualFold(c.HistoryDB, HistoryDisabled)
}

// executableDir returns the directory holding the running binary, falling back
// to the working directory when it cannot be resolved.
func executableDir() string {
	exe, err := os.Executable()
	if err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// LoadConfig loads configuration from environment variables. Every value has a
// default, so an empty environment yields a runnable configuration. Range
// problems are reported as *ConfigError.
func LoadConfig() (*Config, error) {
	baseDir := executableDir()

	configDir := GetEnvOrDefault("CONFIG_DIR", baseDir)
	historyDB := GetEnvOrDefault("HISTORY_DB", filepath.Join(configDir, "campaign.db"))

	cfg := &Config{
		ServerURL:     strings.TrimRight(GetEnvOrDefault("SD_SERVER", "http://127.0.0.1:7860"), "/"),
		Timeout:       ParseDurationEnv("SD_TIMEOUT_SECONDS", 300),
		ProbePath:     GetEnvOrDefault("PROBE_PATH", "/internal/ping"),
		ProbeInterval: ParseDurationEnv("PROBE_INTERVAL_SECONDS", 5),
		ProbeMaxWait:  ParseDurationEnv("PROBE_MAX_WAIT_SECONDS", 120),

		MaxRetries:               ParseIntEnv("MAX_RETRIES", 3),
		RetryBackoff:             ParseDurationEnv("RETRY_BACKOFF_SECONDS", 2),
		ConsecutiveFailures:      ParseIntEnv("CONSECUTIVE_FAILURE_LIMIT", 3),
		PromptRetryLimit:         ParseIntEnv("PROMPT_RETRY_LIMIT", 30),
		RequestInterval:          ParseMillisEnv("REQUEST_INTERVAL_MS", 200),
		RandomSeed:               uint64(ParseInt64Env("RANDOM_SEED", 0)),
		DefaultImagesPerCategory: ParseIntEnv("DEFAULT_IMAGES_COUNT", 20),
		Categories:               ParseListEnv("CATEGORIES"),

		ConfigDir:     configDir,
		OutputBaseDir: GetEnvOrDefault("OUTPUT_BASE_DIR", filepath.Dir(baseDir)),
		HistoryDB:     historyDB,
		LogFile:       GetEnvOrDefault("LOG_FILE", "campaign.log"),

		HistoryRetentionDays: ParseIntEnv("HISTORY_RETENTION_DAYS", 0),
		MinFreeDiskMB:        ParseInt64Env("MIN_FREE_DISK_MB", 1024),

		LogLevel: GetEnvOrDefault("LOG_LEVEL", "info"),
		DevMode:  ParseBoolEnv("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. It is called by LoadConfig and again after
// command-line overrides are applied.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ErrInvalidServerURL(c.ServerURL, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidServerURL(c.ServerURL, "scheme must be http or https")
	}
	if u.Host == "" {
		return ErrInvalidServerURL(c.ServerURL, "missing host")
	}

	if c.Timeout < time.Second {
		return ErrOutOfRange("SD_TIMEOUT_SECONDS", int(c.Timeout/time.Second), 1, "any")
	}
	if c.MaxRetries < 1 || c.MaxRetries > 20 {
		return ErrOutOfRange("MAX_RETRIES", c.MaxRetries, 1, 20)
	}
	if c.RetryBackoff < 0 {
		return ErrOutOfRange("RETRY_BACKOFF_SECONDS", int(c.RetryBackoff/time.Second), 0, "any")
	}
	if c.ConsecutiveFailures < 1 {
		return ErrOutOfRange("CONSECUTIVE_FAILURE_LIMIT", c.ConsecutiveFailures, 1, "any")
	}
	if c.PromptRetryLimit < 1 {
		return ErrOutOfRange("PROMPT_RETRY_LIMIT", c.PromptRetryLimit, 1, "any")
	}
	if c.RequestInterval < 0 {
		return ErrOutOfRange("REQUEST_INTERVAL_MS", c.RequestInterval.Milliseconds(), 0, "any")
	}
	if c.ProbeInterval <= 0 {
		return ErrOutOfRange("PROBE_INTERVAL_SECONDS", int(c.ProbeInterval/time.Second), 1, "any")
	}
	if c.ProbeMaxWait < 0 {
		return ErrOutOfRange("PROBE_MAX_WAIT_SECONDS", int(c.ProbeMaxWait/time.Second), 0, "any")
	}
	if c.DefaultImagesPerCategory < 0 {
		return ErrOutOfRange("DEFAULT_IMAGES_COUNT", c.DefaultImagesPerCategory, 0, "any")
	}
	if c.HistoryRetentionDays < 0 {
		return ErrOutOfRange("HISTORY_RETENTION_DAYS", c.HistoryRetentionDays, 0, "any")
	}
	if c.MinFreeDiskMB < 0 {
		return ErrOutOfRange("MIN_FREE_DISK_MB", c.MinFreeDiskMB, 0, "any")
	}
	if c.ConfigDir == "" {
		return ErrMissingDir("CONFIG_DIR", "empty path")
	}
	if c.OutputBaseDir == "" {
		return ErrMissingDir("OUTPUT_BASE_DIR", "empty path")
	}
	return nil
}
