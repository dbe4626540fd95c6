// Package config handles application configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bq-guard/internal/policy"
)

// Config is the typed application configuration. Every field has a
// documented default (see Default) and invalid file values fall back to it.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Limits     LimitsConfig     `yaml:"limits"`
	Policy     PolicyConfig     `yaml:"policy"`
	Exceptions ExceptionsConfig `yaml:"exceptions"`
	Cache      CacheConfig      `yaml:"cache"`
	BQ         BQConfig         `yaml:"bq"`
	UI         UIConfig         `yaml:"ui"`

	// Warnings collects corrections made during loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []Warning `yaml:"-"`
}

// AppConfig holds project selection and output settings.
type AppConfig struct {
	DefaultProject string `yaml:"default_project"`
	Location       string `yaml:"location"`
	PreviewRows    int    `yaml:"preview_rows"`
	PageSize       int    `yaml:"page_size"`
	ExportDir      string `yaml:"export_dir"`
	StateDir       string `yaml:"state_dir"` // audit database directory; empty means the user config dir
	LogLevel       string `yaml:"log_level"`
}

// LimitsConfig holds the bytes-processed thresholds.
type LimitsConfig struct {
	WarnBytes  int64 `yaml:"warn_bytes"`
	BlockBytes int64 `yaml:"block_bytes"`
}

// PolicyConfig toggles individual policy checks.
type PolicyConfig struct {
	EnforcePartitionFilter   bool `yaml:"enforce_partition_filter"`
	BlockMultiStatement      bool `yaml:"block_multi_statement"`
	WarnSelectStar           bool `yaml:"warn_select_star"`
	WarnCrossJoin            bool `yaml:"warn_cross_join"`
	WarnSuspectJoin          bool `yaml:"warn_suspect_join"`
	WarnDDLDML               bool `yaml:"warn_ddl_dml"`
	AllowExecuteWithWarnings bool `yaml:"allow_execute_with_warnings"`
}

// ExceptionsConfig lists tables excused from partition enforcement.
type ExceptionsConfig struct {
	PartitionExemptTables []string `yaml:"partition_exempt_tables"`
}

// CacheConfig controls the table-metadata cache.
type CacheConfig struct {
	SchemaVersion int    `yaml:"schema_version"`
	Dir           string `yaml:"dir"` // empty means the user cache dir
}

// BQConfig holds query-engine settings.
type BQConfig struct {
	UseQueryCache       bool              `yaml:"use_query_cache"`
	Labels              map[string]string `yaml:"labels"`
	MetadataConcurrency int               `yaml:"metadata_concurrency"`
	MetadataQPS         float64           `yaml:"metadata_qps"`
}

// UIConfig holds interactive-session settings.
type UIConfig struct {
	AutoEstimateDebounceMS int `yaml:"auto_estimate_debounce_ms"`
}

// Warning records one configuration value that was rejected and replaced
// by its default, or a cross-field inconsistency that was left as is.
type Warning struct {
	Field  string
	Value  string
	Reason string
}

func (w Warning) String() string {
	if w.Value == "" {
		return fmt.Sprintf("%s: %s", w.Field, w.Reason)
	}
	return fmt.Sprintf("%s=%q: %s", w.Field, w.Value, w.Reason)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Location:    "asia-northeast1",
			PreviewRows: 50,
			PageSize:    1000,
			ExportDir:   "exports",
			LogLevel:    "warn",
		},
		Limits: LimitsConfig{
			WarnBytes:  100 << 30,
			BlockBytes: 500 << 30,
		},
		Policy: PolicyConfig{
			EnforcePartitionFilter:   true,
			BlockMultiStatement:      true,
			WarnSelectStar:           true,
			WarnCrossJoin:            true,
			WarnSuspectJoin:          true,
			WarnDDLDML:               true,
			AllowExecuteWithWarnings: true,
		},
		Exceptions: ExceptionsConfig{PartitionExemptTables: []string{}},
		Cache:      CacheConfig{SchemaVersion: 1},
		BQ: BQConfig{
			Labels:              map[string]string{"app": "bq-guard", "env": "gce"},
			MetadataConcurrency: 8,
			MetadataQPS:         10,
		},
		UI: UIConfig{AutoEstimateDebounceMS: 900},
	}
}

// SlogLevel maps App.LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.App.LogLevel)
}

// ParseLevel maps a level name to an slog.Level, defaulting to warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// PolicyOptions projects the limits and policy toggles onto check options.
func (c *Config) PolicyOptions() policy.Options {
	return policy.Options{
		WarnBytes:           c.Limits.WarnBytes,
		BlockBytes:          c.Limits.BlockBytes,
		BlockMultiStatement: c.Policy.BlockMultiStatement,
		WarnSelectStar:      c.Policy.WarnSelectStar,
		WarnCrossJoin:       c.Policy.WarnCrossJoin,
		WarnSuspectJoin:     c.Policy.WarnSuspectJoin,
		WarnDDLDML:          c.Policy.WarnDDLDML,
	}
}

// DebounceInterval returns the quiet period before an automatic estimate.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.UI.AutoEstimateDebounceMS) * time.Millisecond
}

// DryRunLabels returns the configured labels plus mode=dry-run.
func (c *Config) DryRunLabels() map[string]string {
	return c.labelsWithMode("dry-run")
}

// ExecuteLabels returns the configured labels plus mode=execute.
func (c *Config) ExecuteLabels() map[string]string {
	return c.labelsWithMode("execute")
}

func (c *Config) labelsWithMode(mode string) map[string]string {
	out := make(map[string]string, len(c.BQ.Labels)+1)
	for k, v := range c.BQ.Labels {
		out[k] = v
	}
	out["mode"] = mode
	return out
}

// CacheFilePath returns the metadata cache file location.
func (c *Config) CacheFilePath() (string, error) {
	dir := c.Cache.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(base, appDirName)
	}
	return filepath.Join(dir, "table_meta_cache.json"), nil
}

// AuditDBPath returns the SQLite audit log location.
func (c *Config) AuditDBPath() (string, error) {
	dir := c.App.StateDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve state dir: %w", err)
		}
		dir = filepath.Join(base, appDirName)
	}
	return filepath.Join(dir, "audit.sqlite"), nil
}
