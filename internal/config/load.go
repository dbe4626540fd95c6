package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const appDirName = "bq-guard"

// DefaultPath returns the config file location: $BQGUARD_CONFIG, or
// config.yaml under the user config dir.
func DefaultPath() (string, error) {
	if p := os.Getenv("BQGUARD_CONFIG"); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, appDirName, "config.yaml"), nil
}

// Load reads the YAML file at path on top of the defaults. It never fails:
// a missing file yields the defaults (and a best-effort write of them), an
// unparsable file yields the defaults plus a warning, and every field with a
// wrong type or an out-of-range value is reset to its default with a warning.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_ = Save(path, cfg)
			return cfg
		}
		cfg.warn("", "", fmt.Sprintf("read config: %v", err))
		return cfg
	}
	if err := cfg.decode(data); err != nil {
		cfg.warn("", "", fmt.Sprintf("parse config: %v", err))
		return cfg
	}
	cfg.checkConsistency()
	return cfg
}

// Parse decodes YAML bytes on top of the defaults with the same
// per-field correction rules as Load.
func Parse(data []byte) *Config {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		cfg.warn("", "", fmt.Sprintf("parse config: %v", err))
		return cfg
	}
	cfg.checkConsistency()
	return cfg
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) warn(field, value, reason string) {
	c.Warnings = append(c.Warnings, Warning{Field: field, Value: value, Reason: reason})
}

// decode walks the document section by section so that one bad value
// only resets itself.
func (c *Config) decode(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("top level is not a mapping")
	}

	sections := c.sections()
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, body := root.Content[i].Value, root.Content[i+1]
		fields, ok := sections[name]
		if !ok {
			continue
		}
		if body.Kind != yaml.MappingNode {
			if body.Tag != "!!null" {
				c.warn(name, "", "section is not a mapping, using defaults")
			}
			continue
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, val := body.Content[j].Value, body.Content[j+1]
			path := name + "." + key
			decode, ok := fields[key]
			if !ok {
				continue
			}
			if reason := decode(val); reason != "" {
				c.warn(path, scalarText(val), reason)
			}
		}
	}
	return nil
}

// fieldDecoder decodes one node into its field, returning a non-empty
// reason when the value was rejected.
type fieldDecoder func(n *yaml.Node) string

func (c *Config) sections() map[string]map[string]fieldDecoder {
	return map[string]map[string]fieldDecoder{
		"app": {
			"default_project": field(&c.App.DefaultProject, nil),
			"location":        field(&c.App.Location, nonEmpty),
			"preview_rows":    field(&c.App.PreviewRows, atLeast[int](1)),
			"page_size":       field(&c.App.PageSize, atLeast[int](1)),
			"export_dir":      field(&c.App.ExportDir, nonEmpty),
			"state_dir":       field(&c.App.StateDir, nil),
			"log_level":       field(&c.App.LogLevel, logLevel),
		},
		"limits": {
			"warn_bytes":  field(&c.Limits.WarnBytes, atLeast[int64](0)),
			"block_bytes": field(&c.Limits.BlockBytes, atLeast[int64](0)),
		},
		"policy": {
			"enforce_partition_filter":    field(&c.Policy.EnforcePartitionFilter, nil),
			"block_multi_statement":       field(&c.Policy.BlockMultiStatement, nil),
			"warn_select_star":            field(&c.Policy.WarnSelectStar, nil),
			"warn_cross_join":             field(&c.Policy.WarnCrossJoin, nil),
			"warn_suspect_join":           field(&c.Policy.WarnSuspectJoin, nil),
			"warn_ddl_dml":                field(&c.Policy.WarnDDLDML, nil),
			"allow_execute_with_warnings": field(&c.Policy.AllowExecuteWithWarnings, nil),
		},
		"exceptions": {
			"partition_exempt_tables": field(&c.Exceptions.PartitionExemptTables, qualifiedTables),
		},
		"cache": {
			"schema_version": field(&c.Cache.SchemaVersion, atLeast[int](1)),
			"dir":            field(&c.Cache.Dir, nil),
		},
		"bq": {
			"use_query_cache":      field(&c.BQ.UseQueryCache, nil),
			"labels":               field(&c.BQ.Labels, nil),
			"metadata_concurrency": field(&c.BQ.MetadataConcurrency, atLeast[int](1)),
			"metadata_qps":         field(&c.BQ.MetadataQPS, atLeast[float64](0)),
		},
		"ui": {
			"auto_estimate_debounce_ms": field(&c.UI.AutoEstimateDebounceMS, atLeast[int](0)),
		},
	}
}

// field binds dst to a decoder. The default in dst survives when the node
// does not decode as T or fails check.
func field[T any](dst *T, check func(T) string) fieldDecoder {
	return func(n *yaml.Node) string {
		var v T
		if err := n.Decode(&v); err != nil {
			return fmt.Sprintf("expected %T, using default", v)
		}
		if check != nil {
			if reason := check(v); reason != "" {
				return reason + ", using default"
			}
		}
		*dst = v
		return ""
	}
}

type number interface {
	~int | ~int64 | ~float64
}

func atLeast[T number](floor T) func(T) string {
	return func(v T) string {
		if v < floor {
			return fmt.Sprintf("must be >= %v", floor)
		}
		return ""
	}
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "must not be empty"
	}
	return ""
}

func logLevel(s string) string {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		return ""
	}
	return "must be one of debug, info, warn, error"
}

func qualifiedTables(tables []string) string {
	for _, t := range tables {
		if strings.Count(t, ".") != 2 {
			return fmt.Sprintf("table %q is not project.dataset.table", t)
		}
	}
	return ""
}

// checkConsistency reports cross-field problems without correcting them.
func (c *Config) checkConsistency() {
	if c.Limits.WarnBytes >= c.Limits.BlockBytes {
		c.warn("limits.warn_bytes", fmt.Sprint(c.Limits.WarnBytes),
			fmt.Sprintf("not below limits.block_bytes (%d)", c.Limits.BlockBytes))
	}
}

func scalarText(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	return ""
}
