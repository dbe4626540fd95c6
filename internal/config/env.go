package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file values with BQGUARD_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("BQGUARD_PROJECT"); v != "" {
		c.App.DefaultProject = v
	}
	if v := os.Getenv("BQGUARD_LOCATION"); v != "" {
		c.App.Location = v
	}
	if v := os.Getenv("BQGUARD_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("BQGUARD_STATE_DIR"); v != "" {
		c.App.StateDir = v
	}
}
