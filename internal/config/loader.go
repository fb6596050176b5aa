package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AMASSD_"

// Load builds the configuration from defaults, then the global file, then
// the project file, then environment variables. Missing files are not
// errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.amassd/config.json, project: .amassd/config.json.
// A .env file in the working directory is read first; it never overrides
// variables already set.
func LoadDefault() (*Config, error) {
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	return Load(GlobalPath(homeDir), ProjectPath())
}

// LoadFile loads defaults, then path, then environment.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()
	return Load("", path)
}

// GlobalPath is the per-user config file under homeDir.
func GlobalPath(homeDir string) string {
	return filepath.Join(homeDir, ".amassd", "config.json")
}

// ProjectPath is the config file relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".amassd", "config.json")
}

// mergeConfigFile decodes path over base. Keys absent from the file keep
// their current value; lists are replaced whole.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

type envSetter func(cfg *Config, value string) error

var envOverrides = map[string]envSetter{
	"SERVER_HOST":       func(c *Config, v string) error { c.Server.Host = v; return nil },
	"SERVER_PORT":       intSetter(func(c *Config) *int { return &c.Server.Port }),
	"STORE_DRIVER":      func(c *Config, v string) error { c.Store.Driver = v; return nil },
	"STORE_SQLITE_PATH": func(c *Config, v string) error { c.Store.SQLitePath = v; return nil },
	"MONGODB_URL":       func(c *Config, v string) error { c.Store.MongoDB.URL = v; return nil },
	"MONGODB_DATABASE":  func(c *Config, v string) error { c.Store.MongoDB.Database = v; return nil },
	"RUNNER_BINARY":     func(c *Config, v string) error { c.Runner.Binary = v; return nil },
	"RUNNER_OUTPUT_DIR": func(c *Config, v string) error { c.Runner.OutputDir = v; return nil },
	"RUNNER_EXTRA_ARGS": func(c *Config, v string) error { c.Runner.ExtraArgs = strings.Fields(v); return nil },
	"RUNNER_KEEP_ARTIFACTS": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Runner.KeepArtifacts = b
		return nil
	},
	"WORKER_POLL_INTERVAL_MS":  intSetter(func(c *Config) *int { return &c.Worker.PollIntervalMS }),
	"SHUTDOWN_GRACE_PERIOD_MS": intSetter(func(c *Config) *int { return &c.Shutdown.GracePeriodMS }),
	"LOG_LEVEL":                func(c *Config, v string) error { c.Logger.Level = v; return nil },
	"LOG_FORMAT":               func(c *Config, v string) error { c.Logger.Format = v; return nil },
	"LOG_OUTPUT":               func(c *Config, v string) error { c.Logger.Output = v; return nil },
	"LOG_FILE":                 func(c *Config, v string) error { c.Logger.OutputFile = v; return nil },
}

func intSetter(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// applyEnv overlays AMASSD_* variables found by lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for key, set := range envOverrides {
		value, ok := lookup(EnvPrefix + key)
		if !ok || value == "" {
			continue
		}
		if err := set(cfg, value); err != nil {
			return fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, value, err)
		}
	}
	return nil
}
