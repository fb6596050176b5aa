package config

import (
	"fmt"
	"strings"
)

var (
	validDrivers = map[string]bool{"sqlite": true, "mongodb": true}
	validFormats = map[string]bool{"text": true, "json": true}
	validOutputs = map[string]bool{"stdout": true, "stderr": true, "file": true}
)

// Validate reports every problem in cfg at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	if !validDrivers[c.Store.Driver] {
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or mongodb", c.Store.Driver))
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		problems = append(problems, "store.sqlite_path is required for sqlite")
	}
	if c.Store.Driver == "mongodb" {
		if c.Store.MongoDB.URL == "" {
			problems = append(problems, "store.mongodb.url is required for mongodb")
		}
		if c.Store.MongoDB.Database == "" {
			problems = append(problems, "store.mongodb.database is required for mongodb")
		}
		if c.Store.MongoDB.ServerSelectionTimeout <= 0 {
			problems = append(problems, "store.mongodb.server_selection_timeout_ms must be positive")
		}
		if c.Store.MongoDB.MaxPoolSize <= 0 {
			problems = append(problems, "store.mongodb.max_pool_size must be positive")
		}
	}

	if c.Runner.Binary == "" {
		problems = append(problems, "runner.binary is required")
	}
	if c.Runner.OutputDir == "" {
		problems = append(problems, "runner.output_dir is required")
	}

	if c.Worker.PollIntervalMS <= 0 {
		problems = append(problems, "worker.poll_interval_ms must be positive")
	}
	if c.Shutdown.GracePeriodMS < 0 {
		problems = append(problems, "shutdown.grace_period_ms must not be negative")
	}

	if !validFormats[c.Logger.Format] {
		problems = append(problems, fmt.Sprintf("logger.format %q must be text or json", c.Logger.Format))
	}
	if !validOutputs[c.Logger.Output] {
		problems = append(problems, fmt.Sprintf("logger.output %q must be stdout, stderr or file", c.Logger.Output))
	}
	if c.Logger.Output == "file" && c.Logger.OutputFile == "" {
		problems = append(problems, "logger.output_file is required when logger.output is file")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
