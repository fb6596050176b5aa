package config

// ServerConfig sets the HTTP listen address.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MongoDBConfig is used when Store.Driver is "mongodb".
type MongoDBConfig struct {
	URL                    string `json:"url"`
	Database               string `json:"database"`
	ServerSelectionTimeout int    `json:"server_selection_timeout_ms"`
	MaxPoolSize            int    `json:"max_pool_size"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Driver     string        `json:"driver"` // "sqlite" or "mongodb"
	SQLitePath string        `json:"sqlite_path"`
	MongoDB    MongoDBConfig `json:"mongodb"`
}

// RunnerConfig controls the amass invocation.
type RunnerConfig struct {
	Binary        string   `json:"binary"`
	OutputDir     string   `json:"output_dir"`
	ExtraArgs     []string `json:"extra_args,omitempty"`
	KeepArtifacts bool     `json:"keep_artifacts"`
}

// WorkerConfig tunes the background loop.
type WorkerConfig struct {
	PollIntervalMS int `json:"poll_interval_ms"`
}

// ShutdownConfig bounds how long serve waits for an in-flight task.
type ShutdownConfig struct {
	GracePeriodMS int `json:"grace_period_ms"`
}

// LoggerConfig sets up logrus.
type LoggerConfig struct {
	Level      string `json:"level"`       // trace, debug, info, warn, error
	Format     string `json:"format"`      // text or json
	Output     string `json:"output"`      // stdout, stderr or file
	OutputFile string `json:"output_file,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Runner   RunnerConfig   `json:"runner"`
	Worker   WorkerConfig   `json:"worker"`
	Shutdown ShutdownConfig `json:"shutdown"`
	Logger   LoggerConfig   `json:"logger"`
}
