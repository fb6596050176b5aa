package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/amassd.db",
			MongoDB: MongoDBConfig{
				URL:                    "mongodb://localhost:27017",
				Database:               "amassd",
				ServerSelectionTimeout: 5000,
				MaxPoolSize:            10,
			},
		},
		Runner: RunnerConfig{
			Binary:    "amass",
			OutputDir: "/results",
		},
		Worker: WorkerConfig{
			PollIntervalMS: 1000,
		},
		Shutdown: ShutdownConfig{
			GracePeriodMS: 30000,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
