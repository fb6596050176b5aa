package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/aristath/amassd/internal/client"
	"github.com/aristath/amassd/internal/config"
	"github.com/spf13/cobra"
)

// Version is the current version of amassd
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "amassd",
	Short:         "Queue and run amass enumerations over HTTP",
	Long:          "amassd runs amass enum jobs one at a time behind an HTTP API and keeps every result in a task store.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.amassd/config.json then .amassd/config.json)")
	rootCmd.PersistentFlags().String("server", "", "Server URL for client commands (default: from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the conventional paths when it is unset.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newClient builds an API client for --server, or for the configured
// listen address.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		server = serverURL(cfg.Server)
	}
	return client.New(client.Config{BaseURL: server})
}

// serverURL turns a listen address into one a client can dial.
func serverURL(s config.ServerConfig) string {
	host := s.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}
