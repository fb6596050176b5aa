package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/amassd/internal/client"
	"github.com/aristath/amassd/internal/runner"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true)
	styleFail = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
	styleNote = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the amass binary and server liveness",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().Bool("binary-only", false, "Skip the server check")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	binaryOnly, _ := cmd.Flags().GetBool("binary-only")
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Checking amassd...")
	fmt.Fprintln(out)

	healthy := true

	if path, err := runner.LookPath(cfg.Runner.Binary); err != nil {
		healthy = false
		fmt.Fprintf(out, "  [%s] %s - not found\n", styleFail.Render("✗"), cfg.Runner.Binary)
	} else {
		fmt.Fprintf(out, "  [%s] %s %s\n", styleOK.Render("✓"), cfg.Runner.Binary, styleNote.Render(path))
	}

	if !binaryOnly {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = serverURL(cfg.Server)
		}
		retry := client.NoRetry()
		c, err := client.New(client.Config{BaseURL: server, Retry: &retry, Timeout: 5 * time.Second})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		if _, err := c.Health(ctx); err != nil {
			healthy = false
			fmt.Fprintf(out, "  [%s] server %s - %v\n", styleFail.Render("✗"), server, err)
		} else {
			fmt.Fprintf(out, "  [%s] server %s\n", styleOK.Render("✓"), server)
			if q, err := c.Queue(ctx); err == nil {
				fmt.Fprintf(out, "      %s\n", styleNote.Render(fmt.Sprintf("queue=%d worker_alive=%t", q.QueueSize, q.WorkerAlive)))
			}
		}
	}

	if !healthy {
		return errors.New("health check failed")
	}
	return nil
}
