package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aristath/amassd/internal/api"
	"github.com/aristath/amassd/internal/client"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print the raw task record")
	listCmd.Flags().Bool("json", false, "Print the raw task list")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	res, err := c.Task(cmd.Context(), args[0])
	if client.IsNotFound(err) {
		return fmt.Errorf("task %s not found", args[0])
	}
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), res.Task)
	}
	printTask(cmd.OutOrStdout(), res.Task)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	res, err := c.Tasks(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, res.Tasks)
	}
	if len(res.Tasks) == 0 {
		fmt.Fprintln(out, "No tasks")
		return nil
	}
	for _, t := range res.Tasks {
		fmt.Fprintf(out, "%-36s  %-9s  %-5s  %s  %s\n",
			t.ID, t.Status, t.Mode, t.CreatedAt.Local().Format(time.DateTime), t.Domain)
	}
	return nil
}

func printTask(w io.Writer, t api.TaskView) {
	fmt.Fprintf(w, "ID:       %s\n", t.ID)
	fmt.Fprintf(w, "Domain:   %s\n", t.Domain)
	fmt.Fprintf(w, "Status:   %s\n", t.Status)
	fmt.Fprintf(w, "Mode:     %s\n", t.Mode)
	fmt.Fprintf(w, "Options:  brute=%t min_for_recursive=%d\n", t.Brute, t.MinForRecursive)
	fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.StartedAt != nil {
		fmt.Fprintf(w, "Started:  %s\n", t.StartedAt.Local().Format(time.DateTime))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", t.CompletedAt.Local().Format(time.DateTime))
	}
	if t.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:    %s\n", t.ErrorMessage)
	}
	if t.Output != nil {
		fmt.Fprintf(w, "Hosts:    %d\n", len(*t.Output))
		if len(*t.Output) > 0 {
			fmt.Fprintf(w, "\n%s\n", strings.Join(*t.Output, "\n"))
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
