package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/amassd/internal/api"
	"github.com/aristath/amassd/internal/task"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <domain>",
	Short: "Submit an enumeration task",
	Long:  "Submit runs amass enum for one domain. Without --async it waits for the result and prints one host per line.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().Bool("async", false, "Queue the task and print its id without waiting")
	submitCmd.Flags().Bool("brute", false, "Enable amass brute forcing")
	submitCmd.Flags().Int("min-for-recursive", task.DefaultMinForRecursive, "Subdomain labels seen before recursive brute forcing")
	submitCmd.Flags().Duration("timeout", 0, "Give up waiting for a synchronous run after this long (0 waits forever)")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	async, _ := cmd.Flags().GetBool("async")
	brute, _ := cmd.Flags().GetBool("brute")
	minForRecursive, _ := cmd.Flags().GetInt("min-for-recursive")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := c.Submit(ctx, api.EnumRequest{
		Domain:          args[0],
		Brute:           brute,
		MinForRecursive: minForRecursive,
		Async:           async,
	})
	if err != nil {
		return err
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	switch res.Status {
	case "accepted":
		fmt.Fprintf(errOut, "Queued %s for %s\n", res.TaskID, res.Domain)
		fmt.Fprintln(out, res.TaskID)
		return nil
	case "failed":
		return fmt.Errorf("task %s failed: %s", res.TaskID, res.ErrorMessage)
	default:
		for _, host := range res.Output {
			fmt.Fprintln(out, host)
		}
		fmt.Fprintf(errOut, "%s: %d hosts in %s (task %s)\n",
			res.Domain, len(res.Output), time.Since(start).Round(time.Millisecond), res.TaskID)
		return nil
	}
}
