package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mengeric/geoetl-go/client"
)

var paramsJSON string

var submitCmd = &cobra.Command{
	Use:   "submit <job_type>",
	Short: "Submit a job; prints the job_id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params map[string]any
		if paramsJSON != "" {
			if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
				return fmt.Errorf("--params must be a JSON object: %w", err)
			}
		}
		id, err := client.New(serverURL).Submit(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show a job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := client.New(serverURL).GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, job)
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks <job_id> [stage]",
	Short: "List tasks of the current attempt",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage := 0
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("stage: %w", err)
			}
			stage = n
		}
		tasks, err := client.New(serverURL).ListTasks(cmd.Context(), args[0], stage)
		if err != nil {
			return err
		}
		return printJSON(cmd, tasks)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Request cooperative cancellation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.New(serverURL).Cancel(cmd.Context(), args[0])
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <job_id>",
	Short: "Re-run a failed or completed_with_errors job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.New(serverURL).Resubmit(cmd.Context(), args[0])
	},
}

func init() {
	submitCmd.Flags().StringVarP(&paramsJSON, "params", "p", "", `job parameters as JSON, e.g. '{"n":3}'`)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
