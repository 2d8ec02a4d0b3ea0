package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Runs one job synchronously and prints the finished run",
		Long: fmt.Sprintf(`Runs a single job through the same retry state machine the scheduler uses.
Valid jobs: %s.`, strings.Join(scheduler.Pipeline, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: scheduler.Pipeline,
		RunE:      runJobCommand,
	}
}

func runJobCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	run, runErr := appInstance.RunJob(cmd.Context(), args[0])
	if run.Job != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", args[0], runErr)
	}
	appInstance.GetLogger().Info("job finished", zap.String("job", run.Job), zap.String("state", string(run.State)))
	return nil
}
