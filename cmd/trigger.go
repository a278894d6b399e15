package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ticketpilot/internal/bootstrap"
	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/usecase/pipeline"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <kind>",
	Short: "Run one pipeline trigger and exit",
	Long: "Runs a single trigger: " +
		strings.Join(triggerKindNames(), ", ") + ".",
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		kind, err := pipeline.ParseTriggerKind(cmd.Flags().Arg(0))
		if err != nil {
			return err
		}

		result, err := svc.Runner.RunOnce(ctx, kind)
		if err != nil {
			return errs.Wrap(err, "run trigger")
		}

		if result.Skipped {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "trigger %s skipped: previous run still in progress\n", kind)
		} else {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "trigger %s finished, processed=%d\n", kind, result.Processed)
		}
		if err != nil {
			return errs.Wrap(err, "write trigger output")
		}
		return nil
	}),
}

func triggerKindNames() []string {
	names := make([]string, 0, len(pipeline.AllTriggerKinds))
	for _, kind := range pipeline.AllTriggerKinds {
		names = append(names, string(kind))
	}
	return names
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}
