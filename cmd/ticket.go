package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ticketpilot/internal/bootstrap"
	"ticketpilot/internal/bootstrap/logging"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Inspect and control tracked tickets",
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked tickets",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		filter := ports.TicketFilter{Limit: 100}
		if raw, _ := cmd.Flags().GetString("status"); raw != "" {
			status, err := domainticket.ParseStatus(raw)
			if err != nil {
				return err
			}
			filter.Statuses = []domainticket.Status{status}
		}

		tickets, err := svc.Tickets.List(ctx, filter)
		if err != nil {
			return errs.Wrap(err, "list tickets")
		}

		for _, t := range tickets {
			line := fmt.Sprintf("%-20s %-20s retries=%d %s", t.TrackerKey, t.Status, t.RetryCount, t.Summary)
			if t.ErrorMessage != nil {
				line += " (" + *t.ErrorMessage + ")"
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
				return errs.Wrap(err, "write ticket output")
			}
		}
		return nil
	}),
}

var ticketCancelCmd = &cobra.Command{
	Use:   "cancel <key>",
	Short: "Cancel a ticket at its next transition checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		t, err := svc.Tickets.Cancel(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "cancel ticket")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "ticket %s cancelled\n", t.TrackerKey); err != nil {
			return errs.Wrap(err, "write ticket output")
		}
		return nil
	}),
}

var ticketRestartCmd = &cobra.Command{
	Use:   "restart <key>",
	Short: "Put a failed or review-parked ticket back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		t, err := svc.Tickets.Restart(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "restart ticket")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "ticket %s back to pending\n", t.TrackerKey); err != nil {
			return errs.Wrap(err, "write ticket output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(ticketCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketCancelCmd)
	ticketCmd.AddCommand(ticketRestartCmd)

	ticketListCmd.Flags().String("status", "", "Filter by ticket status")
}
