package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"ticketpilot/internal/bootstrap"
	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage customer bot sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session with a purchased hour budget",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		customer, _ := cmd.Flags().GetString("customer")
		hours, _ := cmd.Flags().GetFloat64("hours")

		session, err := svc.Sessions.Create(ctx, customer, hours)
		if err != nil {
			return errs.Wrap(err, "create session")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "session %d created for %s with %.1fh\n",
			session.ID, session.Customer, session.PurchasedHours); err != nil {
			return errs.Wrap(err, "write session output")
		}
		return nil
	}),
}

var sessionRenewCmd = &cobra.Command{
	Use:   "renew <id>",
	Short: "Add purchased hours to a session",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, err := strconv.ParseUint(cmd.Flags().Arg(0), 10, 64)
		if err != nil {
			return errs.Wrap(err, "parse session id")
		}
		hours, _ := cmd.Flags().GetFloat64("hours")

		session, err := svc.Sessions.Renew(ctx, id, hours)
		if err != nil {
			return errs.Wrap(err, "renew session")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "session %d renewed, remaining %.1fh\n",
			session.ID, session.RemainingHours); err != nil {
			return errs.Wrap(err, "write session output")
		}
		return nil
	}),
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show session budget and counters",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, err := strconv.ParseUint(cmd.Flags().Arg(0), 10, 64)
		if err != nil {
			return errs.Wrap(err, "parse session id")
		}

		session, err := svc.Sessions.Get(ctx, id)
		if err != nil {
			return errs.Wrap(err, "load session")
		}

		if err := printSession(cmd, session); err != nil {
			return errs.Wrap(err, "write session output")
		}
		return nil
	}),
}

func printSession(cmd *cobra.Command, s ports.Session) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(),
		"session %d customer=%s status=%s purchased=%.1fh consumed=%.1fh remaining=%.1fh tickets=%d/%d ok, %d failed\n",
		s.ID, s.Customer, s.Status, s.PurchasedHours, s.ConsumedHours, s.RemainingHours,
		s.SuccessfulTickets, s.ProcessedTickets, s.FailedTickets)
	return err
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionRenewCmd)
	sessionCmd.AddCommand(sessionShowCmd)

	sessionCreateCmd.Flags().String("customer", "", "Customer identifier")
	sessionCreateCmd.Flags().Float64("hours", 0, "Purchased hours (default from config)")
	_ = sessionCreateCmd.MarkFlagRequired("customer")

	sessionRenewCmd.Flags().Float64("hours", 0, "Additional hours (default from config)")
}
