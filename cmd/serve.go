package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"ticketpilot/internal/bootstrap"
	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/usecase/pipeline"
)

// serveCmd runs the HTTP API plus the cron scheduler that fires configured
// triggers. Both stop on SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the trigger scheduler",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc services) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		scheduler := cron.New()
		for rawKind, expr := range app.Config.Schedules {
			kind, err := pipeline.ParseTriggerKind(rawKind)
			if err != nil {
				return errs.Wrap(err, "parse schedule")
			}

			if _, err := scheduler.AddFunc(expr, func() {
				if _, err := svc.Runner.RunOnce(ctx, kind); err != nil {
					logging.Error(ctx, "scheduled trigger failed",
						slog.String("trigger", string(kind)),
						slog.Any("err", errs.Loggable(err)))
				}
			}); err != nil {
				return errs.Wrapf(err, "schedule trigger %s", kind)
			}
			logging.Info(ctx, "trigger scheduled",
				slog.String("trigger", string(kind)),
				slog.String("cron", expr))
		}
		scheduler.Start()
		defer scheduler.Stop()

		server := &http.Server{
			Addr:              app.Config.HTTP.Addr,
			Handler:           svc.HTTP.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logging.Info(ctx, "http server listening", slog.String("addr", server.Addr))
			serveErr <- server.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errs.Wrap(err, "serve http")
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shutdown http server")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
