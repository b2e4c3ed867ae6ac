package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/pysugar/shelflife/internal/app"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/version"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and enrichment worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				logging.Info().
					Str("version", version.Version).
					Str("addr", a.Config.Server.Addr()).
					Str("tbdb_api", a.Config.TBDB.APIURL).
					Int("workers", a.Config.Worker.Concurrency).
					Msg("🚀 ShelfLife starting")

				err := a.Supervisor().Serve(runCtx)
				if errors.Is(err, context.Canceled) {
					logging.Info().Msg("ShelfLife stopped")
					return nil
				}
				return err
			})
		},
	}
}
