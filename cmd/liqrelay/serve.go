package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // For pprof profiling
	"os"
	"os/signal"
	"syscall"

	"liquidation_go/internal/app"

	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var pprof bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts.ConfigPath, pprof)
		},
	}
	cmd.Flags().BoolVar(&pprof, "pprof", false, "serve pprof on localhost:6060")
	return cmd
}

func runServe(configPath string, pprof bool) error {
	if pprof {
		go func() {
			// Localhost only for security
			slog.Info("🕵️ Pprof server started on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return err
	}

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.SeedDevnet(ctx); err != nil {
		slog.Error("❌ Devnet seeding failed", slog.Any("error", err))
		return err
	}

	return bootstrap.Run(ctx)
}
