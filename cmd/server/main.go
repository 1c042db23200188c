/*
main.go - Application entry point

PURPOSE:
  Command line for the lead engine. Builds the store, notifier and engine
  from configuration and runs one of:

    serve          HTTP API + cron sweep scheduler, graceful shutdown
    sweep <name>   Run one sweep (reassignment, reminders, won-bid) and exit
    migrate        Create or upgrade the database schema and exit

STARTUP SEQUENCE (serve):
  1. Load config (TOML file, .env, LEADS_* env)
  2. Open SQLite store (migrates on open)
  3. Build notifier: SMTP or log for email, log for SMS, rate limited
  4. Build engine, HTTP router and sweep scheduler
  5. Run server and scheduler in an errgroup until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout)
  3. Wait for running sweeps to finish
  4. Close database connection

EXAMPLES:
  # Run with a config file
  ./server serve --config ./leads.toml

  # Run the reassignment sweep from an external scheduler
  ./server sweep reassignment

  # In-memory database for a quick demo
  LEADS_DB_PATH=":memory:" ./server serve

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Cron sweep scheduler
  - config/config.go: Settings and environment variables
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leadflow/lead-engine/api"
	"github.com/leadflow/lead-engine/leads"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Lead lifecycle and assignment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	root.AddCommand(serveCmd(), sweepCmd(), migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ─── serve ──────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sweep scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	handler := api.NewHandler(a.engine, a.store, a.log)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: a.cfg.HTTP.CORSOrigins})

	scheduler, err := api.NewSweepScheduler(a.engine, a.cfg.SweepSpecs(), a.log.With().Str("component", "scheduler").Logger())
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", server.Addr).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info().Msg("server stopped")
	return nil
}

// ─── sweep ──────────────────────────────────────────────────────────────────

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep NAME",
		Short:     "Run one sweep and print its result as JSON",
		Long:      "Run one sweep (reassignment, reminders or won-bid) once. Exits non-zero when any item failed.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: leads.SweepNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.RunSweep(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Failed() > 0 {
				return fmt.Errorf("%s sweep: %d items failed", res.Sweep, res.Failed())
			}
			return nil
		},
	}
}

// ─── migrate ────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.Ping(cmd.Context()); err != nil {
				return err
			}
			a.log.Info().Str("db", a.cfg.Database.Path).Msg("schema up to date")
			return nil
		},
	}
}
