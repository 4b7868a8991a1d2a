package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/app"
	config "github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/spf13/cobra"
)

const closeTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "product-matcher",
		Short:         "Visual product matcher for support tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newReindexCmd(),
		newEnqueueCmd(),
		newMigrateCmd(),
	)

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP and gRPC APIs, the index reloader and the ticket ingestion pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, cfg, err := load()
			if err != nil {
				return err
			}

			application, err := app.NewApp(cmd.Context(), cfg, log)
			if err != nil {
				log.Errorf(err, "failed to initialize app")
				return err
			}
			return application.Serve(cmd.Context())
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull the store catalog into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Sync(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(),
					"source=%s inserted=%d updated=%d skipped=%d errors=%d\n",
					report.Source, report.Inserted, report.Updated, report.Skipped, len(report.Errors))
				return err
			})
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Build and activate a new index version from the current catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reindex(ctx)
				if err != nil {
					return err
				}
				if report.NoOp {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "catalog unchanged, active version kept")
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(),
					"version=%d embedded=%d reused=%d failed=%d\n",
					report.Version.ID, report.Embedded, report.Reused, report.Failed)
				return err
			})
		},
	}
}

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <ticket-id>",
		Short: "Queue a ticket for processing through the outbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || ticketID <= 0 {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Enqueue(ctx, ticketID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "ticket=%d correlation_id=%s queued\n", res.TicketID, res.CorrelationID)
				return err
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, cfg, err := load()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg, log)
		},
	}
}

func load() (logger.Logger, *config.Config, error) {
	log := logger.NewSlogLogger()

	cfg, err := config.Load(log)
	if err != nil {
		log.Errorf(err, "failed to load config")
		return nil, nil, err
	}
	return log, cfg, nil
}

// withApp собирает приложение для разовой команды и закрывает его после fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, cfg, err := load()
	if err != nil {
		return err
	}

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Errorf(err, "failed to initialize app")
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			log.Warnf("%v", err)
		}
	}()

	return fn(ctx, application)
}
