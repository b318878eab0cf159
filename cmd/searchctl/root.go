package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-search/internal/bootstrap"
	"github.com/kirillkom/hybrid-search/internal/config"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
	"github.com/kirillkom/hybrid-search/internal/observability/logging"
)

// serviceFactory builds the search service and returns a cleanup func.
type serviceFactory func(ctx context.Context, logLevel string, recordUsage bool) (ports.SearchService, func(), error)

func newRootCmd(factory serviceFactory) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "searchctl",
		Short:         "Query the hybrid search pipeline from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.AddCommand(newSearchCmd(factory, &logLevel))
	return cmd
}

func bootstrapService(ctx context.Context, logLevel string, recordUsage bool) (ports.SearchService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(os.Stderr, "searchctl", logLevel)

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		DisableUsage: !recordUsage,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app.Search, app.Close, nil
}
