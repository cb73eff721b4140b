package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/txn2/medicaid-explorer/internal/server"
	"github.com/txn2/medicaid-explorer/pkg/platform"
)

type serveOptions struct {
	address string
	dataset string
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, probes, metrics and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return err //nolint:wrapcheck // already lists every problem
			}
			setupLogger(cfg)

			p, err := platform.New(platform.WithConfig(cfg))
			if err != nil {
				return fmt.Errorf("creating platform: %w", err)
			}
			defer func() {
				if err := p.Close(); err != nil {
					slog.Warn("closing platform", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.New(p).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&opts.address, "address", "", "Listen address (overrides server.address)")
	cmd.Flags().StringVar(&opts.dataset, "dataset", "", "Serve a claims CSV or Parquet file from memory instead of PostgreSQL")
	return cmd
}

func (o *serveOptions) apply(cfg *platform.Config) {
	if o.address != "" {
		cfg.Server.Address = o.address
	}
	if o.dataset != "" {
		cfg.Dataset.Claims = o.dataset
	}
}
