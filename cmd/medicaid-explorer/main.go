// Package main provides the entry point for the medicaid-explorer server.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/txn2/medicaid-explorer/internal/server"
	"github.com/txn2/medicaid-explorer/pkg/platform"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dsn        string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "medicaid-explorer",
		Short:         "Explore Medicaid provider spending",
		Long:          "medicaid-explorer serves spending aggregations, anomaly detection and natural-language queries over Medicaid claims.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (overrides database.dsn)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newLoadCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file when one is given, otherwise starts from
// defaults, then applies the --dsn override.
func (o *globalOptions) loadConfig() (*platform.Config, error) {
	cfg := platform.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = platform.LoadConfig(o.configPath); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if o.dsn != "" {
		cfg.Database.DSN = o.dsn
	}
	return cfg, nil
}

// requireDSN returns the configured DSN or an error naming both sources.
func requireDSN(cfg *platform.Config) (string, error) {
	if cfg.Database.DSN == "" {
		return "", errors.New("a database is required: set --dsn or database.dsn")
	}
	return cfg.Database.DSN, nil
}

// setupLogger installs the process-wide slog handler.
func setupLogger(cfg *platform.Config) {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	if cfg.Server.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler).With("service", cfg.Server.Name))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "medicaid-explorer version %s\n", server.Version)
		},
	}
}
