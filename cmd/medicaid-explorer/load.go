package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/txn2/medicaid-explorer/pkg/loader"
)

type loadOptions struct {
	files     loader.Files
	truncate  bool
	batchSize int
}

func newLoadCmd(global *globalOptions) *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Bulk load claim extracts and directories into PostgreSQL",
		Long: "Loads a claims CSV or Parquet file, plus optional provider and HCPCS code directories, " +
			"into the migrated schema. Directories are upserted; claims are appended unless --truncate is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			dsn, err := requireDSN(cfg)
			if err != nil {
				return err
			}
			setupLogger(cfg)

			ctx := cmd.Context()
			pool, err := loader.Connect(ctx, dsn)
			if err != nil {
				return err //nolint:wrapcheck // loader wraps its own errors
			}
			defer pool.Close()

			stats, err := loader.New(pool, loader.Config{
				BatchSize: opts.batchSize,
				Truncate:  opts.truncate,
			}).Load(ctx, opts.files)
			if err != nil {
				return err //nolint:wrapcheck // loader wraps its own errors
			}
			return printStats(cmd, stats)
		},
	}
	cmd.Flags().StringVar(&opts.files.Claims, "claims", "", "Claims CSV or Parquet file")
	cmd.Flags().StringVar(&opts.files.Providers, "providers", "", "Provider directory CSV")
	cmd.Flags().StringVar(&opts.files.Codes, "codes", "", "HCPCS code directory CSV")
	cmd.Flags().BoolVar(&opts.truncate, "truncate", false, "Empty the claims table before loading")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Rows per COPY batch (default 10000)")
	return cmd
}

func (o *loadOptions) validate() error {
	if o.files.Claims == "" && o.files.Providers == "" && o.files.Codes == "" {
		return errors.New("nothing to load: set --claims, --providers or --codes")
	}
	if o.batchSize < 0 {
		return errors.New("--batch-size must not be negative")
	}
	return nil
}

func printStats(cmd *cobra.Command, stats []loader.Stats) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS\tDURATION")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.Table, s.Rows, s.Duration.Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	return nil
}
