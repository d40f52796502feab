// cmd/report.go
package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/observability"
	"github.com/xkilldash9x/emb3d-mapper/internal/reporting"
	"github.com/xkilldash9x/emb3d-mapper/internal/store"
)

func newReportCmd() *cobra.Command {
	var runID string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export the rows persisted by a previous build",
		Long:  `Reads the rows a build persisted to PostgreSQL under the given run ID and writes them, in their original order, to the output file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("a run-id must be provided")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Get the configuration initialized by the root command
			cfg := config.Get()
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres.url is required to read a persisted run")
			}

			// Initialize the database connection pool
			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			storeService, err := store.New(ctx, pool, cfg.Postgres.Table, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize store service: %w", err)
			}

			rows, err := storeService.RowsByRunID(ctx, runID)
			if err != nil {
				logger.Error("Failed to read persisted rows", zap.Error(err), zap.String("run_id", runID))
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no rows found for run %s", runID)
			}

			sink, err := reporting.NewFileSink(cfg.Output.Path, strings.ToLower(cfg.Output.Format), logger)
			if err != nil {
				return err
			}
			n, err := sink.WriteRows(ctx, runID, slices.Values(rows))
			if err != nil {
				return fmt.Errorf("error writing to %s: %w", sink.Name(), err)
			}

			logger.Info("Run exported", zap.String("run_id", runID), zap.Int("rows", n), zap.String("sink", sink.Name()))
			return nil
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the build run to export (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringP("output", "o", config.DefaultOutputPath, `output file ("-" for stdout)`)
	reportCmd.Flags().String("format", config.FormatCSV, "output format: csv, json or xlsx")
	reportCmd.Flags().String("postgres-url", "", "PostgreSQL database holding the persisted run")
	reportCmd.Flags().String("postgres-table", "emb3d_mapping", "table holding persisted rows")

	return reportCmd
}
