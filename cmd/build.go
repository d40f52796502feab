// File: cmd/build.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/observability"
	"github.com/xkilldash9x/emb3d-mapper/internal/results"
)

// flagKeys maps command flags onto configuration keys so a flag, an EMB3D_*
// variable and the config file all address the same setting. Only the flags
// of the command being run are bound.
var flagKeys = map[string]string{
	"output":          "output.path",
	"format":          "output.format",
	"mode":            "source.mode",
	"source":          "source.location",
	"source-dir":      "source.dir",
	"source-glob":     "source.glob",
	"base-url":        "fetcher.base_url",
	"workers":         "fetcher.workers",
	"max-attempts":    "fetcher.max_attempts",
	"cache":           "cache.path",
	"postgres-url":    "postgres.url",
	"postgres-table":  "postgres.table",
	"request-timeout": "network.timeout",
}

func newBuildCmd() *cobra.Command {
	var noEnrich, printReport bool

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build the flattened Property/Threat/Mitigation table",
		Long: `Loads the EMB3D mapping (hierarchical JSON or a STIX bundle), enriches every
referenced threat and mitigation from its published page, and writes one row
per (property, threat, mitigation) triple to the configured sinks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			if noEnrich {
				cfg.Fetcher.Enabled = false
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			report, err := results.RunPipeline(ctx, components.Adapter, components.Enricher, components.Sinks...)
			if err != nil {
				logger.Error("Build failed", zap.Error(err), zap.String("source", components.Location))
				return err
			}

			if printReport {
				reportJSON, err := report.ToJSON()
				if err != nil {
					return fmt.Errorf("failed to serialize report to JSON: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), string(reportJSON))
			}
			return nil
		},
	}

	flags := buildCmd.Flags()
	flags.StringP("output", "o", config.DefaultOutputPath, `output file ("-" for stdout)`)
	flags.String("format", config.FormatCSV, "output format: csv, json or xlsx")
	flags.String("mode", config.ModeJSON, "source encoding: json (hierarchical) or bundle (STIX)")
	flags.String("source", "", "path or URL of the primary document")
	flags.String("source-dir", "", "directory searched for the newest versioned source file")
	flags.String("source-glob", "*.json", "file pattern used with --source-dir")
	flags.String("base-url", config.DefaultRawBase, "base URL of the per-entity pages")
	flags.Int("workers", config.DefaultWorkers, "concurrent document fetches")
	flags.Int("max-attempts", config.DefaultMaxAttempts, "attempts per document before degrading to an empty record")
	flags.String("cache", "", "SQLite file caching fetched documents (disabled when empty)")
	flags.String("postgres-url", "", "also persist rows to this PostgreSQL database")
	flags.String("postgres-table", "emb3d_mapping", "table receiving persisted rows")
	flags.Duration("request-timeout", config.DefaultRequestTimeout, "timeout of a single HTTP request")
	flags.BoolVar(&noEnrich, "no-enrich", false, "skip fetching entity pages; enrichment columns stay empty")
	flags.BoolVar(&printReport, "report", false, "print the run report as JSON to stderr")
	return buildCmd
}

// bindFlags binds each named flag to its configuration key. Unset flags fall
// through to the config file, the environment and the defaults.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}
