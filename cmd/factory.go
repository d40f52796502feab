// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/internal/cache"
	"github.com/xkilldash9x/emb3d-mapper/internal/config"
	"github.com/xkilldash9x/emb3d-mapper/internal/enrich"
	"github.com/xkilldash9x/emb3d-mapper/internal/network"
	"github.com/xkilldash9x/emb3d-mapper/internal/observability"
	"github.com/xkilldash9x/emb3d-mapper/internal/reporting"
	"github.com/xkilldash9x/emb3d-mapper/internal/results"
	"github.com/xkilldash9x/emb3d-mapper/internal/source"
	"github.com/xkilldash9x/emb3d-mapper/internal/store"
)

// Components holds every service a build run needs.
// This struct centralizes the lifecycle management of run dependencies.
type Components struct {
	Adapter  source.Adapter
	Location string
	// Enricher is nil when enrichment is disabled.
	Enricher results.Enricher
	Sinks    []reporting.RowSink

	Client *network.Client
	Cache  *cache.DocumentCache
	DBPool *pgxpool.Pool
}

// Shutdown releases resources in reverse order of acquisition.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	if c.Cache != nil {
		// The run context may already be cancelled; use a fresh one for housekeeping.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if n, err := c.Cache.Purge(ctx); err != nil {
			logger.Warn("Failed to purge expired cache entries.", zap.Error(err))
		} else if n > 0 {
			logger.Debug("Purged expired cache entries.", zap.Int64("count", n))
		}
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Error closing document cache.", zap.Error(err))
		}
	}

	if c.Client != nil {
		c.Client.CloseIdleConnections()
	}
	logger.Debug("Components shutdown complete.")
}

// initializeComponents wires the source adapter, the enrichment fetcher and
// the sinks from cfg. On error, everything acquired so far is released.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Shutdown()
		}
	}()

	clientCfg := network.NewDefaultClientConfig()
	if cfg.Network.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Network.Timeout
	}
	clientCfg.UserAgent = cfg.Network.UserAgent
	clientCfg.Headers = cfg.Network.Headers
	clientCfg.Logger = logger
	c.Client = network.NewClient(clientCfg)

	// 1. Primary source
	c.Adapter, c.Location, err = source.Open(ctx, cfg.Source, c.Client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	logger.Info("Primary source located", zap.String("location", c.Location), zap.String("mode", cfg.Source.Mode))

	// 2. Enrichment
	if cfg.Fetcher.Enabled {
		// Keep the cache interface nil when no cache is configured.
		var docCache enrich.DocumentCache
		if cfg.Cache.Path != "" {
			c.Cache, err = cache.Open(ctx, cfg.Cache.Path, cfg.Cache.TTL, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to open document cache: %w", err)
			}
			docCache = c.Cache
		}

		docs := enrich.NewHTTPSource(cfg.Fetcher.BaseURL, c.Client, docCache, logger)
		c.Enricher = enrich.NewFetcher(docs, enrich.Options{
			Workers:        cfg.Fetcher.Workers,
			MaxAttempts:    cfg.Fetcher.MaxAttempts,
			InitialBackoff: cfg.Fetcher.InitialBackoff,
			MaxBackoff:     cfg.Fetcher.MaxBackoff,
		}, logger)
	} else {
		logger.Info("Enrichment disabled; enrichment columns will be empty")
	}

	// 3. Sinks
	fileSink, err := reporting.NewFileSink(cfg.Output.Path, strings.ToLower(cfg.Output.Format), logger)
	if err != nil {
		return nil, err
	}
	c.Sinks = append(c.Sinks, fileSink)

	if cfg.Postgres.URL != "" {
		dbStore, err := openStore(ctx, c, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		c.Sinks = append(c.Sinks, dbStore)
	}

	return c, nil
}

// openStore connects the pool, records it on c for shutdown and wraps it in a Store.
func openStore(ctx context.Context, c *Components, cfg config.PostgresConfig, logger *zap.Logger) (*store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	c.DBPool = pool

	s, err := store.New(ctx, pool, cfg.Table, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	return s, nil
}
