// Package cache keeps retrieved entity documents in a local SQLite file so
// repeated runs do not hit the upstream host for pages that rarely change.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DocumentCache maps a document URL to its last retrieved body.
type DocumentCache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Open opens (or creates) the cache at path with WAL mode enabled. A ttl of
// zero keeps entries forever.
func Open(ctx context.Context, path string, ttl time.Duration, logger *zap.Logger) (*DocumentCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open document cache: %w", err)
	}
	// Serialize writers; the fetch pool would otherwise race for the write lock.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure document cache: %w", err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &DocumentCache{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("doc_cache"),
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	url TEXT PRIMARY KEY,
	body BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init document cache schema: %w", err)
	}
	return nil
}

// Get returns the cached body for url. Expired entries are reported as misses.
func (c *DocumentCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	var (
		body      []byte
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx, `SELECT body, fetched_at FROM documents WHERE url = ?`, url).Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document cache: %w", err)
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(fetchedAt, 0)) > c.ttl {
		c.logger.Debug("Cache entry expired", zap.String("url", url))
		return nil, false, nil
	}
	return body, true, nil
}

// Put stores body for url, replacing any previous entry.
func (c *DocumentCache) Put(ctx context.Context, url string, body []byte) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (url, body, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		url, body, c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("write document cache: %w", err)
	}
	return nil
}

// Purge removes entries older than the TTL and returns how many were dropped.
func (c *DocumentCache) Purge(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge document cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (c *DocumentCache) Close() error {
	return c.db.Close()
}
