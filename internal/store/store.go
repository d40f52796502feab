package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// DefaultTable receives the flattened mapping rows.
const DefaultTable = "emb3d_mapping"

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// rowColumns lists the table columns in copy order; run_id and position lead.
var rowColumns = []string{
	"run_id", "position",
	"property_id", "property_text",
	"threat_id", "threat_text", "threat_description", "threat_proof_of_concept",
	"threat_known_exploitable_weakness", "cve", "cwe",
	"mitigation_id", "mitigation_text", "mitigation_level",
	"mitigation_description", "mitigation_regulatory_mapping",
}

// Store persists flattened rows to PostgreSQL, one batch per pipeline run.
type Store struct {
	pool  DBPool
	table string
	log   *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, table string, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		pool:  pool,
		table: table,
		log:   logger.Named("store"),
	}, nil
}

func (s *Store) identifier() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureSchema creates the mapping table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id UUID NOT NULL,
			position INTEGER NOT NULL,
			property_id TEXT NOT NULL,
			property_text TEXT NOT NULL DEFAULT '',
			threat_id TEXT NOT NULL,
			threat_text TEXT NOT NULL DEFAULT '',
			threat_description TEXT NOT NULL DEFAULT '',
			threat_proof_of_concept TEXT NOT NULL DEFAULT '',
			threat_known_exploitable_weakness TEXT NOT NULL DEFAULT '',
			cve TEXT NOT NULL DEFAULT '',
			cwe TEXT NOT NULL DEFAULT '',
			mitigation_id TEXT NOT NULL,
			mitigation_text TEXT NOT NULL DEFAULT '',
			mitigation_level TEXT NOT NULL DEFAULT '',
			mitigation_description TEXT NOT NULL DEFAULT '',
			mitigation_regulatory_mapping TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, position)
		);`, s.identifier())

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// PersistRows copies the rows of one run in a single transaction. Row order
// is kept in the position column.
func (s *Store) PersistRows(ctx context.Context, runID string, rows []schemas.OutputRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if len(rows) > 0 {
		values := make([][]interface{}, len(rows))
		for i, r := range rows {
			values[i] = []interface{}{
				runID, i,
				r.PropertyID, r.PropertyText,
				r.ThreatID, r.ThreatText, r.ThreatDescription, r.ThreatProofOfConcept,
				r.ThreatKnownExploitableWeakness, r.CVE, r.CWE,
				r.MitigationID, r.MitigationText, r.MitigationLevel,
				r.MitigationDescription, r.MitigationRegulatoryMapping,
			}
		}

		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, rowColumns, pgx.CopyFromRows(values))
		if err != nil {
			return fmt.Errorf("failed to copy rows: %w", err)
		}
		if int(copyCount) != len(rows) {
			return fmt.Errorf("mismatch in copied rows count: expected %d, got %d", len(rows), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Persisted mapping rows", zap.String("run_id", runID), zap.Int("rows", len(rows)))
	return nil
}

// Name identifies the store when used as a row sink.
func (s *Store) Name() string {
	return "postgres:" + s.table
}

// WriteRows drains the sequence and persists it under runID.
func (s *Store) WriteRows(ctx context.Context, runID string, rows iter.Seq[schemas.OutputRow]) (int, error) {
	var batch []schemas.OutputRow
	for row := range rows {
		batch = append(batch, row)
	}
	if err := s.PersistRows(ctx, runID, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// RowsByRunID reads back the rows of a run in their original order.
func (s *Store) RowsByRunID(ctx context.Context, runID string) ([]schemas.OutputRow, error) {
	query := fmt.Sprintf(`
		SELECT property_id, property_text, threat_id, threat_text, threat_description,
		       threat_proof_of_concept, threat_known_exploitable_weakness, cve, cwe,
		       mitigation_id, mitigation_text, mitigation_level, mitigation_description,
		       mitigation_regulatory_mapping
		FROM %s
		WHERE run_id = $1
		ORDER BY position ASC;`, s.identifier())

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []schemas.OutputRow
	for rows.Next() {
		var r schemas.OutputRow
		err := rows.Scan(
			&r.PropertyID, &r.PropertyText, &r.ThreatID, &r.ThreatText, &r.ThreatDescription,
			&r.ThreatProofOfConcept, &r.ThreatKnownExploitableWeakness, &r.CVE, &r.CWE,
			&r.MitigationID, &r.MitigationText, &r.MitigationLevel, &r.MitigationDescription,
			&r.MitigationRegulatoryMapping,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
