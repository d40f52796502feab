package store

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
)

// -- Test Helpers --

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, "", zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func sampleRows() []schemas.OutputRow {
	return []schemas.OutputRow{
		{PropertyID: "PID-1", PropertyText: "Weak input validation", ThreatID: "TID-101", ThreatText: "Buffer overflow", MitigationID: "MID-001", MitigationLevel: "Foundational"},
		{PropertyID: "PID-1", PropertyText: "Weak input validation", ThreatID: "TID-101", ThreatText: "Buffer overflow", MitigationID: "MID-002"},
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, DefaultTable, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should default the table name", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		assert.Equal(t, "postgres:"+DefaultTable, store.Name())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	store, mockPool := newMockStore(t)

	mockPool.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "emb3d_mapping"`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRows(t *testing.T) {
	ctx := context.Background()

	t.Run("should copy every row in one transaction", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		runID := uuid.NewString()

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, rowColumns).WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, store.PersistRows(ctx, runID, sampleRows()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := store.PersistRows(ctx, uuid.NewString(), sampleRows())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if the copy fails", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		copyErr := errors.New("copy from failed")
		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, rowColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := store.PersistRows(ctx, uuid.NewString(), sampleRows())
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on a short copy", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, rowColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := store.PersistRows(ctx, uuid.NewString(), sampleRows())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied rows count")
	})

	t.Run("should commit an empty run without copying", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectCommit()

		require.NoError(t, store.PersistRows(ctx, uuid.NewString(), nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestWriteRows(t *testing.T) {
	store, mockPool := newMockStore(t)

	mockPool.ExpectBegin()
	mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, rowColumns).WillReturnResult(2)
	mockPool.ExpectCommit()

	n, err := store.WriteRows(context.Background(), uuid.NewString(), slices.Values(sampleRows()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRowsByRunID(t *testing.T) {
	store, mockPool := newMockStore(t)
	runID := uuid.NewString()

	columns := []string{
		"property_id", "property_text", "threat_id", "threat_text", "threat_description",
		"threat_proof_of_concept", "threat_known_exploitable_weakness", "cve", "cwe",
		"mitigation_id", "mitigation_text", "mitigation_level", "mitigation_description",
		"mitigation_regulatory_mapping",
	}
	rows := pgxmock.NewRows(columns)
	for _, r := range sampleRows() {
		values := make([]any, 0, len(columns))
		for _, v := range r.Values() {
			values = append(values, v)
		}
		rows.AddRow(values...)
	}

	mockPool.ExpectQuery(`SELECT property_id, property_text`).WithArgs(runID).WillReturnRows(rows)

	got, err := store.RowsByRunID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, sampleRows(), got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
