// internal/store/kv_test.go
package store

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS "surveyfill_kv" (
            key TEXT PRIMARY KEY,
            value JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`
	sqlUpsert = `
        INSERT INTO "surveyfill_kv" (key, value, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;`
	sqlSelect = `SELECT value FROM "surveyfill_kv" WHERE key = $1;`
	sqlDelete = `DELETE FROM "surveyfill_kv" WHERE key = $1;`
)

func newMockKV(t *testing.T, logger *zap.Logger) (*PostgresKV, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	kv, err := NewPostgresKV(context.Background(), mockPool, "surveyfill_kv", logger)
	require.NoError(t, err)
	return kv, mockPool
}

func TestNewPostgresKV(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresKV(context.Background(), mockPool, "surveyfill_kv", zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the table", func(t *testing.T) {
		_, mockPool := newMockKV(t, zap.NewNop())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate table creation errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		ddlErr := errors.New("permission denied")
		mockPool.ExpectPing().WillReturnError(nil)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateTable)).WillReturnError(ddlErr)

		_, err = NewPostgresKV(context.Background(), mockPool, "surveyfill_kv", zap.NewNop())
		assert.ErrorIs(t, err, ddlErr)
	})
}

func TestPostgresKVGet(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the stored value", func(t *testing.T) {
		kv, mockPool := newMockKV(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelect)).
			WithArgs(KeyFields).
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`[{"id":"f1"}]`)))

		value, ok, err := kv.Get(ctx, KeyFields)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `[{"id":"f1"}]`, string(value))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing key without error", func(t *testing.T) {
		kv, mockPool := newMockKV(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelect)).
			WithArgs(KeyOptions).
			WillReturnRows(pgxmock.NewRows([]string{"value"}))

		_, ok, err := kv.Get(ctx, KeyOptions)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		kv, mockPool := newMockKV(t, zap.NewNop())
		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelect)).WithArgs(KeyFields).WillReturnError(queryErr)

		_, _, err := kv.Get(ctx, KeyFields)
		assert.ErrorIs(t, err, queryErr)
	})
}

func TestPostgresKVWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert a single key", func(t *testing.T) {
		kv, mockPool := newMockKV(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs(KeyOptions, []byte(`{}`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, kv.Set(ctx, KeyOptions, []byte(`{}`)))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should write many keys in one transaction without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		kv, mockPool := newMockKV(t, zap.New(observedZapCore))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs(KeyCompleted, []byte(`[{"id":"a"}]`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs(KeyInProgress, []byte(`[]`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		// Expect Commit AND the subsequent Rollback (which returns ErrTxClosed)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		err := kv.SetMany(ctx, map[string][]byte{
			KeyInProgress: []byte(`[]`),
			KeyCompleted:  []byte(`[{"id":"a"}]`),
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should rollback if a write fails", func(t *testing.T) {
		kv, mockPool := newMockKV(t, zap.NewNop())
		execErr := errors.New("disk full")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs(KeyCompleted, []byte(`[]`)).
			WillReturnError(execErr)
		mockPool.ExpectRollback()

		err := kv.SetMany(ctx, map[string][]byte{KeyCompleted: []byte(`[]`), KeyInProgress: []byte(`[]`)})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.Contains(t, err.Error(), "failed to upsert key completedSurveys")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should delete a key", func(t *testing.T) {
		kv, mockPool := newMockKV(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDelete)).
			WithArgs(KeyFields).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, kv.Delete(ctx, KeyFields))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRepositoryOverPostgres(t *testing.T) {
	ctx := context.Background()
	kv, mockPool := newMockKV(t, zap.NewNop())
	repo := NewRepository(kv, DefaultLimits(), zap.NewNop())

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelect)).
		WithArgs(KeyDomains).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`[{"domain":"x.com","enabled":true,"fillAllFields":true}]`)))

	rules, err := repo.DomainRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "x.com", rules[0].DomainPattern)
	assert.True(t, rules[0].FillAllFields)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFileKV(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)

	_, ok, err := kv.Get(ctx, KeyFields)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, KeyFields, []byte(`[1]`)))
	require.NoError(t, kv.SetMany(ctx, map[string][]byte{KeyDomains: []byte(`[2]`), KeyOptions: []byte(`{}`)}))

	value, ok, err := kv.Get(ctx, KeyFields)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[1]`, string(value))

	// A second handle over the same directory sees the same data.
	reopened, err := NewFileKV(dir)
	require.NoError(t, err)
	value, ok, err = reopened.Get(ctx, KeyDomains)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[2]`, string(value))

	require.NoError(t, kv.Delete(ctx, KeyFields))
	require.NoError(t, kv.Delete(ctx, KeyFields), "deleting a missing key is not an error")
	_, ok, err = kv.Get(ctx, KeyFields)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temporary files must not be left behind")
	}

	assert.Error(t, kv.Set(ctx, "../escape", []byte(`x`)))
	_, _, err = kv.Get(ctx, "a/b")
	assert.Error(t, err)
}

func TestMemoryKVCopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	buf := []byte(`abc`)
	require.NoError(t, kv.Set(ctx, "k", buf))
	buf[0] = 'x'

	value, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(value))
	value[1] = 'y'

	again, _, _ := kv.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}
