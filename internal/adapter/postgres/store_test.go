package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/adapter/postgres"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupStore starts a Postgres testcontainer and returns a migrated store
// plus the raw pool for tamper attempts.
func setupStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("audit"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store := postgres.NewStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migration must be idempotent")
	return store, pool
}

func historyEntry(t *testing.T, sql string, res domain.QueryResult) domain.HistoryEntry {
	t.Helper()
	req := domain.NewQueryRequest(sql, "alice@example.com", domain.PlanActual)
	entry, err := domain.NewAuditEntry(&req, &res)
	require.NoError(t, err)
	return domain.NewHistoryEntry(domain.SourceAI, entry)
}

func succeeded() domain.QueryResult {
	return domain.QueryResult{
		ResultSets: []domain.ResultSet{{
			ColumnNames: []string{"Id", "Customer"},
			Rows:        []map[string]any{{"Id": 1, "Customer": "alice"}},
		}},
		ExecutionMilliseconds: 17,
		Succeeded:             true,
		Timestamp:             domain.Now(),
	}
}

func TestStore(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	t.Run("round trip keeps the hash valid", func(t *testing.T) {
		in := historyEntry(t, "SELECT Id, Customer FROM Orders", succeeded())
		require.NoError(t, store.Append(ctx, in))

		out, err := store.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, domain.SourceAI, out.Source)
		assert.Equal(t, domain.PlanActual, out.Audit.ExecutionPlanMode)
		assert.Equal(t, in.Audit.ColumnNames, out.Audit.ColumnNames)
		assert.True(t, in.Audit.RequestTimestamp.Equal(out.Audit.RequestTimestamp))
		assert.Equal(t, in.Audit.IntegrityHash, out.Audit.IntegrityHash)
		assert.True(t, domain.VerifyAuditHash(out.Audit))
	})

	t.Run("failed result with no columns", func(t *testing.T) {
		in := historyEntry(t, "DROP TABLE Orders", domain.FailedResult("statement rejected: Blocked keyword detected: DROP", 0))
		require.NoError(t, store.Append(ctx, in))

		out, err := store.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.False(t, out.Audit.Succeeded)
		assert.Empty(t, out.Audit.ColumnNames)
		assert.True(t, domain.VerifyAuditHash(out.Audit))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("attach reference once", func(t *testing.T) {
		in := historyEntry(t, "SELECT 1", succeeded())
		require.NoError(t, store.Append(ctx, in))

		require.NoError(t, store.AttachReference(ctx, in.ID, "https://github.com/o/r/issues/1#issuecomment-1"))
		assert.ErrorIs(t, store.AttachReference(ctx, in.ID, "https://example.com"), domain.ErrReferenceSet)
		assert.ErrorIs(t, store.AttachReference(ctx, uuid.New(), "x"), domain.ErrNotFound)

		out, err := store.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/o/r/issues/1#issuecomment-1", out.Audit.PublishedReference)
		assert.True(t, domain.VerifyAuditHash(out.Audit))
	})

	t.Run("rows cannot be rewritten or deleted", func(t *testing.T) {
		in := historyEntry(t, "SELECT 2", succeeded())
		require.NoError(t, store.Append(ctx, in))

		_, err := pool.Exec(ctx, "UPDATE audit_entries SET row_count = 99 WHERE id = $1", in.ID)
		assert.Error(t, err)
		_, err = pool.Exec(ctx, "DELETE FROM audit_entries WHERE id = $1", in.ID)
		assert.Error(t, err)

		out, err := store.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, out.Audit.RowCount)
	})

	t.Run("recent is newest first", func(t *testing.T) {
		var ids []uuid.UUID
		for i := range 3 {
			e := historyEntry(t, fmt.Sprintf("SELECT %d AS recent", i), succeeded())
			require.NoError(t, store.Append(ctx, e))
			ids = append(ids, e.ID)
		}

		got, err := store.Recent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ids[2], got[0].ID)
		assert.Equal(t, ids[1], got[1].ID)
	})

	t.Run("concurrent append", func(t *testing.T) {
		before, err := store.Recent(ctx, 10000)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Append(ctx, historyEntry(t, "SELECT 3", succeeded())))
			}()
		}
		wg.Wait()

		after, err := store.Recent(ctx, 10000)
		require.NoError(t, err)
		assert.Len(t, after, len(before)+20)
	})
}
