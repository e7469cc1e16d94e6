package port

import (
	"context"
	"database/sql"

	"github.com/guillermoBallester/auditsql/internal/core/domain"
)

// QueryExecutor runs a statement against the target database. Engine and
// validation failures are reported inside the returned QueryResult.
type QueryExecutor interface {
	ExecuteReadOnly(ctx context.Context, req domain.QueryRequest) domain.QueryResult
}

// ConnectionProvider hands out a dedicated connection already pinned to
// read-only intent and a non-blocking isolation level. The caller owns the
// connection and must close it.
type ConnectionProvider interface {
	Connect(ctx context.Context) (*sql.Conn, error)
}
