package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
)

// DefaultQueryTimeout caps a single execution when none is configured.
const DefaultQueryTimeout = 30 * time.Second

// resetTimeout bounds the directive that restores plan mode on cleanup.
const resetTimeout = 5 * time.Second

var errNoPlan = errors.New("engine returned no execution plan")

// Executor runs validated statements on dedicated read-only connections.
type Executor struct {
	conns     port.ConnectionProvider
	validator port.StatementValidator
	timeout   time.Duration
	logger    *slog.Logger
}

func NewExecutor(conns port.ConnectionProvider, validator port.StatementValidator, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Executor{
		conns:     conns,
		validator: validator,
		timeout:   timeout,
		logger:    logger,
	}
}

// ExecuteReadOnly validates req and runs it. Every failure, including a
// rejection or a timeout, is reported in the returned result.
func (e *Executor) ExecuteReadOnly(ctx context.Context, req domain.QueryRequest) domain.QueryResult {
	outcome := e.validator.ValidateReadOnly(req.SQL)
	if !outcome.IsValid {
		return domain.RejectedResult(outcome)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.conns.Connect(ctx)
	if err != nil {
		return e.failed(ctx, req, err, start)
	}
	defer func() { _ = conn.Close() }()

	var (
		sets []domain.ResultSet
		plan string
	)
	switch req.ExecutionPlanMode {
	case domain.PlanEstimated:
		plan, err = e.estimatedPlan(ctx, conn, req.SQL)
		sets = []domain.ResultSet{}
	case domain.PlanActual:
		sets, plan, err = e.actualPlan(ctx, conn, req.SQL)
	default:
		sets, err = e.query(ctx, conn, req.SQL)
	}
	if err != nil {
		return e.failed(ctx, req, err, start)
	}

	return domain.QueryResult{
		ResultSets:            sets,
		ExecutionMilliseconds: time.Since(start).Milliseconds(),
		Succeeded:             true,
		Timestamp:             domain.Now(),
		ExecutionPlanXML:      plan,
	}
}

func (e *Executor) failed(ctx context.Context, req domain.QueryRequest, err error, start time.Time) domain.QueryResult {
	elapsed := time.Since(start).Milliseconds()
	msg := describeError(err)
	e.logger.WarnContext(ctx, "query execution failed",
		slog.String("db.statement", domain.SanitizeForAudit(req.SQL)),
		slog.String("db.query.plan_mode", req.ExecutionPlanMode.String()),
		slog.Int64("duration_ms", elapsed),
		slog.String("error.message", msg),
	)
	return domain.FailedResult(msg, elapsed)
}

func (e *Executor) query(ctx context.Context, conn *sql.Conn, statement string) ([]domain.ResultSet, error) {
	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return readAllResultSets(rows)
}

// estimatedPlan compiles statement under SHOWPLAN_XML so nothing executes.
// Plan mode is switched off again before the connection is released, even on
// failure or cancellation.
func (e *Executor) estimatedPlan(ctx context.Context, conn *sql.Conn, statement string) (plan string, err error) {
	if _, err := conn.ExecContext(ctx, showPlanOn); err != nil {
		return "", fmt.Errorf("enabling estimated plan: %w", err)
	}
	defer e.resetPlanMode(ctx, conn, showPlanOff)

	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return "", fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sets, err := readAllResultSets(rows)
	if err != nil {
		return "", err
	}
	for _, rs := range sets {
		if rs.RowCount() == 0 || rs.ColumnCount() == 0 {
			continue
		}
		if s, ok := rs.Rows[0][rs.ColumnNames[0]].(string); ok {
			return s, nil
		}
	}
	return "", errNoPlan
}

// actualPlan runs statement with STATISTICS XML enabled in the same batch and
// pulls the trailing plan documents out of the result sets.
func (e *Executor) actualPlan(ctx context.Context, conn *sql.Conn, statement string) ([]domain.ResultSet, string, error) {
	rows, err := conn.QueryContext(ctx, actualPlanBatch(statement))
	if err != nil {
		e.resetPlanMode(ctx, conn, statisticsOff)
		return nil, "", fmt.Errorf("executing query: %w", err)
	}
	sets, err := readAllResultSets(rows)
	_ = rows.Close()
	if err != nil {
		e.resetPlanMode(ctx, conn, statisticsOff)
		return nil, "", err
	}
	kept, plan := splitPlan(sets)
	return kept, plan, nil
}

// resetPlanMode runs directive on a context that survives the caller's
// cancellation so the session never leaves with plan capture still on.
func (e *Executor) resetPlanMode(ctx context.Context, conn *sql.Conn, directive string) {
	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
	defer cancel()
	if _, err := conn.ExecContext(resetCtx, directive); err != nil {
		e.logger.WarnContext(ctx, "resetting plan mode failed",
			slog.String("directive", directive),
			slog.String("error.message", err.Error()),
		)
	}
}
