package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// AnonymousUser is recorded when a submission names no requester.
const AnonymousUser = "anonymous"

const (
	defaultPublishTimeout = 15 * time.Second
	defaultHistoryLimit   = 100
)

// Submission is a caller's request to run one statement.
type Submission struct {
	SQL               string
	RequestedBy       string
	Source            domain.QuerySource
	ExecutionPlanMode domain.ExecutionPlanMode
}

// Execution is what the caller gets back: the stored history entry (which
// carries the audit snapshot and its hash), the full result, and the
// validator's verdict.
type Execution struct {
	Entry      domain.HistoryEntry
	Result     domain.QueryResult
	Validation domain.ValidationOutcome
}

// QueryService runs the pipeline: validate, execute, seal, store, publish.
type QueryService struct {
	validator port.StatementValidator
	executor  port.QueryExecutor
	store     port.AuditStore
	publisher port.AuditPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation

	publishTimeout time.Duration
	historyLimit   int
	publishing     sync.WaitGroup
}

func NewQueryService(validator port.StatementValidator, executor port.QueryExecutor, store port.AuditStore, publisher port.AuditPublisher, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *QueryService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if publisher == nil {
		publisher = port.NoopPublisher{}
	}
	return &QueryService{
		validator:      validator,
		executor:       executor,
		store:          store,
		publisher:      publisher,
		logger:         logger,
		tracer:         tracer,
		inst:           inst,
		publishTimeout: defaultPublishTimeout,
		historyLimit:   defaultHistoryLimit,
	}
}

// SetPublishTimeout bounds each background publication.
func (s *QueryService) SetPublishTimeout(d time.Duration) {
	if d > 0 {
		s.publishTimeout = d
	}
}

// SetHistoryLimit sets the default page size of History.
func (s *QueryService) SetHistoryLimit(n int) {
	if n > 0 {
		s.historyLimit = n
	}
}

// Execute validates and runs the statement, seals the request/result pair
// and appends it to the audit store before returning. Rejected and failed
// statements are audited too; they come back as a result with Succeeded=false,
// not as an error. An error is returned only when the audit record cannot be
// stored, in which case no result is released.
//
// Publication to the external ledger happens in the background and never
// affects the returned value.
func (s *QueryService) Execute(ctx context.Context, sub Submission) (*Execution, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Execute",
		trace.WithAttributes(
			attribute.String("db.system", "mssql"),
			attribute.String("db.operation.name", "query"),
			attribute.String("db.query.plan_mode", sub.ExecutionPlanMode.String()),
		),
	)
	defer span.End()

	if sub.Source == "" {
		sub.Source = domain.SourceUser
	}
	if sub.RequestedBy == "" {
		sub.RequestedBy = AnonymousUser
	}
	req := domain.NewQueryRequest(sub.SQL, sub.RequestedBy, sub.ExecutionPlanMode)

	outcome := s.validator.ValidateReadOnly(req.SQL)
	var result domain.QueryResult
	if !outcome.IsValid {
		s.logger.WarnContext(ctx, "query validation rejected",
			slog.String("db.operation.name", "query"),
			slog.String("db.statement", domain.SanitizeForAudit(req.SQL)),
			slog.String("requested_by", req.RequestedBy),
			slog.String("risk", outcome.RiskLevel.String()),
			slog.Any("violations", outcome.Violations),
			slog.String("error.type", "validation_error"),
		)
		span.SetStatus(codes.Error, "validation rejected")
		s.inst.IncrementRejections(ctx)
		result = domain.RejectedResult(outcome)
	} else {
		if outcome.RiskLevel > domain.RiskSafe {
			s.logger.InfoContext(ctx, "query flagged for review",
				slog.String("db.statement", domain.SanitizeForAudit(req.SQL)),
				slog.String("risk", outcome.RiskLevel.String()),
				slog.Any("violations", outcome.Violations),
			)
		}
		result = s.executor.ExecuteReadOnly(ctx, req)
		s.inst.RecordQueryDuration(ctx, float64(result.ExecutionMilliseconds))
		if result.Succeeded {
			s.inst.IncrementQueryCount(ctx)
			span.SetAttributes(
				attribute.Int("db.response.rows", result.RowCount()),
				attribute.Int("db.response.result_sets", len(result.ResultSets)),
			)
		} else {
			s.inst.IncrementQueryErrors(ctx)
			span.SetStatus(codes.Error, result.ErrorMessage)
		}
	}

	audit, err := domain.NewAuditEntry(&req, &result)
	if err != nil {
		return nil, fmt.Errorf("sealing audit entry: %w", err)
	}
	entry := domain.NewHistoryEntry(sub.Source, audit)

	if err := s.store.Append(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit store append failed")
		s.logger.ErrorContext(ctx, "audit store append failed",
			slog.String("audit.id", entry.ID.String()),
			slog.String("error.message", err.Error()),
		)
		return nil, fmt.Errorf("recording audit entry: %w", err)
	}

	s.logger.InfoContext(ctx, "query audit",
		slog.String("audit.id", entry.ID.String()),
		slog.String("requested_by", audit.RequestedBy),
		slog.String("source", string(entry.Source)),
		slog.Int("db.response.rows", audit.RowCount),
		slog.Int64("duration_ms", audit.ExecutionMilliseconds),
		slog.Bool("succeeded", audit.Succeeded),
		slog.String("integrity_hash", audit.IntegrityHash),
	)

	s.publish(ctx, entry)

	return &Execution{Entry: entry, Result: result, Validation: outcome}, nil
}

// publish sends the entry to the ledger on a background goroutine. The
// caller's cancellation does not reach it; publishTimeout does.
func (s *QueryService) publish(ctx context.Context, entry domain.HistoryEntry) {
	detached := context.WithoutCancel(ctx)
	s.publishing.Go(func() {
		ctx, cancel := context.WithTimeout(detached, s.publishTimeout)
		defer cancel()

		res := s.publisher.Publish(ctx, entry.Audit)
		if res.Err != nil {
			s.inst.IncrementPublishFailures(ctx)
			s.logger.ErrorContext(ctx, "audit publication failed",
				slog.String("audit.id", entry.ID.String()),
				slog.String("error.message", res.Err.Error()),
			)
		}
		if res.Reference == "" {
			return
		}
		if err := s.store.AttachReference(ctx, entry.ID, res.Reference); err != nil {
			s.logger.ErrorContext(ctx, "attaching published reference failed",
				slog.String("audit.id", entry.ID.String()),
				slog.String("error.message", err.Error()),
			)
			return
		}
		s.logger.InfoContext(ctx, "audit published",
			slog.String("audit.id", entry.ID.String()),
			slog.String("reference", res.Reference),
		)
	})
}

// Wait blocks until every in-flight publication has finished.
func (s *QueryService) Wait() {
	s.publishing.Wait()
}

// History returns stored entries, newest first. A non-positive limit uses
// the configured default.
func (s *QueryService) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	entries, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

func (s *QueryService) Get(ctx context.Context, id uuid.UUID) (*domain.HistoryEntry, error) {
	return s.store.Get(ctx, id)
}

// Verify reloads an entry and recomputes its integrity hash. Valid=false
// means the stored record no longer matches its seal.
func (s *QueryService) Verify(ctx context.Context, id uuid.UUID) (*Verification, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &Verification{
		ID:            id,
		Valid:         domain.VerifyAuditHash(entry.Audit),
		IntegrityHash: entry.Audit.IntegrityHash,
	}
	if !v.Valid {
		s.logger.ErrorContext(ctx, "audit integrity violation",
			slog.String("audit.id", id.String()),
			slog.String("integrity_hash", entry.Audit.IntegrityHash),
		)
	}
	return v, nil
}
