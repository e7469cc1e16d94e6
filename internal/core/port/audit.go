package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
)

// PublishResult is the outcome of a best-effort publication. Reference is an
// opaque locator (usually a URL) and is empty when nothing was published.
type PublishResult struct {
	Reference string
	Err       error
}

// AuditPublisher sends audit entries to an external ledger.
// Implementations report failure through PublishResult and never panic.
type AuditPublisher interface {
	Publish(ctx context.Context, entry domain.AuditEntry) PublishResult
	Close() error
}

// AuditStore is the append-only history of executed statements.
// Implementations must be safe for concurrent use.
type AuditStore interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
	Get(ctx context.Context, id uuid.UUID) (*domain.HistoryEntry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	// AttachReference sets the published reference once. It is the only
	// mutation an entry ever receives.
	AttachReference(ctx context.Context, id uuid.UUID, reference string) error
}

// NoopPublisher discards all audit entries.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.AuditEntry) PublishResult { return PublishResult{} }
func (NoopPublisher) Close() error                                             { return nil }
