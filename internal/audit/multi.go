package audit

import (
	"context"
	"errors"

	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
)

// MultiPublisher fans an entry out to every publisher in order. The first
// non-empty reference wins; errors from all publishers are joined.
type MultiPublisher struct {
	publishers []port.AuditPublisher
}

func NewMultiPublisher(publishers ...port.AuditPublisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (m *MultiPublisher) Publish(ctx context.Context, entry domain.AuditEntry) port.PublishResult {
	var (
		out  port.PublishResult
		errs []error
	)
	for _, p := range m.publishers {
		res := p.Publish(ctx, entry)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
		if out.Reference == "" && res.Reference != "" {
			out.Reference = res.Reference
		}
	}
	out.Err = errors.Join(errs...)
	return out
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
