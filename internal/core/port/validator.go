package port

import "github.com/guillermoBallester/auditsql/internal/core/domain"

// StatementValidator classifies SQL statements before execution.
type StatementValidator interface {
	ValidateReadOnly(sql string) domain.ValidationOutcome
}
