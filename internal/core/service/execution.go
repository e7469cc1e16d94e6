package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
)

// executionView is the caller-facing shape of an Execution. rowCount,
// columnNames and rows repeat the first result set for single-set clients.
type executionView struct {
	HistoryID        uuid.UUID          `json:"historyId"`
	ResultSets       []domain.ResultSet `json:"resultSets"`
	ExecutionTimeMS  int64              `json:"executionTimeMs"`
	Succeeded        bool               `json:"succeeded"`
	ErrorMessage     string             `json:"errorMessage,omitempty"`
	ExecutionPlanXML string             `json:"executionPlanXml,omitempty"`
	IntegrityHash    string             `json:"integrityHash"`
	RiskLevel        domain.RiskLevel   `json:"riskLevel"`
	Violations       []string           `json:"violations,omitempty"`
	RowCount         int                `json:"rowCount"`
	ColumnNames      []string           `json:"columnNames"`
	Rows             []map[string]any   `json:"rows"`
}

func (e Execution) MarshalJSON() ([]byte, error) {
	sets := e.Result.ResultSets
	if sets == nil {
		sets = []domain.ResultSet{}
	}
	return json.Marshal(executionView{
		HistoryID:        e.Entry.ID,
		ResultSets:       sets,
		ExecutionTimeMS:  e.Result.ExecutionMilliseconds,
		Succeeded:        e.Result.Succeeded,
		ErrorMessage:     e.Result.ErrorMessage,
		ExecutionPlanXML: e.Result.ExecutionPlanXML,
		IntegrityHash:    e.Entry.Audit.IntegrityHash,
		RiskLevel:        e.Validation.RiskLevel,
		Violations:       e.Validation.Violations,
		RowCount:         e.Result.RowCount(),
		ColumnNames:      e.Result.ColumnNames(),
		Rows:             e.Result.Rows(),
	})
}

// Verification is the outcome of re-checking a stored entry's seal.
type Verification struct {
	ID            uuid.UUID `json:"id"`
	Valid         bool      `json:"valid"`
	IntegrityHash string    `json:"integrityHash"`
}
