package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExecutionPlanMode selects whether and how an execution plan is captured.
type ExecutionPlanMode int

const (
	PlanNone ExecutionPlanMode = iota
	// PlanEstimated returns the estimated plan only; the statement does not run.
	PlanEstimated
	// PlanActual runs the statement and captures the actual plan alongside its rows.
	PlanActual
)

func (m ExecutionPlanMode) String() string {
	switch m {
	case PlanNone:
		return "none"
	case PlanEstimated:
		return "estimated"
	case PlanActual:
		return "actual"
	default:
		return fmt.Sprintf("plan_mode(%d)", int(m))
	}
}

// ParseExecutionPlanMode accepts "none", "estimated" or "actual" in any case.
// The empty string means PlanNone.
func ParseExecutionPlanMode(s string) (ExecutionPlanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PlanNone, nil
	case "estimated":
		return PlanEstimated, nil
	case "actual":
		return PlanActual, nil
	default:
		return PlanNone, fmt.Errorf("invalid execution plan mode %q: must be none, estimated, or actual", s)
	}
}

func (m ExecutionPlanMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ExecutionPlanMode) UnmarshalText(b []byte) error {
	parsed, err := ParseExecutionPlanMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Now returns the current instant in UTC at microsecond precision, the finest
// precision every audit store round-trips losslessly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// QueryRequest is a statement submitted for read-only execution. It is passed
// by value and never modified after NewQueryRequest returns.
type QueryRequest struct {
	SQL               string            `json:"sql"`
	RequestedBy       string            `json:"requested_by"`
	Timestamp         time.Time         `json:"timestamp"`
	ExecutionPlanMode ExecutionPlanMode `json:"execution_plan_mode"`
}

func NewQueryRequest(sql, requestedBy string, mode ExecutionPlanMode) QueryRequest {
	return QueryRequest{
		SQL:               sql,
		RequestedBy:       requestedBy,
		Timestamp:         Now(),
		ExecutionPlanMode: mode,
	}
}

// ResultSet is one tabular result returned by the engine. Rows map column
// name to value; ColumnNames preserves the engine-reported order.
type ResultSet struct {
	ColumnNames []string
	Rows        []map[string]any
}

func (rs ResultSet) RowCount() int    { return len(rs.Rows) }
func (rs ResultSet) ColumnCount() int { return len(rs.ColumnNames) }

func (rs ResultSet) MarshalJSON() ([]byte, error) {
	names := rs.ColumnNames
	if names == nil {
		names = []string{}
	}
	rows := rs.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return json.Marshal(struct {
		RowCount    int              `json:"rowCount"`
		ColumnCount int              `json:"columnCount"`
		ColumnNames []string         `json:"columnNames"`
		Rows        []map[string]any `json:"rows"`
	}{rs.RowCount(), rs.ColumnCount(), names, rows})
}

// QueryResult is the outcome of one execution. A failed result never carries
// result sets. The single-result-set views (RowCount, ColumnCount, ColumnNames,
// Rows) are derived from ResultSets on every call.
type QueryResult struct {
	ResultSets            []ResultSet
	ExecutionMilliseconds int64
	Succeeded             bool
	ErrorMessage          string
	Timestamp             time.Time
	ExecutionPlanXML      string
}

// FailedResult builds an unsuccessful result with no result sets.
func FailedResult(message string, elapsedMS int64) QueryResult {
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	return QueryResult{
		ResultSets:            []ResultSet{},
		ExecutionMilliseconds: elapsedMS,
		Succeeded:             false,
		ErrorMessage:          message,
		Timestamp:             Now(),
	}
}

// RejectedResult builds the result returned when validation blocks a statement.
func RejectedResult(outcome ValidationOutcome) QueryResult {
	msg := ErrStatementRejected.Error()
	if len(outcome.Violations) > 0 {
		msg += ": " + strings.Join(outcome.Violations, "; ")
	}
	return FailedResult(msg, 0)
}

// RowCount is the total number of rows across all result sets.
func (r QueryResult) RowCount() int {
	n := 0
	for _, rs := range r.ResultSets {
		n += rs.RowCount()
	}
	return n
}

func (r QueryResult) ColumnCount() int {
	if len(r.ResultSets) == 0 {
		return 0
	}
	return r.ResultSets[0].ColumnCount()
}

func (r QueryResult) ColumnNames() []string {
	if len(r.ResultSets) == 0 {
		return []string{}
	}
	return r.ResultSets[0].ColumnNames
}

func (r QueryResult) Rows() []map[string]any {
	if len(r.ResultSets) == 0 {
		return []map[string]any{}
	}
	return r.ResultSets[0].Rows
}

func (r QueryResult) HasExecutionPlan() bool {
	return r.ExecutionPlanXML != ""
}
