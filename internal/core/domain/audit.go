package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is the tamper-evident snapshot of one request/result pair.
// PublishedReference is the only field that may be set after creation.
type AuditEntry struct {
	SQL                   string            `json:"sql"`
	RequestedBy           string            `json:"requested_by"`
	RequestTimestamp      time.Time         `json:"request_timestamp"`
	ExecutionPlanMode     ExecutionPlanMode `json:"execution_plan_mode"`
	RowCount              int               `json:"row_count"`
	ColumnCount           int               `json:"column_count"`
	ColumnNames           []string          `json:"column_names"`
	ExecutionMilliseconds int64             `json:"execution_ms"`
	Succeeded             bool              `json:"succeeded"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	ResultTimestamp       time.Time         `json:"result_timestamp"`
	IntegrityHash         string            `json:"integrity_hash"`
	PublishedReference    string            `json:"published_reference,omitempty"`
}

// NewAuditEntry snapshots request and result and seals them with their hash.
func NewAuditEntry(req *QueryRequest, res *QueryResult) (AuditEntry, error) {
	hash, err := GenerateAuditHash(req, res)
	if err != nil {
		return AuditEntry{}, err
	}
	names := append([]string{}, res.ColumnNames()...)
	return AuditEntry{
		SQL:                   req.SQL,
		RequestedBy:           req.RequestedBy,
		RequestTimestamp:      req.Timestamp,
		ExecutionPlanMode:     req.ExecutionPlanMode,
		RowCount:              res.RowCount(),
		ColumnCount:           res.ColumnCount(),
		ColumnNames:           names,
		ExecutionMilliseconds: res.ExecutionMilliseconds,
		Succeeded:             res.Succeeded,
		ErrorMessage:          res.ErrorMessage,
		ResultTimestamp:       res.Timestamp,
		IntegrityHash:         hash,
	}, nil
}

// QuerySource tells whether a statement came from a person or an assistant.
type QuerySource string

const (
	SourceUser QuerySource = "user"
	SourceAI   QuerySource = "ai"
)

func ParseQuerySource(s string) (QuerySource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return SourceUser, nil
	case "ai":
		return SourceAI, nil
	default:
		return "", fmt.Errorf("invalid query source %q: must be user or ai", s)
	}
}

// HistoryEntry is the stored form of an AuditEntry, keyed by a fresh id.
type HistoryEntry struct {
	ID     uuid.UUID   `json:"id"`
	Source QuerySource `json:"source"`
	Audit  AuditEntry  `json:"audit"`
}

func NewHistoryEntry(source QuerySource, entry AuditEntry) HistoryEntry {
	return HistoryEntry{ID: uuid.New(), Source: source, Audit: entry}
}
