package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// canonicalTimeLayout renders an instant with seven fractional digits and an
// explicit numeric offset, so UTC is written as +00:00 rather than Z.
const canonicalTimeLayout = "2006-01-02T15:04:05.0000000-07:00"

// GenerateAuditHash returns the SHA-256 digest, as 64 lowercase hex characters,
// of the canonical payload built from req and res.
func GenerateAuditHash(req *QueryRequest, res *QueryResult) (string, error) {
	if req == nil {
		return "", ErrNilRequest
	}
	if res == nil {
		return "", ErrNilResult
	}
	payload := canonicalPayload(
		req.SQL,
		req.RequestedBy,
		req.Timestamp,
		res.RowCount(),
		res.ColumnCount(),
		res.ColumnNames(),
		res.ExecutionMilliseconds,
		res.Succeeded,
		res.ErrorMessage,
		res.Timestamp,
	)
	return digest(payload), nil
}

// VerifyAuditHash recomputes the digest from the entry's own fields and
// compares it with IntegrityHash byte for byte.
func VerifyAuditHash(entry AuditEntry) bool {
	payload := canonicalPayload(
		entry.SQL,
		entry.RequestedBy,
		entry.RequestTimestamp,
		entry.RowCount,
		entry.ColumnCount,
		entry.ColumnNames,
		entry.ExecutionMilliseconds,
		entry.Succeeded,
		entry.ErrorMessage,
		entry.ResultTimestamp,
	)
	return entry.IntegrityHash == digest(payload)
}

// canonicalPayload writes one LABEL:value line per field. The field order and
// labels are fixed: changing either invalidates every stored hash.
func canonicalPayload(
	sql, requestedBy string,
	requestTS time.Time,
	rowCount, columnCount int,
	columnNames []string,
	executionMS int64,
	succeeded bool,
	errorMessage string,
	resultTS time.Time,
) string {
	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(label)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	line("SQL", sql)
	line("BY", requestedBy)
	line("REQ_TS", formatCanonicalTime(requestTS))
	line("ROWS", strconv.Itoa(rowCount))
	line("COLS", strconv.Itoa(columnCount))
	line("COL_NAMES", strings.Join(columnNames, ","))
	line("EXEC_MS", strconv.FormatInt(executionMS, 10))
	line("OK", formatCanonicalBool(succeeded))
	line("ERR", errorMessage)
	line("RES_TS", formatCanonicalTime(resultTS))
	return b.String()
}

func formatCanonicalTime(t time.Time) string {
	return t.Format(canonicalTimeLayout)
}

func formatCanonicalBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func digest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
