package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

func fixtureRequest() QueryRequest {
	return QueryRequest{
		SQL:         "SELECT id, name FROM Users",
		RequestedBy: "alice",
		Timestamp:   time.Date(2024, 1, 15, 10, 30, 0, 123456000, time.UTC),
	}
}

func fixtureResult() QueryResult {
	return QueryResult{
		ResultSets: []ResultSet{{
			ColumnNames: []string{"id", "name"},
			Rows: []map[string]any{
				{"id": 1, "name": "alice"},
				{"id": 2, "name": "bob"},
			},
		}},
		ExecutionMilliseconds: 42,
		Succeeded:             true,
		Timestamp:             time.Date(2024, 1, 15, 10, 30, 1, 0, time.UTC),
	}
}

func TestGenerateAuditHash_Deterministic(t *testing.T) {
	t.Parallel()
	req, res := fixtureRequest(), fixtureResult()

	h1, err := GenerateAuditHash(&req, &res)
	require.NoError(t, err)
	h2, err := GenerateAuditHash(&req, &res)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Regexp(t, hexHash, h1)
}

func TestGenerateAuditHash_KnownPayload(t *testing.T) {
	t.Parallel()
	req, res := fixtureRequest(), fixtureResult()

	want := "SQL:SELECT id, name FROM Users\n" +
		"BY:alice\n" +
		"REQ_TS:2024-01-15T10:30:00.1234560+00:00\n" +
		"ROWS:2\n" +
		"COLS:2\n" +
		"COL_NAMES:id,name\n" +
		"EXEC_MS:42\n" +
		"OK:True\n" +
		"ERR:\n" +
		"RES_TS:2024-01-15T10:30:01.0000000+00:00\n"

	got, err := GenerateAuditHash(&req, &res)
	require.NoError(t, err)
	assert.Equal(t, digest(want), got)
}

func TestGenerateAuditHash_FixedOffsetTimestamps(t *testing.T) {
	t.Parallel()
	cet := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 1, 15, 11, 30, 0, 0, cet)
	assert.Equal(t, "2024-01-15T11:30:00.0000000+01:00", formatCanonicalTime(ts))
}

func TestGenerateAuditHash_EveryFieldMatters(t *testing.T) {
	t.Parallel()
	base, baseRes := fixtureRequest(), fixtureResult()
	baseHash, err := GenerateAuditHash(&base, &baseRes)
	require.NoError(t, err)

	mutations := map[string]func(*QueryRequest, *QueryResult){
		"sql":          func(q *QueryRequest, _ *QueryResult) { q.SQL += " " },
		"requested by": func(q *QueryRequest, _ *QueryResult) { q.RequestedBy = "bob" },
		"request ts":   func(q *QueryRequest, _ *QueryResult) { q.Timestamp = q.Timestamp.Add(time.Microsecond) },
		"row count": func(_ *QueryRequest, r *QueryResult) {
			r.ResultSets[0].Rows = r.ResultSets[0].Rows[:1]
		},
		"column names": func(_ *QueryRequest, r *QueryResult) {
			r.ResultSets[0].ColumnNames = []string{"name", "id"}
		},
		"column count": func(_ *QueryRequest, r *QueryResult) {
			r.ResultSets[0].ColumnNames = []string{"id"}
		},
		"exec ms":   func(_ *QueryRequest, r *QueryResult) { r.ExecutionMilliseconds++ },
		"succeeded": func(_ *QueryRequest, r *QueryResult) { r.Succeeded = false },
		"error":     func(_ *QueryRequest, r *QueryResult) { r.ErrorMessage = "boom" },
		"result ts": func(_ *QueryRequest, r *QueryResult) { r.Timestamp = r.Timestamp.Add(time.Second) },
	}

	seen := map[string]string{baseHash: "base"}
	for name, mutate := range mutations {
		req, res := fixtureRequest(), fixtureResult()
		mutate(&req, &res)
		h, err := GenerateAuditHash(&req, &res)
		require.NoError(t, err)
		assert.NotEqual(t, baseHash, h, "mutating %s must change the hash", name)
		prev, dup := seen[h]
		assert.False(t, dup, "%s collides with %s", name, prev)
		seen[h] = name
	}
}

func TestGenerateAuditHash_NilArguments(t *testing.T) {
	t.Parallel()
	req, res := fixtureRequest(), fixtureResult()

	_, err := GenerateAuditHash(nil, &res)
	assert.ErrorIs(t, err, ErrNilRequest)

	_, err = GenerateAuditHash(&req, nil)
	assert.ErrorIs(t, err, ErrNilResult)
}

func TestVerifyAuditHash(t *testing.T) {
	t.Parallel()
	req, res := fixtureRequest(), fixtureResult()

	entry, err := NewAuditEntry(&req, &res)
	require.NoError(t, err)
	require.True(t, VerifyAuditHash(entry))

	// Attaching a published reference does not affect integrity.
	entry.PublishedReference = "https://example.com/audit/1"
	assert.True(t, VerifyAuditHash(entry))

	tampered := map[string]func(*AuditEntry){
		"sql":          func(e *AuditEntry) { e.SQL = "SELECT 2" },
		"requested by": func(e *AuditEntry) { e.RequestedBy = "mallory" },
		"request ts":   func(e *AuditEntry) { e.RequestTimestamp = e.RequestTimestamp.Add(time.Hour) },
		"rows":         func(e *AuditEntry) { e.RowCount = 0 },
		"cols":         func(e *AuditEntry) { e.ColumnCount = 9 },
		"col names":    func(e *AuditEntry) { e.ColumnNames = []string{"x"} },
		"exec ms":      func(e *AuditEntry) { e.ExecutionMilliseconds = 1 },
		"succeeded":    func(e *AuditEntry) { e.Succeeded = false },
		"error":        func(e *AuditEntry) { e.ErrorMessage = "x" },
		"result ts":    func(e *AuditEntry) { e.ResultTimestamp = time.Time{} },
		"hash":         func(e *AuditEntry) { e.IntegrityHash = e.IntegrityHash[:63] + "0" },
		"hash prefix":  func(e *AuditEntry) { e.IntegrityHash = e.IntegrityHash[:16] },
		"hash case":    func(e *AuditEntry) { e.IntegrityHash = "A" + e.IntegrityHash[1:] },
	}

	for name, mutate := range tampered {
		t.Run(name, func(t *testing.T) {
			e := entry
			e.ColumnNames = append([]string{}, entry.ColumnNames...)
			mutate(&e)
			if name == "hash" && entry.IntegrityHash[63] == '0' {
				e.IntegrityHash = entry.IntegrityHash[:63] + "1"
			}
			assert.False(t, VerifyAuditHash(e))
		})
	}
}

func TestNewAuditEntry_FailedResult(t *testing.T) {
	t.Parallel()
	req := fixtureRequest()
	res := FailedResult("Invalid object name 'Nope'. (Line 1) [Error 208]", 7)

	entry, err := NewAuditEntry(&req, &res)
	require.NoError(t, err)
	assert.False(t, entry.Succeeded)
	assert.Equal(t, 0, entry.RowCount)
	assert.Equal(t, []string{}, entry.ColumnNames)
	assert.True(t, VerifyAuditHash(entry))
}
