package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/audit"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
	"github.com/guillermoBallester/auditsql/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "test-token"

type stubExecutor struct {
	result domain.QueryResult
	last   domain.QueryRequest
}

func (s *stubExecutor) ExecuteReadOnly(_ context.Context, req domain.QueryRequest) domain.QueryResult {
	s.last = req
	return s.result
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type apiFixture struct {
	handler http.Handler
	query   *service.QueryService
	exec    *stubExecutor
	store   *audit.MemoryStore
}

func newAPI(t *testing.T, pinger Pinger) *apiFixture {
	t.Helper()
	exec := &stubExecutor{result: domain.QueryResult{
		ResultSets: []domain.ResultSet{{
			ColumnNames: []string{"Id"},
			Rows:        []map[string]any{{"Id": 1}, {"Id": 2}},
		}},
		ExecutionMilliseconds: 4,
		Succeeded:             true,
		Timestamp:             domain.Now(),
	}}
	store := audit.NewMemoryStore()
	query := service.NewQueryService(domain.NewReadOnlyValidator(), exec, store, port.NoopPublisher{}, discardLogger(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mcpStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := NewRouter(ctx, Options{
		Query:       query,
		BearerToken: token,
		MCP:         mcpStub,
		Pinger:      pinger,
		Logger:      discardLogger(),

		AssistantIdentity: "copilot",
	})
	return &apiFixture{handler: h, query: query, exec: exec, store: store}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Run("ok without auth", func(t *testing.T) {
		f := newAPI(t, stubPinger{})
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		f := newAPI(t, stubPinger{err: errors.New("connection refused")})
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestExecute(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, http.MethodPost, "/api/query/execute",
		`{"sql":"SELECT Id FROM Orders","executionPlanMode":"actual","source":"ai"}`,
		map[string]string{RequestedByHeader: "carol@example.com"})
	f.query.Wait()

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["succeeded"])
	assert.Equal(t, float64(2), resp["rowCount"])
	assert.Equal(t, []any{"Id"}, resp["columnNames"])
	assert.Len(t, resp["integrityHash"], 64)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, domain.PlanActual, f.exec.last.ExecutionPlanMode)
	assert.Equal(t, "carol@example.com", f.exec.last.RequestedBy)

	id, err := uuid.Parse(resp["historyId"].(string))
	require.NoError(t, err)
	stored, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceAI, stored.Source)
}

func TestExecute_RequesterDefaults(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"user without header", "user", service.AnonymousUser},
		{"ai without header", "ai", "copilot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPI(t, nil)
			rec := f.do(t, http.MethodPost, "/api/query/execute",
				`{"sql":"SELECT Id FROM Orders","source":"`+tt.source+`"}`, nil)
			f.query.Wait()

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, f.exec.last.RequestedBy)
		})
	}
}

func TestExecute_RejectedIsStillOK(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(t, http.MethodPost, "/api/query/execute", `{"sql":"TRUNCATE TABLE Orders"}`, nil)
	f.query.Wait()

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["succeeded"])
	assert.Contains(t, resp["errorMessage"], "TRUNCATE")
	assert.Equal(t, "blocked", resp["riskLevel"])
}

func TestExecute_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sql":`},
		{"bad plan mode", `{"sql":"SELECT 1","executionPlanMode":"maybe"}`},
		{"bad source", `{"sql":"SELECT 1","source":"robot"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPI(t, nil)
			rec := f.do(t, http.MethodPost, "/api/query/execute", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRequiresAuth(t *testing.T) {
	f := newAPI(t, nil)
	for _, path := range []string{"/api/query/history", "/mcp"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestMCPMounted(t *testing.T) {
	f := newAPI(t, nil)
	rec := f.do(t, http.MethodPost, "/mcp", `{}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHistoryAndVerify(t *testing.T) {
	f := newAPI(t, nil)
	var ids []string
	for _, sql := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		rec := f.do(t, http.MethodPost, "/api/query/execute", `{"sql":"`+sql+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		ids = append(ids, resp["historyId"].(string))
	}
	f.query.Wait()

	t.Run("history", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/query/history?limit=2", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var entries []domain.HistoryEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, ids[2], entries[0].ID.String())
		assert.Equal(t, service.AnonymousUser, entries[0].Audit.RequestedBy)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/query/history?limit=abc", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("entry", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/query/history/"+ids[0], "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var entry domain.HistoryEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
		assert.Equal(t, "SELECT 1", entry.Audit.SQL)
	})

	t.Run("verify", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit/"+ids[1]+"/verify", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var v service.Verification
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
		assert.True(t, v.Valid)
		assert.Equal(t, ids[1], v.ID.String())
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit/"+uuid.NewString()+"/verify", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/query/history/nope", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
