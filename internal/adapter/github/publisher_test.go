package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	gh "github.com/google/go-github/v68/github"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealed(t *testing.T) domain.AuditEntry {
	t.Helper()
	req := domain.NewQueryRequest("SELECT * FROM Users WHERE password='hunter2'", "alice@example.com", domain.PlanNone)
	res := domain.FailedResult("Invalid column name 'x'. (Line 1) [Error 207]", 5)
	entry, err := domain.NewAuditEntry(&req, &res)
	require.NoError(t, err)
	return entry
}

func testPublisher(t *testing.T, handler http.HandlerFunc) *Publisher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := gh.NewClient(srv.Client())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return newPublisher(client, "acme", "audit", 42)
}

func TestPublisher_PostsMarkdownComment(t *testing.T) {
	var body string
	p := testPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/audit/issues/42/comments", r.URL.Path)

		var in gh.IssueComment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		body = in.GetBody()

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(gh.IssueComment{
			ID:      gh.Ptr(int64(7)),
			HTMLURL: gh.Ptr("https://github.com/acme/audit/issues/42#issuecomment-7"),
		})
	})

	entry := sealed(t)
	res := p.Publish(context.Background(), entry)

	require.NoError(t, res.Err)
	assert.Equal(t, "https://github.com/acme/audit/issues/42#issuecomment-7", res.Reference)
	assert.Contains(t, body, "## Query Audit")
	assert.Contains(t, body, "❌ Failed")
	assert.Contains(t, body, "```sql")
	assert.Contains(t, body, entry.IntegrityHash)
	assert.NotContains(t, body, "hunter2", "published SQL must be sanitized")
}

func TestPublisher_ErrorIsReported(t *testing.T) {
	p := testPublisher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
	})

	res := p.Publish(context.Background(), sealed(t))

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "acme/audit#42")
	assert.Empty(t, res.Reference)
}

func TestNewPublisher_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"ok", Options{Token: "t", Repo: "acme/audit", Issue: 1}, ""},
		{"enterprise", Options{Token: "t", Repo: "acme/audit", Issue: 1, APIURL: "https://ghe.example.com/api/v3/"}, ""},
		{"no slash", Options{Token: "t", Repo: "acme", Issue: 1}, "owner/name"},
		{"too many parts", Options{Token: "t", Repo: "a/b/c", Issue: 1}, "owner/name"},
		{"missing owner", Options{Token: "t", Repo: "/audit", Issue: 1}, "owner/name"},
		{"bad issue", Options{Token: "t", Repo: "acme/audit"}, "positive"},
		{"no token", Options{Repo: "acme/audit", Issue: 1}, "token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPublisher(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, p.Close())
		})
	}
}
