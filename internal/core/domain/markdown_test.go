package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAuditMarkdown_Success(t *testing.T) {
	t.Parallel()
	req, res := fixtureRequest(), fixtureResult()
	req.SQL = "SELECT * FROM Config WHERE password = 'hunter2'"
	entry, err := NewAuditEntry(&req, &res)
	require.NoError(t, err)

	md := FormatAuditMarkdown(entry)

	assert.True(t, strings.HasPrefix(md, "## Query Audit — ✅ Success\n"))
	assert.Contains(t, md, "**User:** `alice`")
	assert.Contains(t, md, "**Rows Returned:** 2")
	assert.Contains(t, md, "```sql\nSELECT * FROM Config WHERE password='***REDACTED***'\n```")
	assert.NotContains(t, md, "hunter2")
	assert.Contains(t, md, "*Integrity: `"+entry.IntegrityHash+"`*")
	assert.NotContains(t, md, "**Error:**")
}

func TestFormatAuditMarkdown_Failure(t *testing.T) {
	t.Parallel()
	req := fixtureRequest()
	res := FailedResult("Invalid column name 'x'. (Line 1) [Error 207]", 3)
	entry, err := NewAuditEntry(&req, &res)
	require.NoError(t, err)

	md := FormatAuditMarkdown(entry)

	assert.Contains(t, md, "❌ Failed")
	assert.Contains(t, md, "> ⚠️ **Error:** Invalid column name 'x'. (Line 1) [Error 207]")
}
