package domain

import (
	"fmt"
	"strings"
	"time"
)

// FormatAuditMarkdown renders an entry for a human-readable ledger. The SQL is
// passed through SanitizeForAudit; the integrity hash is printed as a footer.
func FormatAuditMarkdown(entry AuditEntry) string {
	status := "✅ Success"
	if !entry.Succeeded {
		status = "❌ Failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Query Audit — %s\n\n", status)
	fmt.Fprintf(&b, "**User:** `%s`\n", entry.RequestedBy)
	fmt.Fprintf(&b, "**Timestamp:** %s\n", entry.RequestTimestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "**Execution Time:** %dms\n", entry.ExecutionMilliseconds)
	fmt.Fprintf(&b, "**Rows Returned:** %d\n", entry.RowCount)
	fmt.Fprintf(&b, "**Columns:** %d\n", entry.ColumnCount)
	if entry.ExecutionPlanMode != PlanNone {
		fmt.Fprintf(&b, "**Execution Plan:** %s\n", entry.ExecutionPlanMode)
	}
	b.WriteString("\n**Query:**\n```sql\n")
	b.WriteString(SanitizeForAudit(entry.SQL))
	b.WriteString("\n```\n")

	if entry.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n> ⚠️ **Error:** %s\n", SanitizeForAudit(entry.ErrorMessage))
	}

	fmt.Fprintf(&b, "\n*Integrity: `%s`*\n", entry.IntegrityHash)
	return b.String()
}
