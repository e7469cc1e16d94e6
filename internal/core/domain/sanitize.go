package domain

import (
	"regexp"
	"strings"
)

// RedactionMarker replaces secret values in audit views of a statement.
const RedactionMarker = "***REDACTED***"

// secretKeys are matched case-insensitively as the key of a key=value pair.
const secretKeys = `(password|pwd|secret|token|key|connectionstring)`

var (
	bareSecret   = regexp.MustCompile(`(?i)` + secretKeys + `\s*=\s*[^\s;'"]+`)
	quotedSecret = regexp.MustCompile(`(?i)` + secretKeys + `\s*=\s*'[^']*'`)
)

// SanitizeForAudit redacts key=value pairs whose key looks like a credential.
// It is applied to persisted and displayed audit views only, never to the text
// that is validated, hashed or executed.
func SanitizeForAudit(sql string) string {
	if strings.TrimSpace(sql) == "" {
		return sql
	}
	sanitized := bareSecret.ReplaceAllString(sql, "${1}="+RedactionMarker)
	return quotedSecret.ReplaceAllString(sanitized, "${1}='"+RedactionMarker+"'")
}
