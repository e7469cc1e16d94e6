package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel classifies a statement. Levels are ordered Safe < Suspicious < Blocked.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskSuspicious
	RiskBlocked
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskSuspicious:
		return "suspicious"
	case RiskBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ValidationOutcome is the verdict of ReadOnlyValidator.ValidateReadOnly.
type ValidationOutcome struct {
	IsValid    bool      `json:"is_valid"`
	Violations []string  `json:"violations"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// raise records a violation and lifts the risk level to at least level.
func (o *ValidationOutcome) raise(level RiskLevel, violation string) {
	o.Violations = append(o.Violations, violation)
	if level > o.RiskLevel {
		o.RiskLevel = level
	}
}

// Statement keywords that must never appear in executable text.
var blockedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE",
	"CREATE", "EXEC", "EXECUTE", "GRANT", "REVOKE", "DENY",
}

// System stored procedure prefixes.
var blockedProcPrefixes = []string{"sp_", "xp_"}

type keywordPattern struct {
	keyword string
	re      *regexp.Regexp
}

// ReadOnlyValidator classifies T-SQL text as safe, suspicious or blocked. A
// single lexer pass neutralises string literals and strips comments, and
// whatever remains is matched against whole-word keyword patterns.
//
// Patterns are compiled once by NewReadOnlyValidator; a validator is immutable
// and safe for concurrent use.
type ReadOnlyValidator struct {
	whitespace *regexp.Regexp
	union      *regexp.Regexp
	keywords   []keywordPattern
	procs      []keywordPattern
}

func NewReadOnlyValidator() *ReadOnlyValidator {
	v := &ReadOnlyValidator{
		whitespace: regexp.MustCompile(`\s+`),
		union:      regexp.MustCompile(`\bUNION\b`),
	}
	for _, kw := range blockedKeywords {
		v.keywords = append(v.keywords, keywordPattern{
			keyword: kw,
			re:      regexp.MustCompile(`\b` + kw + `\b`),
		})
	}
	for _, prefix := range blockedProcPrefixes {
		v.procs = append(v.procs, keywordPattern{
			keyword: prefix,
			re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToUpper(prefix)) + `\w+`),
		})
	}
	return v
}

// ValidateReadOnly reports whether sql may run against a read-only session.
// Keywords that occur only inside string literals or comments are ignored.
func (v *ReadOnlyValidator) ValidateReadOnly(sql string) ValidationOutcome {
	if strings.TrimSpace(sql) == "" {
		return ValidationOutcome{
			IsValid:    false,
			Violations: []string{ErrEmptyStatement.Error()},
			RiskLevel:  RiskBlocked,
		}
	}

	out := ValidationOutcome{Violations: []string{}}

	executable := executableText(sql)

	normalised := strings.ToUpper(strings.TrimSpace(v.whitespace.ReplaceAllString(executable, " ")))

	for _, kw := range v.keywords {
		if kw.re.MatchString(normalised) {
			out.raise(RiskBlocked, "Blocked keyword detected: "+kw.keyword)
		}
	}

	for _, proc := range v.procs {
		if proc.re.MatchString(normalised) {
			out.raise(RiskBlocked, "Stored procedure call detected: "+proc.keyword+"*")
		}
	}

	if countStatements(executable) > 1 {
		out.raise(RiskSuspicious, "Multi-statement batch detected (semicolons).")
	}

	if v.union.MatchString(normalised) {
		out.raise(RiskSuspicious, "UNION detected, review for injection risk.")
	}

	out.IsValid = out.RiskLevel != RiskBlocked
	return out
}

// countStatements returns the number of non-blank semicolon-separated segments.
func countStatements(text string) int {
	n := 0
	for _, part := range strings.Split(text, ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

// executableText returns sql with every string literal replaced by an empty
// literal and every comment replaced by a space. It scans left to right and
// consumes whichever construct starts first, so comment markers inside a
// literal and quotes inside a comment are both inert. Bracketed and
// double-quoted identifiers are copied verbatim but their contents never
// open a literal or comment. Block comments nest, as they do in T-SQL.
//
// An unterminated literal or comment is left in place: the engine rejects
// it, and keeping the text visible means nothing after it is hidden.
func executableText(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); {
		switch {
		case sql[i] == '\'':
			end := literalEnd(sql, i)
			if end < 0 {
				b.WriteString(sql[i:])
				return b.String()
			}
			b.WriteString(" '' ")
			i = end
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexAny(sql[i:], "\r\n")
			b.WriteByte(' ')
			if end < 0 {
				return b.String()
			}
			i += end
		case strings.HasPrefix(sql[i:], "/*"):
			end := blockCommentEnd(sql, i)
			if end < 0 {
				b.WriteString(sql[i:])
				return b.String()
			}
			b.WriteByte(' ')
			i = end
		case sql[i] == '[':
			end := delimitedEnd(sql, i, ']')
			b.WriteString(sql[i:end])
			i = end
		case sql[i] == '"':
			end := delimitedEnd(sql, i, '"')
			b.WriteString(sql[i:end])
			i = end
		default:
			b.WriteByte(sql[i])
			i++
		}
	}
	return b.String()
}

// literalEnd returns the index just past the literal opening at start, or -1
// when it is never closed. Doubled quotes are escapes.
func literalEnd(sql string, start int) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != '\'' {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == '\'' {
			i++
			continue
		}
		return i + 1
	}
	return -1
}

// blockCommentEnd returns the index just past the comment opening at start,
// or -1 when it is never closed.
func blockCommentEnd(sql string, start int) int {
	depth := 0
	for i := start; i < len(sql)-1; {
		switch {
		case sql[i] == '/' && sql[i+1] == '*':
			depth++
			i += 2
		case sql[i] == '*' && sql[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}

// delimitedEnd returns the index just past the identifier opening at start.
// A doubled closer is an escape. An unclosed identifier runs to the end.
func delimitedEnd(sql string, start int, closer byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != closer {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == closer {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}
