package sqlserver

import "strings"

// Session directives controlling plan capture. SHOWPLAN_XML must be the only
// statement in its batch.
const (
	showPlanOn     = "SET SHOWPLAN_XML ON"
	showPlanOff    = "SET SHOWPLAN_XML OFF"
	statisticsOn   = "SET STATISTICS XML ON;"
	statisticsOff  = "SET STATISTICS XML OFF;"
	planRootMarker = "<ShowPlanXML"
)

// actualPlanBatch wraps sql so the engine appends the executed plan as an
// extra result set.
func actualPlanBatch(sql string) string {
	return statisticsOn + "\n" + sql + "\n" + statisticsOff
}

// isPlanDocument reports whether v is a showplan document.
func isPlanDocument(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < len(planRootMarker) {
		return "", false
	}
	if !strings.EqualFold(trimmed[:len(planRootMarker)], planRootMarker) {
		return "", false
	}
	return s, true
}
