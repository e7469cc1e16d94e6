package sqlserver

import (
	"database/sql"
	"fmt"

	"github.com/guillermoBallester/auditsql/internal/core/domain"
)

// readResultSet materializes the current result set. Binary and character
// data come back from the driver as []byte and are returned as strings.
// A later column with a duplicate name overwrites an earlier one in the row map.
func readResultSet(rows *sql.Rows) (domain.ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return domain.ResultSet{}, fmt.Errorf("reading columns: %w", err)
	}
	rs := domain.ResultSet{
		ColumnNames: columns,
		Rows:        []map[string]any{},
	}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return domain.ResultSet{}, fmt.Errorf("reading row values: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return domain.ResultSet{}, fmt.Errorf("iterating rows: %w", err)
	}
	return rs, nil
}

// readAllResultSets walks every result set in engine order. Sets with no
// columns (row counts from non-query statements) are skipped.
func readAllResultSets(rows *sql.Rows) ([]domain.ResultSet, error) {
	sets := []domain.ResultSet{}
	for {
		rs, err := readResultSet(rows)
		if err != nil {
			return nil, err
		}
		if rs.ColumnCount() > 0 {
			sets = append(sets, rs)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("advancing result sets: %w", err)
	}
	return sets, nil
}

// splitPlan removes showplan result sets (one column, one row, plan
// document) and returns the last plan seen.
func splitPlan(sets []domain.ResultSet) ([]domain.ResultSet, string) {
	var plan string
	kept := make([]domain.ResultSet, 0, len(sets))
	for _, rs := range sets {
		if rs.ColumnCount() == 1 && rs.RowCount() == 1 {
			if doc, ok := isPlanDocument(rs.Rows[0][rs.ColumnNames[0]]); ok {
				plan = doc
				continue
			}
		}
		kept = append(kept, rs)
	}
	return kept, plan
}
