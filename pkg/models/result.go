package models

import "time"

// Row maps column names to scalar values.
type Row map[string]any

// ExecutionResult is the bounded row subset returned by the query executor.
// RowCount never exceeds the configured row cap; Truncated is set when more rows were available.
type ExecutionResult struct {
	Columns   []string      `json:"columns"`
	Rows      []Row         `json:"rows"`
	RowCount  int           `json:"row_count"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated"`
	SQL       string        `json:"sql,omitempty"` // Statement actually sent to the store
}

// IsScalar reports whether the result is a single row with a single column.
func (r *ExecutionResult) IsScalar() bool {
	return r != nil && r.RowCount == 1 && len(r.Columns) == 1
}

// Scalar returns the only value of a scalar result.
func (r *ExecutionResult) Scalar() (string, any, bool) {
	if !r.IsScalar() {
		return "", nil, false
	}
	col := r.Columns[0]
	return col, r.Rows[0][col], true
}
