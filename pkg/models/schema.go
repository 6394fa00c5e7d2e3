package models

import "strings"

// Column describes one column of a table as presented to the query generator.
type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`     // Type reported by the store (e.g., "INTEGER", "REAL")
	SemanticType string `json:"semantic_type"` // identifier, flag, categorical, measure, text
	Description  string `json:"description"`   // Short hint (units, encoded values)
}

// TableSchema is the immutable description of one table in the store.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// HasColumn reports whether the table declares a column with the given name (case-insensitive).
func (t TableSchema) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Column returns the column with the given name (case-insensitive).
func (t TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// TableNames returns the names of the given tables in order.
func TableNames(tables []TableSchema) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

// FindTable returns the table with the given name (case-insensitive).
func FindTable(tables []TableSchema, name string) (TableSchema, bool) {
	for _, t := range tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableSchema{}, false
}
