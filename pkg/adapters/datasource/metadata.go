package datasource

// TableMetadata represents a discovered database table.
type TableMetadata struct {
	SchemaName string
	TableName  string
	Columns    []ColumnMetadata
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	OrdinalPosition int
}

// groupColumns folds (table, column) rows, already ordered by table, into tables.
func groupColumns(schemaName string, rows []tableColumnRow) []TableMetadata {
	var tables []TableMetadata
	for _, r := range rows {
		if len(tables) == 0 || tables[len(tables)-1].TableName != r.table {
			tables = append(tables, TableMetadata{SchemaName: schemaName, TableName: r.table})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, ColumnMetadata{
			ColumnName:      r.column,
			DataType:        r.dataType,
			IsNullable:      r.nullable,
			OrdinalPosition: len(t.Columns) + 1,
		})
	}
	return tables
}

type tableColumnRow struct {
	table    string
	column   string
	dataType string
	nullable bool
}
