package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
)

// Dialect captures what differs between database/sql backed engines.
type Dialect struct {
	Type       string
	SchemaName string

	// TablesQuery returns (table, column, data_type, nullable 0/1) rows ordered
	// by table name and column position.
	TablesQuery string

	// WrapLimit bounds a query to n rows. Nil means the query runs unwrapped and
	// only the first n rows are read.
	WrapLimit func(query string, n int) string

	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier func(name string) string

	// MapType maps a native column type to the name shown in schema
	// descriptions. Optional.
	MapType func(dbType string) string

	// NormalizeValue converts driver-specific values to plain Go values, given
	// the column's database type name. Optional.
	NormalizeValue func(v any, dbType string) any
}

// SQLDatasource implements Datasource on top of database/sql.
type SQLDatasource struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLDatasource wraps an open database handle.
func NewSQLDatasource(db *sql.DB, dialect Dialect) *SQLDatasource {
	if dialect.QuoteIdentifier == nil {
		dialect.QuoteIdentifier = QuoteDoubled
	}
	return &SQLDatasource{db: db, dialect: dialect}
}

// OpenSQL opens and pings a database/sql connection for the given driver.
func OpenSQL(ctx context.Context, driverName, dsn string, opts Options, dialect Dialect) (*SQLDatasource, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Type, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", dialect.Type, err)
	}
	return NewSQLDatasource(db, dialect), nil
}

// DB exposes the underlying handle for fixtures and health checks.
func (d *SQLDatasource) DB() *sql.DB {
	return d.db
}

// Type returns the dialect type.
func (d *SQLDatasource) Type() string {
	return d.dialect.Type
}

// QuoteIdentifier quotes name for this dialect.
func (d *SQLDatasource) QuoteIdentifier(name string) string {
	return d.dialect.QuoteIdentifier(name)
}

// Close releases the database handle.
func (d *SQLDatasource) Close() error {
	return d.db.Close()
}

// DiscoverTables returns all user tables with their columns.
func (d *SQLDatasource) DiscoverTables(ctx context.Context) ([]TableMetadata, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.TablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var collected []tableColumnRow
	for rows.Next() {
		var r tableColumnRow
		var dataType sql.NullString
		var nullable int64
		if err := rows.Scan(&r.table, &r.column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		r.dataType = strings.ToUpper(dataType.String)
		if d.dialect.MapType != nil {
			r.dataType = d.dialect.MapType(r.dataType)
		}
		r.nullable = nullable != 0
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return groupColumns(d.dialect.SchemaName, collected), nil
}

// Query runs a SELECT statement and returns bounded results.
// See Datasource.Query for limit behavior.
func (d *SQLDatasource) Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error) {
	effectiveLimit := EffectiveLimit(limit)
	queryToRun := TrimStatement(sqlQuery)
	if d.dialect.WrapLimit != nil {
		queryToRun = d.dialect.WrapLimit(queryToRun, effectiveLimit+1)
	}

	rows, err := d.db.QueryContext(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]ColumnInfo, len(columnNames))
	for i, name := range columnNames {
		columns[i] = ColumnInfo{Name: name, Type: strings.ToUpper(columnTypes[i].DatabaseTypeName())}
	}

	result := &QueryExecutionResult{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(result.Rows) == effectiveLimit {
			result.Truncated = true
			break
		}

		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			rowMap[col] = d.normalize(values[i], columns[i].Type)
		}
		result.Rows = append(result.Rows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func (d *SQLDatasource) normalize(v any, dbType string) any {
	if d.dialect.NormalizeValue != nil {
		v = d.dialect.NormalizeValue(v, dbType)
	}
	return NormalizeValue(v)
}

// NormalizeValue converts common driver types into plain Go values:
// []byte becomes string, big integers become int64 when they fit, and
// decimal types exposing Float64 become float64.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case *big.Int:
		if val == nil {
			return nil
		}
		if val.IsInt64() {
			return val.Int64()
		}
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case interface{ Float64() float64 }:
		return val.Float64()
	}
	return v
}

// TrimStatement removes surrounding whitespace and trailing semicolons so the
// statement can be embedded as a subquery.
func TrimStatement(q string) string {
	q = strings.TrimSpace(q)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

// WrapSubqueryLimit is the LIMIT wrapper shared by SQLite, DuckDB and PostgreSQL.
// The closing parenthesis starts a new line so a trailing -- comment in query
// cannot swallow it.
func WrapSubqueryLimit(query string, n int) string {
	return fmt.Sprintf("SELECT * FROM (%s\n) AS _limited LIMIT %d", query, n)
}

// QuoteDoubled quotes an identifier with double quotes, doubling embedded quotes.
func QuoteDoubled(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// InformationSchemaTablesQuery builds a TablesQuery for engines that expose
// information_schema.columns. schemaExpr is a SQL expression such as 'main'.
func InformationSchemaTablesQuery(schemaExpr string) string {
	return `
		SELECT c.table_name, c.column_name, c.data_type,
		       CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END AS nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = ` + schemaExpr + `
		  AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`
}
