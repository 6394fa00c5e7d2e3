package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
)

// Type is the registered adapter type.
const Type = "postgres"

const tablesQuery = `
	SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES' AS nullable
	FROM information_schema.columns c
	JOIN information_schema.tables t
	  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
	WHERE c.table_schema = current_schema()
	  AND t.table_type = 'BASE TABLE'
	ORDER BY c.table_name, c.ordinal_position
`

// Adapter provides PostgreSQL access through a pgx pool.
type Adapter struct {
	pool *pgxpool.Pool
}

// NewAdapter connects to PostgreSQL. When running in Docker, a localhost host in
// the DSN is resolved to host.docker.internal.
func NewAdapter(ctx context.Context, dsn string, opts datasource.Options) (*Adapter, error) {
	poolCfg, err := pgxpool.ParseConfig(config.ResolveURLForDocker(dsn))
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Adapter{pool: pool}, nil
}

// NewAdapterFromPool wraps an existing pool. Close will close it.
func NewAdapterFromPool(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

// Type returns the adapter type.
func (a *Adapter) Type() string {
	return Type
}

// QuoteIdentifier safely quotes a SQL identifier to prevent SQL injection.
// Uses PostgreSQL's standard double-quote quoting.
func (a *Adapter) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Close releases the pool.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

// DiscoverTables returns all tables in the current schema with their columns.
func (a *Adapter) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	rows, err := a.pool.Query(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var table, column, dataType string
		var nullable bool
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].TableName != table {
			tables = append(tables, datasource.TableMetadata{SchemaName: "public", TableName: table})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, datasource.ColumnMetadata{
			ColumnName:      column,
			DataType:        dataType,
			IsNullable:      nullable,
			OrdinalPosition: len(t.Columns) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return tables, nil
}

// Query runs a SELECT statement and returns bounded results.
// See datasource.Datasource.Query for limit behavior.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	effectiveLimit := datasource.EffectiveLimit(limit)
	queryToRun := datasource.WrapSubqueryLimit(datasource.TrimStatement(sqlQuery), effectiveLimit+1)

	rows, err := a.pool.Query(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	result := &datasource.QueryExecutionResult{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(result.Rows) == effectiveLimit {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// normalizeValue converts pgx values that do not render well as JSON.
// AVG over integers yields NUMERIC, which is returned as float64.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	}
	return datasource.NormalizeValue(v)
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to human-readable type names.
// This covers the most common types; unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	default:
		return "UNKNOWN"
	}
}

var _ datasource.Datasource = (*Adapter)(nil)
