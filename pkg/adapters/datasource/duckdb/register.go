package duckdb

import (
	"context"

	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" driver

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
)

// Type is the registered adapter type.
const Type = "duckdb"

// Dialect describes DuckDB.
func Dialect() datasource.Dialect {
	return datasource.Dialect{
		Type:            Type,
		SchemaName:      "main",
		TablesQuery:     datasource.InformationSchemaTablesQuery("current_schema()"),
		WrapLimit:       datasource.WrapSubqueryLimit,
		QuoteIdentifier: datasource.QuoteDoubled,
	}
}

// Open opens a DuckDB database. An empty dsn opens an in-memory database.
func Open(ctx context.Context, dsn string, opts datasource.Options) (*datasource.SQLDatasource, error) {
	if dsn == "" || dsn == ":memory:" {
		opts.MaxOpenConns = 1
		dsn = ""
	}
	return datasource.OpenSQL(ctx, "duckdb", dsn, opts, Dialect())
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        Type,
			DisplayName: "DuckDB",
			Description: "Query a local DuckDB analytical database",
		},
		Factory: func(ctx context.Context, dsn string, opts datasource.Options) (datasource.Datasource, error) {
			return Open(ctx, dsn, opts)
		},
	})
}
