package sqlite

import (
	"context"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
)

// Type is the registered adapter type.
const Type = "sqlite"

// Dialect describes SQLite.
func Dialect() datasource.Dialect {
	return datasource.Dialect{
		Type:       Type,
		SchemaName: "main",
		TablesQuery: `
			SELECT m.name, p.name, p.type, CASE WHEN p."notnull" = 0 THEN 1 ELSE 0 END
			FROM sqlite_master m
			JOIN pragma_table_info(m.name) p
			WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
			ORDER BY m.name, p.cid`,
		WrapLimit:       datasource.WrapSubqueryLimit,
		QuoteIdentifier: datasource.QuoteDoubled,
	}
}

// Open opens a SQLite database file. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, dsn string, opts datasource.Options) (*datasource.SQLDatasource, error) {
	if dsn == ":memory:" {
		// Every pooled connection to :memory: would see its own empty database.
		opts.MaxOpenConns = 1
	}
	return datasource.OpenSQL(ctx, "sqlite", dsn, opts, Dialect())
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        Type,
			DisplayName: "SQLite",
			Description: "Query a local SQLite database file",
		},
		Factory: func(ctx context.Context, dsn string, opts datasource.Options) (datasource.Datasource, error) {
			return Open(ctx, dsn, opts)
		},
	})
}
