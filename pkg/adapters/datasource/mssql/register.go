package mssql

import (
	"context"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
)

// Type is the registered adapter type.
const Type = "sqlserver"

// Dialect describes SQL Server. Queries are not wrapped: a derived table cannot
// carry ORDER BY without TOP, so rows past the limit are simply not read.
func Dialect() datasource.Dialect {
	return datasource.Dialect{
		Type:       Type,
		SchemaName: "dbo",
		TablesQuery: `
			SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE,
			       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS nullable
			FROM INFORMATION_SCHEMA.COLUMNS c
			JOIN INFORMATION_SCHEMA.TABLES t
			  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
			WHERE c.TABLE_SCHEMA = SCHEMA_NAME()
			  AND t.TABLE_TYPE = 'BASE TABLE'
			ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`,
		QuoteIdentifier: quoteName,
		MapType:         mapSQLServerType,
		NormalizeValue:  normalizeValue,
	}
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        Type,
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2016+ and Azure SQL Database",
		},
		Factory: func(ctx context.Context, dsn string, opts datasource.Options) (datasource.Datasource, error) {
			return datasource.OpenSQL(ctx, "sqlserver", config.ResolveURLForDocker(dsn), opts, Dialect())
		},
	})
}
