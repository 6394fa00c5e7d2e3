// Package all registers every datasource adapter.
package all

import (
	_ "github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource/duckdb"
	_ "github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource/sqlite"
)
