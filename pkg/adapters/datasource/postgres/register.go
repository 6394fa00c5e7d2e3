package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        Type,
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Factory: func(ctx context.Context, dsn string, opts datasource.Options) (datasource.Datasource, error) {
			return NewAdapter(ctx, dsn, opts)
		},
	})
}
