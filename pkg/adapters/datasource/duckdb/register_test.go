package duckdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
)

func TestDuckDB_DiscoverAndQuery(t *testing.T) {
	ctx := context.Background()
	ds, err := Open(ctx, "", datasource.Options{})
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.DB().ExecContext(ctx, `CREATE TABLE fitness (patient_number INTEGER, day_number INTEGER, steps INTEGER)`)
	require.NoError(t, err)
	_, err = ds.DB().ExecContext(ctx, `INSERT INTO fitness VALUES (1, 1, 1000), (1, 2, 3000), (2, 1, 500)`)
	require.NoError(t, err)

	tables, err := ds.DiscoverTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "fitness", tables[0].TableName)
	assert.Len(t, tables[0].Columns, 3)

	result, err := ds.Query(ctx, "SELECT patient_number, SUM(steps) AS total FROM fitness GROUP BY patient_number ORDER BY patient_number", 10)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)
	assert.EqualValues(t, 4000, result.Rows[0]["total"])
}
