package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
)

func TestSQLite_DiscoverAndQuery(t *testing.T) {
	ctx := context.Background()
	ds, err := datasource.Open(ctx, Type, ":memory:", datasource.Options{MaxOpenConns: 4})
	require.NoError(t, err)
	defer ds.Close()

	db := ds.(*datasource.SQLDatasource).DB()
	_, err = db.ExecContext(ctx, `CREATE TABLE patients (patient_number INTEGER NOT NULL, age INTEGER, name TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO patients VALUES (1, 40, 'a'), (2, 50, 'b'), (3, 60, 'c')`)
	require.NoError(t, err)

	tables, err := ds.DiscoverTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "patients", tables[0].TableName)
	require.Len(t, tables[0].Columns, 3)
	assert.Equal(t, "patient_number", tables[0].Columns[0].ColumnName)
	assert.Equal(t, "INTEGER", tables[0].Columns[0].DataType)
	assert.False(t, tables[0].Columns[0].IsNullable)
	assert.True(t, tables[0].Columns[1].IsNullable)

	result, err := ds.Query(ctx, "SELECT AVG(age) AS avg_age FROM patients;", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.InDelta(t, 50.0, result.Rows[0]["avg_age"], 1e-9)

	result, err = ds.Query(ctx, "SELECT name FROM patients ORDER BY patient_number", 2)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, "a", result.Rows[0]["name"])
}

func TestSQLite_QuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"Blood_Pressure_Abnormality"`, Dialect().QuoteIdentifier("Blood_Pressure_Abnormality"))
}
