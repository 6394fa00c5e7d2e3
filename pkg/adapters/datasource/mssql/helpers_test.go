package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "[patients]", quoteName("patients"))
	assert.Equal(t, "[odd]]name]", quoteName("odd]name"))
}

func TestMapSQLServerType(t *testing.T) {
	assert.Equal(t, "INTEGER", mapSQLServerType("int"))
	assert.Equal(t, "VARCHAR", mapSQLServerType("NVARCHAR"))
	assert.Equal(t, "BOOLEAN", mapSQLServerType("bit"))
	assert.Equal(t, "GEOGRAPHY", mapSQLServerType("geography"))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, 45.09, normalizeValue([]byte("45.09"), "DECIMAL"))
	assert.Equal(t, []byte("abc"), normalizeValue([]byte("abc"), "VARBINARY"))
	assert.Equal(t, int64(3), normalizeValue(int64(3), "BIGINT"))
}

func TestDialect(t *testing.T) {
	d := Dialect()
	assert.Equal(t, Type, d.Type)
	assert.Nil(t, d.WrapLimit)
	assert.Equal(t, "[age]", d.QuoteIdentifier("age"))
}
