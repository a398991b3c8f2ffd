package adapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSQLAdapterNotConnected(t *testing.T) {
	b := &BaseSQLAdapter{}

	assert.False(t, b.IsConnected())
	assert.Error(t, b.Exec(context.Background(), "SELECT 1"))
	_, err := b.Query(context.Background(), "SELECT 1")
	assert.Error(t, err)
	assert.NoError(t, b.Close())
}

func TestBaseSQLAdapterExecAndQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	b := &BaseSQLAdapter{DB: db}

	mock.ExpectExec("CREATE TABLE t").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, b.Exec(context.Background(), "CREATE TABLE t (id INT)"))

	mock.ExpectQuery("SELECT id FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	rows, err := b.Query(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)
	var count int
	for rows.Next() {
		count++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 2, count)
	require.NoError(t, rows.Close())

	mock.ExpectClose()
	require.NoError(t, b.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseQualifiedName(t *testing.T) {
	tests := []struct {
		table      string
		def        string
		wantSchema string
		wantName   string
	}{
		{"slice", "main", "main", "slice"},
		{"trace.slice", "main", "trace", "slice"},
		{"thread", "public", "public", "thread"},
	}
	for _, tt := range tests {
		schema, name := ParseQualifiedName(tt.table, tt.def)
		assert.Equal(t, tt.wantSchema, schema)
		assert.Equal(t, tt.wantName, name)
	}
}
