package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarrylabs/quarry/pkg/columns"
)

func TestKindForDBType(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		want   columns.TypeKind
	}{
		{"ts", "BIGINT", columns.KindTimestamp},
		{"dur", "BIGINT", columns.KindDuration},
		{"arg_set_id", "INTEGER", columns.KindArgSetID},
		{"id", "BIGINT", columns.KindInt},
		{"value", "DOUBLE", columns.KindDouble},
		{"value", "numeric(10,2)", columns.KindDouble},
		{"enabled", "BOOLEAN", columns.KindBoolean},
		{"name", "VARCHAR", columns.KindString},
		{"name", "text", columns.KindString},
		{"payload", "BYTEA", columns.KindBytes},
		{"created", "TIMESTAMP", columns.KindTimestamp},
		{"mystery", "GEOMETRY", columns.KindNA},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForDBType(tt.name, tt.dbType),
			"%s %s", tt.name, tt.dbType)
	}
}
