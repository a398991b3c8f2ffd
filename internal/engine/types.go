package engine

import (
	"strings"

	"github.com/quarrylabs/quarry/pkg/columns"
)

// KindForDBType maps a database column type to a pipeline type kind.
// Well-known trace column names (ts, dur, arg_set_id) take precedence
// over the raw database type, which carries no trace semantics.
func KindForDBType(name, dbType string) columns.TypeKind {
	switch strings.ToLower(name) {
	case "ts":
		return columns.KindTimestamp
	case "dur":
		return columns.KindDuration
	case "arg_set_id":
		return columns.KindArgSetID
	}

	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "INT"):
		return columns.KindInt
	case strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"),
		strings.Contains(t, "REAL"), strings.Contains(t, "NUMERIC"),
		strings.Contains(t, "DECIMAL"):
		return columns.KindDouble
	case strings.Contains(t, "BOOL"):
		return columns.KindBoolean
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"),
		strings.Contains(t, "STRING"):
		return columns.KindString
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"),
		strings.Contains(t, "BINARY"):
		return columns.KindBytes
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATE"):
		return columns.KindTimestamp
	default:
		return columns.KindNA
	}
}
