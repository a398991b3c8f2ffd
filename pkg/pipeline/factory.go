package pipeline

import (
	"encoding/json"
	"fmt"
)

// NodeFromState instantiates a node variant from its serialized state,
// with empty connections. Callers resolve connections afterwards via
// ResolveInputs.
func NodeFromState(typ Type, id string, raw json.RawMessage) (Node, error) {
	switch typ {
	case TypeTableSource:
		return NewTableSourceFromState(id, raw)
	case TypeSQLSource:
		return NewSQLSourceFromState(id, raw)
	case TypeUnion:
		return NewUnionFromState(id, raw)
	case TypeIntervalIntersect:
		return NewIntervalIntersectFromState(id, raw)
	case TypeCreateSlices:
		return NewCreateSlicesFromState(id, raw)
	case TypeAggregation:
		return NewAggregationFromState(id, raw)
	case TypeMetrics:
		return NewMetricsFromState(id, raw)
	case TypeModifyColumns:
		return NewModifyColumnsFromState(id, raw)
	default:
		return nil, fmt.Errorf("unknown node type %q", typ)
	}
}
