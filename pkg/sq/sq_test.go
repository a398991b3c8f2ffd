package sq

import (
	"encoding/json"
	"reflect"
	"testing"
)

// A structured query must round-trip through JSON without loss: the tree
// is the persisted contract between the compiler and the engine.
func TestQuery_JSONRoundTrip(t *testing.T) {
	q := &Query{
		ID: "root",
		IntervalIntersect: &IntervalIntersect{
			Queries: []*Query{
				{ID: "base", Table: &Table{Name: "slice", Module: "slices.with_context"}},
				{
					ID: "raw",
					SQL: &SQL{
						SQL:          "SELECT * FROM $input_0",
						Dependencies: []Dependency{{Alias: "input_0", Query: &Query{ID: "dep", Table: &Table{Name: "thread"}}}},
						ColumnNames:  []string{"id", "ts", "dur"},
					},
				},
			},
			FilterNegativeDur: []bool{true, true},
			PartitionColumns:  []string{"cpu"},
		},
		GroupBy: &GroupBy{
			ColumnNames: []string{"cpu"},
			Aggregates:  []Aggregate{{Op: AggPercentile, ColumnName: "dur", Percentile: float64p(99), ResultColumnName: "dur_percentile"}},
		},
		SelectColumns: []SelectColumn{{Name: "cpu"}, {Name: "dur_percentile", Alias: "p99"}},
		Metric: &Metric{
			IDPrefix:   "cpu_latency",
			Value:      "p99",
			Dimensions: []string{"cpu"},
			Unit:       UnitNanoseconds,
			Polarity:   PolarityLowerBetter,
		},
	}

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Query
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(q, &back) {
		t.Errorf("round trip changed the tree:\n%+v\nvs\n%+v", q, &back)
	}
}
