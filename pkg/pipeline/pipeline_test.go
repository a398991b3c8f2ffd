package pipeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

func sliceTable(t *testing.T, name string) *TableSource {
	t.Helper()
	return NewTableSource(name, "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
		columns.New("name", columns.KindString),
	})
}

func TestConnectPrimaryRecomputesLineage(t *testing.T) {
	src := sliceTable(t, "slice")
	mod := NewModifyColumns()

	ConnectPrimary(src, mod)

	if got := columns.Names(mod.Columns()); !reflect.DeepEqual(got, []string{"id", "ts", "dur", "name"}) {
		t.Fatalf("columns after connect = %v", got)
	}

	src.SetColumnChecked("name", false)
	if _, ok := columns.FindByName(mod.Columns(), "name"); ok {
		t.Fatal("dropped upstream column still present downstream")
	}
}

func TestDetachUnwiresEverything(t *testing.T) {
	src := sliceTable(t, "slice")
	mod := NewModifyColumns()
	agg := NewAggregation()
	ConnectPrimary(src, mod)
	ConnectPrimary(mod, agg)

	Detach(mod)

	if mod.PrimaryInput() != nil {
		t.Fatal("detached node kept its primary input")
	}
	if agg.PrimaryInput() != nil {
		t.Fatal("dependent kept a reference to the detached node")
	}
	if len(src.Downstream()) != 0 {
		t.Fatalf("upstream still notifies %d dependents", len(src.Downstream()))
	}
}

func TestUnionCommonColumnsCommutative(t *testing.T) {
	a := NewTableSource("a", "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("a_only", columns.KindString),
	})
	b := NewTableSource("b", "", []columns.Column{
		columns.New("ts", columns.KindTimestamp),
		columns.New("id", columns.KindInt),
		columns.New("b_only", columns.KindDouble),
	})

	ab := columns.Names(commonColumns([]Node{a, b}))
	ba := columns.Names(commonColumns([]Node{b, a}))

	want := map[string]bool{"id": true, "ts": true}
	for _, got := range [][]string{ab, ba} {
		if len(got) != len(want) {
			t.Fatalf("common columns = %v, want id and ts", got)
		}
		for _, name := range got {
			if !want[name] {
				t.Fatalf("unexpected common column %q", name)
			}
		}
	}
}

func TestUnionCheckedStateSurvivesNoopUpdate(t *testing.T) {
	a := sliceTable(t, "a")
	b := sliceTable(t, "b")
	u := NewUnion()
	if _, err := ConnectNextSecondary(a, u); err != nil {
		t.Fatal(err)
	}
	if _, err := ConnectNextSecondary(b, u); err != nil {
		t.Fatal(err)
	}

	u.SetColumnChecked("name", false)
	u.OnUpstreamUpdated()

	c, ok := columns.FindByName(u.Columns(), "name")
	if !ok {
		t.Fatal("column vanished on a no-op update")
	}
	if c.Checked {
		t.Fatal("checked state reset by a no-op update")
	}
}

func TestUnionCompile(t *testing.T) {
	a := sliceTable(t, "a")
	b := sliceTable(t, "b")
	u := NewUnion()
	if _, err := ConnectNextSecondary(a, u); err != nil {
		t.Fatal(err)
	}
	if _, err := ConnectNextSecondary(b, u); err != nil {
		t.Fatal(err)
	}

	q := u.StructuredQuery()
	if q == nil {
		t.Fatalf("compile failed: %v", u.Issues().FirstError())
	}
	if q.Union == nil || len(q.Union.Queries) != 2 {
		t.Fatalf("union shape = %+v", q.Union)
	}
	for i, wrapped := range q.Union.Queries {
		if wrapped.InnerQuery == nil || wrapped.InnerQuery.Table == nil {
			t.Fatalf("input %d is not a wrapped table query", i)
		}
		if len(wrapped.SelectColumns) != 4 {
			t.Fatalf("input %d exposes %d columns, want 4", i, len(wrapped.SelectColumns))
		}
	}
}

func TestUnionTooFewInputs(t *testing.T) {
	u := NewUnion()
	if _, err := ConnectNextSecondary(sliceTable(t, "a"), u); err != nil {
		t.Fatal(err)
	}
	if u.StructuredQuery() != nil {
		t.Fatal("expected no query with a single input")
	}
	if err := u.Issues().FirstError(); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestIntervalIntersectColumnDerivation(t *testing.T) {
	a := NewTableSource("a", "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
		columns.New("shared", columns.KindString),
		columns.New("a_only", columns.KindString),
	})
	b := NewTableSource("b", "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
		columns.New("shared", columns.KindInt),
		columns.New("b_only", columns.KindDouble),
	})
	ii := NewIntervalIntersect()
	for _, in := range []Node{a, b} {
		if _, err := ConnectNextSecondary(in, ii); err != nil {
			t.Fatal(err)
		}
	}

	got := columns.Names(ii.Columns())
	want := []string{"ts", "dur", "id_0", "ts_0", "dur_0", "id_1", "ts_1", "dur_1", "a_only", "b_only"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("derived columns = %v, want %v", got, want)
	}

	// shared exists in both inputs so it must be dropped entirely.
	if _, ok := columns.FindByName(ii.Columns(), "shared"); ok {
		t.Fatal("duplicated column survived derivation")
	}
}

func TestIntervalIntersectMissingRequiredColumns(t *testing.T) {
	a := sliceTable(t, "a")
	b := NewTableSource("b", "", []columns.Column{
		columns.New("ts", columns.KindTimestamp),
		columns.New("name", columns.KindString),
	})
	ii := NewIntervalIntersect()
	for _, in := range []Node{a, b} {
		if _, err := ConnectNextSecondary(in, ii); err != nil {
			t.Fatal(err)
		}
	}

	if ii.Validate() {
		t.Fatal("expected validation failure")
	}
	msg := ii.Issues().FirstError().Error()
	for _, part := range []string{"input 2", "id", "dur"} {
		if !strings.Contains(msg, part) {
			t.Fatalf("error %q does not mention %q", msg, part)
		}
	}
}

func TestIntervalIntersectPartitionValidation(t *testing.T) {
	a := NewTableSource("a", "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
		columns.New("cpu", columns.KindInt),
	})
	b := sliceTable(t, "b")
	ii := NewIntervalIntersect()
	for _, in := range []Node{a, b} {
		if _, err := ConnectNextSecondary(in, ii); err != nil {
			t.Fatal(err)
		}
	}

	ii.SetPartitionColumns([]string{"cpu"})

	// Lineage tolerates the gap: cpu comes from input 1 with its type.
	c, ok := columns.FindByName(ii.Columns(), "cpu")
	if !ok {
		t.Fatal("partition column missing from derived schema")
	}
	if c.Kind != columns.KindInt {
		t.Fatalf("partition column kind = %q, want int", c.Kind)
	}

	// Validation does not: input 2 lacks cpu.
	if ii.Validate() {
		t.Fatal("expected validation failure")
	}
	msg := ii.Issues().FirstError().Error()
	if !strings.Contains(msg, `"cpu"`) || !strings.Contains(msg, "input 2") {
		t.Fatalf("error %q does not locate the missing partition column", msg)
	}
}

func TestIntervalIntersectFilterFlagsTrackInputs(t *testing.T) {
	ii := NewIntervalIntersect()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := ConnectNextSecondary(sliceTable(t, name), ii); err != nil {
			t.Fatal(err)
		}
	}
	if got := ii.FilterNegativeDur(); !reflect.DeepEqual(got, []bool{true, true, true}) {
		t.Fatalf("default flags = %v", got)
	}

	ii.SetFilterNegativeDur(1, false)
	DisconnectSecondary(ii, 2)

	if got := ii.FilterNegativeDur(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Fatalf("flags after disconnect = %v", got)
	}

	// Disconnecting the last input keeps the flags: a fully unwired
	// node must not lose its configuration.
	DisconnectSecondary(ii, 0)
	DisconnectSecondary(ii, 1)
	if got := ii.FilterNegativeDur(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Fatalf("flags after full disconnect = %v", got)
	}
}

func TestConnectSecondaryReplacementUnlinksIncumbent(t *testing.T) {
	a := sliceTable(t, "a")
	b := sliceTable(t, "b")
	c := sliceTable(t, "c")
	u := NewUnion()
	if err := ConnectSecondary(a, u, 0); err != nil {
		t.Fatal(err)
	}
	if err := ConnectSecondary(b, u, 1); err != nil {
		t.Fatal(err)
	}

	if err := ConnectSecondary(c, u, 0); err != nil {
		t.Fatal(err)
	}

	if got := len(a.Downstream()); got != 0 {
		t.Fatalf("replaced upstream still lists %d dependents", got)
	}
	if got := len(c.Downstream()); got != 1 {
		t.Fatalf("new upstream lists %d dependents, want 1", got)
	}
	if got := u.SecondaryInputs().At(0); got != Node(c) {
		t.Fatalf("port 0 holds %v, want the replacement", got)
	}
}

func TestConnectSecondaryReplacementKeepsSharedUpstream(t *testing.T) {
	a := sliceTable(t, "a")
	c := sliceTable(t, "c")
	u := NewUnion()
	if err := ConnectSecondary(a, u, 0); err != nil {
		t.Fatal(err)
	}
	if err := ConnectSecondary(a, u, 1); err != nil {
		t.Fatal(err)
	}

	// a still feeds port 1, so replacing port 0 must keep its link.
	if err := ConnectSecondary(c, u, 0); err != nil {
		t.Fatal(err)
	}

	if got := len(a.Downstream()); got != 1 {
		t.Fatalf("shared upstream lists %d dependents, want 1", got)
	}
}

func TestCreateSlicesTsDurWrappers(t *testing.T) {
	starts := sliceTable(t, "starts")
	ends := sliceTable(t, "ends")
	cs := NewCreateSlices()
	cs.SetStarts(SliceBound{Mode: BoundTsDur})
	cs.SetEnds(SliceBound{Mode: BoundTsDur})
	if err := ConnectSecondary(starts, cs, slicePortStarts); err != nil {
		t.Fatal(err)
	}
	if err := ConnectSecondary(ends, cs, slicePortEnds); err != nil {
		t.Fatal(err)
	}

	q := cs.StructuredQuery()
	if q == nil {
		t.Fatalf("compile failed: %v", cs.Issues().FirstError())
	}
	if q.CreateSlices == nil {
		t.Fatal("missing create-slices directive")
	}
	if got, want := q.CreateSlices.Starts.ID, cs.ID()+"_Starts_end_ts"; got != want {
		t.Fatalf("starts wrapper id = %q, want %q", got, want)
	}
	if got, want := q.CreateSlices.Ends.ID, cs.ID()+"_Ends_end_ts"; got != want {
		t.Fatalf("ends wrapper id = %q, want %q", got, want)
	}
	if got := q.CreateSlices.StartsTsColumn; got != "Starts_end_ts" {
		t.Fatalf("starts ts column = %q", got)
	}
	sel := q.CreateSlices.Starts.SelectColumns
	if len(sel) != 1 || sel[0].Name != "ts + dur" {
		t.Fatalf("starts wrapper projection = %+v", sel)
	}

	// Same configuration, same ids.
	q2 := cs.StructuredQuery()
	if q2.CreateSlices.Starts.ID != q.CreateSlices.Starts.ID {
		t.Fatal("wrapper id is not deterministic")
	}
}

func TestCreateSlicesAutoDefault(t *testing.T) {
	cs := NewCreateSlices()
	if err := ConnectSecondary(sliceTable(t, "starts"), cs, slicePortStarts); err != nil {
		t.Fatal(err)
	}
	if err := ConnectSecondary(sliceTable(t, "ends"), cs, slicePortEnds); err != nil {
		t.Fatal(err)
	}

	q := cs.StructuredQuery()
	if q == nil {
		t.Fatalf("compile failed: %v", cs.Issues().FirstError())
	}
	if q.CreateSlices.StartsTsColumn != "ts" || q.CreateSlices.EndsTsColumn != "ts" {
		t.Fatalf("auto-defaulted ts columns = %q, %q",
			q.CreateSlices.StartsTsColumn, q.CreateSlices.EndsTsColumn)
	}
}

func TestCreateSlicesAmbiguousColumn(t *testing.T) {
	twoTs := NewTableSource("t", "", []columns.Column{
		columns.New("begin_ts", columns.KindTimestamp),
		columns.New("end_ts", columns.KindTimestamp),
	})
	cs := NewCreateSlices()
	if err := ConnectSecondary(twoTs, cs, slicePortStarts); err != nil {
		t.Fatal(err)
	}
	if err := ConnectSecondary(sliceTable(t, "ends"), cs, slicePortEnds); err != nil {
		t.Fatal(err)
	}

	if cs.Validate() {
		t.Fatal("expected validation failure for ambiguous timestamp column")
	}
	if msg := cs.Issues().FirstError().Error(); !strings.Contains(msg, "Starts") {
		t.Fatalf("error %q does not name the side", msg)
	}
}

func TestAggregationPlaceholderNames(t *testing.T) {
	p95 := 95.0
	tests := []struct {
		spec AggregationSpec
		want string
	}{
		{AggregationSpec{Op: sq.AggCountAll}, "count"},
		{AggregationSpec{Op: sq.AggPercentile, Column: "dur", Percentile: &p95}, "dur_percentile"},
		{AggregationSpec{Op: sq.AggSum, Column: "Dur"}, "Dur_sum"},
		{AggregationSpec{Op: sq.AggMedian}, "median"},
		{AggregationSpec{}, "result"},
	}
	for _, tt := range tests {
		if got := PlaceholderNewColumnName(tt.spec); got != tt.want {
			t.Errorf("placeholder(%+v) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestAggregationPercentileBounds(t *testing.T) {
	agg := NewAggregation()
	ConnectPrimary(sliceTable(t, "slice"), agg)

	set := func(p *float64) {
		agg.SetAggregations([]AggregationSpec{{Op: sq.AggPercentile, Column: "dur", Percentile: p}})
	}
	zero, hundred, over := 0.0, 100.0, 150.0

	set(&zero)
	if !agg.Validate() {
		t.Fatalf("percentile 0 rejected: %v", agg.Issues().FirstError())
	}
	set(&hundred)
	if !agg.Validate() {
		t.Fatalf("percentile 100 rejected: %v", agg.Issues().FirstError())
	}
	set(&over)
	if agg.Validate() {
		t.Fatal("percentile 150 accepted")
	}
	set(nil)
	if agg.Validate() {
		t.Fatal("missing percentile accepted")
	}
}

func TestAggregationCompile(t *testing.T) {
	agg := NewAggregation()
	ConnectPrimary(sliceTable(t, "slice"), agg)
	agg.SetGroupByColumns([]string{"name"})
	agg.SetAggregations([]AggregationSpec{
		{Op: sq.AggCountAll},
		{Op: sq.AggSum, Column: "dur", NewColumnName: "total_dur"},
	})

	q := agg.StructuredQuery()
	if q == nil {
		t.Fatalf("compile failed: %v", agg.Issues().FirstError())
	}
	if q.GroupBy == nil || !reflect.DeepEqual(q.GroupBy.ColumnNames, []string{"name"}) {
		t.Fatalf("group-by = %+v", q.GroupBy)
	}
	if got := q.GroupBy.Aggregates[0].ResultColumnName; got != "count" {
		t.Fatalf("first aggregate name = %q", got)
	}
	if got := q.GroupBy.Aggregates[1].ResultColumnName; got != "total_dur" {
		t.Fatalf("second aggregate name = %q", got)
	}
	if got := columns.Names(agg.FinalColumns()); !reflect.DeepEqual(got, []string{"name", "count", "total_dur"}) {
		t.Fatalf("output columns = %v", got)
	}
}

func TestMetricsDimensions(t *testing.T) {
	src := NewTableSource("t", "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("cpu_time", columns.KindDouble),
		columns.New("process_name", columns.KindString),
	})
	m := NewMetrics()
	ConnectPrimary(src, m)
	m.SetValueColumn("cpu_time")

	if got := m.GetDimensions(); !reflect.DeepEqual(got, []string{"id", "ts", "process_name"}) {
		t.Fatalf("dimensions = %v", got)
	}
}

func TestMetricsValueColumnClearing(t *testing.T) {
	src := NewTableSource("t", "", []columns.Column{
		columns.New("cpu_time", columns.KindDouble),
		columns.New("name", columns.KindString),
	})
	m := NewMetrics()
	ConnectPrimary(src, m)
	m.SetValueColumn("cpu_time")

	// Disconnecting is a gap, not proof of absence.
	DisconnectPrimary(m)
	if m.ValueColumn() != "cpu_time" {
		t.Fatal("value column cleared while disconnected")
	}

	// A connected schema without the column clears it.
	other := NewTableSource("u", "", []columns.Column{
		columns.New("name", columns.KindString),
	})
	ConnectPrimary(other, m)
	if m.ValueColumn() != "" {
		t.Fatalf("value column = %q after reconnect to a schema lacking it", m.ValueColumn())
	}
}

func TestMetricsNonNumericValueCleared(t *testing.T) {
	src := NewTableSource("t", "", []columns.Column{
		columns.New("v", columns.KindDouble),
	})
	m := NewMetrics()
	ConnectPrimary(src, m)
	m.SetValueColumn("v")

	src.SetColumnKind("v", columns.KindString)
	if m.ValueColumn() != "" {
		t.Fatal("non-numeric value column not cleared")
	}
}

func TestMetricsValidate(t *testing.T) {
	src := NewTableSource("t", "", []columns.Column{
		columns.New("v", columns.KindDouble),
	})
	m := NewMetrics()
	ConnectPrimary(src, m)
	m.SetValueColumn("v")

	if m.Validate() {
		t.Fatal("blank id prefix accepted")
	}
	m.SetIDPrefix("  ")
	if m.Validate() {
		t.Fatal("whitespace id prefix accepted")
	}
	m.SetIDPrefix("cpu")
	if !m.Validate() {
		t.Fatalf("valid config rejected: %v", m.Issues().FirstError())
	}

	m.SetUnit(sq.UnitCustom, "")
	if m.Validate() {
		t.Fatal("custom unit without text accepted")
	}
	m.SetUnit(sq.UnitCustom, "frames")
	if !m.Validate() {
		t.Fatalf("custom unit rejected: %v", m.Issues().FirstError())
	}
}

func TestModifyColumnsRenameSurvivesUpstreamSplice(t *testing.T) {
	src := sliceTable(t, "slice")
	mod := NewModifyColumns()
	ConnectPrimary(src, mod)
	mod.SetColumnAlias("dur", "duration_ns")
	mod.SetColumnKind("id", columns.KindString)

	// Splice an unrelated pass-through between source and node.
	mid := NewModifyColumns()
	ConnectPrimary(src, mid)
	ConnectPrimary(mid, mod)

	c, ok := columns.FindByName(mod.Columns(), "dur")
	if !ok || c.Alias != "duration_ns" {
		t.Fatalf("alias lost across upstream splice: %+v", c)
	}
	id, _ := columns.FindByName(mod.Columns(), "id")
	if id.Kind != columns.KindString || !id.TypeUserModified {
		t.Fatalf("type override lost across upstream splice: %+v", id)
	}
}

func TestModifyColumnsDuplicateOutputNames(t *testing.T) {
	mod := NewModifyColumns()
	ConnectPrimary(sliceTable(t, "slice"), mod)
	mod.SetColumnAlias("name", "ts")

	if mod.Validate() {
		t.Fatal("duplicate output names accepted")
	}
	if msg := mod.Issues().FirstError().Error(); !strings.Contains(msg, `"ts"`) {
		t.Fatalf("error %q does not name the duplicate", msg)
	}
}

func TestUpstreamErrorNamesFailingNode(t *testing.T) {
	src := NewTableSource("", "", nil)
	mod := NewModifyColumns()
	ConnectPrimary(src, mod)

	if mod.StructuredQuery() != nil {
		t.Fatal("expected no query with an invalid upstream")
	}
	if msg := mod.Issues().FirstError().Error(); !strings.Contains(msg, `"Table"`) {
		t.Fatalf("error %q does not name the failing input", msg)
	}
}

func TestFullGraphCompile(t *testing.T) {
	src := sliceTable(t, "slice")
	mod := NewModifyColumns()
	ConnectPrimary(src, mod)
	mod.SetColumnChecked("id", false)

	agg := NewAggregation()
	ConnectPrimary(mod, agg)
	agg.SetGroupByColumns([]string{"name"})
	agg.SetAggregations([]AggregationSpec{{Op: sq.AggSum, Column: "dur"}})

	q := agg.StructuredQuery()
	if q == nil {
		t.Fatalf("compile failed: %v", agg.Issues().FirstError())
	}
	if q.InnerQuery == nil || q.InnerQuery.InnerQuery == nil || q.InnerQuery.InnerQuery.Table == nil {
		t.Fatal("compiled tree does not nest down to the table source")
	}
	if got := q.InnerQuery.InnerQuery.Table.Name; got != "slice" {
		t.Fatalf("root table = %q", got)
	}
}
