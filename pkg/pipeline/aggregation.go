package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// AggregationSpec is one aggregation of an Aggregation node. Column is
// unused for COUNT_ALL and required otherwise; Percentile is required
// for PERCENTILE and must lie in [0,100]. NewColumnName overrides the
// synthesized output name.
type AggregationSpec struct {
	Op            sq.AggregateOp `json:"op"`
	Column        string         `json:"column,omitempty"`
	Percentile    *float64       `json:"percentile,omitempty"`
	NewColumnName string         `json:"new_column_name,omitempty"`
}

// ResultColumnName is the aggregation's output column name: the
// user-chosen name when set, the synthesized placeholder otherwise.
func (s AggregationSpec) ResultColumnName() string {
	if s.NewColumnName != "" {
		return s.NewColumnName
	}
	return PlaceholderNewColumnName(s)
}

// PlaceholderNewColumnName synthesizes the default output name of an
// aggregation. Only the operator token is lowercased; the column name
// keeps its case.
func PlaceholderNewColumnName(s AggregationSpec) string {
	op := strings.ToLower(string(s.Op))
	switch {
	case s.Op == sq.AggCountAll:
		return "count"
	case s.Column != "" && s.Op != "":
		return s.Column + "_" + op
	case s.Op != "":
		return op
	default:
		return "result"
	}
}

// Aggregation groups its input's rows by an ordered column list and
// computes an ordered list of aggregations over them.
type Aggregation struct {
	base
	groupBy []string
	specs   []AggregationSpec
	cols    []columns.Column

	pendingInput string
}

type aggregationState struct {
	GroupBy      []string          `json:"group_by,omitempty"`
	Aggregations []AggregationSpec `json:"aggregations,omitempty"`
	Columns      []columns.Column  `json:"columns,omitempty"`
	Input        string            `json:"input,omitempty"`
}

// NewAggregation creates an empty aggregation node.
func NewAggregation() *Aggregation {
	return &Aggregation{base: newBase("", TypeAggregation)}
}

// NewAggregationFromState reconstructs an aggregation from serialized
// state, with empty connections.
func NewAggregationFromState(id string, raw json.RawMessage) (*Aggregation, error) {
	var st aggregationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("aggregation state: %w", err)
	}
	return &Aggregation{
		base:         newBase(id, TypeAggregation),
		groupBy:      st.GroupBy,
		specs:        st.Aggregations,
		cols:         st.Columns,
		pendingInput: st.Input,
	}, nil
}

func (n *Aggregation) Title() string { return "Aggregation" }

// GroupByColumns returns the ordered group-by column names.
func (n *Aggregation) GroupByColumns() []string {
	out := make([]string, len(n.groupBy))
	copy(out, n.groupBy)
	return out
}

// SetGroupByColumns replaces the group-by column list.
func (n *Aggregation) SetGroupByColumns(names []string) {
	n.groupBy = make([]string, len(names))
	copy(n.groupBy, names)
	n.notifyChanged()
	n.recompute()
}

// Aggregations returns the ordered aggregation specs.
func (n *Aggregation) Aggregations() []AggregationSpec {
	out := make([]AggregationSpec, len(n.specs))
	copy(out, n.specs)
	return out
}

// SetAggregations replaces the aggregation spec list.
func (n *Aggregation) SetAggregations(specs []AggregationSpec) {
	n.specs = make([]AggregationSpec, len(specs))
	copy(n.specs, specs)
	n.notifyChanged()
	n.recompute()
}

// Columns returns the derived output columns with customizations.
func (n *Aggregation) Columns() []columns.Column { return copyCols(n.cols) }

// SetColumnChecked toggles a derived column in or out of the output.
func (n *Aggregation) SetColumnChecked(name string, checked bool) {
	if setColChecked(n.cols, name, checked) {
		n.notifyChanged()
		n.fanOut()
	}
}

func (n *Aggregation) FinalColumns() []columns.Column {
	return columns.Output(n.cols)
}

func (n *Aggregation) OnUpstreamUpdated() {
	n.recompute()
}

func (n *Aggregation) recompute() {
	if n.primary == nil {
		n.fanOut()
		return
	}
	upstream := n.primary.FinalColumns()

	var fresh []columns.Column
	for _, g := range n.groupBy {
		kind := columns.KindNA
		if c, ok := columns.FindByName(upstream, g); ok {
			kind = c.Kind
		}
		fresh = append(fresh, columns.New(g, kind))
	}
	for _, s := range n.specs {
		fresh = append(fresh, columns.New(s.ResultColumnName(), resultKind(s, upstream)))
	}
	n.cols = columns.MergePreserve(fresh, n.cols)
	n.fanOut()
}

// resultKind derives the type of an aggregation result column.
func resultKind(s AggregationSpec, upstream []columns.Column) columns.TypeKind {
	switch s.Op {
	case sq.AggCountAll, sq.AggCount, sq.AggCountDistinct:
		return columns.KindInt
	case sq.AggMean, sq.AggMedian, sq.AggPercentile, sq.AggDurationWeightedMean:
		return columns.KindDouble
	case sq.AggSum, sq.AggMin, sq.AggMax:
		if c, ok := columns.FindByName(upstream, s.Column); ok {
			return c.Kind
		}
	}
	return columns.KindNA
}

func (n *Aggregation) Validate() bool {
	n.issues.Clear()
	if n.primary == nil {
		n.issues.QueryError = fmt.Errorf("no input connected")
		return false
	}
	if !validInput(n.primary) {
		n.issues.QueryError = upstreamIssue(n.primary)
		return false
	}
	if len(n.groupBy) == 0 && len(n.specs) == 0 {
		n.issues.QueryError = fmt.Errorf("configure at least one group-by column or aggregation")
		return false
	}
	upstream := n.primary.FinalColumns()
	for _, g := range n.groupBy {
		if _, ok := columns.FindByName(upstream, g); !ok {
			n.issues.QueryError = fmt.Errorf("group-by column %q does not exist in the input", g)
			return false
		}
	}
	for _, s := range n.specs {
		if err := validateSpec(s, upstream); err != nil {
			n.issues.QueryError = err
			return false
		}
	}
	return true
}

func validateSpec(s AggregationSpec, upstream []columns.Column) error {
	if s.Op == "" {
		return fmt.Errorf("aggregation is missing an operator")
	}
	if s.Op == sq.AggCountAll {
		return nil
	}
	if s.Column == "" {
		return fmt.Errorf("aggregation %s requires a column", s.Op)
	}
	if _, ok := columns.FindByName(upstream, s.Column); !ok {
		return fmt.Errorf("aggregation column %q does not exist in the input", s.Column)
	}
	if s.Op == sq.AggPercentile {
		if s.Percentile == nil {
			return fmt.Errorf("aggregation PERCENTILE requires a percentile value")
		}
		if *s.Percentile < 0 || *s.Percentile > 100 {
			return fmt.Errorf("percentile %v is outside [0, 100]", *s.Percentile)
		}
	}
	return nil
}

func (n *Aggregation) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	inner := compiledOrNil(n.primary)
	if inner == nil {
		return nil
	}
	gb := &sq.GroupBy{ColumnNames: n.GroupByColumns()}
	for _, s := range n.specs {
		gb.Aggregates = append(gb.Aggregates, sq.Aggregate{
			Op:               s.Op,
			ColumnName:       s.Column,
			ResultColumnName: s.ResultColumnName(),
			Percentile:       s.Percentile,
		})
	}
	return &sq.Query{
		ID:            n.id,
		InnerQuery:    inner,
		GroupBy:       gb,
		SelectColumns: checkedSelectColumns(n.cols),
	}
}

func (n *Aggregation) MarshalState() (json.RawMessage, error) {
	return json.Marshal(aggregationState{
		GroupBy:      n.groupBy,
		Aggregations: n.specs,
		Columns:      n.cols,
		Input:        primaryID(n),
	})
}

func (n *Aggregation) ResolveInputs(byID map[string]Node) {
	resolvePrimary(n, n.pendingInput, byID)
	n.pendingInput = ""
}
