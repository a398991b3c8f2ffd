package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// intersectRequired are the columns every interval-intersect input must
// expose. They are also reserved as partition column names.
var intersectRequired = []string{"id", "ts", "dur"}

// IntervalIntersect joins two or more interval tables on time overlap,
// optionally partitioned by shared key columns. Each input contributes
// suffixed id/ts/dur columns; columns unique to one input pass through
// unsuffixed and columns duplicated across inputs are dropped.
type IntervalIntersect struct {
	base
	secondary         *SecondaryInputs
	partitionCols     []string
	filterNegativeDur []bool
	cols              []columns.Column

	pendingInputs []portRef
}

type intervalIntersectState struct {
	PartitionColumns  []string         `json:"partition_columns,omitempty"`
	FilterNegativeDur []bool           `json:"filter_negative_dur,omitempty"`
	Columns           []columns.Column `json:"columns,omitempty"`
	Inputs            []portRef        `json:"inputs,omitempty"`
}

// NewIntervalIntersect creates an empty interval-intersect node.
func NewIntervalIntersect() *IntervalIntersect {
	return &IntervalIntersect{
		base:      newBase("", TypeIntervalIntersect),
		secondary: newSecondaryInputs(2, -1, nil),
	}
}

// NewIntervalIntersectFromState reconstructs an interval intersect from
// serialized state, with empty connections.
func NewIntervalIntersectFromState(id string, raw json.RawMessage) (*IntervalIntersect, error) {
	var st intervalIntersectState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("interval intersect state: %w", err)
	}
	return &IntervalIntersect{
		base:              newBase(id, TypeIntervalIntersect),
		secondary:         newSecondaryInputs(2, -1, nil),
		partitionCols:     st.PartitionColumns,
		filterNegativeDur: st.FilterNegativeDur,
		cols:              st.Columns,
		pendingInputs:     st.Inputs,
	}, nil
}

func (n *IntervalIntersect) Title() string { return "Interval intersect" }

func (n *IntervalIntersect) SecondaryInputs() *SecondaryInputs { return n.secondary }

// PartitionColumns returns the configured partition column names.
func (n *IntervalIntersect) PartitionColumns() []string {
	out := make([]string, len(n.partitionCols))
	copy(out, n.partitionCols)
	return out
}

// SetPartitionColumns replaces the partition column list.
func (n *IntervalIntersect) SetPartitionColumns(names []string) {
	n.partitionCols = make([]string, len(names))
	copy(n.partitionCols, names)
	n.notifyChanged()
	n.recompute()
}

// FilterNegativeDur returns the per-input negative-duration filter
// flags, index-aligned with the connected inputs.
func (n *IntervalIntersect) FilterNegativeDur() []bool {
	out := make([]bool, len(n.filterNegativeDur))
	copy(out, n.filterNegativeDur)
	return out
}

// SetFilterNegativeDur toggles the negative-duration filter for one
// input.
func (n *IntervalIntersect) SetFilterNegativeDur(input int, filter bool) {
	if input < 0 || input >= len(n.filterNegativeDur) {
		return
	}
	n.filterNegativeDur[input] = filter
	n.notifyChanged()
}

// Columns returns the derived columns with customizations.
func (n *IntervalIntersect) Columns() []columns.Column { return copyCols(n.cols) }

// SetColumnChecked toggles a derived column in or out of the output.
func (n *IntervalIntersect) SetColumnChecked(name string, checked bool) {
	if setColChecked(n.cols, name, checked) {
		n.notifyChanged()
		n.fanOut()
	}
}

func (n *IntervalIntersect) FinalColumns() []columns.Column {
	return columns.Output(n.cols)
}

func (n *IntervalIntersect) OnUpstreamUpdated() {
	n.recompute()
}

func (n *IntervalIntersect) recompute() {
	inputs := n.secondary.Nodes()

	// Track input count in the filter flags, keeping existing entries by
	// position. New inputs default to filtering. With zero inputs the
	// flags are kept as-is: a fully disconnected node (deserialized but
	// not yet rewired) must not lose its configuration.
	for len(n.filterNegativeDur) < len(inputs) {
		n.filterNegativeDur = append(n.filterNegativeDur, true)
	}
	if len(n.filterNegativeDur) > len(inputs) && len(inputs) > 0 {
		n.filterNegativeDur = n.filterNegativeDur[:len(inputs)]
	}

	if len(inputs) == 0 {
		n.fanOut()
		return
	}

	n.cols = columns.MergePreserve(n.derivedColumns(inputs), n.cols)
	n.fanOut()
}

// derivedColumns builds the fresh output schema: the intersected ts/dur
// pair, the partition columns, one id/ts/dur triple per input, then
// every column unique to a single input. All derived names are distinct
// so plain name identity suffices for merge-preserve.
func (n *IntervalIntersect) derivedColumns(inputs []Node) []columns.Column {
	out := []columns.Column{
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
	}

	for _, p := range n.partitionCols {
		kind := columns.KindNA
		for _, in := range inputs {
			if c, ok := columns.FindByName(in.FinalColumns(), p); ok {
				kind = c.Kind
				break
			}
		}
		out = append(out, columns.New(p, kind))
	}

	for i := range inputs {
		out = append(out,
			columns.New(fmt.Sprintf("id_%d", i), columns.KindInt),
			columns.New(fmt.Sprintf("ts_%d", i), columns.KindTimestamp),
			columns.New(fmt.Sprintf("dur_%d", i), columns.KindDuration),
		)
	}

	// Columns present in exactly one input pass through unsuffixed;
	// anything duplicated across inputs is dropped outright.
	counts := make(map[string]int)
	for _, in := range inputs {
		for _, c := range in.FinalColumns() {
			counts[c.Name]++
		}
	}
	for _, in := range inputs {
		for _, c := range in.FinalColumns() {
			if counts[c.Name] != 1 || n.isIntersectName(c.Name) {
				continue
			}
			out = append(out, columns.New(c.Name, c.Kind))
		}
	}
	return out
}

func (n *IntervalIntersect) isIntersectName(name string) bool {
	for _, r := range intersectRequired {
		if name == r {
			return true
		}
	}
	for _, p := range n.partitionCols {
		if name == p {
			return true
		}
	}
	return false
}

func (n *IntervalIntersect) Validate() bool {
	n.issues.Clear()
	inputs := n.secondary.Nodes()
	if len(inputs) < n.secondary.Min() {
		n.issues.QueryError = fmt.Errorf("interval intersect requires at least %d connected inputs, got %d",
			n.secondary.Min(), len(inputs))
		return false
	}
	for i, in := range inputs {
		if !validInput(in) {
			n.issues.QueryError = upstreamIssue(in)
			return false
		}
		var missing []string
		for _, req := range intersectRequired {
			if _, ok := columns.FindByName(in.FinalColumns(), req); !ok {
				missing = append(missing, req)
			}
		}
		if len(missing) > 0 {
			n.issues.QueryError = fmt.Errorf("input %d (%q) is missing required column(s) %s",
				i+1, in.Title(), strings.Join(missing, ", "))
			return false
		}
	}
	for _, p := range n.partitionCols {
		for i, in := range inputs {
			if _, ok := columns.FindByName(in.FinalColumns(), p); !ok {
				n.issues.QueryError = fmt.Errorf(
					"partition column %q is missing in input %d; remove it from partitioning or pick a column present in every input",
					p, i+1)
				return false
			}
		}
	}
	return true
}

func (n *IntervalIntersect) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	var queries []*sq.Query
	for _, in := range n.secondary.Nodes() {
		q := compiledOrNil(in)
		if q == nil {
			return nil
		}
		queries = append(queries, q)
	}
	return &sq.Query{
		ID: n.id,
		IntervalIntersect: &sq.IntervalIntersect{
			Queries:           queries,
			FilterNegativeDur: n.FilterNegativeDur(),
			PartitionColumns:  n.PartitionColumns(),
		},
		SelectColumns: checkedSelectColumns(n.cols),
	}
}

func (n *IntervalIntersect) MarshalState() (json.RawMessage, error) {
	return json.Marshal(intervalIntersectState{
		PartitionColumns:  n.partitionCols,
		FilterNegativeDur: n.filterNegativeDur,
		Columns:           n.cols,
		Inputs:            n.secondary.refs(),
	})
}

func (n *IntervalIntersect) ResolveInputs(byID map[string]Node) {
	resolveSecondary(n, n.pendingInputs, byID)
	n.pendingInputs = nil
}
