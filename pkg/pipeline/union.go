package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// Union combines two or more inputs with UNION ALL. Its output schema
// is the set of column names common to every connected input,
// recomputed from scratch on any upstream change with checked state
// preserved by name.
type Union struct {
	base
	secondary *SecondaryInputs
	cols      []columns.Column

	pendingInputs []portRef
}

type unionState struct {
	Columns []columns.Column `json:"columns,omitempty"`
	Inputs  []portRef        `json:"inputs,omitempty"`
}

// NewUnion creates an empty union node.
func NewUnion() *Union {
	return &Union{
		base:      newBase("", TypeUnion),
		secondary: newSecondaryInputs(2, -1, nil),
	}
}

// NewUnionFromState reconstructs a union from serialized state, with
// empty connections.
func NewUnionFromState(id string, raw json.RawMessage) (*Union, error) {
	var st unionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("union state: %w", err)
	}
	return &Union{
		base:          newBase(id, TypeUnion),
		secondary:     newSecondaryInputs(2, -1, nil),
		cols:          st.Columns,
		pendingInputs: st.Inputs,
	}, nil
}

func (n *Union) Title() string { return "Union" }

func (n *Union) SecondaryInputs() *SecondaryInputs { return n.secondary }

// Columns returns the common columns with customizations.
func (n *Union) Columns() []columns.Column { return copyCols(n.cols) }

// SetColumnChecked toggles a common column in or out of the output.
func (n *Union) SetColumnChecked(name string, checked bool) {
	if setColChecked(n.cols, name, checked) {
		n.notifyChanged()
		n.fanOut()
	}
}

func (n *Union) FinalColumns() []columns.Column {
	return columns.Output(n.cols)
}

func (n *Union) OnUpstreamUpdated() {
	inputs := n.secondary.Nodes()
	if len(inputs) == 0 {
		// Connections are not resolved yet; keep the stored schema so
		// customizations survive a deserialize-then-reconnect gap.
		n.fanOut()
		return
	}

	fresh := commonColumns(inputs)
	n.cols = columns.MergePreserve(fresh, n.cols)
	n.fanOut()
}

// commonColumns intersects input schemas by name, in first-input column
// order, taking each column's type from the first input.
func commonColumns(inputs []Node) []columns.Column {
	var out []columns.Column
	for _, c := range inputs[0].FinalColumns() {
		inAll := true
		for _, other := range inputs[1:] {
			if _, ok := columns.FindByName(other.FinalColumns(), c.Name); !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, columns.New(c.Name, c.Kind))
		}
	}
	return out
}

func (n *Union) Validate() bool {
	n.issues.Clear()
	inputs := n.secondary.Nodes()
	if len(inputs) < n.secondary.Min() {
		n.issues.QueryError = fmt.Errorf("union requires at least %d connected inputs, got %d",
			n.secondary.Min(), len(inputs))
		return false
	}
	for _, in := range inputs {
		if !validInput(in) {
			n.issues.QueryError = upstreamIssue(in)
			return false
		}
	}
	if len(commonColumns(inputs)) == 0 {
		n.issues.QueryError = fmt.Errorf("inputs share no common columns")
		return false
	}
	return true
}

func (n *Union) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	checked := columns.Checked(n.cols)
	if len(checked) == 0 {
		return nil
	}

	// Each input is wrapped in a synthetic select exposing only the
	// checked common columns, by name, so the branches line up.
	var wrapped []*sq.Query
	for i, in := range n.secondary.Nodes() {
		q := compiledOrNil(in)
		if q == nil {
			return nil
		}
		var sel []sq.SelectColumn
		for _, c := range checked {
			sel = append(sel, sq.SelectColumn{Name: c.Name})
		}
		wrapped = append(wrapped, &sq.Query{
			ID:            fmt.Sprintf("%s_input_%d", n.id, i),
			InnerQuery:    q,
			SelectColumns: sel,
		})
	}
	return &sq.Query{
		ID:            n.id,
		Union:         &sq.Union{Queries: wrapped},
		SelectColumns: checkedSelectColumns(n.cols),
	}
}

func (n *Union) MarshalState() (json.RawMessage, error) {
	return json.Marshal(unionState{Columns: n.cols, Inputs: n.secondary.refs()})
}

func (n *Union) ResolveInputs(byID map[string]Node) {
	resolveSecondary(n, n.pendingInputs, byID)
	n.pendingInputs = nil
}
