package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// ModifyColumns is a pass-through node that selects a subset of its
// input's columns and optionally renames or retypes each. Merge-preserve
// matches by the original upstream name, never the alias, so a rename
// survives changes in intermediate upstream nodes.
type ModifyColumns struct {
	base
	cols []columns.Column

	pendingInput string
}

type modifyColumnsState struct {
	Columns []columns.Column `json:"columns,omitempty"`
	Input   string           `json:"input,omitempty"`
}

// NewModifyColumns creates an empty modify-columns node.
func NewModifyColumns() *ModifyColumns {
	return &ModifyColumns{base: newBase("", TypeModifyColumns)}
}

// NewModifyColumnsFromState reconstructs a modify-columns node from
// serialized state, with empty connections.
func NewModifyColumnsFromState(id string, raw json.RawMessage) (*ModifyColumns, error) {
	var st modifyColumnsState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("modify columns state: %w", err)
	}
	return &ModifyColumns{
		base:         newBase(id, TypeModifyColumns),
		cols:         st.Columns,
		pendingInput: st.Input,
	}, nil
}

func (n *ModifyColumns) Title() string { return "Modify columns" }

// Columns returns the columns with customizations.
func (n *ModifyColumns) Columns() []columns.Column { return copyCols(n.cols) }

// SetColumnChecked toggles a column in or out of the output.
func (n *ModifyColumns) SetColumnChecked(name string, checked bool) {
	if setColChecked(n.cols, name, checked) {
		n.notifyChanged()
		n.fanOut()
	}
}

// SetColumnAlias renames a column in the output.
func (n *ModifyColumns) SetColumnAlias(name, alias string) {
	if setColAlias(n.cols, name, alias) {
		n.notifyChanged()
		n.fanOut()
	}
}

// SetColumnKind overrides a column's declared type.
func (n *ModifyColumns) SetColumnKind(name string, kind columns.TypeKind) {
	if setColKind(n.cols, name, kind) {
		n.notifyChanged()
		n.fanOut()
	}
}

func (n *ModifyColumns) FinalColumns() []columns.Column {
	return columns.Output(n.cols)
}

func (n *ModifyColumns) OnUpstreamUpdated() {
	if n.primary == nil {
		// Keep the stored columns so customizations survive a
		// deserialize-then-reconnect gap.
		n.fanOut()
		return
	}
	n.cols = columns.MergePreserve(n.primary.FinalColumns(), n.cols)
	n.fanOut()
}

func (n *ModifyColumns) Validate() bool {
	n.issues.Clear()
	switch {
	case n.primary == nil:
		n.issues.QueryError = fmt.Errorf("no input connected")
	case !validInput(n.primary):
		n.issues.QueryError = upstreamIssue(n.primary)
	case len(columns.Checked(n.cols)) == 0:
		n.issues.QueryError = fmt.Errorf("no columns selected")
	default:
		n.issues.QueryError = columns.ValidateUniqueOutputNames(n.cols)
	}
	return n.issues.QueryError == nil
}

func (n *ModifyColumns) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	inner := compiledOrNil(n.primary)
	if inner == nil {
		return nil
	}
	return &sq.Query{
		ID:            n.id,
		InnerQuery:    inner,
		SelectColumns: checkedSelectColumns(n.cols),
	}
}

func (n *ModifyColumns) MarshalState() (json.RawMessage, error) {
	return json.Marshal(modifyColumnsState{
		Columns: n.cols,
		Input:   primaryID(n),
	})
}

func (n *ModifyColumns) ResolveInputs(byID map[string]Node) {
	resolvePrimary(n, n.pendingInput, byID)
	n.pendingInput = ""
}
