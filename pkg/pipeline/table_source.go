package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// TableSource exposes the full column list of a named backing table.
// Lineage is a trivial pass-through of the declared table columns.
type TableSource struct {
	base
	table   string
	module  string
	backing []columns.Column
	cols    []columns.Column
}

type tableSourceState struct {
	Table   string           `json:"table"`
	Module  string           `json:"module,omitempty"`
	Columns []columns.Column `json:"columns"`
}

// NewTableSource creates a table source over the named table with the
// given backing column list.
func NewTableSource(table, module string, tableCols []columns.Column) *TableSource {
	n := &TableSource{
		base:    newBase("", TypeTableSource),
		table:   table,
		module:  module,
		backing: copyCols(tableCols),
	}
	n.cols = columns.MergePreserve(n.backing, nil)
	return n
}

// NewTableSourceFromState reconstructs a table source from serialized
// state, with empty connections.
func NewTableSourceFromState(id string, raw json.RawMessage) (*TableSource, error) {
	var st tableSourceState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("table source state: %w", err)
	}
	n := &TableSource{
		base:   newBase(id, TypeTableSource),
		table:  st.Table,
		module: st.Module,
		cols:   st.Columns,
	}
	for _, c := range st.Columns {
		n.backing = append(n.backing, columns.New(c.Name, c.Kind))
	}
	return n, nil
}

func (n *TableSource) Title() string {
	if n.table == "" {
		return "Table"
	}
	return n.table
}

// TableName returns the backing table's name.
func (n *TableSource) TableName() string { return n.table }

// Columns returns the node's column list with customizations.
func (n *TableSource) Columns() []columns.Column { return copyCols(n.cols) }

// SetColumnChecked toggles a column in or out of the output.
func (n *TableSource) SetColumnChecked(name string, checked bool) {
	if setColChecked(n.cols, name, checked) {
		n.notifyChanged()
		n.fanOut()
	}
}

// SetColumnAlias renames a column in the output.
func (n *TableSource) SetColumnAlias(name, alias string) {
	if setColAlias(n.cols, name, alias) {
		n.notifyChanged()
		n.fanOut()
	}
}

// SetColumnKind overrides a column's declared type.
func (n *TableSource) SetColumnKind(name string, kind columns.TypeKind) {
	if setColKind(n.cols, name, kind) {
		n.notifyChanged()
		n.fanOut()
	}
}

func (n *TableSource) FinalColumns() []columns.Column {
	return columns.Output(n.cols)
}

func (n *TableSource) OnUpstreamUpdated() {
	n.cols = columns.MergePreserve(n.backing, n.cols)
	n.fanOut()
}

func (n *TableSource) Validate() bool {
	n.issues.Clear()
	switch {
	case n.table == "":
		n.issues.QueryError = fmt.Errorf("no table selected")
	case len(columns.Checked(n.cols)) == 0:
		n.issues.QueryError = fmt.Errorf("no columns selected")
	default:
		n.issues.QueryError = columns.ValidateUniqueOutputNames(n.cols)
	}
	return n.issues.QueryError == nil
}

func (n *TableSource) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	return &sq.Query{
		ID:            n.id,
		Table:         &sq.Table{Name: n.table, Module: n.module},
		SelectColumns: checkedSelectColumns(n.cols),
	}
}

func (n *TableSource) MarshalState() (json.RawMessage, error) {
	return json.Marshal(tableSourceState{
		Table:   n.table,
		Module:  n.module,
		Columns: n.cols,
	})
}

func (n *TableSource) ResolveInputs(map[string]Node) {}
