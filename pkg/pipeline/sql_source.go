package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
	"github.com/quarrylabs/quarry/pkg/sqlshape"
)

// SQLSource holds literal query text plus any number of secondary
// inputs addressed inside the text by positional $input_<N>
// placeholders. The text must be a single SELECT-family statement with
// an optional module-include prologue; validation checks only that
// statement shape, never full SQL correctness.
type SQLSource struct {
	base
	secondary *SecondaryInputs
	sqlText   string
	cols      []columns.Column

	pendingInputs []portRef
}

type sqlSourceState struct {
	SQL     string           `json:"sql"`
	Columns []columns.Column `json:"columns,omitempty"`
	Inputs  []portRef        `json:"inputs,omitempty"`
}

// NewSQLSource creates a raw-SQL source over the given text.
func NewSQLSource(sqlText string) *SQLSource {
	return &SQLSource{
		base:      newBase("", TypeSQLSource),
		secondary: newSecondaryInputs(0, -1, sqlPortName),
		sqlText:   sqlText,
	}
}

// NewSQLSourceFromState reconstructs a SQL source from serialized
// state, with empty connections.
func NewSQLSourceFromState(id string, raw json.RawMessage) (*SQLSource, error) {
	var st sqlSourceState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("sql source state: %w", err)
	}
	return &SQLSource{
		base:          newBase(id, TypeSQLSource),
		secondary:     newSecondaryInputs(0, -1, sqlPortName),
		sqlText:       st.SQL,
		cols:          st.Columns,
		pendingInputs: st.Inputs,
	}, nil
}

func sqlPortName(port int) string {
	return fmt.Sprintf("$input_%d", port)
}

func (n *SQLSource) Title() string { return "SQL" }

func (n *SQLSource) SecondaryInputs() *SecondaryInputs { return n.secondary }

// SQLText returns the literal query text.
func (n *SQLSource) SQLText() string { return n.sqlText }

// SetSQLText replaces the query text.
func (n *SQLSource) SetSQLText(text string) {
	n.sqlText = text
	n.notifyChanged()
}

// Columns returns the node's declared output columns.
func (n *SQLSource) Columns() []columns.Column { return copyCols(n.cols) }

// SetColumns replaces the declared output columns, typically after
// tooling ran the query against the engine and observed its result
// schema. Customizations on surviving columns are kept.
func (n *SQLSource) SetColumns(cols []columns.Column) {
	n.cols = columns.MergePreserve(cols, n.cols)
	n.notifyChanged()
	n.fanOut()
}

// SetColumnChecked toggles a column in or out of the output.
func (n *SQLSource) SetColumnChecked(name string, checked bool) {
	if setColChecked(n.cols, name, checked) {
		n.notifyChanged()
		n.fanOut()
	}
}

func (n *SQLSource) FinalColumns() []columns.Column {
	return columns.Output(n.cols)
}

// OnUpstreamUpdated is a no-op for the declared schema: a SQL source's
// output columns come from its own text, not from its inputs.
func (n *SQLSource) OnUpstreamUpdated() {
	n.fanOut()
}

func (n *SQLSource) Validate() bool {
	n.issues.Clear()
	if err := sqlshape.ValidateQueryShape(n.sqlText); err != nil {
		n.issues.QueryError = err
		return false
	}
	connected := make(map[string]struct{})
	for _, e := range n.secondary.Ordered() {
		connected[sqlPortName(e.Port)[1:]] = struct{}{}
	}
	for _, name := range sqlshape.Placeholders(n.sqlText) {
		if _, ok := connected[name]; !ok {
			n.issues.AddWarning(fmt.Sprintf("placeholder $%s has no connected input", name))
		}
	}
	return true
}

func (n *SQLSource) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	var deps []sq.Dependency
	for _, e := range n.secondary.Ordered() {
		q := compiledOrNil(e.Node)
		if q == nil {
			return nil
		}
		deps = append(deps, sq.Dependency{Alias: fmt.Sprintf("input_%d", e.Port), Query: q})
	}
	return &sq.Query{
		ID:            n.id,
		SQL:           &sq.SQL{SQL: n.sqlText, Dependencies: deps},
		SelectColumns: checkedSelectColumns(n.cols),
	}
}

func (n *SQLSource) MarshalState() (json.RawMessage, error) {
	return json.Marshal(sqlSourceState{
		SQL:     n.sqlText,
		Columns: n.cols,
		Inputs:  n.secondary.refs(),
	})
}

func (n *SQLSource) ResolveInputs(byID map[string]Node) {
	resolveSecondary(n, n.pendingInputs, byID)
	n.pendingInputs = nil
}

// resolveSecondary wires serialized secondary references, silently
// dropping ids absent from the map.
func resolveSecondary(down Node, refs []portRef, byID map[string]Node) {
	for _, ref := range refs {
		if up, ok := byID[ref.NodeID]; ok {
			_ = ConnectSecondary(up, down, ref.Port)
		}
	}
}
