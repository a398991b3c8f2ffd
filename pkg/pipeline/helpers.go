package pipeline

import (
	"fmt"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

func copyCols(cols []columns.Column) []columns.Column {
	out := make([]columns.Column, len(cols))
	copy(out, cols)
	return out
}

func setColChecked(cols []columns.Column, name string, checked bool) bool {
	for i := range cols {
		if cols[i].Name == name {
			cols[i].Checked = checked
			return true
		}
	}
	return false
}

func setColAlias(cols []columns.Column, name, alias string) bool {
	for i := range cols {
		if cols[i].Name == name {
			cols[i].Alias = alias
			return true
		}
	}
	return false
}

func setColKind(cols []columns.Column, name string, kind columns.TypeKind) bool {
	for i := range cols {
		if cols[i].Name == name {
			cols[i].Kind = kind
			cols[i].TypeUserModified = true
			return true
		}
	}
	return false
}

// checkedSelectColumns projects the checked columns into select-columns
// directives, carrying aliases through.
func checkedSelectColumns(cols []columns.Column) []sq.SelectColumn {
	var out []sq.SelectColumn
	for _, c := range cols {
		if !c.Checked {
			continue
		}
		out = append(out, sq.SelectColumn{Name: c.Name, Alias: c.Alias})
	}
	return out
}

// primaryID serializes a primary-input reference as a node id.
func primaryID(n Node) string {
	if p := n.PrimaryInput(); p != nil {
		return p.ID()
	}
	return ""
}

// resolvePrimary wires a serialized primary reference, silently dropping
// an id absent from the map.
func resolvePrimary(down Node, id string, byID map[string]Node) {
	if id == "" {
		return
	}
	if up, ok := byID[id]; ok {
		ConnectPrimary(up, down)
	}
}

// upstreamIssue builds the error for a node whose upstream failed its
// own validation, naming the failing node so the root cause is
// locatable without walking the graph.
func upstreamIssue(up Node) error {
	if cause := up.Issues().FirstError(); cause != nil {
		return fmt.Errorf("input node %q is invalid: %v", up.Title(), cause)
	}
	return fmt.Errorf("input node %q is invalid", up.Title())
}

// validInput re-validates an upstream node lazily.
func validInput(up Node) bool {
	return up != nil && up.Validate()
}
