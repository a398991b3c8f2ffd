// Package columns defines the shared schema vocabulary used by every
// pipeline node: semantic columns, their type kinds, and the
// merge-preserve rules that keep user customizations alive across
// upstream schema changes.
package columns

import "fmt"

// TypeKind is the semantic type of a column.
type TypeKind string

// The closed set of column type kinds.
const (
	KindInt       TypeKind = "int"
	KindDouble    TypeKind = "double"
	KindBoolean   TypeKind = "boolean"
	KindString    TypeKind = "string"
	KindBytes     TypeKind = "bytes"
	KindTimestamp TypeKind = "timestamp"
	KindDuration  TypeKind = "duration"
	KindArgSetID  TypeKind = "arg_set_id"
	KindNA        TypeKind = "NA"
)

// IsNumeric reports whether the kind can back a numeric value column.
func (k TypeKind) IsNumeric() bool {
	switch k {
	case KindInt, KindDouble, KindTimestamp, KindDuration:
		return true
	}
	return false
}

// Column describes one column of a node's schema along with the
// user-facing customizations layered on top of it.
type Column struct {
	// Name is the upstream column name. It is the identity used by
	// merge-preserve; renames happen through Alias, never Name.
	Name string `json:"name"`
	// Kind is the column's type.
	Kind TypeKind `json:"kind"`
	// Checked marks the column as part of the node's output.
	Checked bool `json:"checked"`
	// Alias is an optional user-chosen output name.
	Alias string `json:"alias,omitempty"`
	// TypeUserModified is set when the user overrode Kind; an
	// overridden kind survives upstream recomputation.
	TypeUserModified bool `json:"type_user_modified,omitempty"`
}

// EffectiveName returns the output name of the column: the alias when
// present, the upstream name otherwise.
func (c Column) EffectiveName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// New returns a checked column with no customizations.
func New(name string, kind TypeKind) Column {
	return Column{Name: name, Kind: kind, Checked: true}
}

// MergePreserve derives the new column list from fresh upstream
// candidates while keeping user customizations (checked flag, alias,
// type override) for columns whose name still exists. Columns no longer
// present are dropped; newly appearing columns default to checked with
// no alias. The operation is idempotent.
func MergePreserve(fresh, prev []Column) []Column {
	return MergePreserveKeyed(fresh, prev, func(c Column) string { return c.Name })
}

// MergePreserveKeyed is MergePreserve with a caller-supplied comparison
// key, used by multi-input nodes that need name+source-index identity.
func MergePreserveKeyed(fresh, prev []Column, key func(Column) string) []Column {
	prevByKey := make(map[string]Column, len(prev))
	for _, c := range prev {
		prevByKey[key(c)] = c
	}

	out := make([]Column, 0, len(fresh))
	for _, c := range fresh {
		merged := c
		merged.Checked = true
		if old, ok := prevByKey[key(c)]; ok {
			merged.Checked = old.Checked
			merged.Alias = old.Alias
			if old.TypeUserModified {
				merged.Kind = old.Kind
				merged.TypeUserModified = true
			}
		}
		out = append(out, merged)
	}
	return out
}

// Checked returns the columns with the checked flag set, in order.
func Checked(cols []Column) []Column {
	var out []Column
	for _, c := range cols {
		if c.Checked {
			out = append(out, c)
		}
	}
	return out
}

// Output projects a node's column list into the schema its dependents
// see: only checked columns, aliases folded into names, customizations
// reset.
func Output(cols []Column) []Column {
	var out []Column
	for _, c := range cols {
		if !c.Checked {
			continue
		}
		out = append(out, Column{Name: c.EffectiveName(), Kind: c.Kind, Checked: true})
	}
	return out
}

// Names returns the upstream names of the given columns, in order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// FindByName returns the first column with the given upstream name.
func FindByName(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// DuplicateEffectiveName returns the first output name shared by two or
// more columns, enforcing the unique-output-name invariant.
func DuplicateEffectiveName(cols []Column) (string, bool) {
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		name := c.EffectiveName()
		if _, ok := seen[name]; ok {
			return name, true
		}
		seen[name] = struct{}{}
	}
	return "", false
}

// ValidateUniqueOutputNames returns an error naming the first duplicated
// effective output name among the checked columns.
func ValidateUniqueOutputNames(cols []Column) error {
	if dup, ok := DuplicateEffectiveName(Checked(cols)); ok {
		return fmt.Errorf("duplicate output column name %q", dup)
	}
	return nil
}
