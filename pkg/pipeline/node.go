// Package pipeline implements the query graph: typed transformation
// nodes connected through ports, their column lineage and validation
// rules, and the compilation of a reachable subgraph into a single
// structured query.
//
// Nodes never own their neighbors. The graph owner connects nodes with
// ConnectPrimary/ConnectSecondary and detaches them with Detach; on any
// upstream change a node recomputes its output schema and notifies its
// dependents depth-first, so a dependent never observes a half-updated
// upstream schema. Compilation and validation are synchronous and only
// mutate the node's own issue bag.
package pipeline

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// Type tags a node variant. The set is closed: only this package can
// implement Node.
type Type string

// Node variants.
const (
	TypeTableSource       Type = "table_source"
	TypeSQLSource         Type = "sql_source"
	TypeUnion             Type = "union"
	TypeIntervalIntersect Type = "interval_intersect"
	TypeCreateSlices      Type = "create_slices"
	TypeAggregation       Type = "aggregation"
	TypeMetrics           Type = "metrics"
	TypeModifyColumns     Type = "modify_columns"
)

// Node is the common contract of every pipeline node.
type Node interface {
	// ID is the process-unique node id, generated once at construction.
	ID() string
	// Type is the variant tag.
	Type() Type
	// Title is the human-readable name used in messages that point at
	// an upstream node.
	Title() string
	// Issues is the node's mutable issue bag.
	Issues() *Issues
	// Subscribe registers a callback invoked whenever the node's
	// configuration changes.
	Subscribe(fn func())

	// FinalColumns is the ordered, checked-only output schema as seen
	// by dependents: aliases applied, customizations folded in.
	FinalColumns() []columns.Column
	// OnUpstreamUpdated recomputes the node's output schema from the
	// current upstream schema(s) and fans the change out to
	// dependents. It must be idempotent for unchanged upstreams.
	OnUpstreamUpdated()
	// Validate re-derives the node's issues from its current
	// configuration and returns whether the node can compile.
	Validate() bool
	// StructuredQuery compiles the subgraph rooted at this node. A nil
	// result means validation failed or a dependency could not
	// compile; it is a control-flow signal, not an error.
	StructuredQuery() *sq.Query

	// MarshalState serializes the node's variant-specific
	// configuration, with input references as node ids.
	MarshalState() (json.RawMessage, error)
	// ResolveInputs wires the input ids remembered from deserialized
	// state against the given id map, silently dropping ids that are
	// absent from it.
	ResolveInputs(byID map[string]Node)

	// PrimaryInput is the zero-or-one primary upstream.
	PrimaryInput() Node
	// SecondaryInputs is the arity-bounded secondary slot map, nil for
	// nodes without secondary ports.
	SecondaryInputs() *SecondaryInputs
	// Downstream lists dependents, used only for notification.
	Downstream() []Node

	setPrimaryInput(Node)
	addDownstream(Node)
	removeDownstream(Node)
}

// portRef is a serialized secondary-input reference.
type portRef struct {
	Port   int    `json:"port"`
	NodeID string `json:"node_id"`
}

// base carries the state shared by all node variants.
type base struct {
	id         string
	typ        Type
	issues     Issues
	primary    Node
	downstream []Node
	observers  []func()
}

func newBase(id string, typ Type) base {
	if id == "" {
		id = uuid.NewString()
	}
	return base{id: id, typ: typ}
}

func (b *base) ID() string                     { return b.id }
func (b *base) Type() Type                     { return b.typ }
func (b *base) Issues() *Issues                { return &b.issues }
func (b *base) Subscribe(fn func())            { b.observers = append(b.observers, fn) }
func (b *base) PrimaryInput() Node             { return b.primary }
func (b *base) setPrimaryInput(n Node)         { b.primary = n }
func (b *base) SecondaryInputs() *SecondaryInputs { return nil }

func (b *base) Downstream() []Node {
	out := make([]Node, len(b.downstream))
	copy(out, b.downstream)
	return out
}

func (b *base) addDownstream(n Node) {
	for _, d := range b.downstream {
		if d == n {
			return
		}
	}
	b.downstream = append(b.downstream, n)
}

func (b *base) removeDownstream(n Node) {
	for i, d := range b.downstream {
		if d == n {
			b.downstream = append(b.downstream[:i], b.downstream[i+1:]...)
			return
		}
	}
}

// notifyChanged tells configuration observers the node changed.
func (b *base) notifyChanged() {
	for _, fn := range b.observers {
		fn()
	}
}

// fanOut notifies dependents after the node's own recompute finished.
// The snapshot guards against dependents mutating the list mid-walk.
func (b *base) fanOut() {
	for _, d := range b.Downstream() {
		d.OnUpstreamUpdated()
	}
}

// ConnectPrimary makes up the primary input of down and recomputes
// down's lineage. A previous primary input is disconnected first.
func ConnectPrimary(up, down Node) {
	if prev := down.PrimaryInput(); prev != nil {
		prev.removeDownstream(down)
	}
	down.setPrimaryInput(up)
	if up != nil {
		up.addDownstream(down)
	}
	down.OnUpstreamUpdated()
}

// DisconnectPrimary removes down's primary input.
func DisconnectPrimary(down Node) {
	ConnectPrimary(nil, down)
}

// ConnectSecondary connects up to the given secondary port of down. A
// previous occupant of the port is disconnected first, mirroring
// ConnectPrimary.
func ConnectSecondary(up, down Node, port int) error {
	si := down.SecondaryInputs()
	if si == nil {
		return errNoSecondaryInputs(down)
	}
	if prev := si.At(port); prev != nil && prev != up {
		si.disconnect(port)
		// Keep the downstream link when the same upstream still feeds
		// another port.
		if !si.has(prev) {
			prev.removeDownstream(down)
		}
	}
	if err := si.connect(port, up); err != nil {
		return err
	}
	up.addDownstream(down)
	down.OnUpstreamUpdated()
	return nil
}

// ConnectNextSecondary connects up to the first free secondary port of
// down and returns the port index.
func ConnectNextSecondary(up, down Node) (int, error) {
	si := down.SecondaryInputs()
	if si == nil {
		return 0, errNoSecondaryInputs(down)
	}
	port, err := si.nextFreePort()
	if err != nil {
		return 0, err
	}
	return port, ConnectSecondary(up, down, port)
}

// DisconnectSecondary clears the given secondary port of down.
func DisconnectSecondary(down Node, port int) {
	si := down.SecondaryInputs()
	if si == nil {
		return
	}
	if up := si.disconnect(port); up != nil {
		// Keep the downstream link when the same upstream still feeds
		// another port.
		if !si.has(up) {
			up.removeDownstream(down)
		}
		down.OnUpstreamUpdated()
	}
}

// Detach removes every connection touching n: its upstreams forget it
// as a dependent and its dependents drop their references to it, each
// recomputing their lineage. The node itself is left intact.
func Detach(n Node) {
	if prev := n.PrimaryInput(); prev != nil {
		prev.removeDownstream(n)
		n.setPrimaryInput(nil)
	}
	if si := n.SecondaryInputs(); si != nil {
		for _, e := range si.Ordered() {
			DisconnectSecondary(n, e.Port)
		}
	}
	for _, d := range n.Downstream() {
		if d.PrimaryInput() == n {
			d.setPrimaryInput(nil)
		}
		if si := d.SecondaryInputs(); si != nil {
			for _, e := range si.Ordered() {
				if e.Node == n {
					si.disconnect(e.Port)
				}
			}
		}
		n.removeDownstream(d)
		d.OnUpstreamUpdated()
	}
}

// compiledOrNil compiles an upstream node, translating a missing input
// into the silent no-result signal.
func compiledOrNil(n Node) *sq.Query {
	if n == nil {
		return nil
	}
	return n.StructuredQuery()
}
