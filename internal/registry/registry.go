// Package registry provides the node descriptor catalog used to offer
// node creation menus and to reconstruct nodes from persisted graphs.
// The compiler itself has no dependency on it.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/quarrylabs/quarry/pkg/pipeline"
)

// Descriptor describes one creatable node kind.
type Descriptor struct {
	// Name is the menu label.
	Name string
	// Description is a one-line summary shown alongside the name.
	Description string
	// Icon names the glyph a frontend renders for the node.
	Icon string
	// Type is the node variant tag the descriptor constructs.
	Type pipeline.Type
	// Hotkey is an optional single-character shortcut.
	Hotkey string
	// Factory reconstructs a node from serialized state. An empty id
	// generates a fresh one.
	Factory func(id string, state json.RawMessage) (pipeline.Node, error)
}

// Catalog maps node types to their descriptors.
type Catalog struct {
	mu     sync.RWMutex
	byType map[pipeline.Type]Descriptor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byType: make(map[pipeline.Type]Descriptor)}
}

// Register adds a descriptor to the catalog, replacing any previous
// descriptor for the same type.
func (c *Catalog) Register(d Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[d.Type] = d
}

// Get retrieves a descriptor by node type.
func (c *Catalog) Get(typ pipeline.Type) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byType[typ]
	return d, ok
}

// All returns every registered descriptor, sorted by name.
func (c *Catalog) All() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.byType))
	for _, d := range c.byType {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create instantiates a node of the given type from serialized state.
func (c *Catalog) Create(typ pipeline.Type, id string, state json.RawMessage) (pipeline.Node, error) {
	d, ok := c.Get(typ)
	if !ok {
		return nil, fmt.Errorf("no descriptor registered for node type %q", typ)
	}
	return d.Factory(id, state)
}

// Default returns a catalog with every built-in node kind registered.
func Default() *Catalog {
	c := NewCatalog()
	for _, d := range builtins() {
		c.Register(d)
	}
	return c
}

func builtins() []Descriptor {
	factory := func(typ pipeline.Type) func(string, json.RawMessage) (pipeline.Node, error) {
		return func(id string, state json.RawMessage) (pipeline.Node, error) {
			return pipeline.NodeFromState(typ, id, state)
		}
	}
	return []Descriptor{
		{
			Name:        "Table",
			Description: "Read all columns of a trace table",
			Icon:        "table",
			Type:        pipeline.TypeTableSource,
			Hotkey:      "t",
			Factory:     factory(pipeline.TypeTableSource),
		},
		{
			Name:        "SQL",
			Description: "Write a query by hand, with optional node references",
			Icon:        "code",
			Type:        pipeline.TypeSQLSource,
			Hotkey:      "s",
			Factory:     factory(pipeline.TypeSQLSource),
		},
		{
			Name:        "Union",
			Description: "Stack rows from inputs sharing the same columns",
			Icon:        "merge",
			Type:        pipeline.TypeUnion,
			Hotkey:      "u",
			Factory:     factory(pipeline.TypeUnion),
		},
		{
			Name:        "Interval intersect",
			Description: "Join interval tables on time overlap",
			Icon:        "join_inner",
			Type:        pipeline.TypeIntervalIntersect,
			Hotkey:      "i",
			Factory:     factory(pipeline.TypeIntervalIntersect),
		},
		{
			Name:        "Create slices",
			Description: "Pair start and end events into slices",
			Icon:        "content_cut",
			Type:        pipeline.TypeCreateSlices,
			Factory:     factory(pipeline.TypeCreateSlices),
		},
		{
			Name:        "Aggregation",
			Description: "Group rows and compute aggregate values",
			Icon:        "functions",
			Type:        pipeline.TypeAggregation,
			Hotkey:      "a",
			Factory:     factory(pipeline.TypeAggregation),
		},
		{
			Name:        "Metrics",
			Description: "Turn a numeric column into a named metric",
			Icon:        "monitoring",
			Type:        pipeline.TypeMetrics,
			Factory:     factory(pipeline.TypeMetrics),
		},
		{
			Name:        "Modify columns",
			Description: "Select, rename or retype columns",
			Icon:        "edit",
			Type:        pipeline.TypeModifyColumns,
			Hotkey:      "m",
			Factory:     factory(pipeline.TypeModifyColumns),
		},
	}
}
