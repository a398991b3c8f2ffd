// Package serialize persists whole pipeline graphs as JSON documents.
// Nodes are stored flat with id-based input references; loading is a
// two-pass protocol so the node order inside a document never matters.
package serialize

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/pipeline"
)

// Version is the current document format version.
const Version = 1

// Document is the on-disk shape of a serialized graph.
type Document struct {
	Version int         `json:"version"`
	Nodes   []NodeEntry `json:"nodes"`
}

// NodeEntry is one serialized node: its identity plus the
// variant-specific state blob, which embeds input ids.
type NodeEntry struct {
	ID    string          `json:"id"`
	Type  pipeline.Type   `json:"type"`
	State json.RawMessage `json:"state"`
}

// Marshal serializes the given nodes into a document.
func Marshal(nodes []pipeline.Node) ([]byte, error) {
	doc := Document{Version: Version, Nodes: make([]NodeEntry, 0, len(nodes))}
	for _, n := range nodes {
		state, err := n.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("serialize node %s: %w", n.ID(), err)
		}
		doc.Nodes = append(doc.Nodes, NodeEntry{ID: n.ID(), Type: n.Type(), State: state})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal loads a document back into live nodes. Pass 1 instantiates
// every node with empty connections; pass 2 resolves input ids against
// the instantiated set, silently dropping references to absent ids.
// Lineage is recomputed from the source nodes once wiring is complete.
func Unmarshal(data []byte) ([]pipeline.Node, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse graph document: %w", err)
	}
	if doc.Version > Version {
		return nil, fmt.Errorf("graph document version %d is newer than supported version %d",
			doc.Version, Version)
	}

	nodes := make([]pipeline.Node, 0, len(doc.Nodes))
	byID := make(map[string]pipeline.Node, len(doc.Nodes))
	for _, e := range doc.Nodes {
		n, err := pipeline.NodeFromState(e.Type, e.ID, e.State)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", e.ID, err)
		}
		nodes = append(nodes, n)
		byID[n.ID()] = n
	}

	for _, n := range nodes {
		n.ResolveInputs(byID)
	}

	for _, n := range nodes {
		if isRoot(n) {
			n.OnUpstreamUpdated()
		}
	}
	return nodes, nil
}

// isRoot reports whether a node has no connected inputs. Roots seed the
// post-load lineage recomputation, which then fans out to dependents.
func isRoot(n pipeline.Node) bool {
	if n.PrimaryInput() != nil {
		return false
	}
	if si := n.SecondaryInputs(); si != nil && si.Count() > 0 {
		return false
	}
	return true
}
