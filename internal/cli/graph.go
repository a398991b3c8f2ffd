package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/serialize"
	"github.com/quarrylabs/quarry/internal/state"
	"github.com/quarrylabs/quarry/pkg/pipeline"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// openStore opens the graph state database, creating its directory if
// needed.
func openStore(cfg *config.Config) (*state.Store, error) {
	if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return state.Open(cfg.StatePath)
}

// loadGraph loads a graph document either from a file (when file is
// non-empty) or from the state store by name, and instantiates its nodes.
func loadGraph(cfg *config.Config, name, file string) ([]pipeline.Node, error) {
	var data []byte
	switch {
	case file != "":
		var err error
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read graph file: %w", err)
		}
	case name != "":
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		defer func() { _ = store.Close() }()
		data, err = store.LoadGraph(name)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("a graph name or --file is required")
	}
	return serialize.Unmarshal(data)
}

// selectNode picks the node to compile. An explicit selector matches a
// node id or title; otherwise the graph must have exactly one sink.
func selectNode(nodes []pipeline.Node, selector string) (pipeline.Node, error) {
	if selector != "" {
		for _, n := range nodes {
			if n.ID() == selector || n.Title() == selector {
				return n, nil
			}
		}
		return nil, fmt.Errorf("no node with id or title %q", selector)
	}

	var sinks []pipeline.Node
	for _, n := range nodes {
		if len(n.Downstream()) == 0 {
			sinks = append(sinks, n)
		}
	}
	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("the graph has no sink node")
	case 1:
		return sinks[0], nil
	}

	names := make([]string, len(sinks))
	for i, n := range sinks {
		names[i] = fmt.Sprintf("%s (%s)", n.Title(), n.ID())
	}
	sort.Strings(names)
	return nil, fmt.Errorf("the graph has %d sinks, pick one with --node: %s",
		len(sinks), strings.Join(names, ", "))
}

// compileNode validates the selected node and compiles its subgraph.
func compileNode(n pipeline.Node) (*sq.Query, error) {
	if !n.Validate() {
		return nil, fmt.Errorf("node %q is not valid: %v", n.Title(), n.Issues().FirstError())
	}
	q := n.StructuredQuery()
	if q == nil {
		return nil, fmt.Errorf("node %q did not compile: %v", n.Title(), n.Issues().FirstError())
	}
	return q, nil
}
