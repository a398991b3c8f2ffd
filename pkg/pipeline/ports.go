package pipeline

import (
	"fmt"
	"sort"
)

// SecondaryInputs is the arity-bounded, positionally addressed slot map
// for nodes taking more than one upstream. Ports are sparse: port 2 may
// be connected while port 1 is free.
type SecondaryInputs struct {
	min      int
	max      int // negative means unbounded
	nodes    map[int]Node
	portName func(int) string
}

func newSecondaryInputs(min, max int, portName func(int) string) *SecondaryInputs {
	return &SecondaryInputs{
		min:      min,
		max:      max,
		nodes:    make(map[int]Node),
		portName: portName,
	}
}

// Min is the declared minimum number of connected inputs.
func (s *SecondaryInputs) Min() int { return s.min }

// Max is the declared maximum number of inputs; negative means unbounded.
func (s *SecondaryInputs) Max() int { return s.max }

// Count is the number of connected inputs.
func (s *SecondaryInputs) Count() int { return len(s.nodes) }

// At returns the node connected to the given port, or nil.
func (s *SecondaryInputs) At(port int) Node { return s.nodes[port] }

// PortName returns the placeholder name for a port.
func (s *SecondaryInputs) PortName(port int) string {
	if s.portName != nil {
		return s.portName(port)
	}
	return fmt.Sprintf("Input %d", port)
}

// PortEntry is one connected port.
type PortEntry struct {
	Port int
	Node Node
}

// Ordered returns the connected inputs sorted by port index.
func (s *SecondaryInputs) Ordered() []PortEntry {
	out := make([]PortEntry, 0, len(s.nodes))
	for port, n := range s.nodes {
		out = append(out, PortEntry{Port: port, Node: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Nodes returns the connected inputs in port order.
func (s *SecondaryInputs) Nodes() []Node {
	entries := s.Ordered()
	out := make([]Node, len(entries))
	for i, e := range entries {
		out[i] = e.Node
	}
	return out
}

func (s *SecondaryInputs) connect(port int, n Node) error {
	if n == nil {
		return fmt.Errorf("cannot connect a nil node")
	}
	if port < 0 {
		return fmt.Errorf("port index %d is negative", port)
	}
	if s.max >= 0 && port >= s.max {
		return fmt.Errorf("port index %d exceeds the maximum of %d inputs", port, s.max)
	}
	s.nodes[port] = n
	return nil
}

func (s *SecondaryInputs) disconnect(port int) Node {
	n := s.nodes[port]
	delete(s.nodes, port)
	return n
}

func (s *SecondaryInputs) has(n Node) bool {
	for _, c := range s.nodes {
		if c == n {
			return true
		}
	}
	return false
}

func (s *SecondaryInputs) nextFreePort() (int, error) {
	for port := 0; s.max < 0 || port < s.max; port++ {
		if _, taken := s.nodes[port]; !taken {
			return port, nil
		}
	}
	return 0, fmt.Errorf("all %d ports are connected", s.max)
}

// refs serializes the connected ports as id references.
func (s *SecondaryInputs) refs() []portRef {
	entries := s.Ordered()
	out := make([]portRef, len(entries))
	for i, e := range entries {
		out[i] = portRef{Port: e.Port, NodeID: e.Node.ID()}
	}
	return out
}

func errNoSecondaryInputs(n Node) error {
	return fmt.Errorf("node %q has no secondary inputs", n.Type())
}
