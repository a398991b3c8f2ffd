package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// Ports of a create-slices node.
const (
	slicePortStarts = 0
	slicePortEnds   = 1
)

// SliceBoundMode selects how one side of a create-slices node yields its
// boundary timestamp.
type SliceBoundMode string

// Slice bound modes.
const (
	// BoundTs uses a designated timestamp column directly.
	BoundTs SliceBoundMode = "ts"
	// BoundTsDur computes the boundary as timestamp plus duration.
	BoundTsDur SliceBoundMode = "ts_dur"
)

// SliceBound configures one side (starts or ends) of a create-slices
// node. Empty column names auto-default during validation when the
// input has exactly one candidate of the required type.
type SliceBound struct {
	Mode      SliceBoundMode `json:"mode"`
	TsColumn  string         `json:"ts_column,omitempty"`
	DurColumn string         `json:"dur_column,omitempty"`
}

// CreateSlices pairs start events with end events into slices. It takes
// exactly two named inputs, Starts and Ends, each independently
// configured to produce its boundary timestamp. The output schema is
// always {ts, dur} regardless of the input schemas.
type CreateSlices struct {
	base
	secondary *SecondaryInputs
	starts    SliceBound
	ends      SliceBound

	pendingInputs []portRef
}

type createSlicesState struct {
	Starts SliceBound `json:"starts"`
	Ends   SliceBound `json:"ends"`
	Inputs []portRef  `json:"inputs,omitempty"`
}

// NewCreateSlices creates an empty create-slices node with both sides in
// direct-timestamp mode.
func NewCreateSlices() *CreateSlices {
	return &CreateSlices{
		base:      newBase("", TypeCreateSlices),
		secondary: newSecondaryInputs(2, 2, slicePortName),
		starts:    SliceBound{Mode: BoundTs},
		ends:      SliceBound{Mode: BoundTs},
	}
}

// NewCreateSlicesFromState reconstructs a create-slices node from
// serialized state, with empty connections.
func NewCreateSlicesFromState(id string, raw json.RawMessage) (*CreateSlices, error) {
	var st createSlicesState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("create slices state: %w", err)
	}
	n := &CreateSlices{
		base:          newBase(id, TypeCreateSlices),
		secondary:     newSecondaryInputs(2, 2, slicePortName),
		starts:        st.Starts,
		ends:          st.Ends,
		pendingInputs: st.Inputs,
	}
	if n.starts.Mode == "" {
		n.starts.Mode = BoundTs
	}
	if n.ends.Mode == "" {
		n.ends.Mode = BoundTs
	}
	return n, nil
}

func slicePortName(port int) string {
	if port == slicePortStarts {
		return "Starts"
	}
	return "Ends"
}

func (n *CreateSlices) Title() string { return "Create slices" }

func (n *CreateSlices) SecondaryInputs() *SecondaryInputs { return n.secondary }

// Starts returns the starts-side configuration.
func (n *CreateSlices) Starts() SliceBound { return n.starts }

// Ends returns the ends-side configuration.
func (n *CreateSlices) Ends() SliceBound { return n.ends }

// SetStarts replaces the starts-side configuration.
func (n *CreateSlices) SetStarts(b SliceBound) {
	n.starts = b
	n.notifyChanged()
}

// SetEnds replaces the ends-side configuration.
func (n *CreateSlices) SetEnds(b SliceBound) {
	n.ends = b
	n.notifyChanged()
}

// FinalColumns is fixed: slices always expose a timestamp and a duration.
func (n *CreateSlices) FinalColumns() []columns.Column {
	return []columns.Column{
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
	}
}

// OnUpstreamUpdated only fans out: the output schema never depends on
// the inputs, but column auto-defaulting in Validate does.
func (n *CreateSlices) OnUpstreamUpdated() {
	n.fanOut()
}

// resolveBound fills unset column names when the input has exactly one
// candidate of the required kind, and returns the resolved bound.
func resolveBound(b SliceBound, input Node) (SliceBound, error) {
	cols := input.FinalColumns()
	if b.TsColumn == "" {
		name, err := uniqueColumnOfKind(cols, columns.KindTimestamp)
		if err != nil {
			return b, fmt.Errorf("timestamp column: %w", err)
		}
		b.TsColumn = name
	} else if _, ok := columns.FindByName(cols, b.TsColumn); !ok {
		return b, fmt.Errorf("timestamp column %q does not exist in the input", b.TsColumn)
	}
	if b.Mode == BoundTsDur {
		if b.DurColumn == "" {
			name, err := uniqueColumnOfKind(cols, columns.KindDuration)
			if err != nil {
				return b, fmt.Errorf("duration column: %w", err)
			}
			b.DurColumn = name
		} else if _, ok := columns.FindByName(cols, b.DurColumn); !ok {
			return b, fmt.Errorf("duration column %q does not exist in the input", b.DurColumn)
		}
	}
	return b, nil
}

func uniqueColumnOfKind(cols []columns.Column, kind columns.TypeKind) (string, error) {
	var found []string
	for _, c := range cols {
		if c.Kind == kind {
			found = append(found, c.Name)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("the input has no %s column", kind)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("the input has %d %s columns, pick one explicitly", len(found), kind)
	}
}

func (n *CreateSlices) Validate() bool {
	n.issues.Clear()
	for _, port := range []int{slicePortStarts, slicePortEnds} {
		in := n.secondary.At(port)
		if in == nil {
			n.issues.QueryError = fmt.Errorf("the %s input is not connected", slicePortName(port))
			return false
		}
		if !validInput(in) {
			n.issues.QueryError = upstreamIssue(in)
			return false
		}
		bound := n.starts
		if port == slicePortEnds {
			bound = n.ends
		}
		if _, err := resolveBound(bound, in); err != nil {
			n.issues.QueryError = fmt.Errorf("%s: %w", slicePortName(port), err)
			return false
		}
	}
	return true
}

func (n *CreateSlices) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	starts, startsTs := n.sideQuery(slicePortStarts)
	ends, endsTs := n.sideQuery(slicePortEnds)
	if starts == nil || ends == nil {
		return nil
	}
	return &sq.Query{
		ID: n.id,
		CreateSlices: &sq.CreateSlices{
			Starts:         starts,
			Ends:           ends,
			StartsTsColumn: startsTs,
			EndsTsColumn:   endsTs,
		},
	}
}

// sideQuery compiles one side. In ts mode the input's query is used
// directly with its resolved timestamp column. In ts_dur mode the input
// is wrapped in a synthetic select exposing one computed end-timestamp
// column under a deterministic id derived from this node's id and side.
func (n *CreateSlices) sideQuery(port int) (*sq.Query, string) {
	in := n.secondary.At(port)
	bound := n.starts
	if port == slicePortEnds {
		bound = n.ends
	}
	resolved, err := resolveBound(bound, in)
	if err != nil {
		return nil, ""
	}
	q := compiledOrNil(in)
	if q == nil {
		return nil, ""
	}
	if resolved.Mode != BoundTsDur {
		return q, resolved.TsColumn
	}

	side := slicePortName(port)
	colName := fmt.Sprintf("%s_end_ts", side)
	return &sq.Query{
		ID:         fmt.Sprintf("%s_%s_end_ts", n.id, side),
		InnerQuery: q,
		SelectColumns: []sq.SelectColumn{{
			Name:  fmt.Sprintf("%s + %s", resolved.TsColumn, resolved.DurColumn),
			Alias: colName,
		}},
	}, colName
}

func (n *CreateSlices) MarshalState() (json.RawMessage, error) {
	return json.Marshal(createSlicesState{
		Starts: n.starts,
		Ends:   n.ends,
		Inputs: n.secondary.refs(),
	})
}

func (n *CreateSlices) ResolveInputs(byID map[string]Node) {
	resolveSecondary(n, n.pendingInputs, byID)
	n.pendingInputs = nil
}
