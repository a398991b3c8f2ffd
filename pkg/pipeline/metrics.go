package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// Metrics turns its input into a named metric: one numeric value column
// broken down by every other upstream column as a dimension. The
// dimension list is derived, never configured.
type Metrics struct {
	base
	valueColumn         string
	idPrefix            string
	unit                sq.MetricUnit
	customUnit          string
	polarity            sq.MetricPolarity
	dimensionUniqueness bool
	available           []columns.Column

	pendingInput string
}

type metricsState struct {
	ValueColumn         string            `json:"value_column,omitempty"`
	IDPrefix            string            `json:"id_prefix,omitempty"`
	Unit                sq.MetricUnit     `json:"unit,omitempty"`
	CustomUnit          string            `json:"custom_unit,omitempty"`
	Polarity            sq.MetricPolarity `json:"polarity,omitempty"`
	DimensionUniqueness bool              `json:"dimension_uniqueness,omitempty"`
	Columns             []columns.Column  `json:"columns,omitempty"`
	Input               string            `json:"input,omitempty"`
}

// NewMetrics creates an empty metrics node.
func NewMetrics() *Metrics {
	return &Metrics{base: newBase("", TypeMetrics)}
}

// NewMetricsFromState reconstructs a metrics node from serialized state,
// with empty connections.
func NewMetricsFromState(id string, raw json.RawMessage) (*Metrics, error) {
	var st metricsState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("metrics state: %w", err)
	}
	return &Metrics{
		base:                newBase(id, TypeMetrics),
		valueColumn:         st.ValueColumn,
		idPrefix:            st.IDPrefix,
		unit:                st.Unit,
		customUnit:          st.CustomUnit,
		polarity:            st.Polarity,
		dimensionUniqueness: st.DimensionUniqueness,
		available:           st.Columns,
		pendingInput:        st.Input,
	}, nil
}

func (n *Metrics) Title() string {
	if n.idPrefix != "" {
		return n.idPrefix
	}
	return "Metric"
}

// ValueColumn returns the chosen value column name, empty when unset.
func (n *Metrics) ValueColumn() string { return n.valueColumn }

// SetValueColumn designates the metric's value column.
func (n *Metrics) SetValueColumn(name string) {
	n.valueColumn = name
	n.notifyChanged()
	n.fanOut()
}

// SetIDPrefix sets the metric id prefix.
func (n *Metrics) SetIDPrefix(prefix string) {
	n.idPrefix = prefix
	n.notifyChanged()
}

// SetUnit sets the value unit, with the custom text used only for
// sq.UnitCustom.
func (n *Metrics) SetUnit(unit sq.MetricUnit, custom string) {
	n.unit = unit
	n.customUnit = custom
	n.notifyChanged()
}

// SetPolarity sets whether higher or lower values are better.
func (n *Metrics) SetPolarity(p sq.MetricPolarity) {
	n.polarity = p
	n.notifyChanged()
}

// SetDimensionUniqueness marks the dimension tuple as unique per row.
func (n *Metrics) SetDimensionUniqueness(unique bool) {
	n.dimensionUniqueness = unique
	n.notifyChanged()
}

// AvailableColumns returns the last observed upstream schema.
func (n *Metrics) AvailableColumns() []columns.Column { return copyCols(n.available) }

// GetDimensions returns every available column except the value column,
// independent of check state.
func (n *Metrics) GetDimensions() []string {
	var out []string
	for _, c := range n.available {
		if c.Name == n.valueColumn {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func (n *Metrics) FinalColumns() []columns.Column {
	return copyCols(n.available)
}

// OnUpstreamUpdated refreshes the available schema. The chosen value
// column survives a disconnected gap (deserialize-then-reconnect) and is
// cleared only once a connected upstream schema lacks it or makes it
// non-numeric.
func (n *Metrics) OnUpstreamUpdated() {
	if n.primary == nil {
		n.fanOut()
		return
	}
	n.available = n.primary.FinalColumns()
	if n.valueColumn != "" {
		c, ok := columns.FindByName(n.available, n.valueColumn)
		if !ok || !c.Kind.IsNumeric() {
			n.valueColumn = ""
		}
	}
	n.fanOut()
}

func (n *Metrics) Validate() bool {
	n.issues.Clear()
	switch {
	case n.primary == nil:
		n.issues.QueryError = fmt.Errorf("no input connected")
	case !validInput(n.primary):
		n.issues.QueryError = upstreamIssue(n.primary)
	case n.valueColumn == "":
		n.issues.QueryError = fmt.Errorf("no value column selected")
	case strings.TrimSpace(n.idPrefix) == "":
		n.issues.QueryError = fmt.Errorf("metric id prefix must not be blank")
	case n.unit == sq.UnitCustom && strings.TrimSpace(n.customUnit) == "":
		n.issues.QueryError = fmt.Errorf("custom unit text must not be blank")
	default:
		if c, ok := columns.FindByName(n.primary.FinalColumns(), n.valueColumn); !ok {
			n.issues.QueryError = fmt.Errorf("value column %q does not exist in the input", n.valueColumn)
		} else if !c.Kind.IsNumeric() {
			n.issues.QueryError = fmt.Errorf("value column %q is not numeric", n.valueColumn)
		}
	}
	return n.issues.QueryError == nil
}

func (n *Metrics) StructuredQuery() *sq.Query {
	if !n.Validate() {
		return nil
	}
	inner := compiledOrNil(n.primary)
	if inner == nil {
		return nil
	}
	dims := n.GetDimensions()
	sel := make([]sq.SelectColumn, 0, len(dims)+1)
	for _, d := range dims {
		sel = append(sel, sq.SelectColumn{Name: d})
	}
	sel = append(sel, sq.SelectColumn{Name: n.valueColumn})
	return &sq.Query{
		ID:            n.id,
		InnerQuery:    inner,
		SelectColumns: sel,
		Metric: &sq.Metric{
			IDPrefix:            n.idPrefix,
			Value:               n.valueColumn,
			Dimensions:          dims,
			Unit:                n.unit,
			CustomUnit:          n.customUnit,
			Polarity:            n.polarity,
			DimensionUniqueness: n.dimensionUniqueness,
		},
	}
}

func (n *Metrics) MarshalState() (json.RawMessage, error) {
	return json.Marshal(metricsState{
		ValueColumn:         n.valueColumn,
		IDPrefix:            n.idPrefix,
		Unit:                n.unit,
		CustomUnit:          n.customUnit,
		Polarity:            n.polarity,
		DimensionUniqueness: n.dimensionUniqueness,
		Columns:             n.available,
		Input:               primaryID(n),
	})
}

func (n *Metrics) ResolveInputs(byID map[string]Node) {
	resolvePrimary(n, n.pendingInput, byID)
	n.pendingInput = ""
}
