// Package sq defines the serializable structured query tree produced by
// compiling a pipeline graph, and the generator that renders a tree into
// a single executable SQL statement.
//
// A Query carries exactly one source (table, raw SQL, union, interval
// intersect, create slices, or a nested inner query) plus optional
// filtering, aggregation, projection and ordering directives. Trees are
// constructed fresh on every compilation and never mutated in place, so
// they can be hashed, serialized and shipped to an execution engine.
package sq

// Query is one node of the structured query tree. Exactly one source
// field must be set.
type Query struct {
	// ID keys the query in the generated SQL; it is normally the
	// pipeline node id that produced it.
	ID string `json:"id,omitempty"`

	// Sources. Exactly one of these is non-nil.
	Table             *Table             `json:"table,omitempty"`
	SQL               *SQL               `json:"sql,omitempty"`
	Union             *Union             `json:"union,omitempty"`
	IntervalIntersect *IntervalIntersect `json:"interval_intersect,omitempty"`
	CreateSlices      *CreateSlices      `json:"create_slices,omitempty"`
	InnerQuery        *Query             `json:"inner_query,omitempty"`

	// Directives applied on top of the source.
	Filters       []Filter       `json:"filters,omitempty"`
	GroupBy       *GroupBy       `json:"group_by,omitempty"`
	SelectColumns []SelectColumn `json:"select_columns,omitempty"`
	OrderBy       []OrderingSpec `json:"order_by,omitempty"`
	Limit         *int64         `json:"limit,omitempty"`
	Offset        *int64         `json:"offset,omitempty"`

	// Metric carries metric metadata when the query was produced by a
	// metrics node. It does not affect the generated SQL shape beyond
	// the projection of dimensions and value.
	Metric *Metric `json:"metric,omitempty"`

	// ReferencedModules are modules that must be included before the
	// query can run.
	ReferencedModules []string `json:"referenced_modules,omitempty"`
}

// Table references a named backing table, optionally provided by a module.
type Table struct {
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
}

// SQL is a raw-SQL leaf. Dependencies are ordered: dependency i is
// addressed inside the statement by the $<alias> placeholder.
type SQL struct {
	// SQL is the statement text, with the module-include prologue
	// already split off into Preamble.
	SQL string `json:"sql"`
	// Preamble holds statements to run before the query itself,
	// typically INCLUDE PERFETTO MODULE lines.
	Preamble string `json:"preamble,omitempty"`
	// Dependencies are sub-queries substituted for placeholders, in
	// port order.
	Dependencies []Dependency `json:"dependencies,omitempty"`
	// ColumnNames optionally restricts the exposed columns.
	ColumnNames []string `json:"column_names,omitempty"`
}

// Dependency is one aliased sub-query of a raw-SQL leaf.
type Dependency struct {
	Alias string `json:"alias"`
	Query *Query `json:"query"`
}

// Union combines two or more queries with UNION ALL. Inputs must expose
// identical column sets; the compiler guarantees this by wrapping each
// input in a select over the common columns.
type Union struct {
	Queries []*Query `json:"queries"`
}

// IntervalIntersect intersects the time intervals of two or more
// queries. Queries[0] is the base. FilterNegativeDur runs parallel to
// Queries: when true, that input is pre-filtered to non-negative
// durations before intersection.
type IntervalIntersect struct {
	Queries           []*Query `json:"queries"`
	FilterNegativeDur []bool   `json:"filter_negative_dur,omitempty"`
	PartitionColumns  []string `json:"partition_columns,omitempty"`
}

// CreateSlices derives slices from a starts query and an ends query:
// each start timestamp is paired with the first later end timestamp.
type CreateSlices struct {
	Starts *Query `json:"starts"`
	Ends   *Query `json:"ends"`
	// Timestamp column in each side; defaults to "ts" when empty.
	StartsTsColumn string `json:"starts_ts_column,omitempty"`
	EndsTsColumn   string `json:"ends_ts_column,omitempty"`
}

// FilterOp is a leaf filter comparison operator.
type FilterOp string

// Filter operators.
const (
	OpEqual            FilterOp = "eq"
	OpNotEqual         FilterOp = "ne"
	OpLessThan         FilterOp = "lt"
	OpLessThanEqual    FilterOp = "le"
	OpGreaterThan      FilterOp = "gt"
	OpGreaterThanEqual FilterOp = "ge"
	OpGlob             FilterOp = "glob"
	OpIsNull           FilterOp = "is_null"
	OpIsNotNull        FilterOp = "is_not_null"
)

// Filter is a single-column predicate. Multiple right-hand-side values
// of the same type are OR-ed together; multiple filters on a query are
// AND-ed.
type Filter struct {
	Column    string    `json:"column"`
	Op        FilterOp  `json:"op"`
	StringRHS []string  `json:"string_rhs,omitempty"`
	DoubleRHS []float64 `json:"double_rhs,omitempty"`
	Int64RHS  []int64   `json:"int64_rhs,omitempty"`
}

// AggregateOp is an aggregation operator.
type AggregateOp string

// Aggregation operators.
const (
	AggCountAll             AggregateOp = "COUNT_ALL"
	AggCount                AggregateOp = "COUNT"
	AggCountDistinct        AggregateOp = "COUNT_DISTINCT"
	AggSum                  AggregateOp = "SUM"
	AggMin                  AggregateOp = "MIN"
	AggMax                  AggregateOp = "MAX"
	AggMean                 AggregateOp = "MEAN"
	AggMedian               AggregateOp = "MEDIAN"
	AggPercentile           AggregateOp = "PERCENTILE"
	AggDurationWeightedMean AggregateOp = "DURATION_WEIGHTED_MEAN"
)

// GroupBy aggregates the query's rows.
type GroupBy struct {
	ColumnNames []string    `json:"column_names,omitempty"`
	Aggregates  []Aggregate `json:"aggregates,omitempty"`
}

// Aggregate is one aggregation of a GroupBy.
type Aggregate struct {
	Op               AggregateOp `json:"op"`
	ColumnName       string      `json:"column_name,omitempty"`
	ResultColumnName string      `json:"result_column_name"`
	Percentile       *float64    `json:"percentile,omitempty"`
}

// SelectColumn is one projected column with an optional output alias.
type SelectColumn struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// SortDirection orders an OrderingSpec.
type SortDirection string

// Sort directions.
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// OrderingSpec is one ORDER BY term; earlier terms take precedence.
type OrderingSpec struct {
	ColumnName string        `json:"column_name"`
	Direction  SortDirection `json:"direction,omitempty"`
}

// MetricPolarity states whether a higher or lower metric value is better.
type MetricPolarity string

// Metric polarities.
const (
	PolarityUnspecified  MetricPolarity = ""
	PolarityHigherBetter MetricPolarity = "higher_is_better"
	PolarityLowerBetter  MetricPolarity = "lower_is_better"
)

// MetricUnit is the unit of a metric value column.
type MetricUnit string

// Metric units.
const (
	UnitUnspecified MetricUnit = ""
	UnitCount       MetricUnit = "count"
	UnitNanoseconds MetricUnit = "ns"
	UnitBytes       MetricUnit = "bytes"
	UnitPercent     MetricUnit = "percent"
	UnitCustom      MetricUnit = "custom"
)

// Metric describes the metric a query computes: one value column and the
// dimensions it is broken down by.
type Metric struct {
	IDPrefix            string         `json:"id_prefix"`
	Value               string         `json:"value"`
	Dimensions          []string       `json:"dimensions,omitempty"`
	Unit                MetricUnit     `json:"unit,omitempty"`
	CustomUnit          string         `json:"custom_unit,omitempty"`
	Polarity            MetricPolarity `json:"polarity,omitempty"`
	DimensionUniqueness bool           `json:"dimension_uniqueness,omitempty"`
}
