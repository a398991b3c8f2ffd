package sq

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quarrylabs/quarry/pkg/sqlshape"
)

// Generated is the output of rendering a query tree.
type Generated struct {
	// SQL is the final statement: one CTE per tree node plus a closing
	// SELECT over the root.
	SQL string
	// Modules are the referenced modules, sorted and deduplicated.
	Modules []string
	// Preambles are raw-SQL preambles in encounter order.
	Preambles []string
}

// Script returns the full executable text: module includes, preambles,
// then the statement itself.
func (g *Generated) Script() string {
	var parts []string
	for _, m := range g.Modules {
		parts = append(parts, "INCLUDE PERFETTO MODULE "+m+";")
	}
	parts = append(parts, g.Preambles...)
	parts = append(parts, g.SQL)
	return strings.Join(parts, "\n")
}

// Generate renders a structured query tree into a single SQL statement.
func Generate(root *Query) (*Generated, error) {
	if root == nil {
		return nil, fmt.Errorf("query is nil")
	}
	g := &generator{
		usedNames: make(map[string]struct{}),
		modules:   make(map[string]struct{}),
	}
	g.enqueue(root)
	// The queue grows while we walk it: nested sources append to it.
	for i := 0; i < len(g.states); i++ {
		sql, err := g.render(g.states[i].query)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", g.states[i].name, err)
		}
		g.states[i].sql = sql
	}

	// Dependencies were enqueued after their dependents, so emitting the
	// states in reverse yields definition-before-use CTE order.
	var b strings.Builder
	b.WriteString("WITH ")
	for i := len(g.states) - 1; i >= 0; i-- {
		st := g.states[i]
		b.WriteString(st.name)
		b.WriteString(" AS (\n")
		b.WriteString(indentLines(st.sql, 2))
		b.WriteString("\n)")
		if i > 0 {
			b.WriteString(",\n")
		}
	}
	b.WriteString("\nSELECT *\nFROM ")
	b.WriteString(g.states[0].name)

	modules := make([]string, 0, len(g.modules))
	for m := range g.modules {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	return &Generated{SQL: b.String(), Modules: modules, Preambles: g.preambles}, nil
}

type queryState struct {
	query *Query
	name  string
	sql   string
}

type generator struct {
	states    []queryState
	usedNames map[string]struct{}
	modules   map[string]struct{}
	preambles []string
}

// enqueue registers a query for rendering and returns its CTE name.
func (g *generator) enqueue(q *Query) string {
	base := "sq_" + sanitizeName(q.ID)
	if q.ID == "" {
		base = "sq_" + strconv.Itoa(len(g.states))
	}
	name := base
	for i := 0; ; i++ {
		if _, taken := g.usedNames[name]; !taken {
			break
		}
		name = base + "_" + strconv.Itoa(i)
	}
	g.usedNames[name] = struct{}{}
	g.states = append(g.states, queryState{query: q, name: name})
	return name
}

func (g *generator) render(q *Query) (string, error) {
	for _, m := range q.ReferencedModules {
		g.modules[m] = struct{}{}
	}

	source, err := g.renderSource(q)
	if err != nil {
		return "", err
	}

	filters, err := renderFilters(q.Filters)
	if err != nil {
		return "", err
	}

	var selectClause, groupBy string
	if q.GroupBy != nil {
		groupBy = renderGroupBy(q.GroupBy.ColumnNames)
		selectClause, err = renderAggregateColumns(q.GroupBy, q.SelectColumns)
	} else {
		selectClause = renderSelectColumns(q.SelectColumns)
	}
	if err != nil {
		return "", err
	}

	// Assemble in standard clause order.
	sql := "SELECT " + selectClause + "\nFROM " + source
	if filters != "" {
		sql += "\nWHERE " + filters
	}
	if groupBy != "" {
		sql += "\n" + groupBy
	}
	if len(q.OrderBy) > 0 {
		orderBy, err := renderOrderBy(q.OrderBy)
		if err != nil {
			return "", err
		}
		sql += "\n" + orderBy
	}
	if q.Offset != nil && q.Limit == nil {
		return "", fmt.Errorf("OFFSET requires LIMIT to be specified")
	}
	if q.Limit != nil {
		if *q.Limit < 0 {
			return "", fmt.Errorf("LIMIT must be non-negative, got %d", *q.Limit)
		}
		sql += "\nLIMIT " + strconv.FormatInt(*q.Limit, 10)
	}
	if q.Offset != nil {
		if *q.Offset < 0 {
			return "", fmt.Errorf("OFFSET must be non-negative, got %d", *q.Offset)
		}
		sql += "\nOFFSET " + strconv.FormatInt(*q.Offset, 10)
	}
	return sql, nil
}

func (g *generator) renderSource(q *Query) (string, error) {
	switch {
	case q.Table != nil:
		if q.Table.Name == "" {
			return "", fmt.Errorf("table source must specify a table name")
		}
		if q.Table.Module != "" {
			g.modules[q.Table.Module] = struct{}{}
		}
		return q.Table.Name, nil
	case q.SQL != nil:
		return g.renderSQLSource(q.SQL)
	case q.Union != nil:
		return g.renderUnion(q.Union)
	case q.IntervalIntersect != nil:
		return g.renderIntervalIntersect(q.IntervalIntersect)
	case q.CreateSlices != nil:
		return g.renderCreateSlices(q.CreateSlices)
	case q.InnerQuery != nil:
		return g.enqueue(q.InnerQuery), nil
	}
	return "", fmt.Errorf("query must specify a source")
}

func (g *generator) renderSQLSource(s *SQL) (string, error) {
	if strings.TrimSpace(s.SQL) == "" {
		return "", fmt.Errorf("sql source must specify sql text")
	}

	embedded, body := sqlshape.SplitPreamble(s.SQL)
	if s.Preamble != "" {
		if embedded != "" {
			return "", fmt.Errorf("sql source specifies both a preamble and multiple statements in the sql text")
		}
		g.preambles = append(g.preambles, s.Preamble)
		body = strings.TrimSpace(s.SQL)
	} else if embedded != "" {
		g.preambles = append(g.preambles, embedded)
	}
	if body == "" {
		return "", fmt.Errorf("sql source is empty after removing the preamble")
	}

	repl := make(map[string]string, len(s.Dependencies))
	for _, dep := range s.Dependencies {
		if dep.Query == nil {
			return "", fmt.Errorf("dependency %q has no query", dep.Alias)
		}
		repl[dep.Alias] = g.enqueue(dep.Query)
	}
	body = sqlshape.SubstitutePlaceholders(body, repl)

	cols := "*"
	if len(s.ColumnNames) > 0 {
		cols = strings.Join(s.ColumnNames, ", ")
	}
	inner := "SELECT " + cols + "\nFROM (\n" + indentLines(body, 2) + "\n)"
	return "(\n" + indentLines(inner, 2) + "\n)", nil
}

func (g *generator) renderUnion(u *Union) (string, error) {
	if len(u.Queries) < 2 {
		return "", fmt.Errorf("union must specify at least two queries")
	}
	var b strings.Builder
	b.WriteString("(\n  WITH ")
	for i, q := range u.Queries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "union_query_%d AS (\n  SELECT *\n  FROM %s)", i, g.enqueue(q))
	}
	b.WriteString("\n  SELECT *\n  FROM union_query_0")
	for i := 1; i < len(u.Queries); i++ {
		fmt.Fprintf(&b, "\n  UNION ALL\n  SELECT *\n  FROM union_query_%d", i)
	}
	b.WriteString(")")
	return b.String(), nil
}

func (g *generator) renderIntervalIntersect(ii *IntervalIntersect) (string, error) {
	if len(ii.Queries) < 2 {
		return "", fmt.Errorf("interval intersect must specify at least two queries")
	}
	if len(ii.FilterNegativeDur) != 0 && len(ii.FilterNegativeDur) != len(ii.Queries) {
		return "", fmt.Errorf("filter_negative_dur length %d does not match query count %d",
			len(ii.FilterNegativeDur), len(ii.Queries))
	}
	seen := make(map[string]struct{}, len(ii.PartitionColumns))
	for _, col := range ii.PartitionColumns {
		if col == "" {
			return "", fmt.Errorf("partition column cannot be empty")
		}
		lower := strings.ToLower(col)
		if lower == "id" || lower == "ts" || lower == "dur" {
			return "", fmt.Errorf("partition column %q is reserved and cannot be used for partitioning", col)
		}
		if _, dup := seen[lower]; dup {
			return "", fmt.Errorf("partition column %q is duplicated", col)
		}
		seen[lower] = struct{}{}
	}
	g.modules["intervals.intersect"] = struct{}{}

	// Input 0 is the base; the rest are intersect sources. Each gets a
	// local CTE so the _interval_intersect macro sees simple names.
	source := func(i int) string {
		name := g.enqueue(ii.Queries[i])
		if len(ii.FilterNegativeDur) > 0 && ii.FilterNegativeDur[i] {
			return "(SELECT * FROM " + name + " WHERE dur >= 0)"
		}
		return name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "(WITH iibase AS (SELECT * FROM %s)", source(0))
	for i := 1; i < len(ii.Queries); i++ {
		fmt.Fprintf(&b, ", iisource%d AS (SELECT * FROM %s)", i-1, source(i))
	}

	b.WriteString("\nSELECT ii.ts, ii.dur")
	for _, col := range ii.PartitionColumns {
		b.WriteString(", ii." + col)
	}
	b.WriteString(", base_0.id AS id_0, base_0.ts AS ts_0, base_0.dur AS dur_0, base_0.*")
	for i := 1; i < len(ii.Queries); i++ {
		fmt.Fprintf(&b, ", source_%d.id AS id_%d, source_%d.ts AS ts_%d, source_%d.dur AS dur_%d, source_%d.*",
			i, i, i, i, i, i, i)
	}

	b.WriteString("\nFROM _interval_intersect!((iibase")
	for i := 1; i < len(ii.Queries); i++ {
		fmt.Fprintf(&b, ", iisource%d", i-1)
	}
	b.WriteString("), (")
	b.WriteString(strings.Join(ii.PartitionColumns, ", "))
	b.WriteString(")) ii\nJOIN iibase AS base_0 ON ii.id_0 = base_0.id")
	for i := 1; i < len(ii.Queries); i++ {
		fmt.Fprintf(&b, "\nJOIN iisource%d AS source_%d ON ii.id_%d = source_%d.id", i-1, i, i, i)
	}
	b.WriteString(")")
	return b.String(), nil
}

func (g *generator) renderCreateSlices(cs *CreateSlices) (string, error) {
	if cs.Starts == nil {
		return "", fmt.Errorf("create slices must specify a starts query")
	}
	if cs.Ends == nil {
		return "", fmt.Errorf("create slices must specify an ends query")
	}
	startsCol := cs.StartsTsColumn
	if startsCol == "" {
		startsCol = "ts"
	}
	endsCol := cs.EndsTsColumn
	if endsCol == "" {
		endsCol = "ts"
	}

	startsTable := g.enqueue(cs.Starts)
	endsTable := g.enqueue(cs.Ends)

	// Each start is paired with the first end that comes after it.
	return fmt.Sprintf(`(WITH starts AS (SELECT * FROM %s),
     ends AS (SELECT * FROM %s),
     matched AS (
       SELECT
         starts.%s AS start_ts,
         (SELECT MIN(ends.%s) FROM ends WHERE ends.%s > starts.%s) AS end_ts
       FROM starts
     )
SELECT
  start_ts AS ts,
  end_ts - start_ts AS dur
FROM matched
WHERE end_ts IS NOT NULL)`,
		startsTable, endsTable, startsCol, endsCol, endsCol, startsCol), nil
}

func renderFilters(filters []Filter) (string, error) {
	var parts []string
	for _, f := range filters {
		sql, err := renderSingleFilter(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " AND "), nil
}

func renderSingleFilter(f Filter) (string, error) {
	if f.Column == "" {
		return "", fmt.Errorf("filter must specify a column")
	}
	op, err := filterOpString(f.Op)
	if err != nil {
		return "", err
	}
	if f.Op == OpIsNull || f.Op == OpIsNotNull {
		return f.Column + " " + op, nil
	}

	var terms []string
	for _, v := range f.StringRHS {
		terms = append(terms, f.Column+" "+op+" '"+v+"'")
	}
	for _, v := range f.DoubleRHS {
		terms = append(terms, f.Column+" "+op+" "+strconv.FormatFloat(v, 'f', -1, 64))
	}
	for _, v := range f.Int64RHS {
		terms = append(terms, f.Column+" "+op+" "+strconv.FormatInt(v, 10))
	}
	if len(terms) == 0 {
		return "", fmt.Errorf("filter on %q must specify a right-hand side", f.Column)
	}
	return strings.Join(terms, " OR "), nil
}

func filterOpString(op FilterOp) (string, error) {
	switch op {
	case OpEqual:
		return "=", nil
	case OpNotEqual:
		return "!=", nil
	case OpLessThan:
		return "<", nil
	case OpLessThanEqual:
		return "<=", nil
	case OpGreaterThan:
		return ">", nil
	case OpGreaterThanEqual:
		return ">=", nil
	case OpGlob:
		return "GLOB", nil
	case OpIsNull:
		return "IS NULL", nil
	case OpIsNotNull:
		return "IS NOT NULL", nil
	}
	return "", fmt.Errorf("invalid filter operator %q", op)
}

func renderGroupBy(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	return "GROUP BY " + strings.Join(cols, ", ")
}

func renderAggregateColumns(gb *GroupBy, selectCols []SelectColumn) (string, error) {
	// When select columns are given they restrict (and may alias) the
	// aggregated output; otherwise everything is exposed.
	aliases := make(map[string]string)
	restrict := len(selectCols) > 0
	for _, sc := range selectCols {
		aliases[sc.Name] = sc.Alias
	}
	include := func(name string) (string, bool) {
		if !restrict {
			return "", true
		}
		alias, ok := aliases[name]
		return alias, ok
	}

	var parts []string
	for _, col := range gb.ColumnNames {
		alias, ok := include(col)
		if !ok {
			continue
		}
		if alias != "" {
			parts = append(parts, col+" AS "+alias)
		} else {
			parts = append(parts, col)
		}
	}
	for _, agg := range gb.Aggregates {
		alias, ok := include(agg.ResultColumnName)
		if !ok {
			continue
		}
		expr, err := aggregateString(agg)
		if err != nil {
			return "", err
		}
		if alias == "" {
			alias = agg.ResultColumnName
		}
		if alias == "" {
			return "", fmt.Errorf("aggregate %s must specify a result column name", agg.Op)
		}
		parts = append(parts, expr+" AS "+alias)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("group by produced no output columns")
	}
	return strings.Join(parts, ", "), nil
}

func renderSelectColumns(cols []SelectColumn) string {
	if len(cols) == 0 {
		return "*"
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c.Alias != "" {
			parts[i] = c.Name + " AS " + c.Alias
		} else {
			parts[i] = c.Name
		}
	}
	return strings.Join(parts, ", ")
}

func renderOrderBy(specs []OrderingSpec) (string, error) {
	parts := make([]string, len(specs))
	for i, spec := range specs {
		if spec.ColumnName == "" {
			return "", fmt.Errorf("order by column name cannot be empty")
		}
		parts[i] = spec.ColumnName
		switch spec.Direction {
		case SortAsc:
			parts[i] += " ASC"
		case SortDesc:
			parts[i] += " DESC"
		case "":
		default:
			return "", fmt.Errorf("invalid sort direction %q", spec.Direction)
		}
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func aggregateString(agg Aggregate) (string, error) {
	if agg.Op == AggCountAll {
		return "COUNT(*)", nil
	}
	if agg.ColumnName == "" {
		return "", fmt.Errorf("column name not specified for %s aggregation", agg.Op)
	}
	col := agg.ColumnName
	switch agg.Op {
	case AggCount:
		return "COUNT(" + col + ")", nil
	case AggCountDistinct:
		return "COUNT(DISTINCT " + col + ")", nil
	case AggSum:
		return "SUM(" + col + ")", nil
	case AggMin:
		return "MIN(" + col + ")", nil
	case AggMax:
		return "MAX(" + col + ")", nil
	case AggMean:
		return "AVG(" + col + ")", nil
	case AggMedian:
		return "PERCENTILE(" + col + ", 50)", nil
	case AggPercentile:
		if agg.Percentile == nil {
			return "", fmt.Errorf("percentile not specified for PERCENTILE aggregation")
		}
		return "PERCENTILE(" + col + ", " + strconv.FormatFloat(*agg.Percentile, 'f', -1, 64) + ")", nil
	case AggDurationWeightedMean:
		return "SUM(cast_double!(" + col + " * dur)) / cast_double!(SUM(dur))", nil
	}
	return "", fmt.Errorf("invalid aggregate operator %q", agg.Op)
}

// sanitizeName turns an arbitrary id into a valid SQL identifier chunk.
func sanitizeName(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func indentLines(s string, spaces int) string {
	if s == "" {
		return s
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
