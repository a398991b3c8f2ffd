package serialize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/pipeline"
	"github.com/quarrylabs/quarry/pkg/sq"
)

func sliceSource(name string) *pipeline.TableSource {
	return pipeline.NewTableSource(name, "", []columns.Column{
		columns.New("id", columns.KindInt),
		columns.New("ts", columns.KindTimestamp),
		columns.New("dur", columns.KindDuration),
		columns.New("name", columns.KindString),
	})
}

func TestGraphRoundTrip(t *testing.T) {
	a := sliceSource("a")
	b := sliceSource("b")
	u := pipeline.NewUnion()
	_, err := pipeline.ConnectNextSecondary(a, u)
	require.NoError(t, err)
	_, err = pipeline.ConnectNextSecondary(b, u)
	require.NoError(t, err)

	agg := pipeline.NewAggregation()
	pipeline.ConnectPrimary(u, agg)
	agg.SetGroupByColumns([]string{"name"})
	agg.SetAggregations([]pipeline.AggregationSpec{{Op: sq.AggCountAll}})

	original := agg.StructuredQuery()
	require.NotNil(t, original)

	data, err := Marshal([]pipeline.Node{a, b, u, agg})
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, restored, 4)

	var restoredAgg pipeline.Node
	for _, n := range restored {
		if n.ID() == agg.ID() {
			restoredAgg = n
		}
	}
	require.NotNil(t, restoredAgg)

	recompiled := restoredAgg.StructuredQuery()
	require.NotNil(t, recompiled, "restored graph failed to compile: %v",
		restoredAgg.Issues().FirstError())
	assert.Equal(t, original, recompiled)
}

func TestUnmarshalOrderIndependent(t *testing.T) {
	src := sliceSource("slice")
	mod := pipeline.NewModifyColumns()
	pipeline.ConnectPrimary(src, mod)

	// Dependent first, source last.
	data, err := Marshal([]pipeline.Node{mod, src})
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)

	for _, n := range restored {
		if n.ID() == mod.ID() {
			require.NotNil(t, n.PrimaryInput(), "primary input not resolved")
			assert.Equal(t, src.ID(), n.PrimaryInput().ID())
		}
	}
}

func TestUnmarshalDropsDanglingReferences(t *testing.T) {
	a := sliceSource("a")
	b := sliceSource("b")
	u := pipeline.NewUnion()
	_, err := pipeline.ConnectNextSecondary(a, u)
	require.NoError(t, err)
	_, err = pipeline.ConnectNextSecondary(b, u)
	require.NoError(t, err)

	data, err := Marshal([]pipeline.Node{a, b, u})
	require.NoError(t, err)

	// Drop b from the document, leaving a dangling id inside the union.
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	kept := doc.Nodes[:0]
	for _, e := range doc.Nodes {
		if e.ID != b.ID() {
			kept = append(kept, e)
		}
	}
	doc.Nodes = kept
	trimmed, err := json.Marshal(doc)
	require.NoError(t, err)

	restored, err := Unmarshal(trimmed)
	require.NoError(t, err)
	require.Len(t, restored, 2)

	for _, n := range restored {
		if n.ID() == u.ID() {
			assert.Equal(t, 1, n.SecondaryInputs().Count())
		}
	}
}

func TestUnmarshalRejectsNewerVersion(t *testing.T) {
	data, err := json.Marshal(Document{Version: Version + 1})
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.Error(t, err)
}

func TestUnmarshalUnknownType(t *testing.T) {
	doc := Document{
		Version: Version,
		Nodes:   []NodeEntry{{ID: "x", Type: pipeline.Type("bogus"), State: json.RawMessage(`{}`)}},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.Error(t, err)
}
