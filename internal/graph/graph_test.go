package graph

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"forgeline/internal/artifact"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	g, err := New(db)
	require.NoError(t, err)
	return g
}

func TestAddNodeIdempotent(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.AddNode("n1", "artifact", "first", "pending", nil, ""))
	require.NoError(t, g.AddNode("n1", "artifact", "second", "accepted", nil, ""), "re-adding must not error")

	node, err := g.GetNode("n1")
	require.NoError(t, err)
	require.Equal(t, "second", node.Preview, "re-add updates in place")
	require.Equal(t, "accepted", node.Status)
}

func TestAddNodeWithParentEdge(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.AddNode("parent", "artifact", "", "accepted", nil, ""))
	require.NoError(t, g.AddNode("child", "artifact", "", "pending", nil, "parent"))

	edges, err := g.Edges("parent", "outgoing")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, "parent_of", edges[0].Kind)
	require.Equal(t, "child", edges[0].Target)
}

func TestUpdateNodeNoChange(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.AddNode("n1", "artifact", "preview", "pending", map[string]string{"k": "v"}, ""))

	changed, err := g.UpdateNode("n1", "preview", "pending", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.False(t, changed, "identical values are a no-op")

	changed, err = g.UpdateNode("n1", "", "accepted", nil)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestUpdateNodeMissing(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.UpdateNode("ghost", "x", "", nil)
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestAddEdgeEndpointMissing(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("a", "artifact", "", "", nil, ""))

	_, err := g.AddEdge("a", "ghost", "depends_on", nil)
	require.ErrorIs(t, err, ErrEndpointMissing)

	_, err = g.AddEdge("ghost", "a", "depends_on", nil)
	require.ErrorIs(t, err, ErrEndpointMissing)
}

func TestFindPathsTrivial(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("a", "artifact", "", "", nil, ""))

	paths, err := g.FindPaths("a", "a", 1)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}}, paths)
}

func TestFindPathsChainAndBranch(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddNode(id, "artifact", "", "", nil, ""))
	}
	// a -> b -> d and a -> c -> d.
	for _, pair := range [][2]string{{"a", "b"}, {"b", "d"}, {"a", "c"}, {"c", "d"}} {
		_, err := g.AddEdge(pair[0], pair[1], "flows_to", nil)
		require.NoError(t, err)
	}

	paths, err := g.FindPaths("a", "d", 5)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		require.Equal(t, "a", p[0])
		require.Equal(t, "d", p[len(p)-1])
	}
}

func TestFindPathsRespectsDirection(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("a", "artifact", "", "", nil, ""))
	require.NoError(t, g.AddNode("b", "artifact", "", "", nil, ""))
	_, err := g.AddEdge("a", "b", "flows_to", nil)
	require.NoError(t, err)

	paths, err := g.FindPaths("b", "a", 5)
	require.NoError(t, err)
	require.Empty(t, paths, "traversal follows outgoing edges only")
}

func TestFindPathsSkipsCycles(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddNode(id, "artifact", "", "", nil, ""))
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}, {"b", "c"}} {
		_, err := g.AddEdge(pair[0], pair[1], "flows_to", nil)
		require.NoError(t, err)
	}

	paths, err := g.FindPaths("a", "c", 5)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b", "c"}}, paths)
}

func TestSubgraphRadiusZero(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("center", "artifact", "", "", nil, ""))
	require.NoError(t, g.AddNode("other", "artifact", "", "", nil, ""))
	_, err := g.AddEdge("center", "other", "flows_to", nil)
	require.NoError(t, err)

	nb, err := g.Subgraph("center", 0)
	require.NoError(t, err)
	require.Len(t, nb.Nodes, 1)
	require.Equal(t, "center", nb.Nodes[0].ID)
	require.Empty(t, nb.Edges)
}

func TestSubgraphBothDirections(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []string{"up", "center", "down", "far"} {
		require.NoError(t, g.AddNode(id, "artifact", "", "", nil, ""))
	}
	_, err := g.AddEdge("up", "center", "flows_to", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("center", "down", "flows_to", nil)
	require.NoError(t, err)
	_, err = g.AddEdge("down", "far", "flows_to", nil)
	require.NoError(t, err)

	nb, err := g.Subgraph("center", 1)
	require.NoError(t, err)

	var ids []string
	for _, n := range nb.Nodes {
		ids = append(ids, n.ID)
	}
	require.ElementsMatch(t, []string{"up", "center", "down"}, ids)
	require.Len(t, nb.Edges, 2, "only edges with both endpoints included")
}

func TestExport(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("a", "artifact", "preview", "accepted", nil, ""))
	require.NoError(t, g.AddNode("b", "creator", "", "", nil, ""))
	_, err := g.AddEdge("b", "a", "created", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, g.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Neighborhood
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Edges, 1)

	if diff := cmp.Diff("created", doc.Edges[0].Kind); diff != "" {
		t.Errorf("edge kind mismatch (-want +got):\n%s", diff)
	}
}
