package lineage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"forgeline/internal/artifact"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ledger, err := NewLedger(db)
	require.NoError(t, err)
	return ledger
}

func TestRecordAndGet(t *testing.T) {
	ledger := newTestLedger(t)

	hash := Hash("root content")
	rec, err := ledger.Record("art-1", "code", hash, nil, map[string]string{"name": "root"})
	require.NoError(t, err)
	require.Equal(t, hash, rec.ChainHash, "parentless chain hash should equal content hash")

	got, err := ledger.Get("art-1")
	require.NoError(t, err)
	require.Equal(t, rec.ChainHash, got.ChainHash)
	require.Equal(t, "root", got.Metadata["name"])
}

func TestRecordOverwrites(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Record("art-1", "code", Hash("v1"), nil, nil)
	require.NoError(t, err)
	_, err = ledger.Record("art-1", "code", Hash("v2"), nil, nil)
	require.NoError(t, err)

	got, err := ledger.Get("art-1")
	require.NoError(t, err)
	require.Equal(t, Hash("v2"), got.ContentHash)
}

func TestVerifyShortParentHash(t *testing.T) {
	// Parent hashes of arbitrary length are data, not sha256 digests; an
	// unresolved short hash fails verification cleanly.
	ledger := newTestLedger(t)

	_, err := ledger.Record("art-1", "code", Hash("content"), []string{"stub"}, nil)
	require.NoError(t, err)

	ok, err := ledger.Verify("art-1")
	require.NoError(t, err)
	require.False(t, ok)

	dag, err := ledger.DAG("art-1", 5)
	require.NoError(t, err)
	require.Len(t, dag.Nodes, 1)
	require.Empty(t, dag.Edges)
}

func TestVerifyTransitive(t *testing.T) {
	ledger := newTestLedger(t)

	grandHash := Hash("grandparent")
	parentHash := Hash("parent")
	childHash := Hash("child")

	_, err := ledger.Record("grand", "code", grandHash, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Record("parent", "code", parentHash, []string{grandHash}, nil)
	require.NoError(t, err)
	_, err = ledger.Record("child", "code", childHash, []string{parentHash}, nil)
	require.NoError(t, err)

	ok, err := ledger.Verify("child")
	require.NoError(t, err)
	require.True(t, ok)

	// Break the chain two levels up.
	require.NoError(t, ledger.Delete("grand"))
	ok, err = ledger.Verify("child")
	require.NoError(t, err)
	require.False(t, ok, "verification must fail when an ancestor is missing")
}

func TestVerifyTwoParentsThenDeleteOne(t *testing.T) {
	ledger := newTestLedger(t)

	p1 := Hash("parent one")
	p2 := Hash("parent two")
	_, err := ledger.Record("p1", "code", p1, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Record("p2", "code", p2, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Record("merged", "code", Hash("merged content"), []string{p1, p2}, nil)
	require.NoError(t, err)

	ok, err := ledger.Verify("merged")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Delete("p1"))
	ok, err = ledger.Verify("merged")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyUnknownArtifact(t *testing.T) {
	ledger := newTestLedger(t)
	ok, err := ledger.Verify("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDAGBoundedTraversal(t *testing.T) {
	ledger := newTestLedger(t)

	// a <- b <- c, plus a second parent of c.
	ha, hb, hc, hx := Hash("a"), Hash("b"), Hash("c"), Hash("x")
	_, err := ledger.Record("a", "code", ha, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Record("x", "code", hx, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Record("b", "code", hb, []string{ha}, nil)
	require.NoError(t, err)
	_, err = ledger.Record("c", "code", hc, []string{hb, hx}, nil)
	require.NoError(t, err)

	dag, err := ledger.DAG("c", 10)
	require.NoError(t, err)
	require.Len(t, dag.Nodes, 4)
	require.Len(t, dag.Edges, 3)

	// Depth 1 stops after c's direct parents.
	shallow, err := ledger.DAG("c", 1)
	require.NoError(t, err)
	require.Len(t, shallow.Nodes, 3)
	for _, n := range shallow.Nodes {
		require.LessOrEqual(t, n.Depth, 1)
	}
}

func TestDAGUnknownRoot(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.DAG("missing", 5)
	require.ErrorIs(t, err, artifact.ErrNotFound)
}
