package store

import (
	"path/filepath"
	"testing"

	"forgeline/internal/artifact"
	"forgeline/internal/lineage"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ContentStore {
	t.Helper()
	cs, err := NewContentStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestAddAndGet(t *testing.T) {
	cs := newTestStore(t)

	content := "// parser artifact\npackage main\n"
	a, err := cs.Add("parser", artifact.KindCode, content, "tester", "", map[string]string{"lang": "go"})
	require.NoError(t, err)
	require.Equal(t, artifact.StatusPending, a.Status)
	require.Equal(t, lineage.Hash(content), a.ContentHash)

	got, gotContent, err := cs.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, content, gotContent)
	require.Equal(t, "parser", got.Name)
	require.Equal(t, "go", got.Metadata["lang"])
}

func TestGetNotFound(t *testing.T) {
	cs := newTestStore(t)
	_, _, err := cs.Get("no-such-id")
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestGetContentMissing(t *testing.T) {
	cs := newTestStore(t)

	a, err := cs.Add("ghost", artifact.KindCode, "content", "tester", "", nil)
	require.NoError(t, err)

	_, err = cs.DB().Exec(`DELETE FROM artifact_content WHERE artifact_id = ?`, a.ID)
	require.NoError(t, err)

	got, content, err := cs.Get(a.ID)
	require.NoError(t, err, "missing content is a status, not an error")
	require.Equal(t, artifact.StatusContentMissing, got.Status)
	require.Empty(t, content)
}

func TestUpdateIdempotent(t *testing.T) {
	cs := newTestStore(t)

	content := "same content"
	a, err := cs.Add("thing", artifact.KindRecord, content, "tester", "", nil)
	require.NoError(t, err)

	got, err := cs.Update(a.ID, content, "updater", nil)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID, "identical content with nil metadata must not create a version")

	all, err := cs.List("", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestUpdateCreatesNewVersion(t *testing.T) {
	cs := newTestStore(t)

	a, err := cs.Add("thing", artifact.KindCode, "v1", "alice", "", map[string]string{"origin": "manual"})
	require.NoError(t, err)

	next, err := cs.Update(a.ID, "v2", "bob", map[string]string{"note": "second pass"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, next.ID)
	require.Equal(t, a.ID, next.ParentID)
	require.Equal(t, "alice", next.Creator, "creator carries over")
	require.Equal(t, artifact.StatusPending, next.Status)
	require.Equal(t, "manual", next.Metadata["origin"], "metadata merges")
	require.Equal(t, "second pass", next.Metadata["note"])
	require.Equal(t, "bob", next.Metadata["updated_by"])
}

func TestHistoryOrder(t *testing.T) {
	cs := newTestStore(t)

	v1, err := cs.Add("evolving", artifact.KindCode, "v1", "tester", "", nil)
	require.NoError(t, err)
	v2, err := cs.Update(v1.ID, "v2", "tester", nil)
	require.NoError(t, err)
	v3, err := cs.Update(v2.ID, "v3", "tester", nil)
	require.NoError(t, err)

	chain, err := cs.History("evolving")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, v1.ID, chain[0].ID, "oldest first")
	require.Equal(t, v3.ID, chain[2].ID)
}

func TestHistoryBrokenLinkIsPartial(t *testing.T) {
	cs := newTestStore(t)

	v1, err := cs.Add("chain", artifact.KindCode, "v1", "tester", "", nil)
	require.NoError(t, err)
	v2, err := cs.Update(v1.ID, "v2", "tester", nil)
	require.NoError(t, err)
	v3, err := cs.Update(v2.ID, "v3", "tester", nil)
	require.NoError(t, err)

	_, err = cs.DB().Exec(`DELETE FROM artifacts WHERE id = ?`, v2.ID)
	require.NoError(t, err)

	chain, err := cs.History("chain")
	require.NoError(t, err, "a broken link yields a partial history, not an error")
	require.Len(t, chain, 1)
	require.Equal(t, v3.ID, chain[0].ID)
}

func TestListFilters(t *testing.T) {
	cs := newTestStore(t)

	a, err := cs.Add("one", artifact.KindCode, "c1", "tester", "", nil)
	require.NoError(t, err)
	_, err = cs.Add("two", artifact.KindScroll, "c2", "tester", "", nil)
	require.NoError(t, err)
	require.NoError(t, cs.SetStatus(a.ID, artifact.StatusAccepted, "test"))

	code, err := cs.List(artifact.KindCode, "")
	require.NoError(t, err)
	require.Len(t, code, 1)

	accepted, err := cs.List("", artifact.StatusAccepted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.Equal(t, a.ID, accepted[0].ID)

	all, err := cs.List("", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSetStatusNotFound(t *testing.T) {
	cs := newTestStore(t)
	err := cs.SetStatus("missing", artifact.StatusRejected, "reason")
	require.ErrorIs(t, err, artifact.ErrNotFound)
}
