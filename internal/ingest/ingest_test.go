package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forgeline/internal/activity"
	"forgeline/internal/artifact"
	"forgeline/internal/store"

	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, *store.ContentStore, *activity.MemoryLog, string) {
	t.Helper()
	cs, err := store.NewContentStore(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	dir := filepath.Join(t.TempDir(), "intake")
	sink := activity.NewMemoryLog()
	w, err := NewWatcher(cs, sink, dir, "dropper", 1024)
	require.NoError(t, err)
	return w, cs, sink, dir
}

func TestSweepIngestsExistingFiles(t *testing.T) {
	w, cs, sink, dir := newTestWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.go"), []byte("package helper\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes\n"), 0644))

	w.sweep()

	list, err := cs.List("", artifact.StatusPending)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byName := map[string]*artifact.Artifact{}
	for _, a := range list {
		byName[a.Name] = a
	}
	require.Equal(t, artifact.KindCode, byName["helper.go"].Kind)
	require.Equal(t, artifact.KindScroll, byName["notes.md"].Kind)
	require.Equal(t, "dropper", byName["helper.go"].Creator)
	require.Equal(t, "drop_dir", byName["helper.go"].Metadata["source"])

	// Ingested files are removed from the intake queue.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.Len(t, sink.ByEvent("artifact_ingested"), 2)
}

func TestOversizedFileSkipped(t *testing.T) {
	w, cs, _, dir := newTestWatcher(t)

	big := strings.Repeat("x", 2048)
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(big), 0644))

	w.sweep()

	list, err := cs.List("", "")
	require.NoError(t, err)
	require.Empty(t, list)

	// Skipped files stay in place for the operator to deal with.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestKindForFile(t *testing.T) {
	tests := []struct {
		name string
		want artifact.Kind
	}{
		{"tool.go", artifact.KindCode},
		{"script.PY", artifact.KindCode},
		{"readme.md", artifact.KindScroll},
		{"data.csv", artifact.KindRecord},
		{"noext", artifact.KindRecord},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, kindForFile(tt.name), tt.name)
	}
}

func TestWatcherIngestsDroppedFile(t *testing.T) {
	w, cs, _, dir := newTestWatcher(t)

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.go"), []byte("package dropped\n"), 0644))

	require.Eventually(t, func() bool {
		list, err := cs.List("", artifact.StatusPending)
		return err == nil && len(list) == 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestStartTwiceIsNoop(t *testing.T) {
	w, _, _, _ := newTestWatcher(t)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	w.Stop()
	// Stop after stop is harmless too.
	w.Stop()
}
