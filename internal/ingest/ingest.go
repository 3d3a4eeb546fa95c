// Package ingest watches a drop directory and turns files placed there into
// pending artifacts. Ingestion only stores; acceptance stays with the
// pipeline.
package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"forgeline/internal/activity"
	"forgeline/internal/artifact"
	"forgeline/internal/logging"
	"forgeline/internal/store"

	"github.com/fsnotify/fsnotify"
)

// Watcher ingests files dropped into a directory.
type Watcher struct {
	store    *store.ContentStore
	activity activity.Sink
	dir      string
	creator  string
	maxBytes int64

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a drop-directory watcher. The directory is created if
// missing.
func NewWatcher(cs *store.ContentStore, sink activity.Sink, dir, creator string, maxBytes int64) (*Watcher, error) {
	if sink == nil {
		sink = activity.Nop{}
	}
	if creator == "" {
		creator = "ingest"
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Watcher{
		store:    cs,
		activity: sink,
		dir:      dir,
		creator:  creator,
		maxBytes: maxBytes,
	}, nil
}

// Start begins watching. Files already sitting in the directory are
// ingested first, then filesystem events take over.
func (w *Watcher) Start() error {
	if w.stopCh != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	logging.Ingest("Watching drop directory %s", w.dir)
	go w.run()
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(2 * time.Second):
	}
	w.fsw.Close()
	w.stopCh = nil
	w.doneCh = nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	w.sweep()
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				// Writers may still be flushing when the create event
				// arrives; a short grace period avoids truncated reads.
				time.Sleep(100 * time.Millisecond)
				w.ingestFile(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryIngest).Warn("Watcher error: %v", err)
		}
	}
}

// sweep ingests files that were already in the directory before the
// watcher started.
func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.Get(logging.CategoryIngest).Warn("Failed to list drop directory: %v", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.ingestFile(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// ingestFile stores one dropped file as a pending artifact and removes the
// file on success. The drop directory is an intake queue, not an archive.
func (w *Watcher) ingestFile(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if info.Size() > w.maxBytes {
		logging.Get(logging.CategoryIngest).Warn("Skipping %s: %d bytes exceeds limit of %d", path, info.Size(), w.maxBytes)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logging.Get(logging.CategoryIngest).Warn("Failed to read %s: %v", path, err)
		return
	}

	name := filepath.Base(path)
	a, err := w.store.Add(name, kindForFile(name), string(data), w.creator, "", map[string]string{
		"source": "drop_dir",
	})
	if err != nil {
		logging.Get(logging.CategoryIngest).Error("Failed to ingest %s: %v", path, err)
		return
	}

	if err := os.Remove(path); err != nil {
		logging.Get(logging.CategoryIngest).Warn("Ingested %s but could not remove the file: %v", path, err)
	}

	logging.Ingest("Ingested %s as artifact %s", name, a.ID)
	w.activity.Record("artifact_ingested", map[string]interface{}{
		"artifact_id": a.ID,
		"name":        name,
	})
}

// kindForFile maps a filename to an artifact kind.
func kindForFile(name string) artifact.Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".go", ".py", ".js", ".ts":
		return artifact.KindCode
	case ".md", ".txt", ".rst":
		return artifact.KindScroll
	}
	return artifact.KindRecord
}
