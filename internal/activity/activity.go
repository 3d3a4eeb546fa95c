// Package activity provides the append-only activity log sink. Every
// component records events here; none depends on it for control flow, so a
// failing sink never fails the caller.
package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"forgeline/internal/logging"

	"github.com/google/uuid"
)

// Entry is one recorded activity event.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Sink receives activity events. Implementations must be safe for
// concurrent use and must never block the caller on failure.
type Sink interface {
	Record(event string, payload map[string]interface{})
}

// FileLog appends entries to a JSONL file.
type FileLog struct {
	mu   sync.Mutex
	path string
}

// NewFileLog creates a JSONL activity log at path, creating the parent
// directory if needed.
func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &FileLog{path: path}, nil
}

// Record appends one entry. Failures are logged and swallowed: the activity
// log is an observer, not a dependency.
func (f *FileLog) Record(event string, payload map[string]interface{}) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Event:     event,
		Payload:   payload,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		logging.Get(logging.CategoryActivity).Warn("Failed to marshal activity entry %s: %v", event, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.Get(logging.CategoryActivity).Warn("Failed to open activity log: %v", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		logging.Get(logging.CategoryActivity).Warn("Failed to append activity entry: %v", err)
	}
}

// MemoryLog keeps entries in memory. Used by tests and as a default sink.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLog creates an in-memory activity log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Record appends one entry.
func (m *MemoryLog) Record(event string, payload map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Event:     event,
		Payload:   payload,
	})
}

// Entries returns a snapshot of recorded entries.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByEvent returns recorded entries matching the event name.
func (m *MemoryLog) ByEvent(event string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Nop discards all events.
type Nop struct{}

// Record discards the event.
func (Nop) Record(string, map[string]interface{}) {}
