// Package store implements the SQLite-backed content-addressed artifact
// store. Artifacts are immutable versions: updating content inserts a new
// row chained to the previous one through parent_id. Metadata and raw
// content live in separate tables so listing never pulls blobs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"forgeline/internal/artifact"
	"forgeline/internal/lineage"
	"forgeline/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// ContentStore persists artifact versions and their content.
type ContentStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewContentStore initializes the SQLite database at the given path.
func NewContentStore(path string) (*ContentStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewContentStore")
	defer timer.Stop()

	logging.Store("Initializing ContentStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &ContentStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("ContentStore initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *ContentStore) initialize() error {
	artifactsTable := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		status_reason TEXT,
		creator TEXT,
		parent_id TEXT,
		metadata TEXT,
		content_preview TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_name ON artifacts(name);
	CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
	CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
	CREATE INDEX IF NOT EXISTS idx_artifacts_hash ON artifacts(content_hash);
	`

	contentTable := `
	CREATE TABLE IF NOT EXISTS artifact_content (
		artifact_id TEXT PRIMARY KEY,
		content BLOB NOT NULL
	);
	`

	for _, table := range []string{artifactsTable, contentTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *ContentStore) Close() error {
	logging.Store("Closing ContentStore database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection. The lineage ledger and
// relationship graph layer their tables over the same database.
func (s *ContentStore) DB() *sql.DB {
	return s.db
}

// Add stores new content as a pending artifact and returns its metadata
// record. The metadata row and content blob are written in one transaction;
// a failure leaves no partial record behind.
func (s *ContentStore) Add(name string, kind artifact.Kind, content, creator, parentID string, metadata map[string]string) (*artifact.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Add")
	defer timer.Stop()

	hash := lineage.Hash(content)
	now := time.Now().UTC()
	a := &artifact.Artifact{
		ID:             artifact.NewID(hash),
		Name:           name,
		Kind:           kind,
		ContentHash:    hash,
		Status:         artifact.StatusPending,
		Creator:        creator,
		ParentID:       parentID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       metadata,
		ContentPreview: artifact.Preview(content, 200),
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, &artifact.StorageError{Op: "add", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Adding artifact %s (name=%s kind=%s hash=%s)", a.ID, name, kind, hash[:12])

	tx, err := s.db.Begin()
	if err != nil {
		return nil, &artifact.StorageError{Op: "add", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO artifacts (id, name, kind, content_hash, status, status_reason, creator, parent_id, metadata, content_preview, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Kind), a.ContentHash, string(a.Status), a.StatusReason,
		a.Creator, a.ParentID, string(metaJSON), a.ContentPreview, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert artifact %s: %v", a.ID, err)
		return nil, &artifact.StorageError{Op: "add", Err: err}
	}

	if _, err := tx.Exec(
		`INSERT INTO artifact_content (artifact_id, content) VALUES (?, ?)`,
		a.ID, []byte(content),
	); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert content for %s: %v", a.ID, err)
		return nil, &artifact.StorageError{Op: "add", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &artifact.StorageError{Op: "add", Err: err}
	}

	logging.Store("Stored artifact %s (%s) as pending", a.ID, name)
	return a, nil
}

// Get returns the artifact metadata and its content. A metadata record whose
// content blob is gone comes back with status content_missing and empty
// content rather than an error; the caller decides how to react.
func (s *ContentStore) Get(id string) (*artifact.Artifact, string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Get")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.getLocked(id)
	if err != nil {
		return nil, "", err
	}

	var content []byte
	err = s.db.QueryRow(`SELECT content FROM artifact_content WHERE artifact_id = ?`, id).Scan(&content)
	if err == sql.ErrNoRows {
		logging.Get(logging.CategoryStore).Warn("Artifact %s has metadata but no content blob", id)
		a.Status = artifact.StatusContentMissing
		a.StatusReason = "content blob missing"
		return a, "", nil
	}
	if err != nil {
		return nil, "", &artifact.StorageError{Op: "get", Err: err}
	}

	return a, string(content), nil
}

// getLocked scans one artifact row assuming the caller holds at least
// s.mu.RLock().
func (s *ContentStore) getLocked(id string) (*artifact.Artifact, error) {
	row := s.db.QueryRow(
		`SELECT id, name, kind, content_hash, status, status_reason, creator, parent_id, metadata, content_preview, created_at, updated_at
		 FROM artifacts WHERE id = ?`, id)
	return scanArtifact(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row rowScanner) (*artifact.Artifact, error) {
	var a artifact.Artifact
	var kind, status, metaJSON string
	var reason, creator, parentID, preview sql.NullString
	err := row.Scan(&a.ID, &a.Name, &kind, &a.ContentHash, &status, &reason,
		&creator, &parentID, &metaJSON, &preview, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, &artifact.StorageError{Op: "scan", Err: err}
	}
	a.Kind = artifact.Kind(kind)
	a.Status = artifact.Status(status)
	a.StatusReason = reason.String
	a.Creator = creator.String
	a.ParentID = parentID.String
	a.ContentPreview = preview.String
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			logging.Get(logging.CategoryStore).Warn("Metadata unmarshal failed for %s: %v", a.ID, err)
		}
	}
	return &a, nil
}

// Update stores new content as a fresh version chained to id. If the new
// content hashes identically to the current version and no metadata is
// supplied, the existing artifact is returned unchanged: updates are
// idempotent. Name, kind and creator carry over; metadata merges, with new
// keys winning.
func (s *ContentStore) Update(id, newContent, updater string, metadata map[string]string) (*artifact.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Update")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}

	newHash := lineage.Hash(newContent)
	if newHash == existing.ContentHash && metadata == nil {
		logging.StoreDebug("Update of %s is a no-op (hash unchanged)", id)
		return existing, nil
	}

	merged := make(map[string]string, len(existing.Metadata)+len(metadata)+1)
	for k, v := range existing.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	if updater != "" {
		merged["updated_by"] = updater
	}

	now := time.Now().UTC()
	next := &artifact.Artifact{
		ID:             artifact.NewID(newHash),
		Name:           existing.Name,
		Kind:           existing.Kind,
		ContentHash:    newHash,
		Status:         artifact.StatusPending,
		Creator:        existing.Creator,
		ParentID:       id,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       merged,
		ContentPreview: artifact.Preview(newContent, 200),
	}

	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, &artifact.StorageError{Op: "update", Err: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, &artifact.StorageError{Op: "update", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO artifacts (id, name, kind, content_hash, status, status_reason, creator, parent_id, metadata, content_preview, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID, next.Name, string(next.Kind), next.ContentHash, string(next.Status), "",
		next.Creator, next.ParentID, string(metaJSON), next.ContentPreview, next.CreatedAt, next.UpdatedAt,
	); err != nil {
		return nil, &artifact.StorageError{Op: "update", Err: err}
	}

	if _, err := tx.Exec(
		`INSERT INTO artifact_content (artifact_id, content) VALUES (?, ?)`,
		next.ID, []byte(newContent),
	); err != nil {
		return nil, &artifact.StorageError{Op: "update", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &artifact.StorageError{Op: "update", Err: err}
	}

	logging.Store("Updated %s: new version %s (hash %s)", existing.Name, next.ID, newHash[:12])
	return next, nil
}

// List returns metadata records, optionally filtered by kind and status.
// Empty filter values match everything. Content blobs are never loaded.
func (s *ContentStore) List(kind artifact.Kind, status artifact.Status) ([]*artifact.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryStore, "List")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, kind, content_hash, status, status_reason, creator, parent_id, metadata, content_preview, created_at, updated_at
	 FROM artifacts WHERE 1=1`
	var args []interface{}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &artifact.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []*artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Artifact row scan failed: %v", err)
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// History returns the version chain for a name, oldest first. It starts at
// the newest artifact with that name and walks parent_id links to the root.
// A dangling link ends the walk with a partial history instead of an error.
func (s *ContentStore) History(name string) ([]*artifact.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryStore, "History")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, name, kind, content_hash, status, status_reason, creator, parent_id, metadata, content_preview, created_at, updated_at
		 FROM artifacts WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT 1`, name)
	newest, err := scanArtifact(row)
	if err != nil {
		return nil, err
	}

	chain := []*artifact.Artifact{newest}
	seen := map[string]bool{newest.ID: true}
	current := newest
	for current.ParentID != "" {
		if seen[current.ParentID] {
			logging.Get(logging.CategoryStore).Warn("Version cycle detected at %s", current.ParentID)
			break
		}
		parent, err := s.getLocked(current.ParentID)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("History of %s broken at parent %s: %v", name, current.ParentID, err)
			break
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		current = parent
	}

	// Reverse to oldest -> newest.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// SetStatus records a lifecycle transition. Only the acceptance pipeline
// writes accepted and rejected; everything else observes.
func (s *ContentStore) SetStatus(id string, status artifact.Status, reason string) error {
	timer := logging.StartTimer(logging.CategoryStore, "SetStatus")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE artifacts SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return &artifact.StorageError{Op: "set_status", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &artifact.StorageError{Op: "set_status", Err: err}
	}
	if n == 0 {
		return artifact.ErrNotFound
	}

	logging.Store("Artifact %s -> %s (%s)", id, status, reason)
	return nil
}

// Stats returns row counts per table for diagnostics.
func (s *ContentStore) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"artifacts", "artifact_content", "lineage_records", "graph_nodes", "graph_edges"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed (may not exist): %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
