// Package lineage implements the append-only provenance ledger. Each record
// binds an artifact's content hash to the content hashes of its parents via
// a chain hash, so ancestry can be verified transitively and traversed as a
// DAG without touching artifact content.
package lineage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"forgeline/internal/artifact"
	"forgeline/internal/logging"
)

// Record is one ledger entry.
type Record struct {
	ArtifactID   string            `json:"artifact_id"`
	Kind         string            `json:"kind"`
	ContentHash  string            `json:"content_hash"`
	ParentHashes []string          `json:"parent_hashes,omitempty"`
	ChainHash    string            `json:"chain_hash"`
	Timestamp    string            `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DAGNode is one artifact in an ancestry traversal.
type DAGNode struct {
	ArtifactID  string `json:"artifact_id"`
	ContentHash string `json:"content_hash"`
	Kind        string `json:"kind"`
	Depth       int    `json:"depth"`
}

// DAGEdge points from a child artifact to one of its parents.
type DAGEdge struct {
	Child  string `json:"child"`
	Parent string `json:"parent"`
}

// DAG is the result of a bounded backward traversal.
type DAG struct {
	Nodes []DAGNode `json:"nodes"`
	Edges []DAGEdge `json:"edges"`
}

// Ledger stores lineage records in a table layered over the content store's
// database connection.
type Ledger struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewLedger creates the ledger schema over an existing database.
func NewLedger(db *sql.DB) (*Ledger, error) {
	table := `
	CREATE TABLE IF NOT EXISTS lineage_records (
		artifact_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		parent_hashes TEXT,
		chain_hash TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_lineage_content_hash ON lineage_records(content_hash);
	`
	if _, err := db.Exec(table); err != nil {
		return nil, fmt.Errorf("failed to create lineage schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record writes (or overwrites) the ledger entry for an artifact. The chain
// hash commits to the content hash, the sorted parent hashes, and the
// recording timestamp; with no parents it equals the content hash.
func (l *Ledger) Record(artifactID, kind, contentHash string, parentHashes []string, metadata map[string]string) (*Record, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "Record")
	defer timer.Stop()

	if artifactID == "" || contentHash == "" {
		return nil, fmt.Errorf("lineage record requires artifact id and content hash")
	}

	rec := &Record{
		ArtifactID:   artifactID,
		Kind:         kind,
		ContentHash:  contentHash,
		ParentHashes: parentHashes,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Metadata:     metadata,
	}
	rec.ChainHash = chainHash(contentHash, parentHashes, rec.Timestamp)

	parentsJSON, err := json.Marshal(parentHashes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parent hashes: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lineage metadata: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.Exec(
		`INSERT OR REPLACE INTO lineage_records (artifact_id, kind, content_hash, parent_hashes, chain_hash, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ArtifactID, rec.Kind, rec.ContentHash, string(parentsJSON), rec.ChainHash, rec.Timestamp, string(metaJSON),
	)
	if err != nil {
		logging.Get(logging.CategoryLedger).Error("Failed to record lineage for %s: %v", artifactID, err)
		return nil, &artifact.StorageError{Op: "lineage_record", Err: err}
	}

	logging.LedgerDebug("Recorded lineage for %s: chain=%s parents=%d", artifactID, rec.ChainHash[:12], len(parentHashes))
	return rec, nil
}

// Get returns the ledger entry for an artifact.
func (l *Ledger) Get(artifactID string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(artifactID)
}

func (l *Ledger) getLocked(artifactID string) (*Record, error) {
	row := l.db.QueryRow(
		`SELECT artifact_id, kind, content_hash, parent_hashes, chain_hash, timestamp, metadata
		 FROM lineage_records WHERE artifact_id = ?`, artifactID)
	return scanRecord(row)
}

// findByContentHashLocked resolves a content hash to the record that
// produced it. Caller holds at least l.mu.RLock().
func (l *Ledger) findByContentHashLocked(hash string) (*Record, error) {
	row := l.db.QueryRow(
		`SELECT artifact_id, kind, content_hash, parent_hashes, chain_hash, timestamp, metadata
		 FROM lineage_records WHERE content_hash = ? LIMIT 1`, hash)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var parentsJSON, metaJSON sql.NullString
	err := row.Scan(&rec.ArtifactID, &rec.Kind, &rec.ContentHash, &parentsJSON, &rec.ChainHash, &rec.Timestamp, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, &artifact.StorageError{Op: "lineage_scan", Err: err}
	}
	if parentsJSON.Valid && parentsJSON.String != "" && parentsJSON.String != "null" {
		if err := json.Unmarshal([]byte(parentsJSON.String), &rec.ParentHashes); err != nil {
			logging.Get(logging.CategoryLedger).Warn("Parent hash unmarshal failed for %s: %v", rec.ArtifactID, err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			logging.Get(logging.CategoryLedger).Warn("Lineage metadata unmarshal failed for %s: %v", rec.ArtifactID, err)
		}
	}
	return &rec, nil
}

// Verify checks an artifact's ancestry transitively: every parent hash at
// every depth must resolve to a recorded content hash. The first unresolved
// hash fails the whole verification. A visited set keeps shared ancestors
// from being re-checked and terminates on diamond shapes.
func (l *Ledger) Verify(artifactID string) (bool, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "Verify")
	defer timer.Stop()

	l.mu.RLock()
	defer l.mu.RUnlock()

	root, err := l.getLocked(artifactID)
	if err != nil {
		if err == artifact.ErrNotFound {
			logging.Ledger("Verify %s: no ledger record", artifactID)
			return false, nil
		}
		return false, err
	}

	visited := map[string]bool{root.ContentHash: true}
	queue := []*Record{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, parentHash := range current.ParentHashes {
			if visited[parentHash] {
				continue
			}
			parent, err := l.findByContentHashLocked(parentHash)
			if err == artifact.ErrNotFound {
				logging.Ledger("Verify %s failed: parent hash %s unresolved", artifactID, shortHash(parentHash))
				return false, nil
			}
			if err != nil {
				return false, err
			}
			visited[parentHash] = true
			queue = append(queue, parent)
		}
	}

	logging.LedgerDebug("Verify %s: ok (%d ancestors checked)", artifactID, len(visited)-1)
	return true, nil
}

// DAG traverses ancestry backward from rootID up to maxDepth hops and
// returns the deduplicated nodes and child-to-parent edges. Unresolvable
// parent hashes are skipped; DAG is a reporting view, Verify is the check.
func (l *Ledger) DAG(rootID string, maxDepth int) (*DAG, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "DAG")
	defer timer.Stop()

	if maxDepth <= 0 {
		maxDepth = 10
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	root, err := l.getLocked(rootID)
	if err != nil {
		return nil, err
	}

	type queueItem struct {
		rec   *Record
		depth int
	}

	dag := &DAG{}
	seen := map[string]bool{root.ArtifactID: true}
	queue := []queueItem{{rec: root, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dag.Nodes = append(dag.Nodes, DAGNode{
			ArtifactID:  current.rec.ArtifactID,
			ContentHash: current.rec.ContentHash,
			Kind:        current.rec.Kind,
			Depth:       current.depth,
		})

		if current.depth >= maxDepth {
			continue
		}

		for _, parentHash := range current.rec.ParentHashes {
			parent, err := l.findByContentHashLocked(parentHash)
			if err != nil {
				if err != artifact.ErrNotFound {
					return nil, err
				}
				logging.LedgerDebug("DAG: parent hash %s unresolved, skipping", shortHash(parentHash))
				continue
			}
			dag.Edges = append(dag.Edges, DAGEdge{Child: current.rec.ArtifactID, Parent: parent.ArtifactID})
			if !seen[parent.ArtifactID] {
				seen[parent.ArtifactID] = true
				queue = append(queue, queueItem{rec: parent, depth: current.depth + 1})
			}
		}
	}

	logging.LedgerDebug("DAG from %s: %d nodes, %d edges", rootID, len(dag.Nodes), len(dag.Edges))
	return dag, nil
}

// shortHash trims a hash for log output. Callers may record parent hashes
// of any length; logging must never assume sha256 width.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Delete removes a ledger entry. Exposed for audit tooling; normal operation
// never deletes records.
func (l *Ledger) Delete(artifactID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.Exec(`DELETE FROM lineage_records WHERE artifact_id = ?`, artifactID)
	if err != nil {
		return &artifact.StorageError{Op: "lineage_delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &artifact.StorageError{Op: "lineage_delete", Err: err}
	}
	if n == 0 {
		return artifact.ErrNotFound
	}
	return nil
}
