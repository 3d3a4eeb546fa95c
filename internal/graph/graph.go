// Package graph implements the relationship graph linking artifacts,
// creators, and concepts. Nodes and directed typed edges live in SQLite
// next to the artifact tables; traversal helpers use *Locked variants so
// BFS never re-acquires the read lock it already holds.
package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"forgeline/internal/artifact"
	"forgeline/internal/lineage"
	"forgeline/internal/logging"
)

// ErrEndpointMissing is returned when an edge names a node that does not
// exist. Edges never create nodes implicitly.
var ErrEndpointMissing = errors.New("edge endpoint not found")

// Node is one graph vertex.
type Node struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Preview   string            `json:"preview,omitempty"`
	Status    string            `json:"status,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Edge is one directed typed relationship.
type Edge struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Target    string            `json:"target"`
	Kind      string            `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Neighborhood is the result of a Subgraph extraction.
type Neighborhood struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph stores the relationship graph over the shared database connection.
type Graph struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates the graph schema over an existing database.
func New(db *sql.DB) (*Graph, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS graph_nodes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		preview TEXT,
		status TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS graph_edges (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		kind TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create graph schema: %w", err)
	}
	return &Graph{db: db}, nil
}

// AddNode inserts a node, or updates the existing node with the same id:
// re-adding is always an update, never an error. A non-empty parentID also
// records a parent_of edge from the parent.
func (g *Graph) AddNode(id, kind, preview, status string, metadata map[string]string, parentID string) error {
	timer := logging.StartTimer(logging.CategoryGraph, "AddNode")
	defer timer.Stop()

	if id == "" || kind == "" {
		return fmt.Errorf("graph node requires id and kind")
	}

	g.mu.Lock()
	exists, err := g.nodeExistsLocked(id)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if exists {
		g.mu.Unlock()
		logging.GraphDebug("AddNode %s: exists, delegating to update", id)
		_, err := g.UpdateNode(id, preview, status, metadata)
		return err
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("failed to marshal node metadata: %w", err)
	}
	now := time.Now().UTC()
	_, err = g.db.Exec(
		`INSERT INTO graph_nodes (id, kind, preview, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, kind, preview, status, string(metaJSON), now, now,
	)
	g.mu.Unlock()
	if err != nil {
		logging.Get(logging.CategoryGraph).Error("Failed to insert node %s: %v", id, err)
		return &artifact.StorageError{Op: "graph_add_node", Err: err}
	}

	logging.GraphDebug("Added node %s (kind=%s)", id, kind)

	if parentID != "" {
		if _, err := g.AddEdge(parentID, id, "parent_of", nil); err != nil {
			// The node itself is stored; a missing parent only costs the edge.
			logging.Get(logging.CategoryGraph).Warn("parent_of edge %s -> %s not recorded: %v", parentID, id, err)
		}
	}
	return nil
}

// UpdateNode applies preview/status/metadata deltas to an existing node.
// Returns false without touching updated_at when nothing changed. Metadata
// merges key-wise; empty preview or status arguments leave the field alone.
func (g *Graph) UpdateNode(id, preview, status string, metadata map[string]string) (bool, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "UpdateNode")
	defer timer.Stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.getNodeLocked(id)
	if err != nil {
		return false, err
	}

	changed := false
	if preview != "" && preview != node.Preview {
		node.Preview = preview
		changed = true
	}
	if status != "" && status != node.Status {
		node.Status = status
		changed = true
	}
	for k, v := range metadata {
		if node.Metadata == nil {
			node.Metadata = make(map[string]string)
		}
		if node.Metadata[k] != v {
			node.Metadata[k] = v
			changed = true
		}
	}
	if !changed {
		logging.GraphDebug("UpdateNode %s: no changes", id)
		return false, nil
	}

	metaJSON, err := json.Marshal(node.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal node metadata: %w", err)
	}
	_, err = g.db.Exec(
		`UPDATE graph_nodes SET preview = ?, status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		node.Preview, node.Status, string(metaJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return false, &artifact.StorageError{Op: "graph_update_node", Err: err}
	}

	logging.GraphDebug("Updated node %s", id)
	return true, nil
}

// AddEdge records a directed typed edge. Both endpoints must already exist.
// The edge id is derived from source, target, kind, and the creation
// timestamp, so repeated relationships stay distinct.
func (g *Graph) AddEdge(source, target, kind string, metadata map[string]string) (*Edge, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "AddEdge")
	defer timer.Stop()

	if source == "" || target == "" || kind == "" {
		return nil, fmt.Errorf("graph edge requires source, target and kind")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range []string{source, target} {
		exists, err := g.nodeExistsLocked(id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrEndpointMissing, id)
		}
	}

	now := time.Now().UTC()
	edge := &Edge{
		ID:        lineage.Hash(fmt.Sprintf("%s|%s|%s|%s", source, target, kind, now.Format(time.RFC3339Nano))),
		Source:    source,
		Target:    target,
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: now,
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal edge metadata: %w", err)
	}
	_, err = g.db.Exec(
		`INSERT INTO graph_edges (id, source, target, kind, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		edge.ID, edge.Source, edge.Target, edge.Kind, string(metaJSON), edge.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryGraph).Error("Failed to insert edge %s -> %s: %v", source, target, err)
		return nil, &artifact.StorageError{Op: "graph_add_edge", Err: err}
	}

	logging.GraphDebug("Added edge %s -[%s]-> %s", source, kind, target)
	return edge, nil
}

// GetNode returns a node by id.
func (g *Graph) GetNode(id string) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.getNodeLocked(id)
}

func (g *Graph) nodeExistsLocked(id string) (bool, error) {
	var one int
	err := g.db.QueryRow(`SELECT 1 FROM graph_nodes WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &artifact.StorageError{Op: "graph_node_exists", Err: err}
	}
	return true, nil
}

func (g *Graph) getNodeLocked(id string) (*Node, error) {
	row := g.db.QueryRow(
		`SELECT id, kind, preview, status, metadata, created_at, updated_at FROM graph_nodes WHERE id = ?`, id)
	var n Node
	var preview, status, metaJSON sql.NullString
	err := row.Scan(&n.ID, &n.Kind, &preview, &status, &metaJSON, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, &artifact.StorageError{Op: "graph_get_node", Err: err}
	}
	n.Preview = preview.String
	n.Status = status.String
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &n.Metadata); err != nil {
			logging.Get(logging.CategoryGraph).Warn("Node metadata unmarshal failed for %s: %v", id, err)
		}
	}
	return &n, nil
}

// edgesLocked returns edges touching a node. Caller holds at least RLock.
func (g *Graph) edgesLocked(nodeID, direction string) ([]Edge, error) {
	var query string
	args := []interface{}{nodeID}
	switch direction {
	case "outgoing":
		query = `SELECT id, source, target, kind, metadata, created_at FROM graph_edges WHERE source = ?`
	case "incoming":
		query = `SELECT id, source, target, kind, metadata, created_at FROM graph_edges WHERE target = ?`
	default:
		query = `SELECT id, source, target, kind, metadata, created_at FROM graph_edges WHERE source = ? OR target = ?`
		args = append(args, nodeID)
	}

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, &artifact.StorageError{Op: "graph_edges", Err: err}
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.Kind, &metaJSON, &e.CreatedAt); err != nil {
			logging.Get(logging.CategoryGraph).Warn("Edge row scan failed: %v", err)
			continue
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				logging.Get(logging.CategoryGraph).Warn("Edge metadata unmarshal failed for %s: %v", e.ID, err)
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Edges returns edges touching a node in the given direction (outgoing,
// incoming, or both).
func (g *Graph) Edges(nodeID, direction string) ([]Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgesLocked(nodeID, direction)
}

// FindPaths returns every distinct simple path from start to end following
// outgoing edges only, up to maxDepth nodes per path. A node already on the
// current path is skipped, so cycles elsewhere in the graph are harmless.
// Start equal to end yields the single trivial path.
func (g *Graph) FindPaths(start, end string, maxDepth int) ([][]string, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "FindPaths")
	defer timer.Stop()

	if maxDepth <= 0 {
		maxDepth = 5
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range []string{start, end} {
		exists, err := g.nodeExistsLocked(id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrEndpointMissing, id)
		}
	}

	var paths [][]string
	queue := [][]string{{start}}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		last := path[len(path)-1]

		if last == end {
			found := make([]string, len(path))
			copy(found, path)
			paths = append(paths, found)
			continue
		}
		if len(path) >= maxDepth {
			continue
		}

		edges, err := g.edgesLocked(last, "outgoing")
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			onPath := false
			for _, n := range path {
				if n == e.Target {
					onPath = true
					break
				}
			}
			if onPath {
				continue
			}
			next := make([]string, len(path), len(path)+1)
			copy(next, path)
			queue = append(queue, append(next, e.Target))
		}
	}

	logging.GraphDebug("FindPaths %s -> %s: %d paths (maxDepth=%d)", start, end, len(paths), maxDepth)
	return paths, nil
}

// Subgraph extracts the neighborhood within radius hops of center, walking
// edges in both directions, then includes every edge whose endpoints both
// landed in the node set. Radius zero returns just the center node.
func (g *Graph) Subgraph(center string, radius int) (*Neighborhood, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Subgraph")
	defer timer.Stop()

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, err := g.getNodeLocked(center); err != nil {
		return nil, err
	}

	type queueItem struct {
		id    string
		depth int
	}
	included := map[string]bool{center: true}
	queue := []queueItem{{id: center, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= radius {
			continue
		}
		edges, err := g.edgesLocked(current.id, "both")
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			neighbor := e.Target
			if neighbor == current.id {
				neighbor = e.Source
			}
			if !included[neighbor] {
				included[neighbor] = true
				queue = append(queue, queueItem{id: neighbor, depth: current.depth + 1})
			}
		}
	}

	result := &Neighborhood{}
	seenEdges := map[string]bool{}
	for id := range included {
		node, err := g.getNodeLocked(id)
		if err != nil {
			if err == artifact.ErrNotFound {
				continue
			}
			return nil, err
		}
		result.Nodes = append(result.Nodes, *node)

		edges, err := g.edgesLocked(id, "both")
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if seenEdges[e.ID] {
				continue
			}
			if included[e.Source] && included[e.Target] {
				seenEdges[e.ID] = true
				result.Edges = append(result.Edges, e)
			}
		}
	}

	logging.GraphDebug("Subgraph around %s (radius=%d): %d nodes, %d edges", center, radius, len(result.Nodes), len(result.Edges))
	return result, nil
}

// Export writes the whole graph as a JSON document {nodes, edges}.
func (g *Graph) Export(path string) error {
	timer := logging.StartTimer(logging.CategoryGraph, "Export")
	defer timer.Stop()

	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := Neighborhood{Nodes: []Node{}, Edges: []Edge{}}

	rows, err := g.db.Query(`SELECT id, kind, preview, status, metadata, created_at, updated_at FROM graph_nodes ORDER BY id`)
	if err != nil {
		return &artifact.StorageError{Op: "graph_export", Err: err}
	}
	for rows.Next() {
		var n Node
		var preview, status, metaJSON sql.NullString
		if err := rows.Scan(&n.ID, &n.Kind, &preview, &status, &metaJSON, &n.CreatedAt, &n.UpdatedAt); err != nil {
			rows.Close()
			return &artifact.StorageError{Op: "graph_export", Err: err}
		}
		n.Preview = preview.String
		n.Status = status.String
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &n.Metadata)
		}
		doc.Nodes = append(doc.Nodes, n)
	}
	rows.Close()

	rows, err = g.db.Query(`SELECT id, source, target, kind, metadata, created_at FROM graph_edges ORDER BY created_at, id`)
	if err != nil {
		return &artifact.StorageError{Op: "graph_export", Err: err}
	}
	for rows.Next() {
		var e Edge
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.Kind, &metaJSON, &e.CreatedAt); err != nil {
			rows.Close()
			return &artifact.StorageError{Op: "graph_export", Err: err}
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		doc.Edges = append(doc.Edges, e)
	}
	rows.Close()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph export: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write graph export: %w", err)
	}

	logging.Graph("Exported graph to %s (%d nodes, %d edges)", path, len(doc.Nodes), len(doc.Edges))
	return nil
}
