package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemora/mnemora/types"
)

// GraphNode is one vertex in the semantic knowledge graph. Concepts are
// stored as nodes; Properties carries the serialized concept fields.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties types.Metadata `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the node.
func (n *GraphNode) Clone() *GraphNode {
	copied := *n
	copied.Properties = n.Properties.Clone()
	return &copied
}

// GraphEdge is a directed, labeled link between two nodes.
type GraphEdge struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Direction selects which edges of a node to traverse.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
	DirectionBoth
)

// Neighborhood is the subgraph reachable from a root within a depth bound.
type Neighborhood struct {
	Root  string      `json:"root"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphStats summarizes the stored graph.
type GraphStats struct {
	NodeCount int            `json:"node_count"`
	EdgeCount int            `json:"edge_count"`
	Labels    map[string]int `json:"labels,omitempty"`
}

// GraphStore is the persistence boundary of the semantic tier. Backends must
// be safe for concurrent use; the in-memory and SQLite implementations both
// satisfy it.
type GraphStore interface {
	// PutNode inserts or replaces the node.
	PutNode(node *GraphNode) error

	// GetNode returns a copy of the node. The bool is false when absent.
	GetNode(id string) (*GraphNode, bool, error)

	// DeleteNode removes the node and every edge touching it.
	DeleteNode(id string) error

	// PutEdge inserts or replaces the edge. Both endpoints must exist.
	PutEdge(edge *GraphEdge) error

	// DeleteEdge removes the edge by ID.
	DeleteEdge(id string) error

	// Edges returns the node's edges, optionally filtered by label.
	Edges(nodeID, label string, dir Direction) ([]GraphEdge, error)

	// Neighborhood returns the subgraph within depth hops of root.
	Neighborhood(rootID string, depth int) (*Neighborhood, error)

	// SearchNodes returns up to limit nodes whose label or rendered
	// properties contain the query, case-insensitive.
	SearchNodes(query string, limit int) ([]GraphNode, error)

	// FilterNodes returns up to limit nodes whose named property equals the
	// given value.
	FilterNodes(key string, value types.Value, limit int) ([]GraphNode, error)

	// NodeSimilarity returns the Jaccard similarity of the two nodes'
	// neighbor sets, following edges in both directions. Nodes without
	// neighbors score 0.
	NodeSimilarity(id1, id2 string) (float64, error)

	// Stats summarizes the stored graph.
	Stats() (GraphStats, error)
}

// InMemoryGraphStore keeps the graph in process memory with secondary edge
// indices per endpoint. Suited to local development, tests and small
// deployments.
type InMemoryGraphStore struct {
	mu    sync.RWMutex
	nodes map[string]*GraphNode
	edges map[string]*GraphEdge

	// outEdges and inEdges map a node ID to the IDs of its edges.
	outEdges map[string][]string
	inEdges  map[string][]string

	logger *zap.Logger
}

var _ GraphStore = (*InMemoryGraphStore)(nil)

// NewInMemoryGraphStore creates an empty in-memory graph store.
func NewInMemoryGraphStore(logger *zap.Logger) *InMemoryGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryGraphStore{
		nodes:    make(map[string]*GraphNode),
		edges:    make(map[string]*GraphEdge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "graph_inmemory")),
	}
}

// PutNode inserts or replaces the node. A copy is stored.
func (g *InMemoryGraphStore) PutNode(node *GraphNode) error {
	if node == nil || node.ID == "" {
		return types.NewError(types.ErrStorage, "graph node requires an id")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[node.ID] = node.Clone()

	g.logger.Debug("node stored", zap.String("id", node.ID), zap.String("label", node.Label))
	return nil
}

// GetNode returns a copy of the node.
func (g *InMemoryGraphStore) GetNode(id string) (*GraphNode, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, false, nil
	}
	return node.Clone(), true, nil
}

// DeleteNode removes the node and cascades to all touching edges.
func (g *InMemoryGraphStore) DeleteNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	delete(g.nodes, id)

	for _, edgeID := range append(append([]string(nil), g.outEdges[id]...), g.inEdges[id]...) {
		g.deleteEdgeLocked(edgeID)
	}
	delete(g.outEdges, id)
	delete(g.inEdges, id)
	return nil
}

// PutEdge inserts or replaces the edge. A copy is stored.
func (g *InMemoryGraphStore) PutEdge(edge *GraphEdge) error {
	if edge == nil || edge.ID == "" {
		return types.NewError(types.ErrStorage, "graph edge requires an id")
	}
	if edge.From == "" || edge.To == "" {
		return types.NewError(types.ErrStorage, "graph edge requires both endpoints")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.From]; !ok {
		return types.NewError(types.ErrStorage, "edge source node not found: "+edge.From)
	}
	if _, ok := g.nodes[edge.To]; !ok {
		return types.NewError(types.ErrStorage, "edge target node not found: "+edge.To)
	}

	if prev, ok := g.edges[edge.ID]; ok {
		g.unlinkEdgeLocked(prev)
	}
	copied := *edge
	g.edges[edge.ID] = &copied
	g.outEdges[edge.From] = append(g.outEdges[edge.From], edge.ID)
	g.inEdges[edge.To] = append(g.inEdges[edge.To], edge.ID)
	return nil
}

// DeleteEdge removes the edge by ID.
func (g *InMemoryGraphStore) DeleteEdge(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteEdgeLocked(id)
	return nil
}

func (g *InMemoryGraphStore) deleteEdgeLocked(id string) {
	edge, ok := g.edges[id]
	if !ok {
		return
	}
	delete(g.edges, id)
	g.unlinkEdgeLocked(edge)
}

func (g *InMemoryGraphStore) unlinkEdgeLocked(edge *GraphEdge) {
	g.outEdges[edge.From] = removeString(g.outEdges[edge.From], edge.ID)
	g.inEdges[edge.To] = removeString(g.inEdges[edge.To], edge.ID)
}

// Edges returns the node's edges, optionally filtered by label.
func (g *InMemoryGraphStore) Edges(nodeID, label string, dir Direction) ([]GraphEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make([]GraphEdge, 0)
	collect := func(edgeIDs []string) {
		for _, edgeID := range edgeIDs {
			edge, ok := g.edges[edgeID]
			if !ok {
				continue
			}
			if label != "" && edge.Label != label {
				continue
			}
			results = append(results, *edge)
		}
	}

	if dir == DirectionOut || dir == DirectionBoth {
		collect(g.outEdges[nodeID])
	}
	if dir == DirectionIn || dir == DirectionBoth {
		collect(g.inEdges[nodeID])
	}
	return results, nil
}

// Neighborhood walks breadth-first from root up to depth hops, following
// edges in both directions.
func (g *InMemoryGraphStore) Neighborhood(rootID string, depth int) (*Neighborhood, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	root, ok := g.nodes[rootID]
	if !ok {
		return nil, types.NewError(types.ErrStorage, "graph node not found: "+rootID)
	}

	hood := &Neighborhood{Root: rootID, Nodes: []GraphNode{*root.Clone()}}
	visited := map[string]struct{}{rootID: {}}
	seenEdges := make(map[string]struct{})
	frontier := []string{rootID}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, edgeID := range append(append([]string(nil), g.outEdges[id]...), g.inEdges[id]...) {
				edge, ok := g.edges[edgeID]
				if !ok {
					continue
				}
				if _, dup := seenEdges[edgeID]; !dup {
					seenEdges[edgeID] = struct{}{}
					hood.Edges = append(hood.Edges, *edge)
				}
				neighbor := edge.To
				if neighbor == id {
					neighbor = edge.From
				}
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				if node, found := g.nodes[neighbor]; found {
					hood.Nodes = append(hood.Nodes, *node.Clone())
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}
	return hood, nil
}

// SearchNodes matches the query against the node label and its rendered
// properties, case-insensitive, returning up to limit nodes sorted by ID.
func (g *InMemoryGraphStore) SearchNodes(query string, limit int) ([]GraphNode, error) {
	needle := strings.ToLower(query)

	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make([]GraphNode, 0)
	for _, node := range g.nodes {
		if nodeMatches(node, needle) {
			results = append(results, *node.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func nodeMatches(node *GraphNode, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(node.Label), needle) {
		return true
	}
	for key, value := range node.Properties {
		if strings.Contains(strings.ToLower(key), needle) {
			return true
		}
		if strings.Contains(strings.ToLower(value.Text()), needle) {
			return true
		}
	}
	return false
}

// FilterNodes returns up to limit nodes whose named property equals value,
// sorted by ID.
func (g *InMemoryGraphStore) FilterNodes(key string, value types.Value, limit int) ([]GraphNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make([]GraphNode, 0)
	for _, node := range g.nodes {
		if prop, ok := node.Properties[key]; ok && prop.Equal(value) {
			results = append(results, *node.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// NodeSimilarity computes common-neighbor Jaccard similarity.
func (g *InMemoryGraphStore) NodeSimilarity(id1, id2 string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return neighborJaccard(g.neighborSetLocked(id1), g.neighborSetLocked(id2)), nil
}

func (g *InMemoryGraphStore) neighborSetLocked(id string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, edgeID := range g.outEdges[id] {
		if edge, ok := g.edges[edgeID]; ok {
			set[edge.To] = struct{}{}
		}
	}
	for _, edgeID := range g.inEdges[id] {
		if edge, ok := g.edges[edgeID]; ok {
			set[edge.From] = struct{}{}
		}
	}
	delete(set, id)
	return set
}

func neighborJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for id := range a {
		if _, ok := b[id]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Stats summarizes the stored graph.
func (g *InMemoryGraphStore) Stats() (GraphStats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GraphStats{
		NodeCount: len(g.nodes),
		EdgeCount: len(g.edges),
		Labels:    make(map[string]int),
	}
	for _, edge := range g.edges {
		stats.Labels[edge.Label]++
	}
	return stats, nil
}
