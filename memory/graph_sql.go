package memory

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mnemora/mnemora/types"
)

// graphNodeRow is the relational shape of a GraphNode. Properties are stored
// as a JSON blob; searchText is a lower-cased rendering used for LIKE queries.
type graphNodeRow struct {
	ID         string `gorm:"primaryKey"`
	Label      string `gorm:"index"`
	Properties string
	SearchText string `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (graphNodeRow) TableName() string { return "graph_nodes" }

type graphEdgeRow struct {
	ID        string `gorm:"primaryKey"`
	FromID    string `gorm:"index"`
	ToID      string `gorm:"index"`
	Label     string `gorm:"index"`
	CreatedAt time.Time
}

func (graphEdgeRow) TableName() string { return "graph_edges" }

// SQLGraphStore persists the semantic graph through GORM. Any dialect GORM
// supports will do; OpenSQLiteGraphStore wires the pure-Go SQLite driver.
type SQLGraphStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ GraphStore = (*SQLGraphStore)(nil)

// NewSQLGraphStore migrates the schema and returns a store over db.
func NewSQLGraphStore(db *gorm.DB, logger *zap.Logger) (*SQLGraphStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&graphNodeRow{}, &graphEdgeRow{}); err != nil {
		return nil, types.NewError(types.ErrStorage, "graph schema migration failed").WithCause(err)
	}
	return &SQLGraphStore{
		db:     db,
		logger: logger.With(zap.String("component", "graph_sql")),
	}, nil
}

// OpenSQLiteGraphStore opens (or creates) a SQLite-backed graph store at
// path. Use ":memory:" for an ephemeral database.
func OpenSQLiteGraphStore(path string, logger *zap.Logger) (*SQLGraphStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "open sqlite graph database: "+path).WithCause(err)
	}
	return NewSQLGraphStore(db, logger)
}

func encodeNodeRow(node *GraphNode) (*graphNodeRow, error) {
	props, err := json.Marshal(node.Properties)
	if err != nil {
		return nil, types.NewError(types.ErrSerialization, "encode node properties").WithCause(err)
	}

	var sb strings.Builder
	sb.WriteString(strings.ToLower(node.Label))
	for key, value := range node.Properties {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(key))
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(value.Text()))
	}

	return &graphNodeRow{
		ID:         node.ID,
		Label:      node.Label,
		Properties: string(props),
		SearchText: sb.String(),
		CreatedAt:  node.CreatedAt,
		UpdatedAt:  node.UpdatedAt,
	}, nil
}

func decodeNodeRow(row *graphNodeRow) (*GraphNode, error) {
	node := &GraphNode{
		ID:        row.ID,
		Label:     row.Label,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Properties != "" && row.Properties != "null" {
		if err := json.Unmarshal([]byte(row.Properties), &node.Properties); err != nil {
			return nil, types.NewError(types.ErrSerialization, "decode node properties").WithCause(err)
		}
	}
	return node, nil
}

// PutNode inserts or replaces the node.
func (s *SQLGraphStore) PutNode(node *GraphNode) error {
	if node == nil || node.ID == "" {
		return types.NewError(types.ErrStorage, "graph node requires an id")
	}
	row, err := encodeNodeRow(node)
	if err != nil {
		return err
	}
	if err := s.db.Save(row).Error; err != nil {
		return types.NewError(types.ErrStorage, "store graph node").WithCause(err)
	}
	return nil
}

// GetNode returns the node by ID.
func (s *SQLGraphStore) GetNode(id string) (*GraphNode, bool, error) {
	var row graphNodeRow
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewError(types.ErrStorage, "load graph node").WithCause(err)
	}
	node, err := decodeNodeRow(&row)
	if err != nil {
		return nil, false, err
	}
	return node, true, nil
}

// DeleteNode removes the node and cascades to all touching edges.
func (s *SQLGraphStore) DeleteNode(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&graphNodeRow{}, "id = ?", id).Error; err != nil {
			return types.NewError(types.ErrStorage, "delete graph node").WithCause(err)
		}
		if err := tx.Delete(&graphEdgeRow{}, "from_id = ? OR to_id = ?", id, id).Error; err != nil {
			return types.NewError(types.ErrStorage, "delete graph node edges").WithCause(err)
		}
		return nil
	})
}

// PutEdge inserts or replaces the edge. Both endpoints must exist.
func (s *SQLGraphStore) PutEdge(edge *GraphEdge) error {
	if edge == nil || edge.ID == "" {
		return types.NewError(types.ErrStorage, "graph edge requires an id")
	}
	if edge.From == "" || edge.To == "" {
		return types.NewError(types.ErrStorage, "graph edge requires both endpoints")
	}

	var count int64
	if err := s.db.Model(&graphNodeRow{}).Where("id IN ?", []string{edge.From, edge.To}).Count(&count).Error; err != nil {
		return types.NewError(types.ErrStorage, "check edge endpoints").WithCause(err)
	}
	expected := int64(2)
	if edge.From == edge.To {
		expected = 1
	}
	if count < expected {
		return types.NewError(types.ErrStorage, "edge endpoint node not found")
	}

	row := graphEdgeRow{
		ID:        edge.ID,
		FromID:    edge.From,
		ToID:      edge.To,
		Label:     edge.Label,
		CreatedAt: edge.CreatedAt,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return types.NewError(types.ErrStorage, "store graph edge").WithCause(err)
	}
	return nil
}

// DeleteEdge removes the edge by ID.
func (s *SQLGraphStore) DeleteEdge(id string) error {
	if err := s.db.Delete(&graphEdgeRow{}, "id = ?", id).Error; err != nil {
		return types.NewError(types.ErrStorage, "delete graph edge").WithCause(err)
	}
	return nil
}

// Edges returns the node's edges, optionally filtered by label.
func (s *SQLGraphStore) Edges(nodeID, label string, dir Direction) ([]GraphEdge, error) {
	query := s.db.Model(&graphEdgeRow{})
	switch dir {
	case DirectionOut:
		query = query.Where("from_id = ?", nodeID)
	case DirectionIn:
		query = query.Where("to_id = ?", nodeID)
	default:
		query = query.Where("from_id = ? OR to_id = ?", nodeID, nodeID)
	}
	if label != "" {
		query = query.Where("label = ?", label)
	}

	var rows []graphEdgeRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "load graph edges").WithCause(err)
	}
	edges := make([]GraphEdge, len(rows))
	for i, row := range rows {
		edges[i] = GraphEdge{ID: row.ID, From: row.FromID, To: row.ToID, Label: row.Label, CreatedAt: row.CreatedAt}
	}
	return edges, nil
}

// Neighborhood walks breadth-first from root up to depth hops, one edge
// query per frontier level.
func (s *SQLGraphStore) Neighborhood(rootID string, depth int) (*Neighborhood, error) {
	root, ok, err := s.GetNode(rootID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewError(types.ErrStorage, "graph node not found: "+rootID)
	}

	hood := &Neighborhood{Root: rootID, Nodes: []GraphNode{*root}}
	visited := map[string]struct{}{rootID: {}}
	seenEdges := make(map[string]struct{})
	frontier := []string{rootID}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var rows []graphEdgeRow
		if err := s.db.Where("from_id IN ? OR to_id IN ?", frontier, frontier).Find(&rows).Error; err != nil {
			return nil, types.NewError(types.ErrStorage, "load neighborhood edges").WithCause(err)
		}

		next := make([]string, 0)
		for _, row := range rows {
			if _, dup := seenEdges[row.ID]; !dup {
				seenEdges[row.ID] = struct{}{}
				hood.Edges = append(hood.Edges, GraphEdge{ID: row.ID, From: row.FromID, To: row.ToID, Label: row.Label, CreatedAt: row.CreatedAt})
			}
			for _, endpoint := range []string{row.FromID, row.ToID} {
				if _, seen := visited[endpoint]; seen {
					continue
				}
				visited[endpoint] = struct{}{}
				node, found, err := s.GetNode(endpoint)
				if err != nil {
					return nil, err
				}
				if found {
					hood.Nodes = append(hood.Nodes, *node)
					next = append(next, endpoint)
				}
			}
		}
		frontier = next
	}
	return hood, nil
}

// SearchNodes matches the query against the indexed search text.
func (s *SQLGraphStore) SearchNodes(query string, limit int) ([]GraphNode, error) {
	q := s.db.Model(&graphNodeRow{}).Order("id")
	if query != "" {
		q = q.Where("search_text LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []graphNodeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "search graph nodes").WithCause(err)
	}
	return decodeNodeRows(rows)
}

// FilterNodes scans nodes and keeps those whose named property equals value.
// Property equality needs the decoded form, so the filter runs client-side.
func (s *SQLGraphStore) FilterNodes(key string, value types.Value, limit int) ([]GraphNode, error) {
	var rows []graphNodeRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "filter graph nodes").WithCause(err)
	}

	results := make([]GraphNode, 0)
	for i := range rows {
		node, err := decodeNodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		if prop, ok := node.Properties[key]; ok && prop.Equal(value) {
			results = append(results, *node)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// NodeSimilarity computes common-neighbor Jaccard similarity.
func (s *SQLGraphStore) NodeSimilarity(id1, id2 string) (float64, error) {
	set1, err := s.neighborSet(id1)
	if err != nil {
		return 0, err
	}
	set2, err := s.neighborSet(id2)
	if err != nil {
		return 0, err
	}
	return neighborJaccard(set1, set2), nil
}

func (s *SQLGraphStore) neighborSet(id string) (map[string]struct{}, error) {
	var rows []graphEdgeRow
	if err := s.db.Where("from_id = ? OR to_id = ?", id, id).Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "load neighbor edges").WithCause(err)
	}
	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		neighbor := row.ToID
		if neighbor == id {
			neighbor = row.FromID
		}
		set[neighbor] = struct{}{}
	}
	delete(set, id)
	return set, nil
}

// Stats summarizes the stored graph.
func (s *SQLGraphStore) Stats() (GraphStats, error) {
	stats := GraphStats{Labels: make(map[string]int)}

	var nodeCount, edgeCount int64
	if err := s.db.Model(&graphNodeRow{}).Count(&nodeCount).Error; err != nil {
		return stats, types.NewError(types.ErrStorage, "count graph nodes").WithCause(err)
	}
	if err := s.db.Model(&graphEdgeRow{}).Count(&edgeCount).Error; err != nil {
		return stats, types.NewError(types.ErrStorage, "count graph edges").WithCause(err)
	}
	stats.NodeCount = int(nodeCount)
	stats.EdgeCount = int(edgeCount)

	type labelCount struct {
		Label string
		N     int
	}
	var labels []labelCount
	if err := s.db.Model(&graphEdgeRow{}).Select("label, count(*) as n").Group("label").Find(&labels).Error; err != nil {
		return stats, types.NewError(types.ErrStorage, "count edge labels").WithCause(err)
	}
	for _, lc := range labels {
		stats.Labels[lc.Label] = lc.N
	}
	return stats, nil
}

func decodeNodeRows(rows []graphNodeRow) ([]GraphNode, error) {
	nodes := make([]GraphNode, 0, len(rows))
	for i := range rows {
		node, err := decodeNodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, nil
}
