package core

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/store"
	"github.com/thoughtstream/thoughtstream/internal/utils"
)

const (
	maxRelated       = 10
	graphExtent      = 100.0
	projectionSeed   = 20240601
	relatedPreviewLn = 160
)

var clusterPalette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f",
	"#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac",
}

type GraphConfig struct {
	RelatedMinSimilarity float64
	EdgeThreshold        float64
}

// GraphService derives relations between thoughts from their embeddings.
// Nothing it returns is stored; every call recomputes from current state.
type GraphService struct {
	store *store.SQLiteStore
	cfg   GraphConfig
}

func NewGraphService(st *store.SQLiteStore, cfg GraphConfig) *GraphService {
	return &GraphService{store: st, cfg: cfg}
}

type RelatedItem struct {
	ID         string   `json:"id"`
	SmartID    string   `json:"smartId"`
	Preview    string   `json:"preview"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	Similarity float64  `json:"similarity"`
	CreatedAt  int64    `json:"createdAt"`
}

type RelatedResult struct {
	ThoughtID string        `json:"thoughtId"`
	Related   []RelatedItem `json:"related"`
	Count     int           `json:"count"`
}

// Related ranks other thoughts by cosine similarity to id. A thought that
// has not been enriched yet has no neighbours.
func (s *GraphService) Related(ctx context.Context, id string) (*RelatedResult, error) {
	target, err := s.store.GetThought(ctx, id, false)
	if err != nil {
		return nil, err
	}
	res := &RelatedResult{ThoughtID: id, Related: []RelatedItem{}}
	if target.Derived == nil {
		return res, nil
	}

	corpus, err := s.store.LoadCorpus(ctx, store.CorpusFilter{})
	if err != nil {
		return nil, err
	}
	for _, t := range corpus {
		if t.ID == id || t.Derived == nil {
			continue
		}
		sim := utils.Similarity(target.Derived.Embedding, t.Derived.Embedding)
		if sim < s.cfg.RelatedMinSimilarity {
			continue
		}
		res.Related = append(res.Related, RelatedItem{
			ID:         t.ID,
			SmartID:    t.SmartID,
			Preview:    utils.Preview(t.Text, relatedPreviewLn),
			Type:       t.Type,
			Tags:       t.Tags,
			Similarity: sim,
			CreatedAt:  t.CreatedAt,
		})
	}
	sort.SliceStable(res.Related, func(i, j int) bool {
		a, b := res.Related[i], res.Related[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.CreatedAt > b.CreatedAt
	})
	if len(res.Related) > maxRelated {
		res.Related = res.Related[:maxRelated]
	}
	res.Count = len(res.Related)
	return res, nil
}

type GraphNode struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Type      string  `json:"type"`
	Category  string  `json:"category,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	ClusterID string  `json:"clusterId"`
}

type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Similarity float64 `json:"similarity"`
}

type GraphCluster struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Color   string   `json:"color"`
	NodeIDs []string `json:"nodeIds"`
}

type Graph struct {
	Nodes    []GraphNode    `json:"nodes"`
	Edges    []GraphEdge    `json:"edges"`
	Clusters []GraphCluster `json:"clusters"`
}

// ParseMonth turns "YYYY-MM" into the UTC [start, end) range in milliseconds.
func ParseMonth(month string) (int64, int64, error) {
	start, err := time.ParseInLocation("2006-01", month, time.UTC)
	if err != nil {
		return 0, 0, errors.NewValidationf("month %q must be formatted as YYYY-MM", month)
	}
	return start.UnixMilli(), start.AddDate(0, 1, 0).UnixMilli(), nil
}

// Graph lays out live thoughts in 3-D, connects close pairs and groups
// connected components into clusters. An empty month means all thoughts.
func (s *GraphService) Graph(ctx context.Context, month string) (*Graph, error) {
	var filter store.CorpusFilter
	if month != "" {
		from, until, err := ParseMonth(month)
		if err != nil {
			return nil, err
		}
		filter.CreatedFrom, filter.CreatedUntil = from, until
	}
	corpus, err := s.store.LoadCorpus(ctx, filter)
	if err != nil {
		return nil, err
	}
	// Oldest first so cluster ids are stable as new thoughts arrive.
	sort.SliceStable(corpus, func(i, j int) bool {
		if corpus[i].CreatedAt != corpus[j].CreatedAt {
			return corpus[i].CreatedAt < corpus[j].CreatedAt
		}
		return corpus[i].ID < corpus[j].ID
	})
	return buildGraph(corpus, s.cfg.EdgeThreshold), nil
}

func buildGraph(corpus []store.Thought, threshold float64) *Graph {
	g := &Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}, Clusters: []GraphCluster{}}
	if len(corpus) == 0 {
		return g
	}

	coords := layout(corpus)
	for i, t := range corpus {
		label := t.Text
		node := GraphNode{ID: t.ID, Type: t.Type, X: coords[i][0], Y: coords[i][1], Z: coords[i][2]}
		if t.Derived != nil {
			node.Category = t.Derived.Category
			if t.Derived.Summary != "" {
				label = t.Derived.Summary
			}
		}
		node.Label = utils.Preview(label, maxLabelRunes)
		g.Nodes = append(g.Nodes, node)
	}

	uf := newUnionFind(len(corpus))
	for i := range corpus {
		if corpus[i].Derived == nil {
			continue
		}
		for j := i + 1; j < len(corpus); j++ {
			if corpus[j].Derived == nil {
				continue
			}
			sim := utils.Similarity(corpus[i].Derived.Embedding, corpus[j].Derived.Embedding)
			if sim < threshold {
				continue
			}
			g.Edges = append(g.Edges, GraphEdge{Source: corpus[i].ID, Target: corpus[j].ID, Similarity: clamp01(sim)})
			uf.union(i, j)
		}
	}

	clusterOf := map[int]int{}
	for i := range corpus {
		root := uf.find(i)
		idx, ok := clusterOf[root]
		if !ok {
			idx = len(g.Clusters)
			clusterOf[root] = idx
			g.Clusters = append(g.Clusters, GraphCluster{ID: fmt.Sprintf("c%d", idx)})
		}
		g.Clusters[idx].NodeIDs = append(g.Clusters[idx].NodeIDs, corpus[i].ID)
		g.Nodes[i].ClusterID = g.Clusters[idx].ID
	}

	byID := make(map[string]*store.Thought, len(corpus))
	for i := range corpus {
		byID[corpus[i].ID] = &corpus[i]
	}
	for i := range g.Clusters {
		c := &g.Clusters[i]
		c.Label = clusterLabel(c.NodeIDs, byID)
		c.Color = clusterColor(c.Label)
	}
	return g
}

// clusterLabel is the most frequent category, else auto tag, else type.
func clusterLabel(ids []string, byID map[string]*store.Thought) string {
	categories, autoTags, types := map[string]int{}, map[string]int{}, map[string]int{}
	for _, id := range ids {
		t := byID[id]
		types[t.Type]++
		if t.Derived == nil {
			continue
		}
		if t.Derived.Category != "" {
			categories[t.Derived.Category]++
		}
		for _, tag := range t.Derived.AutoTags {
			autoTags[tag]++
		}
	}
	for _, counts := range []map[string]int{categories, autoTags, types} {
		if label := mostFrequent(counts); label != "" {
			return label
		}
	}
	return store.TypeNote
}

func mostFrequent(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

func clusterColor(label string) string {
	h := fnv.New32a()
	h.Write([]byte(label))
	return clusterPalette[h.Sum32()%uint32(len(clusterPalette))]
}

// layout projects each embedding onto three fixed Gaussian axes and scales
// the result into [-graphExtent, graphExtent]. Thoughts without an embedding
// sit on a ring at the edge, placed by a hash of their id.
func layout(corpus []store.Thought) [][3]float64 {
	coords := make([][3]float64, len(corpus))
	axes := map[int][3][]float64{}
	maxAbs := 0.0
	for i, t := range corpus {
		if t.Derived == nil || len(t.Derived.Embedding) == 0 {
			continue
		}
		vec := utils.Normalize(t.Derived.Embedding)
		ax, ok := axes[len(vec)]
		if !ok {
			ax = projectionAxes(len(vec))
			axes[len(vec)] = ax
		}
		for d := 0; d < 3; d++ {
			var sum float64
			for k, v := range vec {
				sum += float64(v) * ax[d][k]
			}
			coords[i][d] = finite(sum)
			maxAbs = math.Max(maxAbs, math.Abs(coords[i][d]))
		}
	}

	for i, t := range corpus {
		if t.Derived == nil || len(t.Derived.Embedding) == 0 {
			h := fnv.New64a()
			h.Write([]byte(t.ID))
			angle := float64(h.Sum64()%3600) / 3600 * 2 * math.Pi
			coords[i] = [3]float64{graphExtent * math.Cos(angle), graphExtent * math.Sin(angle), 0}
			continue
		}
		for d := 0; d < 3; d++ {
			if maxAbs > 0 {
				coords[i][d] = finite(coords[i][d] / maxAbs * graphExtent)
			} else {
				coords[i][d] = 0
			}
		}
	}
	return coords
}

func projectionAxes(dims int) [3][]float64 {
	rng := rand.New(rand.NewSource(projectionSeed + int64(dims)))
	var ax [3][]float64
	for d := 0; d < 3; d++ {
		ax[d] = make([]float64, dims)
		for k := range ax[d] {
			ax[d][k] = rng.NormFloat64()
		}
	}
	return ax
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
