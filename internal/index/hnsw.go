package index

import (
	"container/heap"
	"math"
	"math/rand/v2"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

// Параметры графа HNSW
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	defaultSeed           = 42
)

type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           uint64
}

func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Seed:           defaultSeed,
	}
}

// HNSW - приближённый поиск по иерархическому графу малого мира.
// Уровни узлов выбираются детерминированным генератором, поэтому
// одинаковый вход даёт одинаковый граф.
type HNSW struct {
	cfg      HNSWConfig
	dim      int
	vectors  []float32
	links    [][][]int32 // узел -> уровень -> соседи
	entry    int
	maxLevel int
	ml       float64
	rng      *rand.Rand
}

// NewHNSW строит граф, вставляя векторы по порядку.
func NewHNSW(dim int, vectors [][]float32, cfg HNSWConfig) *HNSW {
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}

	h := &HNSW{
		cfg:      cfg,
		dim:      dim,
		vectors:  make([]float32, 0, dim*len(vectors)),
		links:    make([][][]int32, 0, len(vectors)),
		entry:    -1,
		maxLevel: -1,
		ml:       1 / math.Log(float64(cfg.M)),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}

	for _, v := range vectors {
		h.insert(v)
	}
	return h
}

func (h *HNSW) Len() int     { return len(h.links) }
func (h *HNSW) Dim() int     { return h.dim }
func (h *HNSW) Kind() string { return domain.IndexKindHNSW }

func (h *HNSW) vec(i int) []float32 {
	return h.vectors[i*h.dim : (i+1)*h.dim]
}

func (h *HNSW) maxNeighbors(level int) int {
	if level == 0 {
		return h.cfg.M * 2
	}
	return h.cfg.M
}

func (h *HNSW) randomLevel() int {
	u := h.rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * h.ml))
}

func (h *HNSW) insert(v []float32) {
	id := len(h.links)
	h.vectors = append(h.vectors, v...)
	level := h.randomLevel()
	h.links = append(h.links, make([][]int32, level+1))

	if h.entry < 0 {
		h.entry = id
		h.maxLevel = level
		return
	}

	ep := []int{h.entry}
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(v, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		cands := h.searchLayer(v, ep, h.cfg.EfConstruction, l)
		neighbors := selectNeighbors(cands, h.maxNeighbors(l))

		h.links[id][l] = make([]int32, 0, len(neighbors))
		for _, n := range neighbors {
			h.links[id][l] = append(h.links[id][l], int32(n.Ordinal))
			h.connect(n.Ordinal, id, l)
		}

		ep = ep[:0]
		for _, c := range cands {
			ep = append(ep, c.Ordinal)
		}
	}

	if level > h.maxLevel {
		h.entry = id
		h.maxLevel = level
	}
}

// connect добавляет обратную связь и обрезает список соседей до лимита уровня.
func (h *HNSW) connect(from, to, level int) {
	h.links[from][level] = append(h.links[from][level], int32(to))
	limit := h.maxNeighbors(level)
	if len(h.links[from][level]) <= limit {
		return
	}

	base := h.vec(from)
	hits := make([]Hit, 0, len(h.links[from][level]))
	for _, n := range h.links[from][level] {
		hits = append(hits, Hit{Ordinal: int(n), Score: Dot(base, h.vec(int(n)))})
	}
	hits = selectNeighbors(hits, limit)

	pruned := h.links[from][level][:0]
	for _, hit := range hits {
		pruned = append(pruned, int32(hit.Ordinal))
	}
	h.links[from][level] = pruned
}

func selectNeighbors(cands []Hit, m int) []Hit {
	sorted := make([]Hit, len(cands))
	copy(sorted, cands)
	sortHits(sorted)
	if len(sorted) > m {
		sorted = sorted[:m]
	}
	return sorted
}

// greedy спускается по уровню к ближайшему узлу.
func (h *HNSW) greedy(q []float32, ep []int, level int) []int {
	best := ep[0]
	bestScore := Dot(q, h.vec(best))
	for changed := true; changed; {
		changed = false
		if level >= len(h.links[best]) {
			break
		}
		for _, n := range h.links[best][level] {
			if s := Dot(q, h.vec(int(n))); s > bestScore {
				best, bestScore, changed = int(n), s, true
			}
		}
	}
	return []int{best}
}

// searchLayer - поиск ef ближайших на одном уровне.
func (h *HNSW) searchLayer(q []float32, ep []int, ef int, level int) []Hit {
	visited := make(map[int]struct{}, ef*4)
	cands := &maxHeap{}
	found := &minHeap{}

	for _, p := range ep {
		if _, ok := visited[p]; ok {
			continue
		}
		visited[p] = struct{}{}
		hit := Hit{Ordinal: p, Score: Dot(q, h.vec(p))}
		heap.Push(cands, hit)
		heap.Push(found, hit)
	}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(Hit)
		if found.Len() >= ef && c.Score < (*found)[0].Score {
			break
		}
		if level >= len(h.links[c.Ordinal]) {
			continue
		}
		for _, n32 := range h.links[c.Ordinal][level] {
			n := int(n32)
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}

			s := Dot(q, h.vec(n))
			if found.Len() < ef || s > (*found)[0].Score {
				hit := Hit{Ordinal: n, Score: s}
				heap.Push(cands, hit)
				heap.Push(found, hit)
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	out := make([]Hit, found.Len())
	copy(out, *found)
	sortHits(out)
	return out
}

func (h *HNSW) Search(query []float32, k int) []Hit {
	if k <= 0 || h.entry < 0 || len(query) != h.dim {
		return nil
	}

	ep := []int{h.entry}
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(query, ep, l)
	}

	hits := h.searchLayer(query, ep, max(h.cfg.EfSearch, k), 0)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

type maxHeap []Hit

func (m maxHeap) Len() int { return len(m) }
func (m maxHeap) Less(i, j int) bool {
	if m[i].Score != m[j].Score {
		return m[i].Score > m[j].Score
	}
	return m[i].Ordinal < m[j].Ordinal
}
func (m maxHeap) Swap(i, j int) { m[i], m[j] = m[j], m[i] }
func (m *maxHeap) Push(x any)   { *m = append(*m, x.(Hit)) }
func (m *maxHeap) Pop() any {
	old := *m
	x := old[len(old)-1]
	*m = old[:len(old)-1]
	return x
}

type minHeap []Hit

func (m minHeap) Len() int { return len(m) }
func (m minHeap) Less(i, j int) bool {
	if m[i].Score != m[j].Score {
		return m[i].Score < m[j].Score
	}
	return m[i].Ordinal > m[j].Ordinal
}
func (m minHeap) Swap(i, j int) { m[i], m[j] = m[j], m[i] }
func (m *minHeap) Push(x any)   { *m = append(*m, x.(Hit)) }
func (m *minHeap) Pop() any {
	old := *m
	x := old[len(old)-1]
	*m = old[:len(old)-1]
	return x
}
