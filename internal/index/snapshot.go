package index

import (
	"sort"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

// CandidatePoolFactor - во сколько раз больше попаданий по изображениям
// запрашивается у приближённого индекса относительно K по товарам.
const CandidatePoolFactor = 4

// Snapshot - неизменяемая загруженная версия индекса.
type Snapshot struct {
	Version      int64
	ModelVersion string
	Fingerprint  string

	products     []ProductRef
	entryProduct []int32
	searcher     Searcher
}

// NewSnapshot строит структуру поиска по артефакту. При числе записей
// не меньше hnswThreshold используется HNSW, иначе точный перебор.
func NewSnapshot(a *Artifact, version int64, hnswThreshold int, hcfg HNSWConfig) *Snapshot {
	productOrd := make(map[string]int32, len(a.Products))
	for i, p := range a.Products {
		productOrd[p.ID] = int32(i)
	}

	vectors := make([][]float32, 0, len(a.Entries))
	entryProduct := make([]int32, 0, len(a.Entries))
	for _, en := range a.Entries {
		ord, ok := productOrd[en.ProductID]
		if !ok {
			continue
		}
		vectors = append(vectors, Normalize(en.Vector))
		entryProduct = append(entryProduct, ord)
	}

	var s Searcher
	if hnswThreshold > 0 && len(vectors) >= hnswThreshold {
		s = NewHNSW(a.Dim, vectors, hcfg)
	} else {
		s = NewFlat(a.Dim, vectors)
	}

	return &Snapshot{
		Version:      version,
		ModelVersion: a.ModelVersion,
		Fingerprint:  a.Fingerprint(),
		products:     a.Products,
		entryProduct: entryProduct,
		searcher:     s,
	}
}

func (s *Snapshot) Entries() int  { return s.searcher.Len() }
func (s *Snapshot) Products() int { return len(s.products) }
func (s *Snapshot) Dim() int      { return s.searcher.Dim() }
func (s *Snapshot) Kind() string  { return s.searcher.Kind() }

// Search возвращает до k товаров по убыванию оценки.
// Для HNSW пул попаданий расширяется вдвое, пока в нём меньше k разных
// товаров и индекс не исчерпан.
func (s *Snapshot) Search(query []float32, k int, floor float64) []domain.Candidate {
	if k <= 0 || s.searcher.Len() == 0 {
		return []domain.Candidate{}
	}

	total := s.searcher.Len()
	pool := total
	if s.searcher.Kind() == domain.IndexKindHNSW {
		pool = min(total, k*CandidatePoolFactor)
	}

	q := Normalize(query)
	hits := s.searcher.Search(q, pool)
	for pool < total && s.distinctProducts(hits) < k {
		pool = min(total, pool*2)
		hits = s.searcher.Search(q, pool)
	}

	return Aggregate(hits, func(ord int) ProductRef {
		return s.products[s.entryProduct[ord]]
	}, k, floor)
}

func (s *Snapshot) distinctProducts(hits []Hit) int {
	seen := make(map[int32]struct{}, len(hits))
	for _, h := range hits {
		seen[s.entryProduct[h.Ordinal]] = struct{}{}
	}
	return len(seen)
}

// Aggregate сводит попадания по изображениям к товарам.
// Оценка товара: максимальный косинус среди его изображений, обрезанный до [0,1].
// При равных оценках товары упорядочены по идентификатору.
// Товары с оценкой ниже floor отбрасываются.
func Aggregate(hits []Hit, productOf func(ordinal int) ProductRef, k int, floor float64) []domain.Candidate {
	best := make(map[string]domain.Candidate, len(hits))
	for _, h := range hits {
		p := productOf(h.Ordinal)
		score := clamp01(float64(h.Score))
		if cur, ok := best[p.ID]; ok && cur.Score >= score {
			continue
		}
		best[p.ID] = domain.Candidate{ProductID: p.ID, URL: p.URL, Title: p.Title, Score: score}
	}

	out := make([]domain.Candidate, 0, len(best))
	for _, c := range best {
		if c.Score < floor {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})

	if len(out) > k {
		out = out[:k]
	}
	return out
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
