package index

import "github.com/DRSN-tech/product-matcher/internal/domain"

// Flat - точный перебор. Используется для небольших каталогов.
type Flat struct {
	dim     int
	vectors []float32
	n       int
}

// NewFlat строит индекс из уже нормированных векторов одной размерности.
func NewFlat(dim int, vectors [][]float32) *Flat {
	f := &Flat{dim: dim, vectors: make([]float32, 0, dim*len(vectors)), n: len(vectors)}
	for _, v := range vectors {
		f.vectors = append(f.vectors, v...)
	}
	return f
}

func (f *Flat) Search(query []float32, k int) []Hit {
	if k <= 0 || f.n == 0 || len(query) != f.dim {
		return nil
	}

	hits := make([]Hit, f.n)
	for i := 0; i < f.n; i++ {
		hits[i] = Hit{Ordinal: i, Score: Dot(query, f.vectors[i*f.dim:(i+1)*f.dim])}
	}
	sortHits(hits)

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func (f *Flat) Len() int     { return f.n }
func (f *Flat) Dim() int     { return f.dim }
func (f *Flat) Kind() string { return domain.IndexKindFlat }
