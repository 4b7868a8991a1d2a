package index

import "sort"

// Hit - попадание на уровне изображения: порядковый номер записи и косинус.
type Hit struct {
	Ordinal int
	Score   float32
}

// Searcher - поиск ближайших соседей по нормированным векторам.
type Searcher interface {
	Search(query []float32, k int) []Hit
	Len() int
	Dim() int
	Kind() string
}

// sortHits упорядочивает по убыванию оценки, при равенстве по номеру записи.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
}
