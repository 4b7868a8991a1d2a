package domain

import "time"

// Виды ANN-индекса
const (
	IndexKindFlat = "flat"
	IndexKindHNSW = "hnsw"
)

// IndexVersion - опубликованный неизменяемый снимок индекса.
// Активной может быть только одна версия, старые хранятся для отката.
type IndexVersion struct {
	ID           int64
	ModelVersion string
	Fingerprint  string
	ObjectKey    string
	Kind         string
	ImageCount   int
	ProductCount int
	SizeBytes    int64
	IsActive     bool
	CreatedAt    time.Time
	ActivatedAt  *time.Time
}

// BuildReport - итог сборки индекса.
type BuildReport struct {
	Version      *IndexVersion
	NoOp         bool // Отпечаток совпал с активной версией
	Embedded     int
	Reused       int
	Failed       int
	FailedImages []string
}
