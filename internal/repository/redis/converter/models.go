package converter

// MatchResultRedisModel - результат сопоставления в кэше Redis.
type MatchResultRedisModel struct {
	Candidates   []CandidateRedisModel `json:"candidates"`
	ModelVersion string                `json:"model_version"`
	IndexVersion int64                 `json:"index_version"`
}

type CandidateRedisModel struct {
	ProductID string  `json:"product_id"`
	URL       string  `json:"url"`
	Title     string  `json:"title,omitempty"`
	Score     float64 `json:"score"`
}
