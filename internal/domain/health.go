package domain

// Health - состояние матчера для /health.
type Health struct {
	State        string `json:"state"`
	Ready        bool   `json:"ready"`
	IndexVersion int64  `json:"index_version,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
	Entries      int    `json:"entries"`
	Products     int    `json:"products"`
}
