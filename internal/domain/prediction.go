package domain

import "time"

// Candidate - товар-кандидат с нормализованной оценкой в [0,1].
type Candidate struct {
	ProductID string  `json:"product_id"`
	URL       string  `json:"url"`
	Title     string  `json:"title,omitempty"`
	Score     float64 `json:"score"`
}

// MatchResult - ответ матчера: кандидаты по убыванию оценки.
type MatchResult struct {
	Candidates   []Candidate
	ModelVersion string
	IndexVersion int64
}

// Top возвращает лучшего кандидата, если он есть.
func (m *MatchResult) Top() (Candidate, bool) {
	if m == nil || len(m.Candidates) == 0 {
		return Candidate{}, false
	}
	return m.Candidates[0], true
}

// Prediction - запись журнала предсказаний. Только добавление, никогда не удаляется.
type Prediction struct {
	ID                  int64
	TicketImageID       int64
	AttachmentID        int64
	TicketID            int64
	PredictedProductID  *string
	PredictedURL        *string
	Confidence          *float64
	TopK                []Candidate
	ModelVersion        string
	IndexVersion        int64
	Accepted            *bool
	OverriddenProductID *string
	ReviewedAt          *time.Time
	CreatedAt           time.Time
}

// NewPrediction строит предсказание из результата матчера.
func NewPrediction(img *TicketImage, res *MatchResult) *Prediction {
	p := &Prediction{
		AttachmentID: img.AttachmentID,
		TicketID:     img.TicketID,
		TopK:         res.Candidates,
		ModelVersion: res.ModelVersion,
		IndexVersion: res.IndexVersion,
	}
	if p.TopK == nil {
		p.TopK = []Candidate{}
	}
	if top, ok := res.Top(); ok {
		p.PredictedProductID = &top.ProductID
		p.PredictedURL = &top.URL
		p.Confidence = &top.Score
	}
	return p
}

// Review - решение оператора по предсказанию.
type Review struct {
	Accepted            bool
	OverriddenProductID *string
}

// GroundTruth - эталонная разметка вложения.
type GroundTruth struct {
	ProductID   string
	ProductURL  string
	LabelSource string
}
