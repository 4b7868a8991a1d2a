package http

import (
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
)

type MatchResponse struct {
	Candidates   []domain.Candidate `json:"candidates"`
	ModelVersion string             `json:"model_version"`
	IndexVersion int64              `json:"index_version"`
}

type WebhookResponse struct {
	OK            bool   `json:"ok"`
	TicketID      int64  `json:"ticket_id"`
	CorrelationID string `json:"correlation_id"`
	Queued        bool   `json:"queued"`
}

type SyncResponse struct {
	Source   string   `json:"source"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

type IndexVersionResponse struct {
	ID           int64      `json:"id"`
	ModelVersion string     `json:"model_version"`
	Fingerprint  string     `json:"fingerprint"`
	ObjectKey    string     `json:"object_key"`
	Kind         string     `json:"kind"`
	ImageCount   int        `json:"image_count"`
	ProductCount int        `json:"product_count"`
	SizeBytes    int64      `json:"size_bytes"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
}

type BuildResponse struct {
	Version      *IndexVersionResponse `json:"version,omitempty"`
	NoOp         bool                  `json:"no_op"`
	Embedded     int                   `json:"embedded"`
	Reused       int                   `json:"reused"`
	Failed       int                   `json:"failed"`
	FailedImages []string              `json:"failed_images,omitempty"`
}

type PredictionResponse struct {
	ID                  int64              `json:"id"`
	AttachmentID        int64              `json:"attachment_id"`
	TicketID            int64              `json:"ticket_id"`
	PredictedProductID  *string            `json:"predicted_product_id"`
	PredictedURL        *string            `json:"predicted_url"`
	Confidence          *float64           `json:"confidence"`
	TopK                []domain.Candidate `json:"top_k"`
	ModelVersion        string             `json:"model_version"`
	IndexVersion        int64              `json:"index_version"`
	Accepted            *bool              `json:"accepted"`
	OverriddenProductID *string            `json:"overridden_product_id"`
	ReviewedAt          *time.Time         `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}

type TicketImageResponse struct {
	AttachmentID         int64      `json:"attachment_id"`
	TicketID             int64      `json:"ticket_id"`
	ContentURL           string     `json:"content_url"`
	DecodeError          *string    `json:"decode_error,omitempty"`
	GroundTruthProductID *string    `json:"ground_truth_product_id"`
	GroundTruthURL       *string    `json:"ground_truth_url"`
	LabelSource          *string    `json:"label_source"`
	LabeledAt            *time.Time `json:"labeled_at,omitempty"`
}

type ReviewRequest struct {
	Accepted            *bool   `json:"accepted"`
	OverriddenProductID *string `json:"overridden_product_id"`
}

type LabelRequest struct {
	ProductID   string `json:"product_id"`
	ProductURL  string `json:"product_url"`
	LabelSource string `json:"label_source"`
}

func toMatchResponse(res *domain.MatchResult) *MatchResponse {
	out := &MatchResponse{
		Candidates:   res.Candidates,
		ModelVersion: res.ModelVersion,
		IndexVersion: res.IndexVersion,
	}
	if out.Candidates == nil {
		out.Candidates = []domain.Candidate{}
	}
	return out
}

func toWebhookResponse(res *usecase.AcceptEventRes) *WebhookResponse {
	return &WebhookResponse{
		OK:            true,
		TicketID:      res.TicketID,
		CorrelationID: res.CorrelationID,
		Queued:        res.Queued,
	}
}

func toSyncResponse(r *domain.SyncReport) *SyncResponse {
	out := &SyncResponse{
		Source:   r.Source,
		Inserted: r.Inserted,
		Updated:  r.Updated,
		Skipped:  r.Skipped,
		Errors:   r.Errors,
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out
}

func toIndexVersionResponse(v *domain.IndexVersion) *IndexVersionResponse {
	if v == nil {
		return nil
	}
	return &IndexVersionResponse{
		ID:           v.ID,
		ModelVersion: v.ModelVersion,
		Fingerprint:  v.Fingerprint,
		ObjectKey:    v.ObjectKey,
		Kind:         v.Kind,
		ImageCount:   v.ImageCount,
		ProductCount: v.ProductCount,
		SizeBytes:    v.SizeBytes,
		IsActive:     v.IsActive,
		CreatedAt:    v.CreatedAt,
		ActivatedAt:  v.ActivatedAt,
	}
}

func toArrIndexVersionResponse(vs []domain.IndexVersion) []*IndexVersionResponse {
	res := make([]*IndexVersionResponse, len(vs))
	for i := range vs {
		res[i] = toIndexVersionResponse(&vs[i])
	}
	return res
}

func toBuildResponse(r *domain.BuildReport) *BuildResponse {
	return &BuildResponse{
		Version:      toIndexVersionResponse(r.Version),
		NoOp:         r.NoOp,
		Embedded:     r.Embedded,
		Reused:       r.Reused,
		Failed:       r.Failed,
		FailedImages: r.FailedImages,
	}
}

func toPredictionResponse(p *domain.Prediction) *PredictionResponse {
	return &PredictionResponse{
		ID:                  p.ID,
		AttachmentID:        p.AttachmentID,
		TicketID:            p.TicketID,
		PredictedProductID:  p.PredictedProductID,
		PredictedURL:        p.PredictedURL,
		Confidence:          p.Confidence,
		TopK:                p.TopK,
		ModelVersion:        p.ModelVersion,
		IndexVersion:        p.IndexVersion,
		Accepted:            p.Accepted,
		OverriddenProductID: p.OverriddenProductID,
		ReviewedAt:          p.ReviewedAt,
		CreatedAt:           p.CreatedAt,
	}
}

func toArrPredictionResponse(ps []domain.Prediction) []*PredictionResponse {
	res := make([]*PredictionResponse, len(ps))
	for i := range ps {
		res[i] = toPredictionResponse(&ps[i])
	}
	return res
}

func toTicketImageResponse(t *domain.TicketImage) *TicketImageResponse {
	return &TicketImageResponse{
		AttachmentID:         t.AttachmentID,
		TicketID:             t.TicketID,
		ContentURL:           t.ContentURL,
		DecodeError:          t.DecodeError,
		GroundTruthProductID: t.GroundTruthProductID,
		GroundTruthURL:       t.GroundTruthURL,
		LabelSource:          t.LabelSource,
		LabeledAt:            t.LabeledAt,
	}
}
