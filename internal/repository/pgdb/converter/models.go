package converter

import (
	"time"

	"github.com/google/uuid"
)

// ProductModel представляет запись таблицы products в PostgreSQL.
type ProductModel struct {
	ID         int64      `db:"id"`
	ExternalID string     `db:"external_id"`
	Handle     string     `db:"handle"`
	Title      string     `db:"title"`
	URL        string     `db:"url"`
	Tags       []string   `db:"tags"`
	PriceCents *int64     `db:"price_cents"`
	Currency   string     `db:"currency"`
	Source     string     `db:"source"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at"`
	IsArchived bool       `db:"is_archived"`
}

// ProductImageModel представляет запись таблицы product_images.
// ProductExternalID заполняется через JOIN с products.
type ProductImageModel struct {
	ID                int64      `db:"id"`
	ProductID         int64      `db:"product_id"`
	ProductExternalID string     `db:"external_id"`
	Position          int        `db:"position"`
	SourceURL         string     `db:"source_url"`
	ContentHash       string     `db:"content_hash"`
	PHash             *string    `db:"phash"`
	ObjectKey         *string    `db:"object_key"`
	EmbeddingID       *uuid.UUID `db:"embedding_id"`
	EmbeddedHash      *string    `db:"embedded_hash"`
	EmbeddedModel     *string    `db:"embedded_model"`
	EmbedError        *string    `db:"embed_error"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         *time.Time `db:"updated_at"`
}

// IndexVersionModel представляет запись таблицы index_versions.
type IndexVersionModel struct {
	ID           int64      `db:"id"`
	ModelVersion string     `db:"model_version"`
	Fingerprint  string     `db:"fingerprint"`
	ObjectKey    string     `db:"object_key"`
	Kind         string     `db:"kind"`
	ImageCount   int        `db:"image_count"`
	ProductCount int        `db:"product_count"`
	SizeBytes    int64      `db:"size_bytes"`
	IsActive     bool       `db:"is_active"`
	CreatedAt    time.Time  `db:"created_at"`
	ActivatedAt  *time.Time `db:"activated_at"`
}

// TicketImageModel представляет запись таблицы ticket_images.
type TicketImageModel struct {
	ID                   int64      `db:"id"`
	AttachmentID         int64      `db:"attachment_id"`
	TicketID             int64      `db:"ticket_id"`
	CommentID            int64      `db:"comment_id"`
	ContentURL           string     `db:"content_url"`
	ContentHash          string     `db:"content_hash"`
	Source               string     `db:"source"`
	DecodeError          *string    `db:"decode_error"`
	GroundTruthProductID *string    `db:"ground_truth_product_id"`
	GroundTruthURL       *string    `db:"ground_truth_url"`
	LabelSource          *string    `db:"label_source"`
	LabeledAt            *time.Time `db:"labeled_at"`
	CreatedAt            time.Time  `db:"created_at"`
}

// PredictionModel представляет запись таблицы predictions. TopK хранится в jsonb.
type PredictionModel struct {
	ID                  int64      `db:"id"`
	TicketImageID       int64      `db:"ticket_image_id"`
	AttachmentID        int64      `db:"attachment_id"`
	TicketID            int64      `db:"ticket_id"`
	PredictedProductID  *string    `db:"predicted_product_id"`
	PredictedURL        *string    `db:"predicted_url"`
	Confidence          *float64   `db:"confidence"`
	TopK                []byte     `db:"top_k"`
	ModelVersion        string     `db:"model_version"`
	IndexVersion        *int64     `db:"index_version"`
	Accepted            *bool      `db:"accepted"`
	OverriddenProductID *string    `db:"overridden_product_id"`
	ReviewedAt          *time.Time `db:"reviewed_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

// OutboxEventModel представляет запись таблицы outbox_events.
type OutboxEventModel struct {
	ID          int64      `db:"id"`
	EventID     uuid.UUID  `db:"event_id"`
	EventType   string     `db:"event_type"`
	TicketID    int64      `db:"ticket_id"`
	Payload     []byte     `db:"payload"`
	Status      string     `db:"status"`
	Attempts    int        `db:"attempts"`
	LastError   *string    `db:"last_error"`
	AvailableAt time.Time  `db:"available_at"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}
