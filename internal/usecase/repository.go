package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

type ProductRepository interface {
	Upsert(ctx context.Context, product *domain.Product) (*UpsertProductRes, error)
	ListActive(ctx context.Context) ([]domain.Product, error)
	ArchiveMissing(ctx context.Context, source string, keep []string) (int64, error)
}

type ProductImageRepository interface {
	Upsert(ctx context.Context, image *domain.ProductImage) (*UpsertImageRes, error)
	DeleteFromPosition(ctx context.Context, productID int64, position int) error
	ListForIndex(ctx context.Context) ([]domain.ProductImage, error)
	MarkEmbedded(ctx context.Context, id int64, embeddingID, contentHash, modelVersion string) error
	MarkEmbedFailed(ctx context.Context, id int64, reason string) error
}

type IndexVersionRepository interface {
	Create(ctx context.Context, v *domain.IndexVersion) (*domain.IndexVersion, error)
	GetActive(ctx context.Context) (*domain.IndexVersion, error)
	GetByID(ctx context.Context, id int64) (*domain.IndexVersion, error)
	Activate(ctx context.Context, id int64) error
	List(ctx context.Context, limit int) ([]domain.IndexVersion, error)
}

type TicketImageRepository interface {
	Exists(ctx context.Context, attachmentID int64) (bool, error)
	Create(ctx context.Context, img *domain.TicketImage) (*domain.TicketImage, bool, error)
	GetByAttachmentID(ctx context.Context, attachmentID int64) (*domain.TicketImage, error)
	SetGroundTruth(ctx context.Context, attachmentID int64, gt domain.GroundTruth) error
}

type PredictionRepository interface {
	Create(ctx context.Context, p *domain.Prediction) (*domain.Prediction, bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Prediction, error)
	GetByAttachmentID(ctx context.Context, attachmentID int64) (*domain.Prediction, error)
	ListByTicketID(ctx context.Context, ticketID int64) ([]domain.Prediction, error)
	ListUnreviewed(ctx context.Context, limit int) ([]domain.Prediction, error)
	Review(ctx context.Context, id int64, review domain.Review) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *domain.OutboxEvent) (*domain.OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type EmbeddingRepository interface {
	Upsert(ctx context.Context, vectors []domain.Embedding) error
	Scroll(ctx context.Context, modelVersion string) ([]domain.Embedding, error)
	Delete(ctx context.Context, ids []string) error
}

// ObjectRepository - объектное хранилище (артефакты индекса, снапшоты, изображения).
type ObjectRepository interface {
	Upload(ctx context.Context, image *domain.Image) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MatchCacheRepository - кэш ad-hoc сопоставлений. Промах: (nil, nil).
type MatchCacheRepository interface {
	Get(ctx context.Context, key string) (*domain.MatchResult, error)
	Set(ctx context.Context, key string, res *domain.MatchResult) error
}

// LockRepository - распределённая блокировка на время обработки вложения.
type LockRepository interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// TxManager выполняет fn в транзакции.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
