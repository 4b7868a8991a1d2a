package usecase

import (
	"context"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

type CatalogUC interface {
	Sync(ctx context.Context) (*domain.SyncReport, error)
}

type IndexUC interface {
	Build(ctx context.Context) (*domain.BuildReport, error)
	Activate(ctx context.Context, id int64) (*domain.IndexVersion, error)
	ListVersions(ctx context.Context, limit int) ([]domain.IndexVersion, error)
}

type MatcherUC interface {
	Query(ctx context.Context, data []byte, k int) (*domain.MatchResult, error)
	Health() domain.Health
}

type IngestUC interface {
	Accept(ctx context.Context, req *AcceptEventReq) (*AcceptEventRes, error)
	Enqueue(ctx context.Context, ticketID int64, source, correlationID string) (*AcceptEventRes, error)
}

type IngestionWorkerUC interface {
	ProcessTicket(ctx context.Context, ticketID int64, correlationID string) (*ProcessTicketRes, error)
	HandleEvent(ctx context.Context, payload []byte) error
}

type ReviewUC interface {
	Review(ctx context.Context, req *ReviewReq) (*domain.Prediction, error)
	Label(ctx context.Context, req *LabelReq) (*domain.TicketImage, error)
	ListUnreviewed(ctx context.Context, limit int) ([]domain.Prediction, error)
	PredictionsByTicket(ctx context.Context, ticketID int64) ([]domain.Prediction, error)
	PredictionByAttachment(ctx context.Context, attachmentID int64) (*domain.Prediction, error)
}
