package usecase

import (
	"context"
	"strings"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	LabelSourceManual = "manual"
)

// ReviewUseCase - ревью предсказаний и эталонная разметка вложений.
type ReviewUseCase struct {
	predictions  PredictionRepository
	ticketImages TicketImageRepository
	tx           TxManager
	logger       logger.Logger
}

func NewReviewUC(predictions PredictionRepository, ticketImages TicketImageRepository, tx TxManager, logger logger.Logger) *ReviewUseCase {
	return &ReviewUseCase{
		predictions:  predictions,
		ticketImages: ticketImages,
		tx:           tx,
		logger:       logger,
	}
}

// Review фиксирует решение оператора. Сами предсказания не меняются,
// пишутся только поля ревью.
func (r *ReviewUseCase) Review(ctx context.Context, req *ReviewReq) (*domain.Prediction, error) {
	const op = "ReviewUseCase.Review"

	if req.PredictionID <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidID)
	}

	review := domain.Review{Accepted: req.Accepted}
	if req.OverriddenProductID != nil {
		if id := strings.TrimSpace(*req.OverriddenProductID); id != "" {
			review.OverriddenProductID = &id
		}
	}
	var out *domain.Prediction
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.predictions.Review(ctx, req.PredictionID, review); err != nil {
			return err
		}
		p, err := r.predictions.GetByID(ctx, req.PredictionID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	r.logger.Infof("prediction %d reviewed: accepted=%t", req.PredictionID, review.Accepted)
	return out, nil
}

// Label записывает эталонный товар для вложения.
func (r *ReviewUseCase) Label(ctx context.Context, req *LabelReq) (*domain.TicketImage, error) {
	const op = "ReviewUseCase.Label"

	if req.AttachmentID <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidID)
	}
	gt := domain.GroundTruth{
		ProductID:   strings.TrimSpace(req.ProductID),
		ProductURL:  strings.TrimSpace(req.ProductURL),
		LabelSource: strings.TrimSpace(req.LabelSource),
	}
	if gt.ProductID == "" && gt.ProductURL == "" {
		return nil, e.Wrap(op, e.ErrMissingFields)
	}
	if gt.LabelSource == "" {
		gt.LabelSource = LabelSourceManual
	}

	var out *domain.TicketImage
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.ticketImages.SetGroundTruth(ctx, req.AttachmentID, gt); err != nil {
			return err
		}
		img, err := r.ticketImages.GetByAttachmentID(ctx, req.AttachmentID)
		if err != nil {
			return err
		}
		out = img
		return nil
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return out, nil
}

func (r *ReviewUseCase) ListUnreviewed(ctx context.Context, limit int) ([]domain.Prediction, error) {
	const op = "ReviewUseCase.ListUnreviewed"

	preds, err := r.predictions.ListUnreviewed(ctx, clampLimit(limit))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return preds, nil
}

func (r *ReviewUseCase) PredictionsByTicket(ctx context.Context, ticketID int64) ([]domain.Prediction, error) {
	const op = "ReviewUseCase.PredictionsByTicket"

	if ticketID <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidID)
	}
	preds, err := r.predictions.ListByTicketID(ctx, ticketID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return preds, nil
}

func (r *ReviewUseCase) PredictionByAttachment(ctx context.Context, attachmentID int64) (*domain.Prediction, error) {
	const op = "ReviewUseCase.PredictionByAttachment"

	if attachmentID <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidID)
	}
	p, err := r.predictions.GetByAttachmentID(ctx, attachmentID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return p, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
