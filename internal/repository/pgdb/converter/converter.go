package converter

import (
	"encoding/json"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

// ProductConverter преобразует сущности Product между domain и моделью PostgreSQL.
type ProductConverter interface {
	ToModel(entity *domain.Product) *ProductModel
	ToEntity(model *ProductModel) *domain.Product
}

// ProductImageConverter преобразует сущности ProductImage между domain и моделью PostgreSQL.
type ProductImageConverter interface {
	ToEntity(model *ProductImageModel) *domain.ProductImage
	ToArrEntity(models []*ProductImageModel) []domain.ProductImage
}

type IndexVersionConverter interface {
	ToEntity(model *IndexVersionModel) *domain.IndexVersion
}

type TicketImageConverter interface {
	ToEntity(model *TicketImageModel) *domain.TicketImage
}

// PredictionConverter преобразует предсказания, top_k кодируется в JSON.
type PredictionConverter interface {
	ToModel(entity *domain.Prediction) (*PredictionModel, error)
	ToEntity(model *PredictionModel) (*domain.Prediction, error)
}

// OutboxEventConverter преобразует сущности OutboxEvent между domain и моделью PostgreSQL.
type OutboxEventConverter interface {
	ToModel(entity *domain.OutboxEvent) *OutboxEventModel
	ToEntity(model *OutboxEventModel) *domain.OutboxEvent
	ToArrEntity(models []*OutboxEventModel) []domain.OutboxEvent
}

type ProductConverterImpl struct{}

func (ProductConverterImpl) ToModel(entity *domain.Product) *ProductModel {
	if entity == nil {
		return nil
	}
	tags := entity.Tags
	if tags == nil {
		tags = []string{}
	}
	return &ProductModel{
		ID:         entity.ID,
		ExternalID: entity.ExternalID,
		Handle:     entity.Handle,
		Title:      entity.Title,
		URL:        entity.URL,
		Tags:       tags,
		PriceCents: entity.PriceCents,
		Currency:   entity.Currency,
		Source:     entity.Source,
		CreatedAt:  entity.CreatedAt,
		UpdatedAt:  entity.UpdatedAt,
		IsArchived: entity.IsArchived,
	}
}

func (ProductConverterImpl) ToEntity(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:         model.ID,
		ExternalID: model.ExternalID,
		Handle:     model.Handle,
		Title:      model.Title,
		URL:        model.URL,
		Tags:       model.Tags,
		PriceCents: model.PriceCents,
		Currency:   model.Currency,
		Source:     model.Source,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
		IsArchived: model.IsArchived,
	}
}

type ProductImageConverterImpl struct{}

func (ProductImageConverterImpl) ToEntity(model *ProductImageModel) *domain.ProductImage {
	if model == nil {
		return nil
	}
	img := &domain.ProductImage{
		ID:                model.ID,
		ProductID:         model.ProductID,
		ProductExternalID: model.ProductExternalID,
		Position:          model.Position,
		SourceURL:         model.SourceURL,
		ContentHash:       model.ContentHash,
		PHash:             deref(model.PHash),
		ObjectKey:         deref(model.ObjectKey),
		EmbeddedHash:      deref(model.EmbeddedHash),
		EmbeddedModel:     deref(model.EmbeddedModel),
		EmbedError:        deref(model.EmbedError),
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
	if model.EmbeddingID != nil {
		img.EmbeddingID = model.EmbeddingID.String()
	}
	return img
}

func (c ProductImageConverterImpl) ToArrEntity(models []*ProductImageModel) []domain.ProductImage {
	out := make([]domain.ProductImage, 0, len(models))
	for _, m := range models {
		out = append(out, *c.ToEntity(m))
	}
	return out
}

type IndexVersionConverterImpl struct{}

func (IndexVersionConverterImpl) ToEntity(model *IndexVersionModel) *domain.IndexVersion {
	if model == nil {
		return nil
	}
	return &domain.IndexVersion{
		ID:           model.ID,
		ModelVersion: model.ModelVersion,
		Fingerprint:  model.Fingerprint,
		ObjectKey:    model.ObjectKey,
		Kind:         model.Kind,
		ImageCount:   model.ImageCount,
		ProductCount: model.ProductCount,
		SizeBytes:    model.SizeBytes,
		IsActive:     model.IsActive,
		CreatedAt:    model.CreatedAt,
		ActivatedAt:  model.ActivatedAt,
	}
}

type TicketImageConverterImpl struct{}

func (TicketImageConverterImpl) ToEntity(model *TicketImageModel) *domain.TicketImage {
	if model == nil {
		return nil
	}
	return &domain.TicketImage{
		ID:                   model.ID,
		AttachmentID:         model.AttachmentID,
		TicketID:             model.TicketID,
		CommentID:            model.CommentID,
		ContentURL:           model.ContentURL,
		ContentHash:          model.ContentHash,
		Source:               model.Source,
		DecodeError:          model.DecodeError,
		GroundTruthProductID: model.GroundTruthProductID,
		GroundTruthURL:       model.GroundTruthURL,
		LabelSource:          model.LabelSource,
		LabeledAt:            model.LabeledAt,
		CreatedAt:            model.CreatedAt,
	}
}

type PredictionConverterImpl struct{}

func (PredictionConverterImpl) ToModel(entity *domain.Prediction) (*PredictionModel, error) {
	topK := entity.TopK
	if topK == nil {
		topK = []domain.Candidate{}
	}
	raw, err := json.Marshal(topK)
	if err != nil {
		return nil, err
	}

	var indexVersion *int64
	if entity.IndexVersion > 0 {
		v := entity.IndexVersion
		indexVersion = &v
	}

	return &PredictionModel{
		ID:                  entity.ID,
		TicketImageID:       entity.TicketImageID,
		AttachmentID:        entity.AttachmentID,
		TicketID:            entity.TicketID,
		PredictedProductID:  entity.PredictedProductID,
		PredictedURL:        entity.PredictedURL,
		Confidence:          entity.Confidence,
		TopK:                raw,
		ModelVersion:        entity.ModelVersion,
		IndexVersion:        indexVersion,
		Accepted:            entity.Accepted,
		OverriddenProductID: entity.OverriddenProductID,
		ReviewedAt:          entity.ReviewedAt,
		CreatedAt:           entity.CreatedAt,
	}, nil
}

func (PredictionConverterImpl) ToEntity(model *PredictionModel) (*domain.Prediction, error) {
	topK := []domain.Candidate{}
	if len(model.TopK) > 0 {
		if err := json.Unmarshal(model.TopK, &topK); err != nil {
			return nil, err
		}
	}

	var indexVersion int64
	if model.IndexVersion != nil {
		indexVersion = *model.IndexVersion
	}

	return &domain.Prediction{
		ID:                  model.ID,
		TicketImageID:       model.TicketImageID,
		AttachmentID:        model.AttachmentID,
		TicketID:            model.TicketID,
		PredictedProductID:  model.PredictedProductID,
		PredictedURL:        model.PredictedURL,
		Confidence:          model.Confidence,
		TopK:                topK,
		ModelVersion:        model.ModelVersion,
		IndexVersion:        indexVersion,
		Accepted:            model.Accepted,
		OverriddenProductID: model.OverriddenProductID,
		ReviewedAt:          model.ReviewedAt,
		CreatedAt:           model.CreatedAt,
	}, nil
}

type OutboxEventConverterImpl struct{}

func (OutboxEventConverterImpl) ToModel(entity *domain.OutboxEvent) *OutboxEventModel {
	if entity == nil {
		return nil
	}
	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   entity.EventType,
		TicketID:    entity.TicketID,
		Payload:     entity.Payload,
		Status:      entity.Status,
		Attempts:    entity.Attempts,
		LastError:   entity.LastError,
		AvailableAt: entity.AvailableAt,
		CreatedAt:   entity.CreatedAt,
	}
}

func (OutboxEventConverterImpl) ToEntity(model *OutboxEventModel) *domain.OutboxEvent {
	if model == nil {
		return nil
	}
	return &domain.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   model.EventType,
		TicketID:    model.TicketID,
		Payload:     model.Payload,
		Status:      model.Status,
		Attempts:    model.Attempts,
		LastError:   model.LastError,
		AvailableAt: model.AvailableAt,
		CreatedAt:   model.CreatedAt,
	}
}

func (c OutboxEventConverterImpl) ToArrEntity(models []*OutboxEventModel) []domain.OutboxEvent {
	out := make([]domain.OutboxEvent, 0, len(models))
	for _, m := range models {
		out = append(out, *c.ToEntity(m))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NullString возвращает nil для пустой строки, чтобы в БД писался NULL.
func NullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
