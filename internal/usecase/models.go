package usecase

import (
	"image"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/index"
)

// IndexArtifact - содержимое версии индекса.
type IndexArtifact = index.Artifact

// CATALOG

// UpsertProductRes - результат идемпотентной записи товара.
type UpsertProductRes struct {
	Product   *domain.Product
	Inserted  bool
	NoChanges bool
}

// UpsertImageRes - результат записи изображения; Changed означает новый content_hash.
type UpsertImageRes struct {
	Image   *domain.ProductImage
	Changed bool
}

// INGEST

// AcceptEventReq - входящее событие тикет-системы вместе с заголовками подписи.
type AcceptEventReq struct {
	Body          []byte
	Signature     string
	Timestamp     string
	CorrelationID string
}

// AcceptEventRes - подтверждение постановки тикета в очередь.
type AcceptEventRes struct {
	TicketID      int64
	CorrelationID string
	Queued        bool
}

// ProcessTicketRes - итог обработки одного тикета.
type ProcessTicketRes struct {
	TicketID    int64
	Found       int
	Processed   int
	Skipped     int
	Undecodable int
	Failed      int
	Predictions []domain.Prediction
}

// INFRASTUCTURE

// EncodeImage - изображение для векторизации. Img может быть nil,
// тогда энкодер декодирует Data сам.
type EncodeImage struct {
	ContentHash string
	Data        []byte
	Img         image.Image
}

// VectorizeReq — запрос на векторизацию изображений.
type VectorizeReq struct {
	Images []EncodeImage
}

// VectorizeRes — результат векторизации одного изображения.
type VectorizeRes struct {
	Vector       []float32
	ModelVersion string
}

// UploadImagesRes - ключи загруженных объектов в том же порядке, что и запрос.
type UploadImagesRes struct {
	ImagesKeys []string
}

// UploadBlob - объект для загрузки в MinIO.
type UploadBlob struct {
	Key         string
	Data        []byte
	ContentType string
}

// UploadImagesReq - запрос на загрузку объектов.
type UploadImagesReq struct {
	Blobs []UploadBlob
}

type WriteRawMessageReq struct {
	Key     string
	Payload []byte
}

// REVIEW

type ReviewReq struct {
	PredictionID        int64
	Accepted            bool
	OverriddenProductID *string
}

type LabelReq struct {
	AttachmentID int64
	ProductID    string
	ProductURL   string
	LabelSource  string
}

// MAPPERS

func NewUpsertProductRes(product *domain.Product, inserted, noChanges bool) *UpsertProductRes {
	return &UpsertProductRes{
		Product:   product,
		Inserted:  inserted,
		NoChanges: noChanges,
	}
}

func NewVectorizeRes(vector []float32, modelVersion string) *VectorizeRes {
	return &VectorizeRes{
		Vector:       vector,
		ModelVersion: modelVersion,
	}
}

func NewVectorizeReq(images ...EncodeImage) *VectorizeReq {
	return &VectorizeReq{
		Images: images,
	}
}

func NewUploadImagesReq(blobs ...UploadBlob) *UploadImagesReq {
	return &UploadImagesReq{
		Blobs: blobs,
	}
}

func NewUploadImagesRes(imagesKeys []string) *UploadImagesRes {
	return &UploadImagesRes{
		ImagesKeys: imagesKeys,
	}
}

func NewWriteRawMessageReq(key string, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		Key:     key,
		Payload: payload,
	}
}

// newOutboxEvent упаковывает событие тикета в строку outbox.
func newOutboxEvent(ev *domain.TicketEvent, payload []byte, status string, availableAt time.Time, lastError *string) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		EventID:     ev.EventID,
		EventType:   domain.EventTypeTicketAttachments,
		TicketID:    ev.TicketID,
		Payload:     payload,
		Status:      status,
		Attempts:    ev.Attempt,
		LastError:   lastError,
		AvailableAt: availableAt,
	}
}
