package usecase

import (
	"context"
	"image"

	"github.com/DRSN-tech/product-matcher/internal/domain"
)

// EncoderInfra - энкодер изображений в векторы.
type EncoderInfra interface {
	VectorizeRequest(ctx context.Context, req *VectorizeReq) ([]VectorizeRes, error)
	ModelVersion() string
}

type ImagesInfra interface {
	UploadImages(ctx context.Context, req *UploadImagesReq) (*UploadImagesRes, error)
	CleanupImages(keys []string)
}

// ImageCodec декодирует и проверяет изображения.
// Ошибки декодирования имеют тип *e.ImageDecodeError.
type ImageCodec interface {
	Decode(data []byte) (image.Image, string, error)
	PerceptualHash(img image.Image) (string, error)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CatalogSource отдаёт товары вместе с изображениями галереи.
// При частичном сбое возвращает уже полученные товары и ошибку.
type CatalogSource interface {
	Name() string
	FetchProducts(ctx context.Context) ([]domain.Product, error)
}

type TicketingInfra interface {
	ListComments(ctx context.Context, ticketID int64) ([]domain.Comment, error)
	ListAudits(ctx context.Context, ticketID int64) ([]domain.Audit, error)
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
	AddInternalNote(ctx context.Context, ticketID int64, body string) error
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}

// IndexPublisher подменяет активный индекс в памяти после публикации версии.
type IndexPublisher interface {
	Publish(version *domain.IndexVersion, art *IndexArtifact) error
}

// Metrics - счётчики и гистограммы, которые пишут юзкейсы.
type Metrics interface {
	ObserveQuery(seconds float64, outcome string)
	IncAttachment(outcome string)
	ObserveBuild(seconds float64, report *domain.BuildReport, err error)
	ObserveSync(report *domain.SyncReport, err error)
	SetIndexState(state string, entries int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveQuery(float64, string)                     {}
func (nopMetrics) IncAttachment(string)                             {}
func (nopMetrics) ObserveBuild(float64, *domain.BuildReport, error) {}
func (nopMetrics) ObserveSync(*domain.SyncReport, error)            {}
func (nopMetrics) SetIndexState(string, int)                        {}

// NopMetrics не пишет ничего.
func NopMetrics() Metrics { return nopMetrics{} }
