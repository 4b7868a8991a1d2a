package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// SnapshotKey - ключ снапшота каталога в объектном хранилище.
const SnapshotKey = "catalog/latest.json"

type CatalogOptions struct {
	Bucket              string
	ImageConcurrency    int
	ImageTimeout        time.Duration
	MaxImagesPerProduct int
}

// CatalogUseCase синхронизирует каталог магазина с базой.
type CatalogUseCase struct {
	source      CatalogSource
	products    ProductRepository
	images      ProductImageRepository
	objects     ObjectRepository
	imagesInfra ImagesInfra
	fetcher     ImageFetcher
	codec       ImageCodec
	tx          TxManager
	metrics     Metrics
	logger      logger.Logger
	opts        CatalogOptions
}

func NewCatalogUC(
	source CatalogSource,
	products ProductRepository,
	images ProductImageRepository,
	objects ObjectRepository,
	imagesInfra ImagesInfra,
	fetcher ImageFetcher,
	codec ImageCodec,
	tx TxManager,
	metrics Metrics,
	logger logger.Logger,
	opts CatalogOptions,
) *CatalogUseCase {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = 4
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 10 * time.Second
	}
	if opts.MaxImagesPerProduct <= 0 {
		opts.MaxImagesPerProduct = 20
	}
	return &CatalogUseCase{
		source:      source,
		products:    products,
		images:      images,
		objects:     objects,
		imagesInfra: imagesInfra,
		fetcher:     fetcher,
		codec:       codec,
		tx:          tx,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
	}
}

// fetchedImage - скачанное и захэшированное изображение галереи.
type fetchedImage struct {
	position int
	url      string
	data     []byte
	hash     string
	phash    string
	format   string
	err      error
}

// Sync забирает каталог из источника и записывает товары и изображения.
// При частичном сбое источника успешно полученная часть сохраняется,
// ошибка попадает в отчёт.
func (c *CatalogUseCase) Sync(ctx context.Context) (report *domain.SyncReport, err error) {
	const op = "CatalogUseCase.Sync"

	defer func() {
		c.metrics.ObserveSync(report, err)
	}()

	report = &domain.SyncReport{}

	// Имя берётся после загрузки: составной источник сообщает, кто фактически ответил
	products, srcErr := c.source.FetchProducts(ctx)
	report.Source = c.source.Name()
	if srcErr != nil {
		report.Errors = append(report.Errors, srcErr.Error())
		if len(products) == 0 {
			c.logger.Errorf(srcErr, "catalog source %s failed", c.source.Name())
			return report, e.Wrap(op, srcErr)
		}
		c.logger.Warnf("catalog source %s partially failed, committing %d products: %v", c.source.Name(), len(products), srcErr)
	}

	if len(products) == 0 {
		c.logger.Warnf("catalog source %s returned no products", c.source.Name())
	}

	snapshot := domain.CatalogSnapshot{GeneratedAt: time.Now().UTC(), Source: c.source.Name()}
	keep := make([]string, 0, len(products))

	for i := range products {
		if err := ctx.Err(); err != nil {
			return report, e.Wrap(op, err)
		}

		product := &products[i]
		outcome, snapProduct, err := c.syncProduct(ctx, product)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", product.ExternalID, err))
			c.logger.Warnf("product %s sync failed: %v", product.ExternalID, err)
			continue
		}

		keep = append(keep, product.ExternalID)
		snapshot.Products = append(snapshot.Products, snapProduct)
		switch outcome {
		case outcomeInserted:
			report.Inserted++
		case outcomeUpdated:
			report.Updated++
		default:
			report.Skipped++
		}
	}

	if srcErr == nil && len(products) > 0 {
		archived, err := c.products.ArchiveMissing(ctx, c.source.Name(), keep)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		} else if archived > 0 {
			c.logger.Infof("archived %d products no longer present in %s", archived, c.source.Name())
		}
	}

	if err := c.writeSnapshot(ctx, &snapshot); err != nil {
		report.Errors = append(report.Errors, err.Error())
		c.logger.Warnf("catalog snapshot not written: %v", err)
	}

	c.logger.Infof(
		"catalog sync from %s: inserted=%d updated=%d skipped=%d errors=%d",
		report.Source, report.Inserted, report.Updated, report.Skipped, len(report.Errors),
	)
	return report, nil
}

type syncOutcome int

const (
	outcomeSkipped syncOutcome = iota
	outcomeUpdated
	outcomeInserted
)

func (c *CatalogUseCase) syncProduct(ctx context.Context, product *domain.Product) (syncOutcome, domain.SnapshotProduct, error) {
	const op = "CatalogUseCase.syncProduct"

	snap := domain.SnapshotProduct{
		ExternalID: product.ExternalID,
		Title:      product.Title,
		URL:        product.URL,
		Tags:       product.Tags,
		Images:     []domain.SnapshotImage{},
	}

	gallery := product.Images
	if len(gallery) > c.opts.MaxImagesPerProduct {
		gallery = gallery[:c.opts.MaxImagesPerProduct]
	}

	// Скачивание вне транзакции
	fetched := c.fetchGallery(ctx, gallery)

	// Копии изображений в объектное хранилище, ключ по хэшу содержимого
	blobs := make([]UploadBlob, 0, len(fetched))
	for _, f := range fetched {
		if f.err != nil {
			continue
		}
		blobs = append(blobs, UploadBlob{Key: blobKey(f.hash, f.format), Data: f.data, ContentType: "image/" + f.format})
	}
	var uploaded map[string]bool
	if len(blobs) > 0 {
		res, err := c.imagesInfra.UploadImages(ctx, NewUploadImagesReq(blobs...))
		if err != nil {
			c.logger.Warnf("image copies for %s not stored: %v", product.ExternalID, e.Wrap(op, err))
		} else {
			uploaded = make(map[string]bool, len(res.ImagesKeys))
			for _, k := range res.ImagesKeys {
				uploaded[k] = true
			}
		}
	}

	outcome := outcomeSkipped
	err := c.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := c.products.Upsert(ctx, product)
		if err != nil {
			return err
		}
		switch {
		case res.Inserted:
			outcome = outcomeInserted
		case !res.NoChanges:
			outcome = outcomeUpdated
		}

		for _, f := range fetched {
			if f.err != nil {
				continue
			}
			img := &domain.ProductImage{
				ProductID:         res.Product.ID,
				ProductExternalID: product.ExternalID,
				Position:          f.position,
				SourceURL:         f.url,
				ContentHash:       f.hash,
				PHash:             f.phash,
			}
			if key := blobKey(f.hash, f.format); uploaded[key] {
				img.ObjectKey = key
			}

			imgRes, err := c.images.Upsert(ctx, img)
			if err != nil {
				return err
			}
			if imgRes.Changed && outcome == outcomeSkipped {
				outcome = outcomeUpdated
			}
		}

		return c.images.DeleteFromPosition(ctx, res.Product.ID, len(gallery))
	})
	if err != nil {
		return outcomeSkipped, snap, e.Wrap(op, err)
	}

	for _, f := range fetched {
		if f.err != nil {
			continue
		}
		snap.Images = append(snap.Images, domain.SnapshotImage{Position: f.position, URL: f.url, ContentHash: f.hash})
	}

	return outcome, snap, nil
}

// fetchGallery скачивает изображения параллельно. Неудачные загрузки логируются,
// строки этих позиций не трогаются.
func (c *CatalogUseCase) fetchGallery(ctx context.Context, gallery []domain.ProductImage) []fetchedImage {
	out := make([]fetchedImage, len(gallery))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ImageConcurrency)
	for i, img := range gallery {
		g.Go(func() error {
			out[i] = c.fetchOne(gctx, i, img.SourceURL)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range out {
		if f.err != nil {
			c.logger.Warnf("catalog image %s skipped: %v", f.url, f.err)
		}
	}
	return out
}

func (c *CatalogUseCase) fetchOne(ctx context.Context, position int, url string) fetchedImage {
	f := fetchedImage{position: position, url: url}

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.ImageTimeout)
	defer cancel()

	data, err := c.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		f.err = err
		return f
	}

	sum := sha256.Sum256(data)
	f.data = data
	f.hash = hex.EncodeToString(sum[:])
	f.format = formatFromContentType(http.DetectContentType(data))

	img, format, err := c.codec.Decode(data)
	if err != nil {
		// Изображение хранится с хэшем, но без перцептивного хэша
		c.logger.Debugf("catalog image %s not decodable: %v", url, err)
		return f
	}
	if format != "" {
		f.format = format
	}

	if ph, err := c.codec.PerceptualHash(img); err == nil {
		f.phash = ph
	}
	return f
}

func (c *CatalogUseCase) writeSnapshot(ctx context.Context, snapshot *domain.CatalogSnapshot) error {
	const op = "CatalogUseCase.writeSnapshot"

	if snapshot.Products == nil {
		snapshot.Products = []domain.SnapshotProduct{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return e.Wrap(op, err)
	}

	contentType := "application/json"
	if _, err := c.objects.Upload(ctx, domain.NewImage(SnapshotKey, c.opts.Bucket, SnapshotKey, data, &contentType)); err != nil {
		return e.Wrap(op, err)
	}
	return nil
}

func blobKey(hash, format string) string {
	if format == "" {
		format = "bin"
	}
	return fmt.Sprintf("catalog/images/%s.%s", hash, format)
}

func formatFromContentType(ct string) string {
	switch ct {
	case "image/jpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return ""
	}
}
