package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/index"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const artifactContentType = "application/octet-stream"

type IndexOptions struct {
	Concurrency   int
	FetchTimeout  time.Duration
	Bucket        string
	HNSWThreshold int
}

// IndexUseCase собирает версии индекса из изображений каталога.
// Более новый запуск сборки вытесняет старый, результат старого отбрасывается.
type IndexUseCase struct {
	products   ProductRepository
	images     ProductImageRepository
	embeddings EmbeddingRepository
	versions   IndexVersionRepository
	objects    ObjectRepository
	fetcher    ImageFetcher
	codec      ImageCodec
	encoder    EncoderInfra
	publisher  IndexPublisher
	tx         TxManager
	metrics    Metrics
	logger     logger.Logger
	opts       IndexOptions

	generation atomic.Uint64
	mu         sync.Mutex
}

func NewIndexUC(
	products ProductRepository,
	images ProductImageRepository,
	embeddings EmbeddingRepository,
	versions IndexVersionRepository,
	objects ObjectRepository,
	fetcher ImageFetcher,
	codec ImageCodec,
	encoder EncoderInfra,
	publisher IndexPublisher,
	tx TxManager,
	metrics Metrics,
	logger logger.Logger,
	opts IndexOptions,
) *IndexUseCase {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &IndexUseCase{
		products:   products,
		images:     images,
		embeddings: embeddings,
		versions:   versions,
		objects:    objects,
		fetcher:    fetcher,
		codec:      codec,
		encoder:    encoder,
		publisher:  publisher,
		tx:         tx,
		metrics:    metrics,
		logger:     logger,
		opts:       opts,
	}
}

// Build собирает индекс по текущему каталогу и публикует его.
// Если отпечаток каталога совпадает с активной версией, сборка ничего не делает.
func (b *IndexUseCase) Build(ctx context.Context) (report *domain.BuildReport, err error) {
	const op = "IndexUseCase.Build"

	gen := b.generation.Add(1)
	start := time.Now()
	defer func() {
		b.metrics.ObserveBuild(time.Since(start).Seconds(), report, err)
	}()

	model := b.encoder.ModelVersion()

	images, err := b.images.ListForIndex(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	products, err := b.products.ListActive(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	items := make([]index.FingerprintItem, 0, len(images))
	for _, img := range images {
		items = append(items, index.FingerprintItem{Key: img.Key(), ContentHash: img.ContentHash})
	}
	fingerprint := index.Fingerprint(model, items)

	active, err := b.versions.GetActive(ctx)
	if err != nil && !errors.Is(err, e.ErrIndexVersionNotFound) {
		return nil, e.Wrap(op, err)
	}
	if active != nil && active.ModelVersion == model && active.Fingerprint == fingerprint {
		b.logger.Infof("catalog unchanged, index version %d stays active", active.ID)
		return &domain.BuildReport{Version: active, NoOp: true}, nil
	}

	report = &domain.BuildReport{}
	vectors := b.reusableVectors(ctx, active, model, images)

	missing := make([]int, 0)
	for i, img := range images {
		if _, ok := vectors[reuseKey(img.Key(), img.ContentHash)]; ok {
			report.Reused++
			continue
		}
		missing = append(missing, i)
	}

	if err := b.checkGeneration(gen); err != nil {
		return nil, e.Wrap(op, err)
	}

	embedded, failed := b.embedMissing(ctx, images, missing, model)
	for k, v := range embedded {
		vectors[k] = v
	}
	report.Embedded = len(embedded)
	report.Failed = len(failed)
	report.FailedImages = failed

	if err := ctx.Err(); err != nil {
		return nil, e.Wrap(op, err)
	}
	if err := b.checkGeneration(gen); err != nil {
		return nil, e.Wrap(op, err)
	}

	art := b.assemble(model, products, images, vectors)

	// Отпечаток строится по фактически вошедшим в индекс изображениям,
	// чтобы упавшие изображения попали в следующую сборку.
	fingerprint = art.Fingerprint()
	if active != nil && active.ModelVersion == model && active.Fingerprint == fingerprint {
		report.Version = active
		report.NoOp = true
		return report, nil
	}

	version, err := b.publish(ctx, gen, art, fingerprint)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	report.Version = version

	b.logger.Infof(
		"index version %d published: kind=%s images=%d products=%d embedded=%d reused=%d failed=%d",
		version.ID, version.Kind, version.ImageCount, version.ProductCount, report.Embedded, report.Reused, report.Failed,
	)
	return report, nil
}

// Activate делает указанную версию активной (откат) и подгружает её в матчер.
func (b *IndexUseCase) Activate(ctx context.Context, id int64) (*domain.IndexVersion, error) {
	const op = "IndexUseCase.Activate"

	version, err := b.versions.GetByID(ctx, id)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	data, err := b.objects.Get(ctx, version.ObjectKey)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	art, err := index.Unmarshal(data)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Версию чужой модели матчер не загрузит, активная запись не должна на неё указывать
	if model := b.encoder.ModelVersion(); art.ModelVersion != model {
		return nil, e.Wrap(op, fmt.Errorf("%w: version %d built with %q, encoder %q",
			e.ErrModelVersionMismatch, id, art.ModelVersion, model))
	}

	if err := b.tx.WithinTx(ctx, func(ctx context.Context) error {
		return b.versions.Activate(ctx, id)
	}); err != nil {
		return nil, e.Wrap(op, err)
	}
	version.IsActive = true

	if b.publisher != nil {
		if err := b.publisher.Publish(version, art); err != nil {
			return nil, e.Wrap(op, err)
		}
	}

	return version, nil
}

func (b *IndexUseCase) ListVersions(ctx context.Context, limit int) ([]domain.IndexVersion, error) {
	const op = "IndexUseCase.ListVersions"

	if limit <= 0 {
		limit = 20
	}
	versions, err := b.versions.List(ctx, limit)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return versions, nil
}

func (b *IndexUseCase) checkGeneration(gen uint64) error {
	if b.generation.Load() != gen {
		return e.ErrBuildSuperseded
	}
	return nil
}

func reuseKey(imageKey, contentHash string) string {
	return imageKey + "|" + contentHash
}

// reusableVectors собирает уже посчитанные векторы: сначала из активного
// артефакта той же модели, затем из векторного хранилища (полная пересборка).
func (b *IndexUseCase) reusableVectors(ctx context.Context, active *domain.IndexVersion, model string, images []domain.ProductImage) map[string][]float32 {
	const op = "IndexUseCase.reusableVectors"

	vectors := make(map[string][]float32)

	if active != nil && active.ModelVersion == model {
		data, err := b.objects.Get(ctx, active.ObjectKey)
		if err == nil {
			if art, err := index.Unmarshal(data); err == nil {
				for _, en := range art.Entries {
					vectors[reuseKey(en.Key, en.ContentHash)] = en.Vector
				}
			} else {
				b.logger.Warnf("previous artifact unreadable, falling back to vector store: %v", e.Wrap(op, err))
			}
		} else {
			b.logger.Warnf("previous artifact unavailable, falling back to vector store: %v", e.Wrap(op, err))
		}
	}

	covered := true
	for _, img := range images {
		if _, ok := vectors[reuseKey(img.Key(), img.ContentHash)]; !ok {
			covered = false
			break
		}
	}
	if covered {
		return vectors
	}

	stored, err := b.embeddings.Scroll(ctx, model)
	if err != nil {
		b.logger.Warnf("vector store scroll failed, missing vectors will be recomputed: %v", e.Wrap(op, err))
		return vectors
	}
	for _, emb := range stored {
		key, _ := emb.Payload["image_key"].(string)
		hash, _ := emb.Payload["content_hash"].(string)
		if key == "" || hash == "" {
			continue
		}
		if _, ok := vectors[reuseKey(key, hash)]; !ok {
			vectors[reuseKey(key, hash)] = emb.Vector
		}
	}

	return vectors
}

// embedMissing считает эмбеддинги для изображений без актуального вектора.
// Ошибка одного изображения записывается и не прерывает сборку.
// Отмена сборки ошибкой изображения не считается.
func (b *IndexUseCase) embedMissing(ctx context.Context, images []domain.ProductImage, missing []int, model string) (map[string][]float32, []string) {
	var (
		mu       sync.Mutex
		embedded = make(map[string][]float32, len(missing))
		failed   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)

	for _, i := range missing {
		img := images[i]
		g.Go(func() error {
			vec, err := b.embedOne(gctx, &img, model)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				failed = append(failed, img.Key())
				b.logger.Warnf("embedding failed for image %s: %v", img.Key(), err)
				if markErr := b.images.MarkEmbedFailed(context.WithoutCancel(gctx), img.ID, err.Error()); markErr != nil {
					b.logger.Warnf("mark embed failed: %v", markErr)
				}
				return nil
			}

			embedded[reuseKey(img.Key(), img.ContentHash)] = vec
			return nil
		})
	}
	_ = g.Wait()

	return embedded, failed
}

func (b *IndexUseCase) embedOne(ctx context.Context, img *domain.ProductImage, model string) ([]float32, error) {
	const op = "IndexUseCase.embedOne"

	data, err := b.loadImage(ctx, img)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	decoded, _, err := b.codec.Decode(data)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	res, err := b.encoder.VectorizeRequest(ctx, NewVectorizeReq(EncodeImage{ContentHash: img.ContentHash, Data: data, Img: decoded}))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(res) != 1 || len(res[0].Vector) == 0 {
		return nil, e.Wrap(op, e.ErrVectorEmbeddingEmpty)
	}

	embeddingID := domain.EmbeddingID(img.Key(), model)
	payload := domain.NewPayload(img.ProductExternalID, img.Key(), img.ContentHash, model)
	if err := b.embeddings.Upsert(ctx, []domain.Embedding{*domain.NewEmbedding(embeddingID, res[0].Vector, payload)}); err != nil {
		return nil, e.Wrap(op, err)
	}

	if err := b.images.MarkEmbedded(ctx, img.ID, embeddingID, img.ContentHash, model); err != nil {
		return nil, e.Wrap(op, err)
	}

	return res[0].Vector, nil
}

// loadImage читает копию изображения из объектного хранилища, при её отсутствии скачивает по URL.
func (b *IndexUseCase) loadImage(ctx context.Context, img *domain.ProductImage) ([]byte, error) {
	if img.ObjectKey != "" {
		data, err := b.objects.Get(ctx, img.ObjectKey)
		if err == nil {
			return data, nil
		}
		b.logger.Debugf("stored copy of %s unavailable: %v", img.Key(), err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.opts.FetchTimeout)
	defer cancel()
	return b.fetcher.Fetch(fetchCtx, img.SourceURL)
}

func (b *IndexUseCase) assemble(model string, products []domain.Product, images []domain.ProductImage, vectors map[string][]float32) *index.Artifact {
	art := &index.Artifact{ModelVersion: model}

	withImages := make(map[string]struct{})
	for _, img := range images {
		vec, ok := vectors[reuseKey(img.Key(), img.ContentHash)]
		if !ok {
			continue
		}
		if art.Dim == 0 {
			art.Dim = len(vec)
		}
		art.Entries = append(art.Entries, index.Entry{
			Key:         img.Key(),
			ProductID:   img.ProductExternalID,
			ContentHash: img.ContentHash,
			Vector:      vec,
		})
		withImages[img.ProductExternalID] = struct{}{}
	}

	for _, p := range products {
		if _, ok := withImages[p.ExternalID]; !ok {
			continue
		}
		art.Products = append(art.Products, index.ProductRef{ID: p.ExternalID, URL: p.URL, Title: p.Title})
	}

	art.Canonicalize()
	return art
}

// publish сохраняет артефакт, регистрирует версию и делает её активной.
func (b *IndexUseCase) publish(ctx context.Context, gen uint64, art *index.Artifact, fingerprint string) (*domain.IndexVersion, error) {
	const op = "IndexUseCase.publish"

	data, err := index.Marshal(art)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	key := index.ObjectKey(art.ModelVersion, fingerprint)
	contentType := artifactContentType
	if _, err := b.objects.Upload(ctx, domain.NewImage(fingerprint, b.opts.Bucket, key, data, &contentType)); err != nil {
		return nil, e.Wrap(op, err)
	}

	kind := domain.IndexKindFlat
	if b.opts.HNSWThreshold > 0 && len(art.Entries) >= b.opts.HNSWThreshold {
		kind = domain.IndexKindHNSW
	}

	// Проверка и активация под мьютексом, чтобы вытесненная сборка не успела
	// активировать свою версию между проверкой и записью.
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkGeneration(gen); err != nil {
		return nil, e.Wrap(op, err)
	}

	var version *domain.IndexVersion
	err = b.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := b.versions.Create(ctx, &domain.IndexVersion{
			ModelVersion: art.ModelVersion,
			Fingerprint:  fingerprint,
			ObjectKey:    key,
			Kind:         kind,
			ImageCount:   len(art.Entries),
			ProductCount: len(art.Products),
			SizeBytes:    int64(len(data)),
		})
		if err != nil {
			return err
		}
		if err := b.versions.Activate(ctx, v.ID); err != nil {
			return err
		}
		v.IsActive = true
		version = v
		return nil
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if b.publisher != nil {
		if err := b.publisher.Publish(version, art); err != nil {
			return nil, e.Wrap(op, fmt.Errorf("version %d activated but not loaded: %w", version.ID, err))
		}
	}

	return version, nil
}
