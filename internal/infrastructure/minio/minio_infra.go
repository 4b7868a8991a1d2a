package minio

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/jitter"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	cleanupAttempts = 3
	cleanupTimeout  = 30 * time.Second
)

// MinioInfrastructure управляет загрузкой и очисткой объектов в MinIO:
// копии изображений каталога и временные копии вложений.
type MinioInfrastructure struct {
	objects           usecase.ObjectRepository
	bucket            string
	logger            logger.Logger
	shutdownCtx       context.Context
	wg                sync.WaitGroup
	uploadImagesLimit int
}

func NewMinioInfrastructure(objects usecase.ObjectRepository, bucket string, uploadImagesLimit int,
	logger logger.Logger, shutdownCtx context.Context) *MinioInfrastructure {
	if uploadImagesLimit <= 0 {
		uploadImagesLimit = 1
	}
	return &MinioInfrastructure{
		objects:           objects,
		bucket:            bucket,
		logger:            logger,
		shutdownCtx:       shutdownCtx,
		uploadImagesLimit: uploadImagesLimit,
	}
}

// UploadImages загружает объекты параллельно с ограничением одновременных операций.
// Ключи возвращаются в порядке запроса. При первой ошибке остальные загрузки
// отменяются, а уже загруженные объекты удаляются в фоне.
func (m *MinioInfrastructure) UploadImages(ctx context.Context, req *usecase.UploadImagesReq) (*usecase.UploadImagesRes, error) {
	const op = "MinioInfrastructure.UploadImages"

	keys := make([]string, len(req.Blobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.uploadImagesLimit)
	for i, blob := range req.Blobs {
		g.Go(func() error {
			contentType := blob.ContentType
			if contentType == "" {
				contentType = http.DetectContentType(blob.Data)
			}
			image := domain.NewImage(blob.Key, m.bucket, blob.Key, blob.Data, &contentType)

			key, err := m.objects.Upload(gctx, image)
			if err != nil {
				return fmt.Errorf("upload %s failed: %w", blob.Key, err)
			}
			keys[i] = key
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		uploaded := make([]string, 0, len(keys))
		for _, k := range keys {
			if k != "" {
				uploaded = append(uploaded, k)
			}
		}
		m.CleanupImages(uploaded)
		return nil, e.Wrap(op, err)
	}

	return usecase.NewUploadImagesRes(keys), nil
}

// CleanupImages запускает фоновую очистку указанных ключей MinIO
func (m *MinioInfrastructure) CleanupImages(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.wg.Add(1)
	go m.cleanupUploadedKeys(keys)
}

// cleanupUploadedKeys удаляет указанные объекты с экспоненциальной задержкой и jitter.
func (m *MinioInfrastructure) cleanupUploadedKeys(keys []string) {
	defer m.wg.Done()
	const op = "MinioInfrastructure.cleanupUploadedKeys"
	m.logger.Debugf("%s: cleaning up %d key(s)", op, len(keys))

	ctx, cancel := context.WithTimeout(m.shutdownCtx, cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		for attempt := 0; attempt < cleanupAttempts; attempt++ {
			err := m.objects.Delete(ctx, key)
			if err == nil {
				break
			}

			if ctx.Err() != nil {
				m.logger.Warnf("cleanup interrupted by shutdown, key=%v", key)
				return
			}

			if attempt == cleanupAttempts-1 {
				m.logger.Warnf("cleanup gave up, key=%v: %v", key, err)
				break
			}

			if err := jitter.Sleep(ctx, jitter.ExponentialBackoff(time.Second, 10*time.Second, attempt, jitter.DefaultJitter)); err != nil {
				m.logger.Warnf("cleanup interrupted by shutdown during backoff, key=%v", key)
				return
			}
		}
	}
}

// WaitForCleanup ожидает завершения всех фоновых задач очистки с учётом таймаута завершения приложения.
func (m *MinioInfrastructure) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("minio cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}
