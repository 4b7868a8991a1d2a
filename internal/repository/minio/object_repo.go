package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

const noSuchKey = "NoSuchKey"

// ObjectRepo реализует объектное хранилище поверх MinIO: артефакты индекса,
// снапшоты каталога и копии изображений.
type ObjectRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewObjectRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *ObjectRepo {
	return &ObjectRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Upload загружает объект в MinIO и возвращает его ключ.
func (o *ObjectRepo) Upload(ctx context.Context, image *domain.Image) (string, error) {
	reader := bytes.NewReader(image.Data)

	size := int64(len(image.Data))
	if image.Size != nil {
		size = *image.Size
	}
	opts := minio.PutObjectOptions{}
	if image.ContentType != nil {
		opts.ContentType = *image.ContentType
	}

	info, err := o.mc.PutObject(ctx, o.bucket(image.Bucket), image.ObjectKey, reader, size, opts)
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}

// Get читает объект целиком. Отсутствующий ключ даёт e.ErrNotFound.
func (o *ObjectRepo) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := o.mc.GetObject(ctx, o.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), notFound(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), notFound(err))
	}

	return data, nil
}

// Delete удаляет объект из MinIO по указанному ключу.
func (o *ObjectRepo) Delete(ctx context.Context, key string) error {
	if err := o.mc.RemoveObject(ctx, o.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

func (o *ObjectRepo) bucket(b string) string {
	if b != "" {
		return b
	}
	return o.cfg.BucketName
}

func notFound(err error) error {
	if minio.ToErrorResponse(err).Code == noSuchKey {
		return e.ErrNotFound
	}
	return err
}
