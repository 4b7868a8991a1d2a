package pgdb

import (
	"context"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/tr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

const imageColumns = `pi.id, pi.product_id, pi.position, pi.source_url, pi.content_hash, pi.phash, pi.object_key,
	pi.embedding_id, pi.embedded_hash, pi.embedded_model, pi.embed_error, pi.created_at, pi.updated_at`

// ProductImageRepo хранит галереи товаров.
type ProductImageRepo struct {
	pool *pgxpool.Pool
	conv converter.ProductImageConverter
}

func NewProductImageRepo(pool *pgxpool.Pool, conv converter.ProductImageConverter) *ProductImageRepo {
	return &ProductImageRepo{
		pool: pool,
		conv: conv,
	}
}

func scanImage(row rowScanner, m *converter.ProductImageModel, extra ...any) error {
	dest := []any{
		&m.ID, &m.ProductID, &m.Position, &m.SourceURL, &m.ContentHash, &m.PHash, &m.ObjectKey,
		&m.EmbeddingID, &m.EmbeddedHash, &m.EmbeddedModel, &m.EmbedError, &m.CreatedAt, &m.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// Upsert записывает изображение в позицию галереи.
// Changed выставляется, если content_hash позиции изменился или позиция новая.
func (r *ProductImageRepo) Upsert(ctx context.Context, image *domain.ProductImage) (*usecase.UpsertImageRes, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		WITH prev AS (
			SELECT content_hash FROM product_images WHERE product_id = $1 AND position = $2
		), upsert AS (
		INSERT INTO product_images AS pi (product_id, position, source_url, content_hash, phash, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id, position)
		DO UPDATE SET
			source_url = EXCLUDED.source_url,
			content_hash = EXCLUDED.content_hash,
			phash = COALESCE(EXCLUDED.phash, pi.phash),
			object_key = COALESCE(EXCLUDED.object_key, pi.object_key),
			embed_error = CASE WHEN pi.content_hash IS DISTINCT FROM EXCLUDED.content_hash THEN NULL ELSE pi.embed_error END,
			updated_at = NOW()
		RETURNING ` + imageColumns + `
		)
		SELECT pi.*, (SELECT content_hash FROM prev) IS DISTINCT FROM pi.content_hash AS changed
		FROM upsert pi;
	`

	var (
		m       converter.ProductImageModel
		changed bool
	)
	err = scanImage(tx.QueryRow(ctx, query,
		image.ProductID, image.Position, image.SourceURL, image.ContentHash,
		converter.NullString(image.PHash), converter.NullString(image.ObjectKey),
	), &m, &changed)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	m.ProductExternalID = image.ProductExternalID

	return &usecase.UpsertImageRes{Image: r.conv.ToEntity(&m), Changed: changed}, nil
}

// DeleteFromPosition удаляет позиции галереи начиная с position (галерея стала короче).
func (r *ProductImageRepo) DeleteFromPosition(ctx context.Context, productID int64, position int) error {
	query := `DELETE FROM product_images WHERE product_id = $1 AND position >= $2`

	if _, err := tr.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, productID, position); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}

// ListForIndex возвращает изображения неархивных товаров, у которых известен хэш содержимого.
func (r *ProductImageRepo) ListForIndex(ctx context.Context) ([]domain.ProductImage, error) {
	query := `
		SELECT ` + imageColumns + `, p.external_id
		FROM product_images pi
		JOIN products p ON p.id = pi.product_id
		WHERE NOT p.is_archived AND pi.content_hash <> ''
		ORDER BY p.external_id, pi.position
	`

	rows, err := tr.QuerierFromCtx(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	models := make([]*converter.ProductImageModel, 0)
	for rows.Next() {
		var m converter.ProductImageModel
		if err := scanImage(rows, &m, &m.ProductExternalID); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		models = append(models, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return r.conv.ToArrEntity(models), nil
}

// MarkEmbedded фиксирует, для какого содержимого и модели посчитан эмбеддинг.
func (r *ProductImageRepo) MarkEmbedded(ctx context.Context, id int64, embeddingID, contentHash, modelVersion string) error {
	pointID, err := uuid.Parse(embeddingID)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE product_images
		SET embedding_id = $2, embedded_hash = $3, embedded_model = $4, embed_error = NULL, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tr.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, id, pointID, contentHash, modelVersion); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}

func (r *ProductImageRepo) MarkEmbedFailed(ctx context.Context, id int64, reason string) error {
	query := `UPDATE product_images SET embed_error = $2, updated_at = NOW() WHERE id = $1`

	if _, err := tr.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, id, reason); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}
