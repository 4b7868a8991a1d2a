package pgdb

import (
	"context"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

const productColumns = `id, external_id, handle, title, url, tags, price_cents, currency, source, created_at, updated_at, is_archived`

// ProductRepo реализует репозиторий товаров поверх PostgreSQL.
type ProductRepo struct {
	pool *pgxpool.Pool
	conv converter.ProductConverter
}

func NewProductRepo(pool *pgxpool.Pool, conv converter.ProductConverter) *ProductRepo {
	return &ProductRepo{
		pool: pool,
		conv: conv,
	}
}

// Upsert идемпотентно создаёт или обновляет товар по внешнему идентификатору.
// Запись обновляется только при изменении атрибутов или если товар был в архиве.
func (p *ProductRepo) Upsert(ctx context.Context, product *domain.Product) (*usecase.UpsertProductRes, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	model := p.conv.ToModel(product)

	// VALUES ($1..$8) external_id, handle, title, url, tags, price_cents, currency, source
	query := `
		WITH upsert AS (
		INSERT INTO products (external_id, handle, title, url, tags, price_cents, currency, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id)
		DO UPDATE SET
			handle = EXCLUDED.handle,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			tags = EXCLUDED.tags,
			price_cents = EXCLUDED.price_cents,
			currency = EXCLUDED.currency,
			source = EXCLUDED.source,
			is_archived = FALSE,
			updated_at = NOW()
		WHERE
			products.handle IS DISTINCT FROM EXCLUDED.handle OR
			products.title IS DISTINCT FROM EXCLUDED.title OR
			products.url IS DISTINCT FROM EXCLUDED.url OR
			products.tags IS DISTINCT FROM EXCLUDED.tags OR
			products.price_cents IS DISTINCT FROM EXCLUDED.price_cents OR
			products.currency IS DISTINCT FROM EXCLUDED.currency OR
			products.source IS DISTINCT FROM EXCLUDED.source OR
			products.is_archived
		RETURNING
			` + productColumns + `, (xmax = 0) AS inserted
		)
		SELECT
			` + productColumns + `, inserted,
			false AS no_changes
		FROM upsert

		UNION ALL

		SELECT
			` + productColumns + `, false AS inserted,
			true AS no_changes
		FROM products
		WHERE external_id = $1
		  AND NOT EXISTS (SELECT 1 FROM upsert);
	`

	var (
		out       converter.ProductModel
		inserted  bool
		noChanges bool
	)
	err = tx.QueryRow(ctx, query,
		model.ExternalID, model.Handle, model.Title, model.URL, model.Tags,
		model.PriceCents, model.Currency, model.Source,
	).Scan(
		&out.ID, &out.ExternalID, &out.Handle, &out.Title, &out.URL, &out.Tags, &out.PriceCents,
		&out.Currency, &out.Source, &out.CreatedAt, &out.UpdatedAt, &out.IsArchived,
		&inserted, &noChanges,
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return usecase.NewUpsertProductRes(p.conv.ToEntity(&out), inserted, noChanges), nil
}

// ListActive возвращает неархивные товары в порядке внешнего идентификатора.
func (p *ProductRepo) ListActive(ctx context.Context) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE NOT is_archived ORDER BY external_id`

	rows, err := tr.QuerierFromCtx(ctx, p.pool).Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		var m converter.ProductModel
		if err := rows.Scan(
			&m.ID, &m.ExternalID, &m.Handle, &m.Title, &m.URL, &m.Tags, &m.PriceCents,
			&m.Currency, &m.Source, &m.CreatedAt, &m.UpdatedAt, &m.IsArchived,
		); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		result = append(result, *p.conv.ToEntity(&m))
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}

// ArchiveMissing архивирует товары источника, которых нет в keep.
func (p *ProductRepo) ArchiveMissing(ctx context.Context, source string, keep []string) (int64, error) {
	query := `
		UPDATE products
		SET is_archived = TRUE, updated_at = NOW()
		WHERE source = $1
		  AND NOT is_archived
		  AND NOT (external_id = ANY($2))
	`

	if keep == nil {
		keep = []string{}
	}
	tag, err := tr.QuerierFromCtx(ctx, p.pool).Exec(ctx, query, source, keep)
	if err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}

	return tag.RowsAffected(), nil
}
