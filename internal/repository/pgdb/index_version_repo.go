package pgdb

import (
	"context"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

const versionColumns = `id, model_version, fingerprint, object_key, kind, image_count, product_count, size_bytes,
	is_active, created_at, activated_at`

// IndexVersionRepo хранит реестр опубликованных версий индекса.
type IndexVersionRepo struct {
	pool *pgxpool.Pool
	conv converter.IndexVersionConverter
}

func NewIndexVersionRepo(pool *pgxpool.Pool, conv converter.IndexVersionConverter) *IndexVersionRepo {
	return &IndexVersionRepo{
		pool: pool,
		conv: conv,
	}
}

func scanVersion(row rowScanner) (*converter.IndexVersionModel, error) {
	var m converter.IndexVersionModel
	err := row.Scan(
		&m.ID, &m.ModelVersion, &m.Fingerprint, &m.ObjectKey, &m.Kind, &m.ImageCount, &m.ProductCount,
		&m.SizeBytes, &m.IsActive, &m.CreatedAt, &m.ActivatedAt,
	)
	return &m, err
}

// Create регистрирует версию. Повторная публикация того же отпечатка
// возвращает существующую запись с обновлённым ключом артефакта.
func (r *IndexVersionRepo) Create(ctx context.Context, v *domain.IndexVersion) (*domain.IndexVersion, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		INSERT INTO index_versions (model_version, fingerprint, object_key, kind, image_count, product_count, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (model_version, fingerprint)
		DO UPDATE SET
			object_key = EXCLUDED.object_key,
			kind = EXCLUDED.kind,
			size_bytes = EXCLUDED.size_bytes
		RETURNING ` + versionColumns

	m, err := scanVersion(tx.QueryRow(ctx, query,
		v.ModelVersion, v.Fingerprint, v.ObjectKey, v.Kind, v.ImageCount, v.ProductCount, v.SizeBytes,
	))
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return r.conv.ToEntity(m), nil
}

func (r *IndexVersionRepo) GetActive(ctx context.Context) (*domain.IndexVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM index_versions WHERE is_active`

	m, err := scanVersion(tr.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, query))
	if err != nil {
		if noRows(err) {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrIndexVersionNotFound)
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return r.conv.ToEntity(m), nil
}

func (r *IndexVersionRepo) GetByID(ctx context.Context, id int64) (*domain.IndexVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM index_versions WHERE id = $1`

	m, err := scanVersion(tr.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if noRows(err) {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrIndexVersionNotFound)
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return r.conv.ToEntity(m), nil
}

// Activate делает версию единственной активной. Выполняется в транзакции вызывающего.
func (r *IndexVersionRepo) Activate(ctx context.Context, id int64) error {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := tx.Exec(ctx, `UPDATE index_versions SET is_active = FALSE WHERE is_active AND id <> $1`, id); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE index_versions
		SET is_active = TRUE, activated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if tag.RowsAffected() == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrIndexVersionNotFound)
	}

	return nil
}

func (r *IndexVersionRepo) List(ctx context.Context, limit int) ([]domain.IndexVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM index_versions ORDER BY id DESC LIMIT $1`

	rows, err := tr.QuerierFromCtx(ctx, r.pool).Query(ctx, query, limit)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]domain.IndexVersion, 0)
	for rows.Next() {
		m, err := scanVersion(rows)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		result = append(result, *r.conv.ToEntity(m))
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}
