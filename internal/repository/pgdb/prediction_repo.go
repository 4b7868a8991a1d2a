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

const predictionColumns = `id, ticket_image_id, attachment_id, ticket_id, predicted_product_id, predicted_url,
	confidence, top_k, model_version, index_version, accepted, overridden_product_id, reviewed_at, created_at`

// PredictionRepo - журнал предсказаний. Строки только добавляются,
// изменяются лишь поля ревью.
type PredictionRepo struct {
	pool *pgxpool.Pool
	conv converter.PredictionConverter
}

func NewPredictionRepo(pool *pgxpool.Pool, conv converter.PredictionConverter) *PredictionRepo {
	return &PredictionRepo{pool: pool, conv: conv}
}

func scanPrediction(row rowScanner) (*converter.PredictionModel, error) {
	var m converter.PredictionModel
	err := row.Scan(
		&m.ID, &m.TicketImageID, &m.AttachmentID, &m.TicketID, &m.PredictedProductID, &m.PredictedURL,
		&m.Confidence, &m.TopK, &m.ModelVersion, &m.IndexVersion, &m.Accepted, &m.OverriddenProductID,
		&m.ReviewedAt, &m.CreatedAt,
	)
	return &m, err
}

// Create записывает предсказание. На одно вложение допускается одна строка:
// при повторе возвращается существующая и created = false.
func (p *PredictionRepo) Create(ctx context.Context, pred *domain.Prediction) (*domain.Prediction, bool, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	model, err := p.conv.ToModel(pred)
	if err != nil {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		INSERT INTO predictions (
			ticket_image_id, attachment_id, ticket_id, predicted_product_id, predicted_url,
			confidence, top_k, model_version, index_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (attachment_id) DO NOTHING
		RETURNING ` + predictionColumns

	m, err := scanPrediction(tx.QueryRow(ctx, query,
		model.TicketImageID, model.AttachmentID, model.TicketID, model.PredictedProductID, model.PredictedURL,
		model.Confidence, model.TopK, model.ModelVersion, model.IndexVersion,
	))
	if err != nil {
		if !noRows(err) {
			return nil, false, e.Wrap(whereami.WhereAmI(), err)
		}
		existing, err := p.GetByAttachmentID(ctx, pred.AttachmentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	out, err := p.conv.ToEntity(m)
	if err != nil {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}
	return out, true, nil
}

func (p *PredictionRepo) getOne(ctx context.Context, where string, arg any) (*domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE ` + where

	m, err := scanPrediction(tr.QuerierFromCtx(ctx, p.pool).QueryRow(ctx, query, arg))
	if err != nil {
		if noRows(err) {
			return nil, e.ErrNotFound
		}
		return nil, err
	}
	return p.conv.ToEntity(m)
}

func (p *PredictionRepo) GetByID(ctx context.Context, id int64) (*domain.Prediction, error) {
	pred, err := p.getOne(ctx, "id = $1", id)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return pred, nil
}

func (p *PredictionRepo) GetByAttachmentID(ctx context.Context, attachmentID int64) (*domain.Prediction, error) {
	pred, err := p.getOne(ctx, "attachment_id = $1", attachmentID)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return pred, nil
}

func (p *PredictionRepo) list(ctx context.Context, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := tr.QuerierFromCtx(ctx, p.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Prediction, 0)
	for rows.Next() {
		m, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		pred, err := p.conv.ToEntity(m)
		if err != nil {
			return nil, err
		}
		result = append(result, *pred)
	}
	return result, rows.Err()
}

func (p *PredictionRepo) ListByTicketID(ctx context.Context, ticketID int64) ([]domain.Prediction, error) {
	preds, err := p.list(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE ticket_id = $1 ORDER BY id`, ticketID)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return preds, nil
}

// ListUnreviewed возвращает ещё не проверенные предсказания, новые первыми.
func (p *PredictionRepo) ListUnreviewed(ctx context.Context, limit int) ([]domain.Prediction, error) {
	preds, err := p.list(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE accepted IS NULL ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return preds, nil
}

func (p *PredictionRepo) Review(ctx context.Context, id int64, review domain.Review) error {
	query := `
		UPDATE predictions
		SET accepted = $2, overridden_product_id = $3, reviewed_at = NOW()
		WHERE id = $1
	`

	tag, err := tr.QuerierFromCtx(ctx, p.pool).Exec(ctx, query, id, review.Accepted, review.OverriddenProductID)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if tag.RowsAffected() == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrNotFound)
	}
	return nil
}
