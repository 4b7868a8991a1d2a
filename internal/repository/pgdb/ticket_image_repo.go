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

const ticketImageColumns = `id, attachment_id, ticket_id, comment_id, content_url, content_hash, source,
	decode_error, ground_truth_product_id, ground_truth_url, label_source, labeled_at, created_at`

// TicketImageRepo реализует репозиторий изображений из тикетов поверх PostgreSQL.
type TicketImageRepo struct {
	pool *pgxpool.Pool
	conv converter.TicketImageConverter
}

func NewTicketImageRepo(pool *pgxpool.Pool, conv converter.TicketImageConverter) *TicketImageRepo {
	return &TicketImageRepo{pool: pool, conv: conv}
}

func scanTicketImage(row rowScanner) (*converter.TicketImageModel, error) {
	var m converter.TicketImageModel
	err := row.Scan(
		&m.ID, &m.AttachmentID, &m.TicketID, &m.CommentID, &m.ContentURL, &m.ContentHash, &m.Source,
		&m.DecodeError, &m.GroundTruthProductID, &m.GroundTruthURL, &m.LabelSource, &m.LabeledAt, &m.CreatedAt,
	)
	return &m, err
}

func (t *TicketImageRepo) Exists(ctx context.Context, attachmentID int64) (bool, error) {
	var exists bool
	err := tr.QuerierFromCtx(ctx, t.pool).
		QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ticket_images WHERE attachment_id = $1)`, attachmentID).
		Scan(&exists)
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}
	return exists, nil
}

// Create идемпотентно создаёт запись по attachment_id, игнорируя дубликаты.
// Если запись уже была, возвращается она и created = false.
func (t *TicketImageRepo) Create(ctx context.Context, img *domain.TicketImage) (*domain.TicketImage, bool, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		INSERT INTO ticket_images (attachment_id, ticket_id, comment_id, content_url, content_hash, source, decode_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attachment_id) DO NOTHING
		RETURNING ` + ticketImageColumns

	m, err := scanTicketImage(tx.QueryRow(ctx, query,
		img.AttachmentID, img.TicketID, img.CommentID, img.ContentURL, img.ContentHash, img.Source, img.DecodeError,
	))
	if err == nil {
		return t.conv.ToEntity(m), true, nil
	}
	if !noRows(err) {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	existing, err := t.GetByAttachmentID(ctx, img.AttachmentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (t *TicketImageRepo) GetByAttachmentID(ctx context.Context, attachmentID int64) (*domain.TicketImage, error) {
	query := `SELECT ` + ticketImageColumns + ` FROM ticket_images WHERE attachment_id = $1`

	m, err := scanTicketImage(tr.QuerierFromCtx(ctx, t.pool).QueryRow(ctx, query, attachmentID))
	if err != nil {
		if noRows(err) {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrNotFound)
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return t.conv.ToEntity(m), nil
}

// SetGroundTruth записывает эталонный товар для вложения.
func (t *TicketImageRepo) SetGroundTruth(ctx context.Context, attachmentID int64, gt domain.GroundTruth) error {
	query := `
		UPDATE ticket_images
		SET ground_truth_product_id = $2, ground_truth_url = $3, label_source = $4, labeled_at = NOW()
		WHERE attachment_id = $1
	`

	tag, err := tr.QuerierFromCtx(ctx, t.pool).Exec(ctx, query,
		attachmentID, converter.NullString(gt.ProductID), converter.NullString(gt.ProductURL), gt.LabelSource,
	)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if tag.RowsAffected() == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrNotFound)
	}
	return nil
}
