package pgdb

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// OutboxChannel - канал NOTIFY, который слушает outbox-воркер.
const OutboxChannel = "outbox_pending"

const outboxColumns = `id, event_id, event_type, ticket_id, payload, status, attempts, last_error, available_at,
	created_at, processed_at`

type OutboxEventRepo struct {
	pool *pgxpool.Pool
	conv converter.OutboxEventConverter
}

func NewOutboxEventRepo(pool *pgxpool.Pool, conv converter.OutboxEventConverter) *OutboxEventRepo {
	return &OutboxEventRepo{
		pool: pool,
		conv: conv,
	}
}

func scanOutbox(row rowScanner) (*converter.OutboxEventModel, error) {
	var m converter.OutboxEventModel
	err := row.Scan(
		&m.ID, &m.EventID, &m.EventType, &m.TicketID, &m.Payload, &m.Status, &m.Attempts, &m.LastError,
		&m.AvailableAt, &m.CreatedAt, &m.ProcessedAt,
	)
	return &m, err
}

// Create записывает событие в транзакции вызывающего и будит воркер через NOTIFY.
// Уведомление доставляется только после коммита.
func (o *OutboxEventRepo) Create(ctx context.Context, event *domain.OutboxEvent) (*domain.OutboxEvent, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	model := o.conv.ToModel(event)
	if model.Status == "" {
		model.Status = domain.OutboxStatusPending
	}
	if model.AvailableAt.IsZero() {
		model.AvailableAt = time.Now().UTC()
	}

	query := `
		INSERT INTO outbox_events (
			event_id,
			event_type,
			ticket_id,
			payload,
			status,
			attempts,
			last_error,
			available_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + outboxColumns

	out, err := scanOutbox(tx.QueryRow(ctx, query,
		model.EventID,
		model.EventType,
		model.TicketID,
		model.Payload,
		model.Status,
		model.Attempts,
		model.LastError,
		model.AvailableAt,
	))
	if err != nil {
		if postgresDuplicate(err) {
			return nil, fmt.Errorf("%s: event with id %s already exists", whereami.WhereAmI(), event.EventID)
		}

		return nil, fmt.Errorf("%s: failed to insert event: %w", whereami.WhereAmI(), err)
	}

	if out.Status == domain.OutboxStatusPending {
		if _, err = tx.Exec(ctx, "NOTIFY "+OutboxChannel+";"); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
	}

	return o.conv.ToEntity(out), nil
}

// GetAndMarkAsProcessing забирает до limit готовых к отправке событий.
// Параллельные воркеры не получают одни и те же строки.
func (o *OutboxEventRepo) GetAndMarkAsProcessing(ctx context.Context, limit int) (_ []domain.OutboxEvent, err error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", whereami.WhereAmI(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = now()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $2 AND available_at <= now()
			ORDER BY available_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := tx.Query(ctx, query, domain.OutboxStatusProcessing, domain.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query pending events: %w", whereami.WhereAmI(), err)
	}

	var models []*converter.OutboxEventModel
	for rows.Next() {
		m, scanErr := scanOutbox(rows)
		if scanErr != nil {
			rows.Close()
			err = scanErr
			return nil, fmt.Errorf("%s: failed to scan event: %w", whereami.WhereAmI(), err)
		}
		models = append(models, m)
	}
	rows.Close()

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iterator error: %w", whereami.WhereAmI(), err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", whereami.WhereAmI(), err)
	}

	return o.conv.ToArrEntity(models), nil
}

func (o *OutboxEventRepo) MarkAsProcessed(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processed_at = NOW()
		WHERE id = $2 AND status = $3
	`

	// Событие могло быть уже обработано другим воркером, это не ошибка
	if _, err := o.pool.Exec(ctx, query, domain.OutboxStatusProcessed, id, domain.OutboxStatusProcessing); err != nil {
		return fmt.Errorf("%s: failed to mark event %d as processed: %w", whereami.WhereAmI(), id, err)
	}

	return nil
}

// ResetStale возвращает в pending события, застрявшие в processing дольше olderThan
// (воркер упал между выборкой и отправкой).
func (o *OutboxEventRepo) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = NULL
		WHERE status = $2
		  AND processing_started_at < now() - make_interval(secs => $3)
	`

	tag, err := o.pool.Exec(ctx, query, domain.OutboxStatusPending, domain.OutboxStatusProcessing, olderThan.Seconds())
	if err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}

	return tag.RowsAffected(), nil
}
