package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/google/uuid"
)

// Источники постановки тикета в очередь
const (
	EnqueueSourceWebhook  = "webhook"
	EnqueueSourceBackfill = "backfill"
	EnqueueSourceRetry    = "retry"
)

// IngestUseCase принимает события тикет-системы и надёжно ставит их в очередь:
// строка outbox пишется в той же транзакции, что и уведомление воркера,
// поэтому ответ отправляется только после сохранения.
type IngestUseCase struct {
	outbox        OutboxRepository
	tx            TxManager
	webhookSecret string
	logger        logger.Logger
}

func NewIngestUC(outbox OutboxRepository, tx TxManager, webhookSecret string, logger logger.Logger) *IngestUseCase {
	return &IngestUseCase{
		outbox:        outbox,
		tx:            tx,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// Accept проверяет подпись, извлекает идентификатор тикета и ставит его в очередь.
func (i *IngestUseCase) Accept(ctx context.Context, req *AcceptEventReq) (*AcceptEventRes, error) {
	const op = "IngestUseCase.Accept"

	if i.webhookSecret != "" && !VerifyWebhookSignature(req.Body, req.Timestamp, req.Signature, i.webhookSecret) {
		return nil, e.Wrap(op, e.ErrInvalidSignature)
	}

	ticketID, err := ParseTicketID(req.Body)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return i.Enqueue(ctx, ticketID, EnqueueSourceWebhook, req.CorrelationID)
}

// Enqueue записывает событие обработки тикета в outbox.
func (i *IngestUseCase) Enqueue(ctx context.Context, ticketID int64, source, correlationID string) (*AcceptEventRes, error) {
	const op = "IngestUseCase.Enqueue"

	if ticketID <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidID)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ev := domain.NewTicketEvent(ticketID, correlationID, source)
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	err = i.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := i.outbox.Create(ctx, newOutboxEvent(ev, payload, domain.OutboxStatusPending, time.Now().UTC(), nil))
		return err
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	i.logger.Infof("ticket %d queued: source=%s correlation_id=%s event_id=%s", ticketID, source, correlationID, ev.EventID)
	return &AcceptEventRes{TicketID: ticketID, CorrelationID: correlationID, Queued: true}, nil
}

// VerifyWebhookSignature проверяет base64(HMAC-SHA256(timestamp + body)).
func VerifyWebhookSignature(body []byte, timestamp, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
