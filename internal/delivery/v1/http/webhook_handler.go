package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	SignatureHeader = "X-Zendesk-Webhook-Signature"
	TimestampHeader = "X-Zendesk-Webhook-Timestamp"

	maxWebhookBody = 1 << 20
)

type WebhookHandler struct {
	ingest     usecase.IngestUC
	ackTimeout time.Duration
	logger     logger.Logger
}

func NewWebhookHandler(ingest usecase.IngestUC, ackTimeout time.Duration, logger logger.Logger) *WebhookHandler {
	return &WebhookHandler{ingest: ingest, ackTimeout: ackTimeout, logger: logger}
}

// ticketEvent принимает событие тикета и ставит его в очередь на обработку.
//
//	@Summary	Вебхук тикет-системы
//	@Tags		webhooks
//	@Accept		json
//	@Produce	json
//	@Param		X-Zendesk-Webhook-Signature	header		string	false	"base64(HMAC-SHA256(timestamp+body))"
//	@Param		X-Zendesk-Webhook-Timestamp	header		string	false	"Метка времени подписи"
//	@Success	202							{object}	WebhookResponse
//	@Failure	400							{object}	ErrorResponse
//	@Failure	401							{object}	ErrorResponse
//	@Router		/webhooks/tickets [post]
func (h *WebhookHandler) ticketEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		WriteError(w, e.Wrap("webhook body", e.ErrStatusBadRequest))
		return
	}

	ctx := r.Context()
	if h.ackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.ackTimeout)
		defer cancel()
	}

	res, err := h.ingest.Accept(ctx, &usecase.AcceptEventReq{
		Body:          body,
		Signature:     r.Header.Get(SignatureHeader),
		Timestamp:     r.Header.Get(TimestampHeader),
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		h.logger.Warnf("webhook rejected: %v", err)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusAccepted, toWebhookResponse(res))
}
