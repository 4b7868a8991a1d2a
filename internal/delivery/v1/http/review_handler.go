package http

import (
	"net/http"

	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
)

const defaultUnreviewedLimit = 50

type ReviewHandler struct {
	review usecase.ReviewUC
	logger logger.Logger
}

func NewReviewHandler(review usecase.ReviewUC, logger logger.Logger) *ReviewHandler {
	return &ReviewHandler{review: review, logger: logger}
}

// reviewPrediction
//
//	@Summary	Ревью предсказания
//	@Tags		predictions
//	@Accept		json
//	@Produce	json
//	@Param		id		path		int				true	"ID предсказания"
//	@Param		body	body		ReviewRequest	true	"Решение оператора"
//	@Success	200		{object}	PredictionResponse
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/predictions/{id}/review [post]
func (h *ReviewHandler) reviewPrediction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}

	var req ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Accepted == nil {
		WriteError(w, e.Wrap("accepted", e.ErrMissingFields))
		return
	}

	p, err := h.review.Review(r.Context(), &usecase.ReviewReq{
		PredictionID:        id,
		Accepted:            *req.Accepted,
		OverriddenProductID: req.OverriddenProductID,
	})
	if err != nil {
		h.logger.Warnf("review prediction %d failed: %v", id, err)
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toPredictionResponse(p))
}

// labelAttachment
//
//	@Summary	Эталонная разметка вложения
//	@Tags		predictions
//	@Accept		json
//	@Produce	json
//	@Param		attachment_id	path		int				true	"ID вложения"
//	@Param		body			body		LabelRequest	true	"Эталонный товар"
//	@Success	200				{object}	TicketImageResponse
//	@Failure	404				{object}	ErrorResponse
//	@Router		/ticket-images/{attachment_id}/label [post]
func (h *ReviewHandler) labelAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "attachment_id")
	if err != nil {
		WriteError(w, err)
		return
	}

	var req LabelRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	img, err := h.review.Label(r.Context(), &usecase.LabelReq{
		AttachmentID: id,
		ProductID:    req.ProductID,
		ProductURL:   req.ProductURL,
		LabelSource:  req.LabelSource,
	})
	if err != nil {
		h.logger.Warnf("label attachment %d failed: %v", id, err)
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toTicketImageResponse(img))
}

// listUnreviewed
//
//	@Summary	Предсказания без ревью
//	@Tags		predictions
//	@Produce	json
//	@Param		limit	query	int	false	"Лимит"
//	@Success	200		{array}	PredictionResponse
//	@Router		/predictions/unreviewed [get]
func (h *ReviewHandler) listUnreviewed(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultUnreviewedLimit)
	if err != nil {
		WriteError(w, err)
		return
	}

	preds, err := h.review.ListUnreviewed(r.Context(), limit)
	if err != nil {
		h.logger.Errorf(err, "list unreviewed predictions failed")
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toArrPredictionResponse(preds))
}

// byTicket
//
//	@Summary	Предсказания по тикету
//	@Tags		predictions
//	@Produce	json
//	@Param		ticket_id	path	int	true	"ID тикета"
//	@Success	200			{array}	PredictionResponse
//	@Router		/tickets/{ticket_id}/predictions [get]
func (h *ReviewHandler) byTicket(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "ticket_id")
	if err != nil {
		WriteError(w, err)
		return
	}

	preds, err := h.review.PredictionsByTicket(r.Context(), id)
	if err != nil {
		h.logger.Errorf(err, "predictions for ticket %d failed", id)
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toArrPredictionResponse(preds))
}

// byAttachment
//
//	@Summary	Предсказание по вложению
//	@Tags		predictions
//	@Produce	json
//	@Param		attachment_id	path		int	true	"ID вложения"
//	@Success	200				{object}	PredictionResponse
//	@Failure	404				{object}	ErrorResponse
//	@Router		/attachments/{attachment_id}/prediction [get]
func (h *ReviewHandler) byAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "attachment_id")
	if err != nil {
		WriteError(w, err)
		return
	}

	p, err := h.review.PredictionByAttachment(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toPredictionResponse(p))
}
