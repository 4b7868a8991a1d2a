package http

import (
	"net/http"

	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
)

const (
	maxMatchRequestSize = 25 << 20
	maxMatchImageSize   = 20 << 20
	matchFormMemory     = 8 << 20
)

type MatchHandler struct {
	matcher usecase.MatcherUC
	topK    int
	logger  logger.Logger
}

func NewMatchHandler(matcher usecase.MatcherUC, topK int, logger logger.Logger) *MatchHandler {
	return &MatchHandler{matcher: matcher, topK: topK, logger: logger}
}

// match
//
//	@Summary		Поиск товара по изображению
//	@Description	Возвращает до k товаров каталога, наиболее похожих на загруженное изображение
//	@Tags			match
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			image	formData	file	true	"Изображение"
//	@Param			k		query		int		false	"Количество кандидатов"
//	@Success		200		{object}	MatchResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		415		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse	"Изображение не декодируется"
//	@Failure		503		{object}	ErrorResponse	"Индекс не загружен"
//	@Router			/match [post]
func (h *MatchHandler) match(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMatchRequestSize)

	k, err := intQuery(r, "k", h.topK)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := ensureMultipartForm(r, matchFormMemory); err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		WriteError(w, e.ErrNoImages)
		return
	}

	data, _, err := readImage(files[0], maxMatchImageSize)
	if err != nil {
		h.logger.Warnf("match: rejected upload %s: %v", files[0].Filename, err)
		WriteError(w, err)
		return
	}

	res, err := h.matcher.Query(r.Context(), data, k)
	if err != nil {
		if code, _ := ToHTTPResponse(err); code >= http.StatusInternalServerError {
			h.logger.Errorf(err, "match query failed")
		}
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toMatchResponse(res))
}
