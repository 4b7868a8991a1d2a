package http

import (
	"context"
	"net/http"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
)

const defaultVersionsLimit = 20

type IndexHandler struct {
	catalog    usecase.CatalogUC
	index      usecase.IndexUC
	jobTimeout time.Duration
	logger     logger.Logger
}

func NewIndexHandler(catalog usecase.CatalogUC, index usecase.IndexUC, jobTimeout time.Duration, logger logger.Logger) *IndexHandler {
	return &IndexHandler{catalog: catalog, index: index, jobTimeout: jobTimeout, logger: logger}
}

// jobContext отвязывает синхронизацию и сборку от соединения клиента:
// обрыв запроса их не прерывает, ограничивает только jobTimeout.
func (h *IndexHandler) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if h.jobTimeout > 0 {
		return context.WithTimeout(ctx, h.jobTimeout)
	}
	return context.WithCancel(ctx)
}

// syncCatalog
//
//	@Summary	Синхронизация каталога
//	@Tags		catalog
//	@Produce	json
//	@Success	200	{object}	SyncResponse
//	@Failure	502	{object}	ErrorResponse	"Источник каталога недоступен"
//	@Router		/catalog/sync [post]
func (h *IndexHandler) syncCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.jobContext(r)
	defer cancel()

	report, err := h.catalog.Sync(ctx)
	if err != nil {
		h.logger.Errorf(err, "catalog sync failed")
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toSyncResponse(report))
}

// build
//
//	@Summary		Сборка индекса
//	@Description	Собирает индекс из эмбеддингов каталога и активирует новую версию
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	BuildResponse
//	@Failure		409	{object}	ErrorResponse	"Сборку вытеснил более новый запрос"
//	@Router			/index/build [post]
func (h *IndexHandler) build(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.jobContext(r)
	defer cancel()

	report, err := h.index.Build(ctx)
	if err != nil {
		h.logger.Errorf(err, "index build failed")
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toBuildResponse(report))
}

// listVersions
//
//	@Summary	Версии индекса
//	@Tags		index
//	@Produce	json
//	@Param		limit	query		int	false	"Сколько последних версий вернуть"
//	@Success	200		{array}		IndexVersionResponse
//	@Router		/index/versions [get]
func (h *IndexHandler) listVersions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultVersionsLimit)
	if err != nil {
		WriteError(w, err)
		return
	}

	versions, err := h.index.ListVersions(r.Context(), limit)
	if err != nil {
		h.logger.Errorf(err, "list index versions failed")
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toArrIndexVersionResponse(versions))
}

// activate откатывает или переключает активную версию индекса.
//
//	@Summary	Активация версии индекса
//	@Tags		index
//	@Produce	json
//	@Param		id	path		int	true	"ID версии"
//	@Success	200	{object}	IndexVersionResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/index/versions/{id}/activate [post]
func (h *IndexHandler) activate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}

	version, err := h.index.Activate(r.Context(), id)
	if err != nil {
		h.logger.Warnf("activate index version %d failed: %v", id, err)
		WriteError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, toIndexVersionResponse(version))
}
