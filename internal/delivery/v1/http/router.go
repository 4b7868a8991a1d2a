package http

import (
	"net/http"
	"time"

	_ "github.com/DRSN-tech/product-matcher/docs" // Импорт сгенерированных файлов
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

// Deps - юзкейсы и служебные обработчики, которые обслуживает HTTP API.
type Deps struct {
	Catalog    usecase.CatalogUC
	Index      usecase.IndexUC
	Matcher    usecase.MatcherUC
	Ingest     usecase.IngestUC
	Review     usecase.ReviewUC
	Metrics    http.Handler
	TopK       int
	AckTimeout time.Duration
	JobTimeout time.Duration // Предел для синхронизации и сборки, запущенных по HTTP
}

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(deps *Deps) {
	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.RealIP)
	r.router.Use(middleware.Recoverer)

	r.router.Get("/ping", ping)
	r.router.Get("/health", health(deps.Matcher))
	if deps.Metrics != nil {
		r.router.Handle("/metrics", deps.Metrics)
	}

	r.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.router.Route("/api/v1", func(v1 chi.Router) {
		registerIndexRoutes(v1, NewIndexHandler(deps.Catalog, deps.Index, deps.JobTimeout, r.logger))
		registerMatchRoutes(v1, NewMatchHandler(deps.Matcher, deps.TopK, r.logger))
		registerWebhookRoutes(v1, NewWebhookHandler(deps.Ingest, deps.AckTimeout, r.logger))
		registerReviewRoutes(v1, NewReviewHandler(deps.Review, r.logger))
	})
}

func registerIndexRoutes(router chi.Router, h *IndexHandler) {
	router.Post("/catalog/sync", h.syncCatalog)
	router.Route("/index", func(ir chi.Router) {
		ir.Post("/build", h.build)
		ir.Get("/versions", h.listVersions)
		ir.Post("/versions/{id}/activate", h.activate)
	})
}

func registerMatchRoutes(router chi.Router, h *MatchHandler) {
	router.Post("/match", h.match)
}

func registerWebhookRoutes(router chi.Router, h *WebhookHandler) {
	router.Post("/webhooks/tickets", h.ticketEvent)
}

func registerReviewRoutes(router chi.Router, h *ReviewHandler) {
	router.Route("/predictions", func(pr chi.Router) {
		pr.Get("/unreviewed", h.listUnreviewed)
		pr.Post("/{id}/review", h.reviewPrediction)
	})
	router.Post("/ticket-images/{attachment_id}/label", h.labelAttachment)
	router.Get("/tickets/{ticket_id}/predictions", h.byTicket)
	router.Get("/attachments/{attachment_id}/prediction", h.byAttachment)
}

// ping
//
//	@Summary	Проверка доступности
//	@Tags		health
//	@Success	200	{string}	string	"pong"
//	@Router		/ping [get]
func ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

// health отдаёт состояние индекса. Пока индекс не загружен, ответ 503.
//
//	@Summary	Состояние матчера
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	domain.Health
//	@Failure	503	{object}	domain.Health
//	@Router		/health [get]
func health(matcher usecase.MatcherUC) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := matcher.Health()
		status := http.StatusOK
		if !h.Ready {
			status = http.StatusServiceUnavailable
		}
		WriteSuccess(w, status, h)
	}
}
