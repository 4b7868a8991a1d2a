package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	config "github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/catalog"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/encoder"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/httpfetch"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/imagecodec"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/kafka"
	minioInfra "github.com/DRSN-tech/product-matcher/internal/infrastructure/minio"
	ml_service "github.com/DRSN-tech/product-matcher/internal/infrastructure/ml-service"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/ticketing"
	"github.com/DRSN-tech/product-matcher/internal/metrics"
	s3Repo "github.com/DRSN-tech/product-matcher/internal/repository/minio"
	"github.com/DRSN-tech/product-matcher/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/product-matcher/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/product-matcher/internal/repository/qdrant"
	"github.com/DRSN-tech/product-matcher/internal/repository/redis"
	redisConv "github.com/DRSN-tech/product-matcher/internal/repository/redis/converter"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/clients"
	"github.com/DRSN-tech/product-matcher/pkg/closer"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/DRSN-tech/product-matcher/pkg/postgres"
	"github.com/DRSN-tech/product-matcher/pkg/tr"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// CLISource - источник событий, поставленных вручную из командной строки.
const CLISource = "cli"

// App собирает зависимости сервиса. Ресурсы закрываются через Close в обратном порядке.
type App struct {
	cfg     *config.Config
	logger  logger.Logger
	closer  *closer.Closer
	metrics *metrics.Metrics

	db          *postgres.PgDatabase
	staging     *minioInfra.MinioInfrastructure
	stopStaging context.CancelFunc

	outboxRepo *pgdb.OutboxEventRepo
	producer   *kafka.Producer

	matcher *usecase.Matcher
	catalog *usecase.CatalogUseCase
	index   *usecase.IndexUseCase
	ingest  *usecase.IngestUseCase
	review  *usecase.ReviewUseCase

	// worker == nil, если у тикет-системы не хватает учётных данных
	worker       *usecase.IngestionWorker
	ticketingErr error
}

// NewApp подключается к хранилищам и собирает юзкейсы.
// При ошибке уже открытые ресурсы закрываются.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *App, err error) {
	a := &App{
		cfg:     cfg,
		logger:  log,
		closer:  closer.NewCloser(5 * time.Second),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	defer func() {
		if err != nil {
			if cerr := a.closer.Close(context.Background()); cerr != nil {
				log.Warnf("cleanup after failed start: %v", cerr)
			}
		}
	}()

	if err := a.initPGDB(ctx); err != nil {
		return nil, err
	}
	txManager := tr.NewManager(a.db.Pool)

	productRepo := pgdb.NewProductRepo(a.db.Pool, pgdbConv.ProductConverterImpl{})
	productImageRepo := pgdb.NewProductImageRepo(a.db.Pool, pgdbConv.ProductImageConverterImpl{})
	indexVersionRepo := pgdb.NewIndexVersionRepo(a.db.Pool, pgdbConv.IndexVersionConverterImpl{})
	ticketImageRepo := pgdb.NewTicketImageRepo(a.db.Pool, pgdbConv.TicketImageConverterImpl{})
	predictionRepo := pgdb.NewPredictionRepo(a.db.Pool, pgdbConv.PredictionConverterImpl{})
	a.outboxRepo = pgdb.NewOutboxEventRepo(a.db.Pool, pgdbConv.OutboxEventConverterImpl{})

	minioClient, err := clients.NewMinIOClient(cfg.Minio)
	if err != nil {
		log.Errorf(err, "failed to initialize minio client")
		return nil, err
	}
	minioCtx, minioCancel := context.WithTimeout(ctx, 10*time.Second)
	err = clients.EnsureBucket(minioCtx, minioClient, cfg.Minio.BucketName)
	minioCancel()
	if err != nil {
		log.Errorf(err, "failed to initialize MinIO bucket")
		return nil, err
	}
	objectRepo := s3Repo.NewObjectRepo(minioClient, cfg.Minio)

	stagingCtx, stopStaging := context.WithCancel(context.Background())
	a.stopStaging = stopStaging
	a.staging = minioInfra.NewMinioInfrastructure(objectRepo, cfg.Minio.BucketName, cfg.Minio.UploadImagesLimit, log, stagingCtx)
	a.closer.Add("minio staging cleanup", func(ctx context.Context) error {
		a.stopStaging()
		return a.staging.WaitForCleanup(ctx)
	})

	qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		log.Errorf(err, "failed to initialize qdrant")
		return nil, err
	}
	a.closer.AddErr("qdrant", qdrantClient.Close)
	qdrantCtx, qdrantCancel := context.WithTimeout(ctx, 10*time.Second)
	err = clients.EnsureCollection(qdrantCtx, qdrantClient)
	qdrantCancel()
	if err != nil {
		log.Errorf(err, "failed to initialize qdrant collection")
		return nil, err
	}
	embeddingRepo := qdrantRepo.NewEmbeddingRepo(qdrantClient.Client, cfg.Qdrant)

	redisClient := clients.NewRedisClient(cfg.Redis)
	a.closer.AddErr("redis", redisClient.Close)
	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(redisCtx)
	redisCancel()
	if err != nil {
		log.Errorf(err, "failed to connect to redis")
		return nil, err
	}
	matchCache := redis.NewMatchCacheRepo(redisClient, redisConv.MatchResultConverterImpl{}, cfg.Redis, log)
	locks := redis.NewLockRepo(redisClient)

	codec := imagecodec.New()
	enc, err := a.newEncoder(codec)
	if err != nil {
		return nil, err
	}

	a.producer = kafka.NewProducer(log, cfg.Kafka)
	a.closer.AddErr("kafka producer", a.producer.Close)

	a.matcher = usecase.NewMatcher(enc, codec, indexVersionRepo, objectRepo, matchCache, a.metrics, log, usecase.MatcherOptions{
		TopK:          cfg.Matcher.TopK,
		ScoreFloor:    cfg.Matcher.ScoreFloor,
		HNSWThreshold: cfg.Matcher.HNSWThreshold,
		LoadTimeout:   cfg.Matcher.LoadTimeout,
		QueryTimeout:  cfg.Matcher.QueryTimeout,
	})

	source, err := a.newCatalogSource()
	if err != nil {
		return nil, err
	}
	imageFetcher := httpfetch.New(
		&http.Client{Timeout: cfg.Catalog.ImageTimeout},
		"catalog-images",
		httpfetch.WithMaxRetries(cfg.Catalog.MaxRetries),
	)

	a.catalog = usecase.NewCatalogUC(
		source,
		productRepo,
		productImageRepo,
		objectRepo,
		a.staging,
		imageFetcher,
		codec,
		txManager,
		a.metrics,
		log,
		usecase.CatalogOptions{
			Bucket:              cfg.Minio.BucketName,
			ImageConcurrency:    cfg.Minio.UploadImagesLimit,
			ImageTimeout:        cfg.Catalog.ImageTimeout,
			MaxImagesPerProduct: cfg.Catalog.MaxImagesPerProduct,
		},
	)

	a.index = usecase.NewIndexUC(
		productRepo,
		productImageRepo,
		embeddingRepo,
		indexVersionRepo,
		objectRepo,
		imageFetcher,
		codec,
		enc,
		a.matcher,
		txManager,
		a.metrics,
		log,
		usecase.IndexOptions{
			Concurrency:   cfg.Ml.MaxConcurrent,
			FetchTimeout:  cfg.Catalog.ImageTimeout,
			Bucket:        cfg.Minio.BucketName,
			HNSWThreshold: cfg.Matcher.HNSWThreshold,
		},
	)

	a.ingest = usecase.NewIngestUC(a.outboxRepo, txManager, cfg.Ticketing.WebhookSecret, log)
	a.review = usecase.NewReviewUC(predictionRepo, ticketImageRepo, txManager, log)

	tickets, err := a.newTicketing()
	if err != nil {
		a.ticketingErr = err
		log.Warnf("ingestion worker disabled: %v", err)
	} else {
		a.worker = usecase.NewIngestionWorker(
			tickets,
			a.matcher,
			ticketImageRepo,
			predictionRepo,
			a.outboxRepo,
			locks,
			a.staging,
			txManager,
			a.metrics,
			log,
			usecase.WorkerOptions{
				TopK:                cfg.Matcher.TopK,
				Concurrency:         cfg.Worker.Concurrency,
				MaxAttempts:         cfg.Worker.MaxAttempts,
				RetryBase:           cfg.Worker.RetryBase,
				RetryMax:            cfg.Worker.RetryMax,
				LockTTL:             cfg.Worker.LockTTL,
				DownloadTimeout:     cfg.Worker.DownloadTimeout,
				ProcessingTimeout:   cfg.Worker.ProcessingTimeout,
				WriteBackEnabled:    cfg.Ticketing.WriteBackEnabled,
				WriteBackConfidence: cfg.Ticketing.WriteBackConfidence,
				Bucket:              cfg.Minio.BucketName,
			},
		)
	}

	return a, nil
}

// Close освобождает ресурсы в обратном порядке регистрации.
func (a *App) Close(ctx context.Context) error {
	return a.closer.Close(ctx)
}

// Migrate применяет миграции и завершает работу.
func Migrate(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	db, err := postgres.Connect(ctx, cfg.Db)
	if err != nil {
		log.Errorf(err, "failed to connect to database")
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer db.Close()

	if err := db.RunMigrations(log); err != nil {
		log.Errorf(err, "failed to run migrations")
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}

// Sync синхронизирует каталог один раз.
func (a *App) Sync(ctx context.Context) (*domain.SyncReport, error) {
	return a.catalog.Sync(ctx)
}

// Reindex собирает и публикует новую версию индекса.
func (a *App) Reindex(ctx context.Context) (*domain.BuildReport, error) {
	return a.index.Build(ctx)
}

// Enqueue ставит тикет в outbox так же, как вебхук, без проверки подписи.
func (a *App) Enqueue(ctx context.Context, ticketID int64) (*usecase.AcceptEventRes, error) {
	return a.ingest.Enqueue(ctx, ticketID, CLISource, uuid.NewString())
}

func (a *App) initPGDB(ctx context.Context) error {
	db, err := postgres.Connect(ctx, a.cfg.Db)
	if err != nil {
		a.logger.Errorf(err, "failed to connect to database")
		return e.Wrap(whereami.WhereAmI(), err)
	}
	a.db = db
	a.closer.AddSimple("postgres", db.Close)

	if err := db.RunMigrations(a.logger); err != nil {
		a.logger.Errorf(err, "failed to run migrations")
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(ctx); err != nil {
		a.logger.Errorf(err, "failed to ping database")
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// newEncoder выбирает энкодер по ENCODER_BACKEND и оборачивает его LRU-кэшем.
func (a *App) newEncoder(codec usecase.ImageCodec) (usecase.EncoderInfra, error) {
	var enc usecase.EncoderInfra

	switch a.cfg.Ml.Backend {
	case "remote":
		conn, err := grpc.NewClient(
			a.cfg.Ml.Addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()), // явное указание gRPC-клиенту использовать НЕзащищённое соединение (без TLS).
		)
		if err != nil {
			a.logger.Errorf(err, "failed to initialize grpc client")
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		a.closer.AddErr("ml-service connection", conn.Close)
		enc = ml_service.NewMLService(conn, a.cfg.Ml.ModelVersion, a.cfg.Ml.MaxConcurrent, a.cfg.Ml.MaxRetries, a.cfg.Ml.Timeout, a.logger)
	default:
		enc = encoder.NewLocal(codec)
	}

	if a.cfg.Ml.CacheSize <= 0 {
		return enc, nil
	}
	cached, err := encoder.NewCached(enc, a.cfg.Ml.CacheSize)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return cached, nil
}

// newCatalogSource: Storefront API, при его отказе sitemap магазина.
func (a *App) newCatalogSource() (usecase.CatalogSource, error) {
	c := a.cfg.Catalog
	if c.StoreDomain == "" {
		return nil, &e.ConfigurationError{Component: "catalog", Missing: []string{"SHOPIFY_STORE_DOMAIN"}}
	}
	baseURL := "https://" + c.StoreDomain

	api := httpfetch.New(&http.Client{Timeout: c.Timeout}, "storefront", httpfetch.WithMaxRetries(c.MaxRetries))
	sitemapFetcher := httpfetch.New(&http.Client{Timeout: c.Timeout}, "sitemap", httpfetch.WithMaxRetries(c.MaxRetries))

	return catalog.NewFallback(a.logger,
		catalog.NewStorefront(api, baseURL, c.StorefrontAPIVersion, c.StorefrontToken, c.RequestsPerSecond, c.MaxImagesPerProduct, a.logger),
		catalog.NewSitemap(sitemapFetcher, baseURL, a.logger),
	), nil
}

func (a *App) newTicketing() (usecase.TicketingInfra, error) {
	t := a.cfg.Ticketing
	if err := t.Validate(); err != nil {
		return nil, err
	}

	api := httpfetch.New(&http.Client{Timeout: t.Timeout}, "ticketing", httpfetch.WithMaxRetries(t.MaxRetries))
	downloads := httpfetch.New(
		&http.Client{Timeout: a.cfg.Worker.DownloadTimeout},
		"attachments",
		httpfetch.WithMaxRetries(a.cfg.Worker.DownloadRetries),
	)

	return ticketing.NewZendesk(ticketing.Config{
		Subdomain: t.Subdomain,
		Email:     t.Email,
		APIToken:  t.APIToken,
	}, api, downloads, a.logger)
}

func (a *App) ensureTopic(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := clients.EnsureTopic(ctx, a.cfg.Kafka); err != nil {
		// Топик уже существует или создаётся внешними средствами
		a.logger.Warnf("kafka topic %s not created: %v", a.cfg.Kafka.Topic, err)
	}
}

func isNoArtifact(err error) bool {
	return errors.Is(err, e.ErrNoArtifact)
}
