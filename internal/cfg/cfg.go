package cfg

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/jimlawless/whereami"
)

type Config struct {
	Minio     *MinIOCfg
	Http      *HTTPConfig
	Grpc      *GRPCConfig
	Db        *PGDBCfg
	Qdrant    *QdrantCfg
	Redis     *RedisCfg
	Ml        *MLServiceCfg
	Kafka     *KafkaCfg
	Catalog   *CatalogCfg
	Ticketing *TicketingCfg
	Matcher   *MatcherCfg
	Worker    *WorkerCfg
}

type KafkaCfg struct {
	Topic             string
	GroupID           string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type MinIOCfg struct {
	MinioEndpoint     string // Адрес конечной точки MinIO
	BucketName        string // Бакет для артефактов индекса, снапшотов каталога и временных копий вложений
	MinioRootUser     string
	MinioRootPassword string
	MinioUseSSL       bool
	UploadImagesLimit int // Лимит параллельных загрузок в S3
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	AckTimeout   time.Duration // Верхняя граница на ответ вебхуку
	JobTimeout   time.Duration // Синхронизация и сборка, запущенные по HTTP
}

type GRPCConfig struct {
	Port        string
	NetworkMode string
}

type PGDBCfg struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

// DSN возвращает строку подключения в формате key=value.
func (c *PGDBCfg) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type QdrantCfg struct {
	Port                 int
	Host                 string
	ApiKey               string
	QdrantCollectionName string // коллекция эмбеддингов изображений каталога
	UseTLS               bool
	VectorSize           uint64
}

type RedisCfg struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	MatchTTL    time.Duration // TTL кэша ad-hoc сопоставлений
}

// MLServiceCfg описывает энкодер изображений.
type MLServiceCfg struct {
	Backend       string // local | remote
	Addr          string
	ModelVersion  string
	MaxConcurrent int
	MaxRetries    int
	Timeout       time.Duration
	CacheSize     int
}

type CatalogCfg struct {
	StoreDomain          string
	StorefrontToken      string
	StorefrontAPIVersion string
	RequestsPerSecond    float64
	Timeout              time.Duration
	ImageTimeout         time.Duration
	MaxRetries           int
	MaxImagesPerProduct  int
}

type TicketingCfg struct {
	Subdomain           string
	Email               string
	APIToken            string
	WebhookSecret       string
	WriteBackEnabled    bool
	WriteBackConfidence float64
	Timeout             time.Duration
	MaxRetries          int
}

// Configured сообщает, заданы ли все учётные данные тикет-системы.
func (t *TicketingCfg) Configured() bool {
	return t.Subdomain != "" && t.Email != "" && t.APIToken != ""
}

// Validate возвращает ConfigurationError, если не хватает учётных данных.
func (t *TicketingCfg) Validate() error {
	var missing []string
	if t.Subdomain == "" {
		missing = append(missing, "ZENDESK_SUBDOMAIN")
	}
	if t.Email == "" {
		missing = append(missing, "ZENDESK_EMAIL")
	}
	if t.APIToken == "" {
		missing = append(missing, "ZENDESK_API_TOKEN")
	}
	if len(missing) > 0 {
		return &e.ConfigurationError{Component: "ticketing", Missing: missing}
	}
	return nil
}

type MatcherCfg struct {
	TopK           int
	ScoreFloor     float64
	HNSWThreshold  int
	ReloadInterval time.Duration
	LoadTimeout    time.Duration
	QueryTimeout   time.Duration
}

type WorkerCfg struct {
	Concurrency       int // Вложений одного тикета параллельно
	EventConcurrency  int // Событий разных тикетов параллельно
	MaxAttempts       int
	RetryBase         time.Duration
	RetryMax          time.Duration
	OutboxBatchSize   int
	OutboxSweep       time.Duration
	StaleAfter        time.Duration
	LockTTL           time.Duration
	DownloadTimeout   time.Duration
	DownloadRetries   int
	ProcessingTimeout time.Duration
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ml, err := loadMLServiceCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	catalog, err := loadCatalogCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ticketing, err := loadTicketingCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	matcher, err := loadMatcherCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	worker, err := loadWorkerCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if ml.Backend == "local" {
		qdrant.VectorSize = uint64(localVectorSize)
	}

	return &Config{
		Minio:     minio,
		Http:      http,
		Grpc:      loadGRPCConfig(),
		Db:        db,
		Qdrant:    qdrant,
		Redis:     redis,
		Ml:        ml,
		Kafka:     kafka,
		Catalog:   catalog,
		Ticketing: ticketing,
		Matcher:   matcher,
		Worker:    worker,
	}, nil
}

// localVectorSize - размерность локального энкодера (16x16 RGB).
const localVectorSize = 16 * 16 * 3

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
		defaultTopic             = "ticket-events"
		defaultGroupID           = "product-matcher-ingestion"
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, &e.ConfigurationError{Component: "kafka", Missing: []string{"KAFKA_BROKERS"}}
	}
	brokers := splitAndTrim(brokerStr)

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("KAFKA_REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("KAFKA_REPLICATION_FACTOR", err)
	}

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             getEnvOrDefault("KAFKA_TOPIC", defaultTopic),
		GroupID:           getEnvOrDefault("KAFKA_GROUP_ID", defaultGroupID),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode),
	}, nil
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	const (
		defaultUseSSL       = false
		defaultEndpoint     = "minio:9000"
		defaultBucket       = "product-matcher"
		defaultUploadsLimit = 8
	)

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", strconv.FormatBool(defaultUseSSL)))
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	uploadsLimit, err := parseIntEnv("MINIO_UPLOAD_LIMIT", defaultUploadsLimit)
	if err != nil {
		return nil, e.Wrap("MINIO_UPLOAD_LIMIT", err)
	}

	user := getEnv("MINIO_ROOT_USER")
	password := getEnv("MINIO_ROOT_PASSWORD")
	if user == "" || password == "" {
		return nil, &e.ConfigurationError{Component: "minio", Missing: missingOf(map[string]string{
			"MINIO_ROOT_USER":     user,
			"MINIO_ROOT_PASSWORD": password,
		})}
	}

	return &MinIOCfg{
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", defaultEndpoint),
		BucketName:        getEnvOrDefault("BUCKET_NAME", defaultBucket),
		MinioRootUser:     user,
		MinioRootPassword: password,
		MinioUseSSL:       useSSL,
		UploadImagesLimit: uploadsLimit,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8080"
		defaultReadTimeout  = 5 * time.Second
		defaultWriteTimeout = 30 * time.Second
		defaultIdleTimeout  = 60 * time.Second
		defaultAckTimeout   = time.Second
		defaultJobTimeout   = 30 * time.Minute
	)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	ackTimeout, err := parseDurationEnv("WEBHOOK_ACK_TIMEOUT", defaultAckTimeout)
	if err != nil {
		log.Errorf(err, "invalid WEBHOOK_ACK_TIMEOUT")
		return nil, err
	}

	jobTimeout, err := parseDurationEnv("HTTP_JOB_TIMEOUT", defaultJobTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_JOB_TIMEOUT")
		return nil, err
	}

	return &HTTPConfig{
		Port:         getEnvOrDefault("HTTP_PORT", defaultPort),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		AckTimeout:   ackTimeout,
		JobTimeout:   jobTimeout,
	}, nil
}

func loadGRPCConfig() *GRPCConfig {
	const (
		defaultPort        = "8091"
		defaultNetworkMode = "tcp"
	)

	return &GRPCConfig{
		Port:        getEnvOrDefault("GRPC_PORT", defaultPort),
		NetworkMode: getEnvOrDefault("GRPC_NETWORK_MODE", defaultNetworkMode),
	}
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost       = "localhost"
		defaultPort       = "5432"
		defaultSSLMode    = "disable"
		defaultMigrations = "file://db/migrations"
	)

	user := getEnv("POSTGRES_USER")
	password := getEnv("POSTGRES_PASSWORD")
	dbName := getEnv("POSTGRES_DB")

	missing := missingOf(map[string]string{
		"POSTGRES_USER":     user,
		"POSTGRES_PASSWORD": password,
		"POSTGRES_DB":       dbName,
	})
	if len(missing) > 0 {
		err := &e.ConfigurationError{Component: "postgres", Missing: missing}
		log.Errorf(err, "missing postgres settings")
		return nil, err
	}

	return &PGDBCfg{
		Host:           getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:           getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:           user,
		Password:       password,
		DBName:         dbName,
		SSLMode:        getEnvOrDefault("SSL_MODE", defaultSSLMode),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrations),
	}, nil
}

func loadQdrantCfg(logger logger.Logger) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = 6334
		defaultHost           = "qdrant"
		defaultCollection     = "catalog_images"
		defaultVectorSize     = "512"
	)

	port, err := parseIntEnv("QDRANT_GRPC_PORT", defaultQdrantGRPCPort)
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_GRPC_PORT")
		return nil, err
	}

	useTLS, err := parseBoolEnv("QDRANT_USE_TLS", false)
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	vectorSize, err := strconv.ParseUint(getEnvOrDefault("VECTOR_SIZE", defaultVectorSize), 10, 64)
	if err != nil {
		logger.Errorf(err, "invalid VECTOR_SIZE")
		return nil, err
	}

	return &QdrantCfg{
		Host:                 getEnvOrDefault("QDRANT_HOST", defaultHost),
		Port:                 port,
		ApiKey:               getEnv("QDRANT__SERVICE__API_KEY"),
		QdrantCollectionName: getEnvOrDefault("COLLECTION_NAME", defaultCollection),
		UseTLS:               useTLS,
		VectorSize:           vectorSize,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr         = "localhost:6379"
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
		defaultMatchTTL     = 10 * time.Minute
	)

	db, err := parseIntEnv("REDIS_DB_ID", defaultDB)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := parseIntEnv("REDIS_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid REDIS_MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("REDIS_DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("REDIS_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid REDIS_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("REDIS_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid REDIS_WRITE_TIMEOUT")
		return nil, err
	}

	matchTTL, err := parseDurationEnv("MATCH_CACHE_TTL", defaultMatchTTL)
	if err != nil {
		log.Errorf(err, "invalid MATCH_CACHE_TTL")
		return nil, err
	}

	return &RedisCfg{
		Addr:        getEnvOrDefault("REDIS_ADDR", defaultAddr),
		Password:    getEnv("REDIS_PASSWORD"),
		User:        getEnv("REDIS_USER"),
		DB:          db,
		MaxRetries:  maxRetries,
		DialTimeout: dialTimeout,
		Timeout:     max(readTimeout, writeTimeout),
		MatchTTL:    matchTTL,
	}, nil
}

func loadMLServiceCfg() (*MLServiceCfg, error) {
	const (
		defaultBackend       = "local"
		defaultHost          = "ml-service"
		defaultPort          = "50051"
		defaultMaxConcurrent = 8
		defaultMaxRetries    = 3
		defaultTimeout       = 20 * time.Second
		defaultCacheSize     = 2048
	)

	backend := strings.ToLower(getEnvOrDefault("ENCODER_BACKEND", defaultBackend))
	if backend != "local" && backend != "remote" {
		return nil, &e.ConfigurationError{Component: "encoder", Reason: "ENCODER_BACKEND must be local or remote, got " + backend}
	}

	modelVersion := getEnv("EMBEDDING_MODEL_VERSION")
	if backend == "remote" && modelVersion == "" {
		return nil, &e.ConfigurationError{Component: "encoder", Missing: []string{"EMBEDDING_MODEL_VERSION"}}
	}

	maxConcurrent, err := parseIntEnv("ML_MAX_CONCURRENT", defaultMaxConcurrent)
	if err != nil {
		return nil, e.Wrap("ML_MAX_CONCURRENT", err)
	}

	maxRetries, err := parseIntEnv("ML_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		return nil, e.Wrap("ML_MAX_RETRIES", err)
	}

	timeout, err := parseDurationEnv("ML_TIMEOUT", defaultTimeout)
	if err != nil {
		return nil, e.Wrap("ML_TIMEOUT", err)
	}

	cacheSize, err := parseIntEnv("EMBEDDING_CACHE_SIZE", defaultCacheSize)
	if err != nil {
		return nil, e.Wrap("EMBEDDING_CACHE_SIZE", err)
	}

	return &MLServiceCfg{
		Backend:       backend,
		Addr:          getEnvOrDefault("ML_HOST", defaultHost) + ":" + getEnvOrDefault("ML_PORT", defaultPort),
		ModelVersion:  modelVersion,
		MaxConcurrent: maxConcurrent,
		MaxRetries:    maxRetries,
		Timeout:       timeout,
		CacheSize:     cacheSize,
	}, nil
}

func loadCatalogCfg() (*CatalogCfg, error) {
	const (
		defaultAPIVersion   = "2024-01"
		defaultRPS          = 2.0
		defaultTimeout      = 30 * time.Second
		defaultImageTimeout = 10 * time.Second
		defaultRetries      = 3
		defaultMaxImages    = 20
	)

	rps, err := parseFloatEnv("CATALOG_REQUESTS_PER_SECOND", defaultRPS)
	if err != nil {
		return nil, e.Wrap("CATALOG_REQUESTS_PER_SECOND", err)
	}

	timeout, err := parseDurationEnv("CATALOG_TIMEOUT", defaultTimeout)
	if err != nil {
		return nil, e.Wrap("CATALOG_TIMEOUT", err)
	}

	imageTimeout, err := parseDurationEnv("CATALOG_IMAGE_TIMEOUT", defaultImageTimeout)
	if err != nil {
		return nil, e.Wrap("CATALOG_IMAGE_TIMEOUT", err)
	}

	retries, err := parseIntEnv("CATALOG_MAX_RETRIES", defaultRetries)
	if err != nil {
		return nil, e.Wrap("CATALOG_MAX_RETRIES", err)
	}

	maxImages, err := parseIntEnv("CATALOG_MAX_IMAGES_PER_PRODUCT", defaultMaxImages)
	if err != nil {
		return nil, e.Wrap("CATALOG_MAX_IMAGES_PER_PRODUCT", err)
	}

	return &CatalogCfg{
		StoreDomain:          getEnv("SHOPIFY_STORE_DOMAIN"),
		StorefrontToken:      getEnv("SHOPIFY_STOREFRONT_TOKEN"),
		StorefrontAPIVersion: getEnvOrDefault("SHOPIFY_API_VERSION", defaultAPIVersion),
		RequestsPerSecond:    rps,
		Timeout:              timeout,
		ImageTimeout:         imageTimeout,
		MaxRetries:           retries,
		MaxImagesPerProduct:  maxImages,
	}, nil
}

func loadTicketingCfg() (*TicketingCfg, error) {
	const (
		defaultConfidence = 0.75
		defaultTimeout    = 15 * time.Second
		defaultRetries    = 3
	)

	writeBack, err := parseBoolEnv("ZENDESK_WRITE_BACK_ENABLED", false)
	if err != nil {
		return nil, e.Wrap("ZENDESK_WRITE_BACK_ENABLED", err)
	}

	confidence, err := parseFloatEnv("ZENDESK_WRITE_BACK_CONFIDENCE", defaultConfidence)
	if err != nil {
		return nil, e.Wrap("ZENDESK_WRITE_BACK_CONFIDENCE", err)
	}

	timeout, err := parseDurationEnv("ZENDESK_TIMEOUT", defaultTimeout)
	if err != nil {
		return nil, e.Wrap("ZENDESK_TIMEOUT", err)
	}

	retries, err := parseIntEnv("ZENDESK_MAX_RETRIES", defaultRetries)
	if err != nil {
		return nil, e.Wrap("ZENDESK_MAX_RETRIES", err)
	}

	return &TicketingCfg{
		Subdomain:           getEnv("ZENDESK_SUBDOMAIN"),
		Email:               getEnv("ZENDESK_EMAIL"),
		APIToken:            getEnv("ZENDESK_API_TOKEN"),
		WebhookSecret:       getEnv("ZENDESK_WEBHOOK_SECRET"),
		WriteBackEnabled:    writeBack,
		WriteBackConfidence: confidence,
		Timeout:             timeout,
		MaxRetries:          retries,
	}, nil
}

func loadMatcherCfg() (*MatcherCfg, error) {
	const (
		defaultTopK           = 5
		defaultScoreFloor     = 0.2
		defaultHNSWThreshold  = 5000
		defaultReloadInterval = 30 * time.Second
		defaultLoadTimeout    = 2 * time.Minute
		defaultQueryTimeout   = 30 * time.Second
	)

	topK, err := parseIntEnv("MATCHER_TOP_K", defaultTopK)
	if err != nil {
		return nil, e.Wrap("MATCHER_TOP_K", err)
	}

	floor, err := parseFloatEnv("MATCHER_SCORE_FLOOR", defaultScoreFloor)
	if err != nil {
		return nil, e.Wrap("MATCHER_SCORE_FLOOR", err)
	}

	threshold, err := parseIntEnv("MATCHER_HNSW_THRESHOLD", defaultHNSWThreshold)
	if err != nil {
		return nil, e.Wrap("MATCHER_HNSW_THRESHOLD", err)
	}

	reload, err := parseDurationEnv("MATCHER_RELOAD_INTERVAL", defaultReloadInterval)
	if err != nil {
		return nil, e.Wrap("MATCHER_RELOAD_INTERVAL", err)
	}

	loadTimeout, err := parseDurationEnv("MATCHER_LOAD_TIMEOUT", defaultLoadTimeout)
	if err != nil {
		return nil, e.Wrap("MATCHER_LOAD_TIMEOUT", err)
	}

	queryTimeout, err := parseDurationEnv("MATCHER_QUERY_TIMEOUT", defaultQueryTimeout)
	if err != nil {
		return nil, e.Wrap("MATCHER_QUERY_TIMEOUT", err)
	}

	return &MatcherCfg{
		TopK:           topK,
		ScoreFloor:     floor,
		HNSWThreshold:  threshold,
		ReloadInterval: reload,
		LoadTimeout:    loadTimeout,
		QueryTimeout:   queryTimeout,
	}, nil
}

func loadWorkerCfg() (*WorkerCfg, error) {
	const (
		defaultConcurrency     = 4
		defaultEventConc       = 8
		defaultMaxAttempts     = 5
		defaultRetryBase       = 30 * time.Second
		defaultRetryMax        = 30 * time.Minute
		defaultBatchSize       = 10
		defaultSweep           = 15 * time.Second
		defaultStaleAfter      = 5 * time.Minute
		defaultLockTTL         = 2 * time.Minute
		defaultDownloadTimeout = 30 * time.Second
		defaultDownloadRetries = 3
		defaultProcessing      = 5 * time.Minute
	)

	var (
		c   WorkerCfg
		err error
	)

	if c.Concurrency, err = parseIntEnv("WORKER_CONCURRENCY", defaultConcurrency); err != nil {
		return nil, e.Wrap("WORKER_CONCURRENCY", err)
	}
	if c.EventConcurrency, err = parseIntEnv("WORKER_EVENT_CONCURRENCY", defaultEventConc); err != nil {
		return nil, e.Wrap("WORKER_EVENT_CONCURRENCY", err)
	}
	if c.MaxAttempts, err = parseIntEnv("WORKER_MAX_ATTEMPTS", defaultMaxAttempts); err != nil {
		return nil, e.Wrap("WORKER_MAX_ATTEMPTS", err)
	}
	if c.RetryBase, err = parseDurationEnv("WORKER_RETRY_BASE", defaultRetryBase); err != nil {
		return nil, e.Wrap("WORKER_RETRY_BASE", err)
	}
	if c.RetryMax, err = parseDurationEnv("WORKER_RETRY_MAX", defaultRetryMax); err != nil {
		return nil, e.Wrap("WORKER_RETRY_MAX", err)
	}
	if c.OutboxBatchSize, err = parseIntEnv("OUTBOX_BATCH_SIZE", defaultBatchSize); err != nil {
		return nil, e.Wrap("OUTBOX_BATCH_SIZE", err)
	}
	if c.OutboxSweep, err = parseDurationEnv("OUTBOX_SWEEP_INTERVAL", defaultSweep); err != nil {
		return nil, e.Wrap("OUTBOX_SWEEP_INTERVAL", err)
	}
	if c.StaleAfter, err = parseDurationEnv("OUTBOX_STALE_AFTER", defaultStaleAfter); err != nil {
		return nil, e.Wrap("OUTBOX_STALE_AFTER", err)
	}
	if c.LockTTL, err = parseDurationEnv("ATTACHMENT_LOCK_TTL", defaultLockTTL); err != nil {
		return nil, e.Wrap("ATTACHMENT_LOCK_TTL", err)
	}
	if c.DownloadTimeout, err = parseDurationEnv("ATTACHMENT_DOWNLOAD_TIMEOUT", defaultDownloadTimeout); err != nil {
		return nil, e.Wrap("ATTACHMENT_DOWNLOAD_TIMEOUT", err)
	}
	if c.DownloadRetries, err = parseIntEnv("ATTACHMENT_DOWNLOAD_RETRIES", defaultDownloadRetries); err != nil {
		return nil, e.Wrap("ATTACHMENT_DOWNLOAD_RETRIES", err)
	}
	if c.ProcessingTimeout, err = parseDurationEnv("TICKET_PROCESSING_TIMEOUT", defaultProcessing); err != nil {
		return nil, e.Wrap("TICKET_PROCESSING_TIMEOUT", err)
	}

	return &c, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := getEnv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := getEnv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := getEnv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	v := getEnv(key)
	if v == "" {
		return defaultValue, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return f, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	v := getEnv(key)
	if v == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return b, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// missingOf возвращает отсортированные имена пустых переменных.
func missingOf(values map[string]string) []string {
	var missing []string
	for k, v := range values {
		if v == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}
