package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/index"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// MatcherState - состояние загрузки индекса.
type MatcherState int32

const (
	StateUnloaded MatcherState = iota
	StateLoading
	StateReady
	StateReloading
)

func (s MatcherState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReloading:
		return "reloading"
	default:
		return "unknown"
	}
}

type MatcherOptions struct {
	TopK          int
	ScoreFloor    float64
	HNSWThreshold int
	LoadTimeout   time.Duration
	QueryTimeout  time.Duration // 0 - без ограничения
	HNSW          index.HNSWConfig
}

// Matcher держит активную версию индекса в памяти и отвечает на запросы top-K.
// Снимок индекса после публикации не меняется, публикация подменяет атомарную ссылку.
type Matcher struct {
	encoder  EncoderInfra
	codec    ImageCodec
	versions IndexVersionRepository
	objects  ObjectRepository
	cache    MatchCacheRepository
	metrics  Metrics
	logger   logger.Logger
	opts     MatcherOptions

	snap  atomic.Pointer[index.Snapshot]
	state atomic.Int32
	group singleflight.Group
}

func NewMatcher(
	encoder EncoderInfra,
	codec ImageCodec,
	versions IndexVersionRepository,
	objects ObjectRepository,
	cache MatchCacheRepository,
	metrics Metrics,
	logger logger.Logger,
	opts MatcherOptions,
) *Matcher {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Minute
	}
	return &Matcher{
		encoder:  encoder,
		codec:    codec,
		versions: versions,
		objects:  objects,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

func (m *Matcher) State() MatcherState {
	return MatcherState(m.state.Load())
}

func (m *Matcher) setState(s MatcherState) {
	m.state.Store(int32(s))
	entries := 0
	if snap := m.snap.Load(); snap != nil {
		entries = snap.Entries()
	}
	m.metrics.SetIndexState(s.String(), entries)
}

// Health сообщает, готов ли матчер отвечать.
func (m *Matcher) Health() domain.Health {
	h := domain.Health{State: m.State().String()}
	if snap := m.snap.Load(); snap != nil {
		h.Ready = true
		h.IndexVersion = snap.Version
		h.ModelVersion = snap.ModelVersion
		h.Entries = snap.Entries()
		h.Products = snap.Products()
	}
	return h
}

// Query возвращает до k товаров по убыванию оценки.
// Если индекс ещё не загружен, запрос запускает загрузку и ждёт её.
func (m *Matcher) Query(ctx context.Context, data []byte, k int) (res *domain.MatchResult, err error) {
	const op = "Matcher.Query"

	start := time.Now()
	defer func() {
		m.metrics.ObserveQuery(time.Since(start).Seconds(), queryOutcome(err))
	}()

	if m.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.QueryTimeout)
		defer cancel()
	}

	if k <= 0 {
		k = m.opts.TopK
	}

	img, _, err := m.codec.Decode(data)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	snap, err := m.ensureLoaded(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if model := m.encoder.ModelVersion(); model != snap.ModelVersion {
		return nil, e.Wrap(op, fmt.Errorf("%w: encoder %q, index %q", e.ErrModelVersionMismatch, model, snap.ModelVersion))
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	cacheKey := fmt.Sprintf("%s:%d:%d", contentHash, snap.Version, k)
	if m.cache != nil {
		if cached, err := m.cache.Get(ctx, cacheKey); err == nil && cached != nil {
			return cached, nil
		}
	}

	vectors, err := m.encoder.VectorizeRequest(ctx, NewVectorizeReq(EncodeImage{ContentHash: contentHash, Data: data, Img: img}))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(vectors) != 1 || len(vectors[0].Vector) == 0 {
		return nil, e.Wrap(op, e.ErrVectorEmbeddingEmpty)
	}
	if snap.Entries() > 0 && len(vectors[0].Vector) != snap.Dim() {
		return nil, e.Wrap(op, e.ErrDimensionMismatch)
	}

	res = &domain.MatchResult{
		Candidates:   snap.Search(vectors[0].Vector, k, m.opts.ScoreFloor),
		ModelVersion: snap.ModelVersion,
		IndexVersion: snap.Version,
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, cacheKey, res); err != nil {
			m.logger.Warnf("match cache set failed: %v", e.Wrap(op, err))
		}
	}

	return res, nil
}

// ensureLoaded возвращает готовый снимок или загружает его.
// Пока идёт перезагрузка, запросы обслуживаются предыдущей версией.
func (m *Matcher) ensureLoaded(ctx context.Context) (*index.Snapshot, error) {
	if snap := m.snap.Load(); snap != nil {
		return snap, nil
	}

	if err := m.Load(ctx); err != nil {
		return nil, errors.Join(e.ErrIndexNotReady, err)
	}

	snap := m.snap.Load()
	if snap == nil {
		return nil, e.ErrIndexNotReady
	}
	return snap, nil
}

// Load загружает активную версию из хранилища, если она отличается от текущей.
// Параллельные вызовы объединяются в одну загрузку.
func (m *Matcher) Load(ctx context.Context) error {
	ch := m.group.DoChan("load", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.LoadTimeout)
		defer cancel()
		return nil, m.load(loadCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Matcher) load(ctx context.Context) error {
	const op = "Matcher.load"

	current := m.snap.Load()

	active, err := m.versions.GetActive(ctx)
	if err != nil {
		if errors.Is(err, e.ErrIndexVersionNotFound) {
			return e.Wrap(op, e.ErrNoArtifact)
		}
		return e.Wrap(op, err)
	}

	if current != nil && current.Version == active.ID {
		return nil
	}

	if current == nil {
		m.setState(StateLoading)
	} else {
		m.setState(StateReloading)
	}
	defer func() {
		if m.snap.Load() != nil {
			m.setState(StateReady)
		} else {
			m.setState(StateUnloaded)
		}
	}()

	data, err := m.objects.Get(ctx, active.ObjectKey)
	if err != nil {
		return e.Wrap(op, err)
	}

	art, err := index.Unmarshal(data)
	if err != nil {
		return e.Wrap(op, err)
	}

	if err := m.install(active, art); err != nil {
		return e.Wrap(op, err)
	}

	m.logger.Infof("index version %d loaded: model=%s entries=%d", active.ID, active.ModelVersion, len(art.Entries))
	return nil
}

// Publish подменяет активный снимок готовым артефактом без чтения из хранилища.
func (m *Matcher) Publish(version *domain.IndexVersion, art *IndexArtifact) error {
	const op = "Matcher.Publish"

	if err := m.install(version, art); err != nil {
		return e.Wrap(op, err)
	}
	m.setState(StateReady)
	return nil
}

func (m *Matcher) install(version *domain.IndexVersion, art *index.Artifact) error {
	if art.ModelVersion != version.ModelVersion {
		return fmt.Errorf("%w: artifact model %q, version row %q", e.ErrCorruptArtifact, art.ModelVersion, version.ModelVersion)
	}
	if model := m.encoder.ModelVersion(); model != art.ModelVersion {
		return &e.ConfigurationError{
			Component: "matcher",
			Reason:    fmt.Sprintf("%v: encoder %q, index %q", e.ErrModelVersionMismatch, model, art.ModelVersion),
		}
	}

	m.snap.Store(index.NewSnapshot(art, version.ID, m.opts.HNSWThreshold, m.opts.HNSW))
	return nil
}

// Watch периодически проверяет активную версию и перезагружает индекс при её смене.
func (m *Matcher) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Load(ctx); err != nil && !errors.Is(err, e.ErrNoArtifact) {
				m.logger.Warnf("index reload failed: %v", err)
			}
		}
	}
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case e.IsImageDecode(err):
		return "decode_error"
	case errors.Is(err, e.ErrIndexNotReady):
		return "not_ready"
	case e.IsConfiguration(err):
		return "config_error"
	default:
		return "error"
	}
}
