package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/redis/converter"
	"github.com/DRSN-tech/product-matcher/pkg/clients"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

const matchKeyPrefix = "match:"

// MatchCacheRepo кэширует ответы ad-hoc сопоставления. Ключ включает версию индекса,
// поэтому после публикации новой версии старые записи просто истекают по TTL.
type MatchCacheRepo struct {
	client *clients.RedisClient
	conv   converter.MatchResultConverter
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewMatchCacheRepo(client *clients.RedisClient, conv converter.MatchResultConverter,
	cfg *cfg.RedisCfg, logger logger.Logger) *MatchCacheRepo {
	return &MatchCacheRepo{
		client: client,
		conv:   conv,
		cfg:    cfg,
		logger: logger,
	}
}

// Get возвращает закэшированный результат. Промах: (nil, nil).
// Битая запись удаляется и считается промахом.
func (m *MatchCacheRepo) Get(ctx context.Context, key string) (*domain.MatchResult, error) {
	data, err := m.client.Client.Get(ctx, matchKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return nil, nil
		}
		m.logger.Warnf("Redis GET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var model converter.MatchResultRedisModel
	if err := json.Unmarshal(data, &model); err != nil {
		m.logger.Warnf("Redis unmarshal failed: %v", e.Wrap(whereami.WhereAmI(), err))
		if err := m.client.Client.Del(context.WithoutCancel(ctx), matchKeyPrefix+key).Err(); err != nil {
			m.logger.Warnf("Redis del failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}
		return nil, nil
	}

	return m.conv.ToEntity(&model), nil
}

// Set кэширует результат с TTL из конфигурации.
func (m *MatchCacheRepo) Set(ctx context.Context, key string, res *domain.MatchResult) error {
	data, err := json.Marshal(m.conv.ToRedisModel(res))
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := m.client.Client.Set(ctx, matchKeyPrefix+key, data, m.cfg.MatchTTL).Err(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
