package redis

import (
	"context"
	"time"

	"github.com/DRSN-tech/product-matcher/pkg/clients"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// Снимает блокировку, только если она всё ещё принадлежит владельцу токена.
var unlockScript = r.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepo - распределённая блокировка на SET NX PX.
type LockRepo struct {
	client *clients.RedisClient
}

func NewLockRepo(client *clients.RedisClient) *LockRepo {
	return &LockRepo{client: client}
}

// TryLock пытается взять блокировку на ttl. Возвращает токен владельца;
// ok = false, если блокировку держит кто-то другой.
func (l *LockRepo) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.Client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, e.Wrap(whereami.WhereAmI(), err)
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// Unlock снимает блокировку. Чужая или истёкшая блокировка не трогается.
func (l *LockRepo) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client.Client, []string{lockKeyPrefix + key}, token).Err(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
