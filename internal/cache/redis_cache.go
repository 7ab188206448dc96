package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"washly/backend/internal/domain"
)

const (
	methodKeyPrefix = "caja:methods:"
	lockKeyPrefix   = "caja:lock:"
	lockRetryEvery  = 25 * time.Millisecond
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisMethodCache struct {
	client *redis.Client
}

func NewRedisMethodCache(client *redis.Client) *RedisMethodCache {
	return &RedisMethodCache{client: client}
}

func (c *RedisMethodCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMethodCache) Get(ctx context.Context, tenantID string) ([]domain.PaymentMethod, bool, error) {
	val, err := c.client.Get(ctx, methodKeyPrefix+tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var methods []domain.PaymentMethod
	if err := json.Unmarshal([]byte(val), &methods); err != nil {
		return nil, false, err
	}
	return methods, true, nil
}

func (c *RedisMethodCache) Set(ctx context.Context, tenantID string, methods []domain.PaymentMethod, ttl time.Duration) error {
	payload, err := json.Marshal(methods)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, methodKeyPrefix+tenantID, payload, ttl).Err()
}

func (c *RedisMethodCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, methodKeyPrefix+tenantID).Err()
}

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock re-acquired by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by every instance using the same
// Redis database.
type RedisLocker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisLocker(client *redis.Client, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, log: log}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}

	return func() { l.release(redisKey, token, ttl) }, nil
}

// release failures leave the key held until its TTL runs out.
func (l *RedisLocker) release(redisKey string, token string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.log.Warn("redis lock release failed; key stays held until ttl expiry",
			zap.String("key", redisKey),
			zap.Duration("ttl", ttl),
			zap.Error(err),
		)
	}
}
