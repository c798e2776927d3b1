package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript удаляет ключ, только если он принадлежит владельцу
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// redisClient подмножество методов клиента Redis
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis распределенные блокировки на SET NX PX
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

var _ Locker = (*Redis)(nil)

// NewRedis создает распределенные блокировки
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: "compensation:lock:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

// Lock захватывает ключ, повторяя попытки до отмены ctx
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		unlock, err := r.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ожидание блокировки %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TryLock захватывает ключ одной попыткой
func (r *Redis) TryLock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	fullKey := r.prefix + key

	ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка захвата блокировки %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	return func() {
		// освобождение не должно зависеть от отмены контекста операции
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := r.client.Eval(releaseCtx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			r.logger.Warn("ошибка освобождения блокировки",
				zap.String("key", key),
				zap.Error(err))
		}
	}, nil
}
