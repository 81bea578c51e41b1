// Package cache предоставляет распределённую блокировку на Redis. Используется
// чисткой истории (планировщик и ручной запуск через gRPC), чтобы в один момент
// чистку выполнял только один процесс. Балансы и состояния сессий здесь не кэшируются.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/magabrotheeeer/session-gate/internal/config"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если им всё ещё владеет держатель токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ErrLockNotHeld возвращается, если блокировка истекла или принадлежит другому владельцу.
var ErrLockNotHeld = errors.New("lock is not held")

// Cache обёртка над клиентом Redis.
type Cache struct {
	Db *redis.Client
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// AcquireLock пытается занять ключ на ttl. Возвращает токен владельца и true
// при успехе, пустой токен и false, если ключ уже занят.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	const op = "cache.AcquireLock"
	token := uuid.NewString()
	ok, err := c.Db.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock освобождает ключ, если он всё ещё принадлежит token.
func (c *Cache) ReleaseLock(ctx context.Context, key, token string) error {
	const op = "cache.ReleaseLock"
	n, err := releaseScript.Run(ctx, c.Db, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrLockNotHeld)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	return c.Db.Close()
}
