package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

// RedisStore 把键保存为带前缀的 Redis 字符串，并通过 redislock 提供跨进程锁
type RedisStore struct {
	client *redis.Client
	locker *redislock.Client
	prefix string
}

func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error occured while connecting to redis %s: %w", cfg.Addr, err)
	}
	logger.InfoF("Connected to redis %s (db %d)", cfg.Addr, cfg.DB)
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, locker: redislock.New(client), prefix: prefix}
}

func (rs *RedisStore) key(key string) string {
	if rs.prefix == "" {
		return key
	}
	return rs.prefix + ":" + key
}

func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := rs.client.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s failed: %w", key, err)
	}
	return data, nil
}

func (rs *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := rs.client.Set(ctx, rs.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s failed: %w", key, err)
	}
	return nil
}

func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := rs.client.Del(ctx, rs.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s failed: %w", key, err)
	}
	return nil
}

func (rs *RedisStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := rs.locker.Obtain(ctx, rs.key(key), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotHeld
	}
	if err != nil {
		return nil, fmt.Errorf("redis lock %s failed: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// Invoke 关闭 Redis 客户端，用作退出清理回调
func (rs *RedisStore) Invoke(_ context.Context) error {
	logger.InfoF("Closing redis connection")
	return rs.client.Close()
}
