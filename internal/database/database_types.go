// Package database 提供写队列使用的持久化键值存储，
// 支持内存、本地文件、MongoDB 与 Redis 四种后端
package database

import (
	"context"
	"errors"
	"time"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"

	DefaultCollectionName = "offline_queue"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrKeyEmpty     = errors.New("key is empty")
	ErrLockNotHeld  = errors.New("lock is held by another process")
	ErrUnknownStore = errors.New("unknown store backend")
)

// Store 是按键存取不透明字节的持久化存储，所有实现都必须是并发安全的
type Store interface {
	// Get 在键不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete 删除不存在的键不是错误
	Delete(ctx context.Context, key string) error
}

// Locker 由支持跨进程互斥的后端实现
type Locker interface {
	// Lock 获取锁，已被占用时返回 ErrLockNotHeld
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Record 是 MongoDB 中保存的文档结构
type Record struct {
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func checkKey(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
