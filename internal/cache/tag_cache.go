// Package cache 提供按标签失效的本地读缓存，服务端推送的事件通过标签使相关条目失效
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/logger"
)

type entry[V any] struct {
	value V
	tags  []string
}

// TagCache 是带过期时间的 LRU 缓存，每个键可以关联多个标签。
// 标签索引只在 mu 内修改，调用 lru 时不持有 mu，避免与淘汰回调互相等待。
type TagCache[V any] struct {
	lru *expirable.LRU[string, entry[V]]

	mu    sync.Mutex
	byTag map[string]map[string]struct{}

	invalidated atomic.Uint64
}

func NewTagCache[V any](size int, ttl time.Duration) *TagCache[V] {
	c := &TagCache[V]{byTag: make(map[string]map[string]struct{})}
	c.lru = expirable.NewLRU[string, entry[V]](size, c.onEvict, ttl)
	return c
}

func (c *TagCache[V]) onEvict(key string, e entry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unindexLocked(key, e.tags)
}

func (c *TagCache[V]) unindexLocked(key string, tags []string) {
	for _, tag := range tags {
		keys, ok := c.byTag[tag]
		if !ok {
			continue
		}
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byTag, tag)
		}
	}
}

// Set 保存值并建立标签索引，已有键的旧标签会被替换
func (c *TagCache[V]) Set(key string, value V, tags ...string) {
	if old, ok := c.lru.Peek(key); ok {
		c.mu.Lock()
		c.unindexLocked(key, old.tags)
		c.mu.Unlock()
	}
	c.lru.Add(key, entry[V]{value: value, tags: tags})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		keys, ok := c.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

func (c *TagCache[V]) Get(key string) (V, bool) {
	e, ok := c.lru.Get(key)
	return e.value, ok
}

func (c *TagCache[V]) Remove(key string) bool {
	return c.lru.Remove(key)
}

// InvalidateByTag 删除所有带有该标签的条目
func (c *TagCache[V]) InvalidateByTag(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	keys := c.byTag[tag]
	delete(c.byTag, tag)
	c.mu.Unlock()

	removed := 0
	for key := range keys {
		if c.lru.Remove(key) {
			removed++
		}
	}
	c.invalidated.Add(uint64(removed))
	if removed > 0 {
		logger.DebugF("[cache] Invalidated %d entries tagged %q", removed, tag)
	}
	return nil
}

func (c *TagCache[V]) Len() int {
	return c.lru.Len()
}

// Invalidated 返回累计因标签失效而删除的条目数
func (c *TagCache[V]) Invalidated() uint64 {
	return c.invalidated.Load()
}
