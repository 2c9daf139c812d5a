// Package cache 提供带过期时间的本地内存缓存。
package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 每次访问会顺延条目的过期时间
// - 超出容量时丢弃最早过期的条目
// - Run 定期清理过期条目
type LocalCache[V any] struct {
	mu      sync.Mutex
	data    map[string]*cacheEntry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<=0 表示不限制
//   - ttl: 空闲过期时间
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	return &LocalCache[V]{
		data:    make(map[string]*cacheEntry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	now := c.now()
	if !ok || now.After(entry.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	entry.expiresAt = now.Add(c.ttl)
	return entry.value, true
}

// GetOrCreate 返回已有值，不存在时用 create 创建并缓存。
func (c *LocalCache[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.data[key]; ok && !now.After(entry.expiresAt) {
		entry.expiresAt = now.Add(c.ttl)
		return entry.value
	}

	value := create()
	c.setLocked(key, value, now)
	return value
}

// Set 设置缓存值
func (c *LocalCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, c.now())
}

func (c *LocalCache[V]) setLocked(key string, value V, now time.Time) {
	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictOneLocked(now)
	}
	c.data[key] = &cacheEntry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// evictOneLocked 先清理过期条目，仍然满时淘汰最早过期的一条
func (c *LocalCache[V]) evictOneLocked(now time.Time) {
	if c.cleanupLocked(now) > 0 {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.data {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}
	delete(c.data, oldestKey)
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Len 当前条目数
func (c *LocalCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Cleanup 清理过期条目，返回清理数量
func (c *LocalCache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(c.now())
}

func (c *LocalCache[V]) cleanupLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Run 定期清理过期条目，直到 ctx 取消
func (c *LocalCache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
