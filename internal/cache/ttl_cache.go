package cache

import (
	"sync"
	"time"
)

// TTLCache 带过期时间的进程内缓存
//
// 读取走 sync.Map，不加互斥锁；过期条目在读取时惰性删除，
// 后台每分钟整体清理一次。用于限流器实例这类可以随时重建的状态，
// 不做容量上限。
type TTLCache struct {
	data sync.Map
	ttl  time.Duration
	stop chan struct{}
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// NewTTLCache 创建缓存，ttl 为条目的默认存活时间
func NewTTLCache(ttl time.Duration) *TTLCache {
	c := &TTLCache{
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get 获取缓存值；条目已过期时返回未命中并顺带删除
func (c *TTLCache) Get(key string) (interface{}, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}

	e := val.(*entry)
	if time.Now().After(e.expiresAt) {
		c.data.Delete(key)
		return nil, false
	}
	return e.value, true
}

// Set 写入缓存值并重置其存活时间
func (c *TTLCache) Set(key string, value interface{}) {
	c.data.Store(key, &entry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete 删除缓存值
func (c *TTLCache) Delete(key string) {
	c.data.Delete(key)
}

// Close 停止后台清理
func (c *TTLCache) Close() {
	close(c.stop)
}

// cleanupLoop 定期清理过期条目
func (c *TTLCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.data.Range(func(key, value interface{}) bool {
				if now.After(value.(*entry).expiresAt) {
					c.data.Delete(key)
				}
				return true
			})
		}
	}
}
