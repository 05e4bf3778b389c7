package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"licensehub/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache 许可证读缓存
//
// 只服务验证路径的只读查询，验证允许读到 TTL 内的快照；
// 激活写路径永远不经过缓存。
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCache 创建 Redis 缓存实例
//
// 参数:
//   - addr/password/db: Redis 连接参数
//   - ttl: 许可证快照的缓存时长（验证读取允许的最大陈旧度）
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client, err := New(addr, password, db)
	if err != nil {
		return nil, err
	}
	return &Cache{client: client.Client(), ttl: ttl}, nil
}

// licenseKey 许可证缓存键（按密钥索引，验证路径只按密钥查询）
func licenseKey(key string) string {
	return fmt.Sprintf("license:key:%s", key)
}

// CacheLicense 缓存许可证快照
func (c *Cache) CacheLicense(ctx context.Context, license *domain.License) error {
	data, err := json.Marshal(license)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, licenseKey(license.LicenseKey), data, c.ttl).Err()
}

// GetCachedLicense 按许可证密钥读取缓存的快照
func (c *Cache) GetCachedLicense(ctx context.Context, key string) (*domain.License, error) {
	data, err := c.client.Get(ctx, licenseKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var license domain.License
	if err := json.Unmarshal([]byte(data), &license); err != nil {
		return nil, err
	}
	return &license, nil
}

// InvalidateLicense 删除许可证缓存（生命周期操作后调用）
func (c *Cache) InvalidateLicense(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = licenseKey(k)
	}
	return c.client.Del(ctx, redisKeys...).Err()
}

// Health 检查 Redis 连接
func (c *Cache) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
