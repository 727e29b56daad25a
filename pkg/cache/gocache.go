package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheWrapper go-cache包装器
type goCacheWrapper struct {
	cache *gocache.Cache
}

// NewLocalCache 创建基于go-cache的本地缓存
func NewLocalCache(config LocalConfig) Cache {
	defaultExpiration := config.DefaultExpiration
	cleanupInterval := config.CleanupInterval
	if defaultExpiration <= 0 {
		defaultExpiration = 5 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &goCacheWrapper{cache: gocache.New(defaultExpiration, cleanupInterval)}
}

// Get 获取缓存值
func (gc *goCacheWrapper) Get(ctx context.Context, key string) (interface{}, bool) {
	if value, found := gc.cache.Get(key); found {
		return value, true
	}
	return nil, false
}

// Set 设置缓存值
func (gc *goCacheWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	gc.cache.Set(key, value, expiration)
	return nil
}

// Add 仅当键不存在时写入
func (gc *goCacheWrapper) Add(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if err := gc.cache.Add(key, value, expiration); err != nil {
		// go-cache 的 Add 只在键已存在时报错
		return false, nil
	}
	return true, nil
}

// Delete 删除缓存
func (gc *goCacheWrapper) Delete(ctx context.Context, key string) error {
	gc.cache.Delete(key)
	return nil
}

// Exists 检查键是否存在
func (gc *goCacheWrapper) Exists(ctx context.Context, key string) bool {
	_, found := gc.cache.Get(key)
	return found
}

// Increment 自增
func (gc *goCacheWrapper) Increment(ctx context.Context, key string, value int64) (int64, error) {
	if newValue, err := gc.cache.IncrementInt64(key, value); err == nil {
		return newValue, nil
	}

	// 如果键不存在，先设置为初始值
	gc.cache.Set(key, value, gocache.DefaultExpiration)
	return value, nil
}

// GetWithTTL 获取值并返回剩余TTL
func (gc *goCacheWrapper) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool) {
	if value, expiration, found := gc.cache.GetWithExpiration(key); found {
		var ttl time.Duration
		if !expiration.IsZero() {
			ttl = time.Until(expiration)
			if ttl < 0 {
				ttl = 0
			}
		}
		return value, ttl, true
	}
	return nil, 0, false
}

// Close 关闭缓存连接
func (gc *goCacheWrapper) Close() error {
	// go-cache不需要关闭连接
	return nil
}
