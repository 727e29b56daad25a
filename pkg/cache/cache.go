package cache

import (
	"context"
	"time"
)

// Cache 缓存接口
// Add 是冷却窗口与幂等键使用的原语：键不存在时写入并返回 true，
// 已存在返回 false。redis 后端用 SetNX，本地后端用 go-cache 的 Add。
type Cache interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set 设置缓存值
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// Add 仅当键不存在时写入，返回是否写入成功
	Add(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// Exists 检查键是否存在
	Exists(ctx context.Context, key string) bool

	// Increment 自增
	Increment(ctx context.Context, key string, value int64) (int64, error)

	// GetWithTTL 获取值并返回剩余TTL
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool)

	// Close 关闭缓存连接
	Close() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "local" 或 "redis"
	Type string `json:"type" yaml:"type" env:"CACHE_TYPE" default:"local"`

	// Redis配置
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// 本地缓存配置
	Local LocalConfig `json:"local" yaml:"local"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB" default:"0"`
	PoolSize int    `json:"pool_size" yaml:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	DefaultExpiration time.Duration `json:"default_expiration" yaml:"default_expiration"`
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}
