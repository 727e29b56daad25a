package models

import (
	"context"
	"fmt"
	"time"

	"HibiscusHood/pkg/cache"
	"HibiscusHood/pkg/errors"
)

// CooldownGuard 按用户、按创建类型的滑动窗口限制
// 与 HTTP 层限流无关：这是业务规则，窗口内的第二次创建
// 返回带 retry-after 的冷却错误。高危警报在调用方直接绕过。
type CooldownGuard struct {
	cache  cache.Cache
	window time.Duration
}

func NewCooldownGuard(c cache.Cache, window time.Duration) *CooldownGuard {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &CooldownGuard{cache: c, window: window}
}

// Allow 占用窗口，窗口已被占用时返回冷却错误
// redis 后端下 Add 是 SETNX，多副本共享同一个窗口
func (g *CooldownGuard) Allow(ctx context.Context, userID uint, kind string) error {
	if g == nil || g.cache == nil {
		return nil
	}
	key := fmt.Sprintf("cooldown:%s:%d", kind, userID)
	ok, err := g.cache.Add(ctx, key, time.Now().Unix(), g.window)
	if err != nil {
		// 缓存故障放行：冷却是限制体验的保护，不应阻断求助
		return nil
	}
	if ok {
		return nil
	}
	retry := g.window
	if _, ttl, found := g.cache.GetWithTTL(ctx, key); found && ttl > 0 {
		retry = ttl
	}
	return errors.Cooldown(retry)
}
