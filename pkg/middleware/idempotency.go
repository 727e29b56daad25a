package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"HibiscusHood/pkg/cache"
)

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Cache      cache.Cache   // 后端存储，redis 时多副本共享窗口
}

// IdempotencyMiddleware 重复请求拦截
// 注意这只是 HTTP 层的第一道闸；responder 与台账的最终幂等性
// 由存储层唯一键保证，二者不互相依赖。
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewLocalCache(cache.LocalConfig{
			DefaultExpiration: cfg.TTL,
			CleanupInterval:   time.Minute,
		})
	}
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		// 只拦截显式携带幂等键的请求；普通重试放行，
		// 由模型层的幂等语义与存储唯一键兜底
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			c.Next()
			return
		}
		h := sha256.Sum256([]byte(c.GetHeader("X-User-ID") + "\n" + key))
		ok, err := store.Add(c, "idem:"+c.Request.Method+":"+c.FullPath()+":"+hex.EncodeToString(h[:]), 1, cfg.TTL)
		if err != nil {
			// 存储不可用时放行，由存储层唯一键兜底
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		c.Next()
	}
}
