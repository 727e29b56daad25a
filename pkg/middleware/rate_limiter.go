package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiterConfig 限流配置
//
// Rate: "100-M"、"1000-H"；PerRouteRates 按路由覆盖速率；
// SkipPaths 前缀匹配；AddHeaders 是否写标准限流响应头。
// 这是通用的 HTTP 层限流，与警报冷却窗口是两套独立机制。
type RateLimiterConfig struct {
	Rate          string            `json:"rate"`
	PerRouteRates map[string]string `json:"per_route_rates"`
	SkipPaths     []string          `json:"skip_paths"`
	AddHeaders    bool              `json:"add_headers"`
}

// MetricsObserver 指标上报接口
type MetricsObserver interface {
	OnAllow(route string)
	OnDeny(route string)
}

// PrometheusObserver 基于 Prometheus 的实现
type PrometheusObserver struct {
	allow *prometheus.CounterVec
	deny  *prometheus.CounterVec
}

var (
	promObserverOnce sync.Once
	promObserver     *PrometheusObserver
)

// NewPrometheusObserver 返回进程级单例，计数器只向默认注册表注册一次
func NewPrometheusObserver() *PrometheusObserver {
	promObserverOnce.Do(func() {
		promObserver = &PrometheusObserver{
			allow: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "rate_limit_allow_total",
				Help: "Allowed requests by rate limiter",
			}, []string{"route"}),
			deny: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "rate_limit_deny_total",
				Help: "Denied requests by rate limiter",
			}, []string{"route"}),
		}
	})
	return promObserver
}

func (p *PrometheusObserver) OnAllow(route string) { p.allow.WithLabelValues(route).Inc() }
func (p *PrometheusObserver) OnDeny(route string)  { p.deny.WithLabelValues(route).Inc() }

// RateLimiter 面向实例的限流器，按速率字符串缓存 limiter
type RateLimiter struct {
	cfg            RateLimiterConfig
	store          limiter.Store
	observer       MetricsObserver
	limitersByRate map[string]*limiter.Limiter
	mu             sync.RWMutex
}

// NewRateLimiter 构造函数，store 为空时用内存存储
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	return &RateLimiter{
		cfg:            cfg,
		store:          store,
		limitersByRate: make(map[string]*limiter.Limiter),
	}
}

// WithObserver 配置指标观察者
func (l *RateLimiter) WithObserver(observer MetricsObserver) *RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = observer
	return l
}

// Middleware 返回 Gin 中间件
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.pathSkipped(c.Request.URL.Path) {
			c.Next()
			return
		}

		key := c.ClientIP()
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			key = "u:" + uid
		}

		lim := l.getLimiter(l.pickRate(c))
		lctx, err := lim.Get(c, key)
		if err != nil {
			c.Next()
			return
		}
		if l.cfg.AddHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
		}
		if lctx.Reached {
			c.Header("Retry-After", time.Until(time.Unix(lctx.Reset, 0)).Round(time.Second).String())
			l.report(c, false)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		l.report(c, true)
		c.Next()
	}
}

func (l *RateLimiter) pathSkipped(path string) bool {
	for _, p := range l.cfg.SkipPaths {
		if p != "" && len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

func (l *RateLimiter) pickRate(c *gin.Context) string {
	if full := c.FullPath(); full != "" {
		if r, ok := l.cfg.PerRouteRates[full]; ok && r != "" {
			return r
		}
	}
	if l.cfg.Rate != "" {
		return l.cfg.Rate
	}
	return "10-S"
}

func (l *RateLimiter) getLimiter(rateStr string) *limiter.Limiter {
	l.mu.RLock()
	lim, ok := l.limitersByRate[rateStr]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limitersByRate[rateStr]; ok {
		return lim
	}
	r, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		r = limiter.Rate{Period: time.Second, Limit: 10}
	}
	lim = limiter.New(l.store, r)
	l.limitersByRate[rateStr] = lim
	return lim
}

func (l *RateLimiter) report(c *gin.Context, allowed bool) {
	l.mu.RLock()
	obs := l.observer
	l.mu.RUnlock()
	if obs == nil {
		return
	}
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	if allowed {
		obs.OnAllow(route)
	} else {
		obs.OnDeny(route)
	}
}
