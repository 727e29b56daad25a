package metrics

import "sync"

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default 全局指标单例
// promauto 注册到默认 registry，重复创建会 panic，必须走单例
func Default() *Metrics {
	once.Do(func() { defaultMetrics = NewMetrics() })
	return defaultMetrics
}
