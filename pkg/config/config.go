package config

import (
	"log"
	"os"
	"time"

	"HibiscusHood/pkg/cache"
	"HibiscusHood/pkg/logger"
	"HibiscusHood/pkg/util"
)

// config/config.go
type Config struct {
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
	Log       logger.LogConfig
	Cache     cache.Config

	// 警报升级
	EscalationTick time.Duration `env:"ESCALATION_TICK"`     // 升级巡检间隔
	LocalityDelay  time.Duration `env:"LOCALITY_DELAY"`      // locality -> town_or_city
	TownCityDelay  time.Duration `env:"TOWN_CITY_DELAY"`     // town_or_city -> district
	DistrictDelay  time.Duration `env:"DISTRICT_DELAY"`      // district -> state
	EscalationPage int           `env:"ESCALATION_PAGE"`     // 每次巡检取多少条活跃警报
	CooldownWindow time.Duration `env:"COOLDOWN_WINDOW"`     // 非高危警报创建冷却窗口
	ActiveWindow   time.Duration `env:"ALERT_ACTIVE_WINDOW"` // 巡检只看这个窗口内创建的警报

	// 交易完成策略："either" 任一方确认即完成；"both" 双方都确认才完成
	CompletionPolicy string `env:"COMPLETION_POLICY"`

	// 推送
	PushEndpoint  string `env:"PUSH_ENDPOINT"`
	PushEnabled   bool   `env:"PUSH_ENABLED"`
	PushBatchSize int    `env:"PUSH_BATCH_SIZE"`

	// 限流（通用 HTTP 层，与业务冷却无关）
	RateLimit string `env:"RATE_LIMIT"` // e.g. "100-M"

	// 数据库备份
	BackupSchedule string `env:"BACKUP_SCHEDULE"` // cron 表达式，空表示关闭
	BackupDir      string `env:"BACKUP_DIR"`
	BackupKeep     int    `env:"BACKUP_KEEP"` // 保留最近多少份
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		DBDriver:  util.GetEnv("DB_DRIVER"),
		DSN:       util.GetEnv("DSN"),
		Addr:      util.GetEnvDefault("ADDR", ":8080"),
		Mode:      util.GetEnv("MODE"),
		APIPrefix: util.GetEnvDefault("API_PREFIX", "/api"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password: util.GetEnv("REDIS_PASSWORD"),
				DB:       int(util.GetIntEnv("REDIS_DB")),
				PoolSize: int(util.GetIntEnvDefault("REDIS_POOL_SIZE", 10)),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: util.GetDurationEnv("CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnv("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},

		// 默认值刻意偏短，保证响应性；生产环境通过环境变量调大
		EscalationTick: util.GetDurationEnv("ESCALATION_TICK", 30*time.Second),
		LocalityDelay:  util.GetDurationEnv("LOCALITY_DELAY", 120*time.Second),
		TownCityDelay:  util.GetDurationEnv("TOWN_CITY_DELAY", 300*time.Second),
		DistrictDelay:  util.GetDurationEnv("DISTRICT_DELAY", 600*time.Second),
		EscalationPage: int(util.GetIntEnvDefault("ESCALATION_PAGE", 100)),
		CooldownWindow: util.GetDurationEnv("COOLDOWN_WINDOW", 5*time.Minute),
		ActiveWindow:   util.GetDurationEnv("ALERT_ACTIVE_WINDOW", 24*time.Hour),

		CompletionPolicy: util.GetEnvDefault("COMPLETION_POLICY", "either"),

		PushEndpoint:  util.GetEnvDefault("PUSH_ENDPOINT", "https://exp.host/--/api/v2/push/send"),
		PushEnabled:   util.GetBoolEnv("PUSH_ENABLED"),
		PushBatchSize: int(util.GetIntEnvDefault("PUSH_BATCH_SIZE", 500)),

		RateLimit: util.GetEnvDefault("RATE_LIMIT", "300-M"),

		BackupSchedule: util.GetEnv("BACKUP_SCHEDULE"),
		BackupDir:      util.GetEnvDefault("BACKUP_DIR", "backups"),
		BackupKeep:     int(util.GetIntEnvDefault("BACKUP_KEEP", 7)),
	}
	return nil
}
