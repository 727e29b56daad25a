package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	handlers "HibiscusHood/internal/handler"
	"HibiscusHood/internal/listeners"
	"HibiscusHood/internal/models"
	"HibiscusHood/pkg/backup"
	"HibiscusHood/pkg/cache"
	"HibiscusHood/pkg/config"
	"HibiscusHood/pkg/logger"
	"HibiscusHood/pkg/metrics"
	"HibiscusHood/pkg/notification"
	"HibiscusHood/pkg/scheduler"
	"HibiscusHood/pkg/util"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Error("init database failed", zap.Error(err))
		return
	}
	if err := models.Migrate(db); err != nil {
		logger.Error("migrate failed", zap.Error(err))
		return
	}

	cacheClient, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("init cache failed", zap.Error(err))
		return
	}
	defer cacheClient.Close()

	var push notification.PushClient
	if cfg.PushEnabled {
		push = notification.NewExpoPush(notification.ExpoConfig{Endpoint: cfg.PushEndpoint})
	}
	dispatcher := notification.NewDispatcher(db, push, models.PrunePushTokens, cfg.PushBatchSize)
	cooldown := models.NewCooldownGuard(cacheClient, cfg.CooldownWindow)

	// 升级巡检：单个逻辑定时器
	sched := scheduler.New()
	defer sched.Stop()
	escalator := listeners.NewEscalator(db, dispatcher, sched.Clock(), listeners.EscalatorConfig{
		LocalityDelay: cfg.LocalityDelay,
		TownCityDelay: cfg.TownCityDelay,
		DistrictDelay: cfg.DistrictDelay,
		ActiveWindow:  cfg.ActiveWindow,
		Page:          cfg.EscalationPage,
	})
	sched.Every(cfg.EscalationTick, escalator)

	// 每日把系统快照写进日志，便于容量回顾
	cr := scheduler.NewCron(nil)
	_, _ = cr.AddWithCtx("0 6 * * *", func(ctx context.Context) {
		logger.Info("daily system snapshot", zap.Any("stats", metrics.CollectSystemStats()))
	})
	if cfg.BackupSchedule != "" {
		_, _ = cr.AddWithCtx(cfg.BackupSchedule, backup.Job(backup.Config{
			Driver: cfg.DBDriver,
			DSN:    cfg.DSN,
			Dir:    cfg.BackupDir,
			Keep:   cfg.BackupKeep,
		}))
	}
	cr.Start()
	defer cr.Stop()

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	handlers.NewHandlers(db, dispatcher, cooldown).Register(engine)

	logger.Info("server starting", zap.String("addr", cfg.Addr))
	if err := engine.Run(cfg.Addr); err != nil {
		logger.Error("server exited", zap.Error(err))
	}
}
