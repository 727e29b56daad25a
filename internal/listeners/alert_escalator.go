package listeners

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"HibiscusHood/internal/models"
	"HibiscusHood/pkg/logger"
	"HibiscusHood/pkg/metrics"
	"HibiscusHood/pkg/notification"
	"HibiscusHood/pkg/scheduler"
)

// EscalatorConfig 升级巡检配置
type EscalatorConfig struct {
	LocalityDelay time.Duration // locality -> town_or_city
	TownCityDelay time.Duration // town_or_city -> district
	DistrictDelay time.Duration // district -> state
	StateDelay    time.Duration // state -> done，缺省沿用 DistrictDelay
	ActiveWindow  time.Duration // 只巡检窗口内创建的警报
	Page          int           // 单次巡检上限
}

// Escalator 警报升级巡检
//
// 单个逻辑定时器驱动，一次 tick 内顺序处理，警报间互不阻塞：
// 单条出错记日志后继续。时钟注入，测试里可以直接拨表。
type Escalator struct {
	db         *gorm.DB
	dispatcher *notification.Dispatcher
	clock      scheduler.Clock
	cfg        EscalatorConfig
}

func NewEscalator(db *gorm.DB, dispatcher *notification.Dispatcher, clock scheduler.Clock, cfg EscalatorConfig) *Escalator {
	if clock == nil {
		clock = scheduler.RealClock()
	}
	if cfg.LocalityDelay <= 0 {
		cfg.LocalityDelay = 120 * time.Second
	}
	if cfg.TownCityDelay <= 0 {
		cfg.TownCityDelay = 300 * time.Second
	}
	if cfg.DistrictDelay <= 0 {
		cfg.DistrictDelay = 600 * time.Second
	}
	if cfg.StateDelay <= 0 {
		cfg.StateDelay = cfg.DistrictDelay
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = 24 * time.Hour
	}
	if cfg.Page <= 0 {
		cfg.Page = 100
	}
	return &Escalator{db: db, dispatcher: dispatcher, clock: clock, cfg: cfg}
}

// Run 实现 scheduler.Job，由固定间隔的调度器驱动
func (e *Escalator) Run(ctx context.Context) {
	now := e.clock.Now()
	alerts, err := models.RecentOpenAlerts(e.db, now.Add(-e.cfg.ActiveWindow), e.cfg.Page)
	if err != nil {
		logger.Error("escalation fetch failed", zap.Error(err))
		return
	}
	for i := range alerts {
		if err := e.process(ctx, &alerts[i], now); err != nil {
			logger.Warn("escalate alert failed",
				zap.Uint("alertID", alerts[i].ID), zap.Error(err))
		}
	}
}

func (e *Escalator) process(ctx context.Context, alert *models.Alert, now time.Time) error {
	if alert.Status != models.AlertOpen {
		return nil
	}
	// 高危在创建时已全层级广播，不走定时路径
	if alert.Severity == models.SeverityHigh {
		return nil
	}
	if alert.EscalationTier == models.TierDone {
		return nil
	}

	// 已有响应者就不再扩散；冗余计数为零时查实数自愈
	if alert.ResponderCount > 0 {
		return nil
	}
	live, err := models.LiveResponderCount(e.db, alert.ID)
	if err != nil {
		return err
	}
	if live > 0 {
		return e.db.Model(&models.Alert{}).Where("id = ?", alert.ID).
			UpdateColumn("responder_count", live).Error
	}

	delay, ok := e.delayFor(alert.EscalationTier)
	if !ok {
		return nil
	}
	base := alert.CreatedAt
	if alert.TierAdvancedAt != nil {
		base = *alert.TierAdvancedAt
	}
	if now.Sub(base) < delay {
		return nil
	}

	next := models.NextTier(alert.EscalationTier)
	if next == "" {
		return nil
	}

	// 先广播新层级，再 CAS 落库；层级只会单向前进，并发 tick 下
	// 输掉 CAS 的一方放弃本次推进
	if next != models.TierDone {
		models.BroadcastTier(ctx, e.db, e.dispatcher, alert, next)
	}
	advanced, err := models.AdvanceTier(e.db, alert, alert.EscalationTier, next, now)
	if err != nil {
		return err
	}
	if advanced {
		metrics.Default().Escalated(next)
		logger.Info("alert escalated",
			zap.Uint("alertID", alert.ID), zap.String("tier", next))
	}
	return nil
}

func (e *Escalator) delayFor(tier string) (time.Duration, bool) {
	switch tier {
	case models.TierLocality:
		return e.cfg.LocalityDelay, true
	case models.TierTownOrCity:
		return e.cfg.TownCityDelay, true
	case models.TierDistrict:
		return e.cfg.DistrictDelay, true
	case models.TierState:
		return e.cfg.StateDelay, true
	}
	return 0, false
}
