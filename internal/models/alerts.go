package models

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"HibiscusHood/pkg/errors"
	"HibiscusHood/pkg/logger"
	"HibiscusHood/pkg/metrics"
	"HibiscusHood/pkg/notification"
)

// 警报严重级别
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// 警报状态
const (
	AlertOpen     = "open"
	AlertResolved = "resolved"
	AlertClosed   = "closed"
)

// 升级层级，只允许沿固定顺序前进，done 为终态
const (
	TierLocality   = "locality"
	TierTownOrCity = "town_or_city"
	TierDistrict   = "district"
	TierState      = "state"
	TierDone       = "done"
)

// TierOrder 固定升级顺序
var TierOrder = []string{TierLocality, TierTownOrCity, TierDistrict, TierState, TierDone}

// NextTier 返回下一层级，终态返回空串
func NextTier(tier string) string {
	for i, t := range TierOrder {
		if t == tier && i+1 < len(TierOrder) {
			return TierOrder[i+1]
		}
	}
	return ""
}

// Alert 求助警报
type Alert struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	IncidentNumber string `json:"incidentNumber" gorm:"size:64;uniqueIndex"`
	ReporterID     uint   `json:"reporterId" gorm:"index"`
	Category       string `json:"category" gorm:"size:64"` // fire / medical / safety / other
	Description    string `json:"description" gorm:"size:2048"`
	Severity       string `json:"severity" gorm:"size:16"`
	Contact        string `json:"contact" gorm:"size:128"`
	Location       `json:"location" gorm:"embedded"`
	Status         string `json:"status" gorm:"size:16;index"`

	EscalationTier  string     `json:"escalationTier" gorm:"size:32"`
	TierAdvancedAt  *time.Time `json:"tierAdvancedAt"`
	NotifiedUserIDs string     `json:"-" gorm:"type:text"` // JSON array，已通知过的用户去重集
	ResponderCount  int        `json:"responderCount"`     // 冗余计数，巡检跳过检查用

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// ResponderRecord 响应者记录
// (alert_id, user_id) 唯一索引是并发去重的唯一手段，不加进程内锁
type ResponderRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	AlertID   uint      `json:"alertId" gorm:"uniqueIndex:idx_alert_responder"`
	UserID    uint      `json:"userId" gorm:"uniqueIndex:idx_alert_responder"`
	Status    string    `json:"status" gorm:"size:16"` // active / cancelled
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

const (
	ResponderActive    = "active"
	ResponderCancelled = "cancelled"
)

func (a *Alert) notifiedSet() map[uint]struct{} {
	set := make(map[uint]struct{})
	if a.NotifiedUserIDs == "" {
		return set
	}
	var ids []uint
	if err := json.Unmarshal([]byte(a.NotifiedUserIDs), &ids); err != nil {
		return set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

type CreateAlertInput struct {
	ReporterID  uint
	Category    string
	Description string
	Severity    string
	Location    Location
	Contact     string
}

// CreateAlert 创建警报
// 高危警报绕过冷却并立刻广播全部层级；其余从 locality 起步，
// 后续由升级巡检逐层放大
func CreateAlert(ctx context.Context, db *gorm.DB, guard *CooldownGuard, dispatcher *notification.Dispatcher, in CreateAlertInput) (*Alert, error) {
	switch {
	case in.ReporterID == 0:
		return nil, errors.Validation("reporterId")
	case in.Category == "":
		return nil, errors.Validation("category")
	case in.Description == "":
		return nil, errors.Validation("description")
	case in.Location.Locality == "" || in.Location.State == "":
		return nil, errors.Validation("location")
	}
	severity := NormalizeSeverity(in.Severity)
	if severity == "" {
		return nil, errors.Validation("severity")
	}

	if severity != SeverityHigh && guard != nil {
		if err := guard.Allow(ctx, in.ReporterID, "alert"); err != nil {
			return nil, err
		}
	}

	alert := &Alert{
		IncidentNumber: uuid.NewString(),
		ReporterID:     in.ReporterID,
		Category:       in.Category,
		Description:    in.Description,
		Severity:       severity,
		Contact:        in.Contact,
		Location:       in.Location,
		Status:         AlertOpen,
		EscalationTier: TierLocality,
	}
	if err := db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, errors.Wrap(err, "create alert")
	}
	metrics.Default().AlertCreated(severity)

	if dispatcher != nil {
		if severity == SeverityHigh {
			// 高危不走定时路径：state 层即全量覆盖，一次广播全部层级
			BroadcastTier(ctx, db, dispatcher, alert, TierState)
			now := time.Now()
			// 去重集丢失会让后续层级重复打扰同一批用户，落库失败必须留痕
			if err := db.WithContext(ctx).Model(alert).Updates(map[string]interface{}{
				"escalation_tier":   TierDone,
				"tier_advanced_at":  &now,
				"notified_user_ids": alert.NotifiedUserIDs,
			}).Error; err != nil {
				logger.Warn("persist escalation state failed",
					zap.Uint("alertID", alert.ID), zap.Error(err))
			}
			alert.EscalationTier = TierDone
		} else {
			BroadcastTier(ctx, db, dispatcher, alert, TierLocality)
			if err := db.WithContext(ctx).Model(alert).
				Update("notified_user_ids", alert.NotifiedUserIDs).Error; err != nil {
				logger.Warn("persist notified set failed",
					zap.Uint("alertID", alert.ID), zap.Error(err))
			}
		}
	}
	return alert, nil
}

// BroadcastTier 向某层级的地理单元广播，接收者扣除已通知集与报告人
// 分发后把新触达的用户并入去重集（只改内存，落库由调用方决定时机）
func BroadcastTier(ctx context.Context, db *gorm.DB, dispatcher *notification.Dispatcher, alert *Alert, tier string) notification.DispatchResult {
	users, err := UsersInUnit(db, tier, alert.Location)
	if err != nil {
		return notification.DispatchResult{}
	}

	notified := alert.notifiedSet()
	var recipients []notification.Recipient
	newIDs := make([]uint, 0, len(users))
	for _, u := range users {
		if u.ID == alert.ReporterID {
			continue
		}
		if _, seen := notified[u.ID]; seen {
			continue
		}
		recipients = append(recipients, notification.Recipient{UserID: u.ID, Tokens: u.Tokens()})
		newIDs = append(newIDs, u.ID)
	}
	if len(recipients) == 0 {
		return notification.DispatchResult{}
	}

	result := dispatcher.Dispatch(ctx, recipients, notification.PushMessage{
		Title:    alertTitle(alert),
		Body:     alert.Description,
		Category: "alert",
		Urgency:  alertUrgency(alert.Severity),
		Data: map[string]interface{}{
			"alertId":  alert.ID,
			"tier":     tier,
			"severity": alert.Severity,
		},
	})

	for id := range notified {
		newIDs = append(newIDs, id)
	}
	if b, err := json.Marshal(newIDs); err == nil {
		alert.NotifiedUserIDs = string(b)
	}
	return result
}

func alertTitle(a *Alert) string {
	if a.Severity == SeverityHigh {
		return "紧急求助：" + a.Category
	}
	return "社区警报：" + a.Category
}

func alertUrgency(severity string) string {
	if severity == SeverityHigh {
		return "high"
	}
	return "normal"
}

// AdvanceTier 按当前层级做 CAS 推进，保证层级只会单向前进
// 返回是否真的推进了（并发巡检下失败方拿到 false）
func AdvanceTier(db *gorm.DB, alert *Alert, from, to string, now time.Time) (bool, error) {
	res := db.Model(&Alert{}).
		Where("id = ? AND escalation_tier = ?", alert.ID, from).
		Updates(map[string]interface{}{
			"escalation_tier":   to,
			"tier_advanced_at":  &now,
			"notified_user_ids": alert.NotifiedUserIDs,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	alert.EscalationTier = to
	alert.TierAdvancedAt = &now
	return true, nil
}

// RespondToAlert 用户响应警报
// 重复响应是幂等成功；报告人不能响应自己的警报
func RespondToAlert(ctx context.Context, db *gorm.DB, alertID, userID uint) error {
	var alert Alert
	if err := db.WithContext(ctx).First(&alert, alertID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("alert", alertID)
		}
		return errors.Wrap(err, "load alert")
	}
	if alert.ReporterID == userID {
		return errors.Forbidden("cannot respond to your own alert")
	}

	record := ResponderRecord{AlertID: alertID, UserID: userID, Status: ResponderActive}
	err := db.WithContext(ctx).Create(&record).Error
	if err == nil {
		metrics.Default().ResponderClaimed()
		return bumpResponderCount(db, alertID, 1)
	}
	if !stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(err, "create responder record")
	}

	// 唯一键冲突：记录已存在。已取消的旧记录重新激活并补计数，
	// 活跃记录直接视为成功，不产生第二条也不重复计数
	var existing ResponderRecord
	if err := db.WithContext(ctx).
		Where("alert_id = ? AND user_id = ?", alertID, userID).
		First(&existing).Error; err != nil {
		return errors.Wrap(err, "load responder record")
	}
	if existing.Status == ResponderActive {
		return nil
	}
	res := db.WithContext(ctx).Model(&ResponderRecord{}).
		Where("id = ? AND status = ?", existing.ID, ResponderCancelled).
		Update("status", ResponderActive)
	if res.Error != nil {
		return errors.Wrap(res.Error, "reactivate responder record")
	}
	if res.RowsAffected == 0 {
		// 并发请求已经激活过了
		return nil
	}
	return bumpResponderCount(db, alertID, 1)
}

// CancelResponse 取消响应
func CancelResponse(ctx context.Context, db *gorm.DB, alertID, userID uint) error {
	res := db.WithContext(ctx).Model(&ResponderRecord{}).
		Where("alert_id = ? AND user_id = ? AND status = ?", alertID, userID, ResponderActive).
		Update("status", ResponderCancelled)
	if res.Error != nil {
		return errors.Wrap(res.Error, "cancel responder record")
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return bumpResponderCount(db, alertID, -1)
}

func bumpResponderCount(db *gorm.DB, alertID uint, delta int) error {
	return db.Model(&Alert{}).Where("id = ?", alertID).
		UpdateColumn("responder_count", gorm.Expr("responder_count + ?", delta)).Error
}

// LiveResponderCount 活跃响应者实数，冗余计数的自愈回退
func LiveResponderCount(db *gorm.DB, alertID uint) (int64, error) {
	var count int64
	err := db.Model(&ResponderRecord{}).
		Where("alert_id = ? AND status = ?", alertID, ResponderActive).
		Count(&count).Error
	return count, err
}

// SetAlertStatus 报告人结束警报（resolved / closed）
func SetAlertStatus(ctx context.Context, db *gorm.DB, alertID, actorID uint, status string) (*Alert, error) {
	if status != AlertResolved && status != AlertClosed {
		return nil, errors.Validation("status")
	}
	var alert Alert
	if err := db.WithContext(ctx).First(&alert, alertID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("alert", alertID)
		}
		return nil, errors.Wrap(err, "load alert")
	}
	if alert.ReporterID != actorID {
		return nil, errors.Forbidden("only the reporter can close an alert")
	}
	if alert.Status != AlertOpen {
		return &alert, nil
	}
	if err := db.WithContext(ctx).Model(&alert).Update("status", status).Error; err != nil {
		return nil, errors.Wrap(err, "update alert status")
	}
	alert.Status = status
	return &alert, nil
}

// RecentOpenAlerts 巡检取数：活跃窗口内、仍然 open 的警报，最新在前
func RecentOpenAlerts(db *gorm.DB, since time.Time, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var alerts []Alert
	err := db.Where("status = ? AND created_at >= ?", AlertOpen, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

// NormalizeSeverity 边界别名归一，状态机内部只认小写规范值
func NormalizeSeverity(s string) string {
	switch s {
	case "high", "High", "HIGH":
		return SeverityHigh
	case "medium", "Medium", "MEDIUM":
		return SeverityMedium
	case "low", "Low", "LOW":
		return SeverityLow
	}
	return ""
}
