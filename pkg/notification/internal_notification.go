package notification

import (
	"time"

	"gorm.io/gorm"
)

// InternalNotification 站内通知
// 同步落库是通知链路的可靠部分；推送只是尽力而为的补充
type InternalNotification struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   uint   `json:"userId" gorm:"index"`
	Title    string `json:"title" gorm:"size:255"`
	Content  string `json:"content" gorm:"size:1024"`
	Category string `json:"category" gorm:"size:64"` // alert / transaction / system
	Urgency  string `json:"urgency" gorm:"size:32"`  // high / normal
	Extras   string `json:"extras" gorm:"type:text"` // JSON 附加数据
	// read 是 MySQL 保留字，列名用 is_read 避免裸 SQL 条件需要加引号
	Read      bool      `json:"read" gorm:"column:is_read"` // 只允许后续更新这一个字段
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func ListNotifications(db *gorm.DB, userID uint, limit int) ([]InternalNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var items []InternalNotification
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func UnreadCount(db *gorm.DB, userID uint) (int64, error) {
	var count int64
	err := db.Model(&InternalNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func MarkRead(db *gorm.DB, userID, id uint) error {
	return db.Model(&InternalNotification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true).Error
}

func MarkAllRead(db *gorm.DB, userID uint) error {
	return db.Model(&InternalNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
}
