package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"HibiscusHood/pkg/notification"
)

// Location 四级地理归属：小区/街道 -> 城镇 -> 区县 -> 省/州
type Location struct {
	Locality   string `json:"locality" gorm:"size:128;index"`
	TownOrCity string `json:"townOrCity" gorm:"size:128;index"`
	District   string `json:"district" gorm:"size:128;index"`
	State      string `json:"state" gorm:"size:128;index"`
}

type User struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	DisplayName string `json:"displayName" gorm:"size:128"`
	Phone       string `json:"phone" gorm:"size:32"`
	Location    `json:"location" gorm:"embedded"`
	PushTokens  string `json:"-" gorm:"type:text"` // JSON array of push tokens

	// 交易完成后的累计金额（分）
	GeneratedBalance int64 `json:"generatedBalance"` // 作为提供方赚到的
	SpentBalance     int64 `json:"spentBalance"`     // 作为请求方花出去的

	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// Tokens 解析 token 集合，脏数据按空集处理
func (u *User) Tokens() []string {
	if u.PushTokens == "" {
		return nil
	}
	var tokens []string
	if err := json.Unmarshal([]byte(u.PushTokens), &tokens); err != nil {
		return nil
	}
	return tokens
}

func (u *User) SetTokens(tokens []string) {
	if len(tokens) == 0 {
		u.PushTokens = ""
		return
	}
	b, _ := json.Marshal(tokens)
	u.PushTokens = string(b)
}

func GetUser(db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UsersInUnit 地理单元内的全部可用用户
// tier 决定匹配哪一级：locality 精确到小区，state 覆盖全省
func UsersInUnit(db *gorm.DB, tier string, loc Location) ([]User, error) {
	q := db.Where("enabled = ?", true)
	switch tier {
	case TierLocality:
		q = q.Where("locality = ? AND town_or_city = ? AND district = ? AND state = ?",
			loc.Locality, loc.TownOrCity, loc.District, loc.State)
	case TierTownOrCity:
		q = q.Where("town_or_city = ? AND district = ? AND state = ?",
			loc.TownOrCity, loc.District, loc.State)
	case TierDistrict:
		q = q.Where("district = ? AND state = ?", loc.District, loc.State)
	case TierState:
		q = q.Where("state = ?", loc.State)
	default:
		return nil, nil
	}
	var users []User
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// PrunePushTokens 剪除通道报告永久失效的 token
// 作为 notification.PruneFunc 注入分发器
func PrunePushTokens(db *gorm.DB, userID uint, dead []string) error {
	if len(dead) == 0 {
		return nil
	}
	deadSet := make(map[string]struct{}, len(dead))
	for _, t := range dead {
		deadSet[t] = struct{}{}
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		var kept []string
		for _, t := range user.Tokens() {
			if _, gone := deadSet[t]; !gone {
				kept = append(kept, t)
			}
		}
		user.SetTokens(kept)
		return tx.Model(&User{}).Where("id = ?", userID).
			Update("push_tokens", user.PushTokens).Error
	})
}

// RecipientForUser 构造单用户的分发接收者
func RecipientForUser(db *gorm.DB, userID uint) ([]notification.Recipient, error) {
	user, err := GetUser(db, userID)
	if err != nil {
		return nil, err
	}
	return []notification.Recipient{{UserID: user.ID, Tokens: user.Tokens()}}, nil
}
