package models

import (
	"gorm.io/gorm"

	"HibiscusHood/pkg/notification"
)

// Migrate 建表与索引
// 唯一索引（responder、interest、台账）是并发正确性的一部分，
// 不是可选优化
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Alert{},
		&ResponderRecord{},
		&ServiceTransaction{},
		&TransactionInterest{},
		&RevenueLedgerEntry{},
		&notification.InternalNotification{},
	)
}
