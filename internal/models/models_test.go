package models

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 每个测试一个独立的内存库
// TranslateError 与生产配置一致，唯一键冲突语义必须参与测试
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string, loc Location, tokens ...string) *User {
	t.Helper()
	u := &User{DisplayName: name, Location: loc, Enabled: true}
	u.SetTokens(tokens)
	require.NoError(t, db.Create(u).Error)
	return u
}

var testLoc = Location{
	Locality:   "梧桐里",
	TownOrCity: "望江镇",
	District:   "临江区",
	State:      "江南省",
}
