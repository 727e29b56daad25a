package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HibiscusHood/pkg/cache"
	"HibiscusHood/pkg/errors"
	"HibiscusHood/pkg/notification"
)

func TestCreateAlertValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: 1, Category: "fire", Severity: "medium", Location: testLoc,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))

	_, err = CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: 1, Category: "fire", Description: "厨房起火", Severity: "urgent", Location: testLoc,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
}

func TestCreateAlertStartsAtLocality(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)

	alert, err := CreateAlert(context.Background(), db, nil, nil, CreateAlertInput{
		ReporterID:  reporter.ID,
		Category:    "safety",
		Description: "路灯坏了，巷子全黑",
		Severity:    "Medium",
		Location:    testLoc,
	})
	require.NoError(t, err)
	assert.Equal(t, AlertOpen, alert.Status)
	assert.Equal(t, TierLocality, alert.EscalationTier)
	assert.Equal(t, SeverityMedium, alert.Severity)
	assert.NotEmpty(t, alert.IncidentNumber)
}

func TestHighSeverityBroadcastsAllTiersAtCreation(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	// 同小区、同区不同镇、同省不同区各一人
	seedUser(t, db, "neighbor", testLoc)
	seedUser(t, db, "townmate", Location{
		Locality: "别的里", TownOrCity: "别的镇", District: "临江区", State: "江南省",
	})
	seedUser(t, db, "statemate", Location{
		Locality: "远里", TownOrCity: "远镇", District: "远区", State: "江南省",
	})

	dispatcher := notification.NewDispatcher(db, nil, PrunePushTokens, 0)
	alert, err := CreateAlert(context.Background(), db, nil, dispatcher, CreateAlertInput{
		ReporterID:  reporter.ID,
		Category:    "medical",
		Description: "老人晕倒急需帮助",
		Severity:    "high",
		Location:    testLoc,
	})
	require.NoError(t, err)
	assert.Equal(t, TierDone, alert.EscalationTier)

	// 全省覆盖即全部层级的并集；报告人自己不收通知
	var count int64
	require.NoError(t, db.Model(&notification.InternalNotification{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
	var mine int64
	require.NoError(t, db.Model(&notification.InternalNotification{}).
		Where("user_id = ?", reporter.ID).Count(&mine).Error)
	assert.Zero(t, mine)

	// 终止层级和去重集必须落库，否则巡检会重新升级、重复打扰
	var got Alert
	require.NoError(t, db.First(&got, alert.ID).Error)
	assert.Equal(t, TierDone, got.EscalationTier)
	assert.Len(t, got.notifiedSet(), 3)
}

func TestBroadcastPersistsNotifiedSet(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	neighbor := seedUser(t, db, "neighbor", testLoc)

	dispatcher := notification.NewDispatcher(db, nil, PrunePushTokens, 0)
	alert, err := CreateAlert(context.Background(), db, nil, dispatcher, CreateAlertInput{
		ReporterID:  reporter.ID,
		Category:    "safety",
		Description: "楼下有人撬门",
		Severity:    "medium",
		Location:    testLoc,
	})
	require.NoError(t, err)

	var got Alert
	require.NoError(t, db.First(&got, alert.ID).Error)
	_, ok := got.notifiedSet()[neighbor.ID]
	assert.True(t, ok, "locality recipient should be in the persisted dedup set")
}

func TestCooldownBlocksSecondAlert(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	guard := NewCooldownGuard(cache.NewLocalCache(cache.LocalConfig{}), time.Hour)
	ctx := context.Background()

	_, err := CreateAlert(ctx, db, guard, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "井盖丢失", Severity: "low", Location: testLoc,
	})
	require.NoError(t, err)

	_, err = CreateAlert(ctx, db, guard, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "还是井盖", Severity: "low", Location: testLoc,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeCooldown, errors.GetCode(err))
	cerr, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Greater(t, cerr.RetryAfter, time.Duration(0))

	// 高危不受冷却限制
	_, err = CreateAlert(ctx, db, guard, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "fire",
		Description: "楼道冒烟", Severity: "high", Location: testLoc,
	})
	require.NoError(t, err)
}

func TestRespondIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	helper := seedUser(t, db, "helper", testLoc)
	ctx := context.Background()

	alert, err := CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "有陌生人翻墙", Severity: "medium", Location: testLoc,
	})
	require.NoError(t, err)

	require.NoError(t, RespondToAlert(ctx, db, alert.ID, helper.ID))
	require.NoError(t, RespondToAlert(ctx, db, alert.ID, helper.ID))

	var records int64
	require.NoError(t, db.Model(&ResponderRecord{}).
		Where("alert_id = ? AND status = ?", alert.ID, ResponderActive).
		Count(&records).Error)
	assert.EqualValues(t, 1, records)

	var got Alert
	require.NoError(t, db.First(&got, alert.ID).Error)
	assert.Equal(t, 1, got.ResponderCount)
}

func TestReporterCannotRespondToOwnAlert(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	ctx := context.Background()

	alert, err := CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "快递被偷", Severity: "medium", Location: testLoc,
	})
	require.NoError(t, err)

	err = RespondToAlert(ctx, db, alert.ID, reporter.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodeForbidden, errors.GetCode(err))

	var records int64
	require.NoError(t, db.Model(&ResponderRecord{}).Where("alert_id = ?", alert.ID).Count(&records).Error)
	assert.Zero(t, records)
}

func TestCancelAndReactivateResponse(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	helper := seedUser(t, db, "helper", testLoc)
	ctx := context.Background()

	alert, err := CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "宠物走失", Severity: "low", Location: testLoc,
	})
	require.NoError(t, err)

	require.NoError(t, RespondToAlert(ctx, db, alert.ID, helper.ID))
	require.NoError(t, CancelResponse(ctx, db, alert.ID, helper.ID))

	var got Alert
	require.NoError(t, db.First(&got, alert.ID).Error)
	assert.Equal(t, 0, got.ResponderCount)

	// 取消后再次响应：同一条记录重新激活，计数回到 1
	require.NoError(t, RespondToAlert(ctx, db, alert.ID, helper.ID))
	require.NoError(t, db.First(&got, alert.ID).Error)
	assert.Equal(t, 1, got.ResponderCount)

	var records int64
	require.NoError(t, db.Model(&ResponderRecord{}).Where("alert_id = ?", alert.ID).Count(&records).Error)
	assert.EqualValues(t, 1, records)
}

func TestAdvanceTierIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	ctx := context.Background()

	alert, err := CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "围墙倒塌", Severity: "medium", Location: testLoc,
	})
	require.NoError(t, err)

	now := time.Now()
	ok, err := AdvanceTier(db, alert, TierLocality, TierTownOrCity, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// 基于过期层级的推进会输掉 CAS，层级不会回退
	stale := &Alert{ID: alert.ID}
	ok, err = AdvanceTier(db, stale, TierLocality, TierTownOrCity, now)
	require.NoError(t, err)
	assert.False(t, ok)

	var got Alert
	require.NoError(t, db.First(&got, alert.ID).Error)
	assert.Equal(t, TierTownOrCity, got.EscalationTier)
}

func TestSetAlertStatusOwnership(t *testing.T) {
	db := newTestDB(t)
	reporter := seedUser(t, db, "reporter", testLoc)
	stranger := seedUser(t, db, "stranger", testLoc)
	ctx := context.Background()

	alert, err := CreateAlert(ctx, db, nil, nil, CreateAlertInput{
		ReporterID: reporter.ID, Category: "safety",
		Description: "树枝压线", Severity: "low", Location: testLoc,
	})
	require.NoError(t, err)

	_, err = SetAlertStatus(ctx, db, alert.ID, stranger.ID, AlertResolved)
	require.Error(t, err)
	assert.Equal(t, errors.CodeForbidden, errors.GetCode(err))

	got, err := SetAlertStatus(ctx, db, alert.ID, reporter.ID, AlertResolved)
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, got.Status)
}

func TestNextTierOrder(t *testing.T) {
	assert.Equal(t, TierTownOrCity, NextTier(TierLocality))
	assert.Equal(t, TierDistrict, NextTier(TierTownOrCity))
	assert.Equal(t, TierState, NextTier(TierDistrict))
	assert.Equal(t, TierDone, NextTier(TierState))
	assert.Equal(t, "", NextTier(TierDone))
}
