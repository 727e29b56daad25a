package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"HibiscusHood/internal/models"
	"HibiscusHood/pkg/cache"
	"HibiscusHood/pkg/config"
	"HibiscusHood/pkg/notification"
)

var testLoc = models.Location{
	Locality:   "梧桐里",
	TownOrCity: "望江镇",
	District:   "临江区",
	State:      "江南省",
}

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, config.Load())

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	dispatcher := notification.NewDispatcher(db, nil, models.PrunePushTokens, 0)
	guard := models.NewCooldownGuard(cache.NewLocalCache(cache.LocalConfig{
		DefaultExpiration: time.Minute,
		CleanupInterval:   time.Minute,
	}), 5*time.Minute)

	engine := gin.New()
	NewHandlers(db, dispatcher, guard).Register(engine)
	return engine, db
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{DisplayName: name, Location: testLoc, Enabled: true}
	require.NoError(t, db.Create(u).Error)
	return u
}

func call(engine *gin.Engine, method, path string, userID uint, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api"+path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatUint(uint64(userID), 10))
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestMissingCallerIdentity(t *testing.T) {
	engine, _ := newTestServer(t)
	w := call(engine, http.MethodPost, "/alert/", 0,
		`{"category":"utility","description":"x","severity":"medium"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	engine, db := newTestServer(t)
	reporter := seedUser(t, db, "reporter")
	helper := seedUser(t, db, "helper")

	payload := fmt.Sprintf(`{"category":"utility","description":"小区停电","severity":"medium",
		"location":{"locality":%q,"townOrCity":%q,"district":%q,"state":%q}}`,
		testLoc.Locality, testLoc.TownOrCity, testLoc.District, testLoc.State)
	w := call(engine, http.MethodPost, "/alert/", reporter.ID, payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created struct {
		Data struct {
			Alert models.Alert `json:"alert"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	alertID := created.Data.Alert.ID
	require.NotZero(t, alertID)

	// 响应是幂等的：重复调用同样成功
	path := fmt.Sprintf("/alert/%d/respond", alertID)
	assert.Equal(t, http.StatusOK, call(engine, http.MethodPost, path, helper.ID, "").Code)
	assert.Equal(t, http.StatusOK, call(engine, http.MethodPost, path, helper.ID, "").Code)

	// 报告人不能响应自己的警报
	w = call(engine, http.MethodPost, path, reporter.ID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 报告人关闭警报，别名 "Close" 归一为 closed
	w = call(engine, http.MethodPut, fmt.Sprintf("/alert/%d/status", alertID), reporter.ID,
		`{"status":"Close"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var alert models.Alert
	require.NoError(t, db.First(&alert, alertID).Error)
	assert.Equal(t, models.AlertClosed, alert.Status)
}

func TestAlertCooldownOverHTTP(t *testing.T) {
	engine, db := newTestServer(t)
	reporter := seedUser(t, db, "reporter")

	payload := fmt.Sprintf(`{"category":"utility","description":"噪音扰民","severity":"low",
		"location":{"locality":%q,"townOrCity":%q,"district":%q,"state":%q}}`,
		testLoc.Locality, testLoc.TownOrCity, testLoc.District, testLoc.State)

	require.Equal(t, http.StatusOK, call(engine, http.MethodPost, "/alert/", reporter.ID, payload).Code)

	w := call(engine, http.MethodPost, "/alert/", reporter.ID, payload)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// 高危不受冷却限制
	high := strings.Replace(payload, `"severity":"low"`, `"severity":"high"`, 1)
	assert.Equal(t, http.StatusOK, call(engine, http.MethodPost, "/alert/", reporter.ID, high).Code)
}

func TestTransactionFlowOverHTTP(t *testing.T) {
	engine, db := newTestServer(t)
	requester := seedUser(t, db, "requester")
	provider := seedUser(t, db, "provider")

	w := call(engine, http.MethodPost, "/transaction/", requester.ID,
		`{"kind":"request","category":"repair","description":"修水管","amountCents":2500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created struct {
		Data struct {
			Transaction models.ServiceTransaction `json:"transaction"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	txID := created.Data.Transaction.ID
	require.NotZero(t, txID)

	// open -> completed 不允许，返回 409
	w = call(engine, http.MethodPut, fmt.Sprintf("/transaction/%d/status", txID), requester.ID,
		`{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK,
		call(engine, http.MethodPost, fmt.Sprintf("/transaction/%d/accept", txID), provider.ID, "").Code)

	// 大小写与连字符别名在边界归一
	w = call(engine, http.MethodPost, fmt.Sprintf("/transaction/%d/confirm", txID), requester.ID,
		`{"role":"requester"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tx models.ServiceTransaction
	require.NoError(t, db.First(&tx, txID).Error)
	assert.Equal(t, models.TxCompleted, tx.Status)

	// 余额读取
	w = call(engine, http.MethodGet, "/user/balance", provider.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Data struct {
			GeneratedBalance int64 `json:"generatedBalance"`
			SpentBalance     int64 `json:"spentBalance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.EqualValues(t, 2500, balance.Data.GeneratedBalance)
}

func TestTransactionStatusAliasOverHTTP(t *testing.T) {
	engine, db := newTestServer(t)
	requester := seedUser(t, db, "requester")

	w := call(engine, http.MethodPost, "/transaction/", requester.ID,
		`{"kind":"offer","category":"tutoring","description":"义务家教"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var created struct {
		Data struct {
			Transaction models.ServiceTransaction `json:"transaction"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// "Canceled"（美式单 l）归一为 cancelled
	w = call(engine, http.MethodPut, fmt.Sprintf("/transaction/%d/status", created.Data.Transaction.ID),
		requester.ID, `{"status":"Canceled"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tx models.ServiceTransaction
	require.NoError(t, db.First(&tx, created.Data.Transaction.ID).Error)
	assert.Equal(t, models.TxCancelled, tx.Status)
}

func TestNotificationSurfaceOverHTTP(t *testing.T) {
	engine, db := newTestServer(t)
	reporter := seedUser(t, db, "reporter")
	neighbor := seedUser(t, db, "neighbor")

	payload := fmt.Sprintf(`{"category":"safety","description":"可疑人员徘徊","severity":"high",
		"location":{"locality":%q,"townOrCity":%q,"district":%q,"state":%q}}`,
		testLoc.Locality, testLoc.TownOrCity, testLoc.District, testLoc.State)
	require.Equal(t, http.StatusOK, call(engine, http.MethodPost, "/alert/", reporter.ID, payload).Code)

	w := call(engine, http.MethodGet, "/notification/unread-count", neighbor.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var count struct {
		Data struct {
			Count int64 `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.EqualValues(t, 1, count.Data.Count)

	var rec notification.InternalNotification
	require.NoError(t, db.Where("user_id = ?", neighbor.ID).First(&rec).Error)
	require.Equal(t, http.StatusOK,
		call(engine, http.MethodPut, fmt.Sprintf("/notification/read/%d", rec.ID), neighbor.ID, "").Code)

	w = call(engine, http.MethodGet, "/notification/unread-count", neighbor.ID, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.Zero(t, count.Data.Count)
}

func TestHealthCheck(t *testing.T) {
	engine, _ := newTestServer(t)
	w := call(engine, http.MethodGet, "/system/health", 0, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
