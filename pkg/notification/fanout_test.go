package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakePush struct {
	batches    [][]string
	deadTokens map[string]bool
	failTokens map[string]bool
}

func (f *fakePush) SendBatch(ctx context.Context, tokens []string, msg PushMessage) ([]PushTicket, error) {
	f.batches = append(f.batches, tokens)
	tickets := make([]PushTicket, 0, len(tokens))
	for _, t := range tokens {
		if f.failTokens[t] {
			return nil, errors.New("channel unavailable")
		}
		tickets = append(tickets, PushTicket{Token: t, OK: !f.deadTokens[t], DeadToken: f.deadTokens[t]})
	}
	return tickets, nil
}

func newNotificationDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&InternalNotification{}))
	return db
}

func TestDispatchPersistsInternalNotifications(t *testing.T) {
	db := newNotificationDB(t)
	d := NewDispatcher(db, nil, nil, 0)

	result := d.Dispatch(context.Background(), []Recipient{
		{UserID: 1, Tokens: []string{"tok-1"}},
		{UserID: 2},
		{UserID: 3, Tokens: []string{"tok-3a", "tok-3b"}},
	}, PushMessage{Title: "停水通知", Body: "梧桐里今晚停水", Category: "alert", Urgency: "normal"})

	assert.Equal(t, 3, result.Persisted)

	var records []InternalNotification
	require.NoError(t, db.Order("user_id").Find(&records).Error)
	require.Len(t, records, 3)
	assert.Equal(t, "停水通知", records[0].Title)
	assert.False(t, records[0].Read)
}

func TestDispatchEmptyRecipients(t *testing.T) {
	db := newNotificationDB(t)
	push := &fakePush{}
	d := NewDispatcher(db, push, nil, 0)

	result := d.Dispatch(context.Background(), nil, PushMessage{Title: "x"})
	assert.Zero(t, result.Persisted)
	assert.Empty(t, push.batches)
}

func TestDispatchChunksTokens(t *testing.T) {
	db := newNotificationDB(t)
	push := &fakePush{}
	d := NewDispatcher(db, push, nil, 2)

	result := d.Dispatch(context.Background(), []Recipient{
		{UserID: 1, Tokens: []string{"a", "b", "c"}},
		{UserID: 2, Tokens: []string{"d", "e"}},
	}, PushMessage{Title: "t"})

	assert.Equal(t, 3, result.BatchesSent)
	require.Len(t, push.batches, 3)
	for _, batch := range push.batches {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

func TestDispatchContinuesAfterBatchFailure(t *testing.T) {
	db := newNotificationDB(t)
	push := &fakePush{failTokens: map[string]bool{"c": true}}
	d := NewDispatcher(db, push, nil, 2)

	result := d.Dispatch(context.Background(), []Recipient{
		{UserID: 1, Tokens: []string{"a", "b", "c", "d", "e"}},
	}, PushMessage{Title: "t"})

	// 中间批失败不影响其余批次，站内通知也已落库
	assert.Equal(t, 1, result.BatchesErred)
	assert.Equal(t, 2, result.BatchesSent)
	assert.Equal(t, 1, result.Persisted)
}

func TestDispatchPrunesDeadTokens(t *testing.T) {
	db := newNotificationDB(t)
	push := &fakePush{deadTokens: map[string]bool{"dead-1": true, "dead-2": true}}

	pruned := make(map[uint][]string)
	prune := func(db *gorm.DB, userID uint, tokens []string) error {
		pruned[userID] = append(pruned[userID], tokens...)
		return nil
	}
	d := NewDispatcher(db, push, prune, 0)

	result := d.Dispatch(context.Background(), []Recipient{
		{UserID: 1, Tokens: []string{"live-1", "dead-1"}},
		{UserID: 2, Tokens: []string{"dead-2"}},
	}, PushMessage{Title: "t"})

	assert.Equal(t, 2, result.TokensPruned)
	assert.ElementsMatch(t, []string{"dead-1"}, pruned[1])
	assert.ElementsMatch(t, []string{"dead-2"}, pruned[2])
}

func TestDispatchPruneFailureIsNonFatal(t *testing.T) {
	db := newNotificationDB(t)
	push := &fakePush{deadTokens: map[string]bool{"dead": true}}
	prune := func(db *gorm.DB, userID uint, tokens []string) error {
		return errors.New("user row gone")
	}
	d := NewDispatcher(db, push, prune, 0)

	result := d.Dispatch(context.Background(), []Recipient{
		{UserID: 1, Tokens: []string{"dead"}},
	}, PushMessage{Title: "t"})

	assert.Zero(t, result.TokensPruned)
	assert.Equal(t, 1, result.Persisted)
}

func TestChunkTokens(t *testing.T) {
	assert.Nil(t, ChunkTokens(nil, 2))

	chunks := ChunkTokens([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"e"}, chunks[2])

	chunks = ChunkTokens([]string{"a"}, 500)
	require.Len(t, chunks, 1)
}
