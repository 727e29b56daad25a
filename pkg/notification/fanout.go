package notification

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"HibiscusHood/pkg/logger"
	"HibiscusHood/pkg/metrics"
)

// Recipient 一次分发的接收者：用户与其当前的推送 token 集合
type Recipient struct {
	UserID uint
	Tokens []string
}

// PruneFunc 剪除某用户名下永久失效的 token
type PruneFunc func(db *gorm.DB, userID uint, tokens []string) error

// DispatchResult 一次分发的统计，测试与巡检日志使用
type DispatchResult struct {
	Persisted    int // 落库的站内通知数
	BatchesSent  int
	BatchesErred int
	TokensPruned int
}

// Dispatcher 通知分发器
//
// 分发分两步：先同步为每个接收者写一条站内通知（可靠部分），
// 再把全部 token 切批调用推送通道（尽力而为）。通道故障只记日志，
// 永远不向触发它的业务操作抛错。
type Dispatcher struct {
	db        *gorm.DB
	push      PushClient
	prune     PruneFunc
	batchSize int
}

func NewDispatcher(db *gorm.DB, push PushClient, prune PruneFunc, batchSize int) *Dispatcher {
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{db: db, push: push, prune: prune, batchSize: batchSize}
}

// Dispatch 向接收者集合分发一条通知
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Recipient, msg PushMessage) DispatchResult {
	var result DispatchResult
	if len(recipients) == 0 {
		return result
	}

	extras := ""
	if msg.Data != nil {
		if b, err := json.Marshal(msg.Data); err == nil {
			extras = string(b)
		}
	}

	// 1. 同步落库，站内历史不依赖推送是否成功
	tokenOwner := make(map[string]uint)
	var tokens []string
	for _, r := range recipients {
		rec := InternalNotification{
			UserID:   r.UserID,
			Title:    msg.Title,
			Content:  msg.Body,
			Category: msg.Category,
			Urgency:  msg.Urgency,
			Extras:   extras,
		}
		if err := d.db.WithContext(ctx).Create(&rec).Error; err != nil {
			logger.Error("persist notification failed",
				zap.Uint("userID", r.UserID), zap.Error(err))
			continue
		}
		result.Persisted++
		for _, t := range r.Tokens {
			if t == "" {
				continue
			}
			tokenOwner[t] = r.UserID
			tokens = append(tokens, t)
		}
	}
	metrics.Default().NotificationsPersisted(result.Persisted)

	if d.push == nil || len(tokens) == 0 {
		return result
	}

	// 2. 切批推送，单批失败不影响其余批次
	deadByOwner := make(map[uint][]string)
	for _, batch := range ChunkTokens(tokens, d.batchSize) {
		tickets, err := d.push.SendBatch(ctx, batch, msg)
		if err != nil {
			result.BatchesErred++
			metrics.Default().PushBatch("error")
			logger.Warn("push batch failed", zap.Int("size", len(batch)), zap.Error(err))
			continue
		}
		result.BatchesSent++
		metrics.Default().PushBatch("ok")
		for _, t := range tickets {
			if t.DeadToken {
				if owner, ok := tokenOwner[t.Token]; ok {
					deadByOwner[owner] = append(deadByOwner[owner], t.Token)
				}
			}
		}
	}

	// 3. 剪除通道标记为永久失效的 token
	if d.prune != nil {
		for owner, dead := range deadByOwner {
			if err := d.prune(d.db, owner, dead); err != nil {
				logger.Warn("prune push tokens failed",
					zap.Uint("userID", owner), zap.Error(err))
				continue
			}
			result.TokensPruned += len(dead)
		}
		metrics.Default().TokensPruned(result.TokensPruned)
	}

	return result
}
