package models

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"HibiscusHood/pkg/errors"
	"HibiscusHood/pkg/metrics"
	"HibiscusHood/pkg/notification"
)

// 台账事件类型
const LedgerEventCompleted = "completed"

// 完成策略
const (
	CompletionEither = "either" // 任一方确认即完成（沿袭既有行为）
	CompletionBoth   = "both"   // 双方都确认才完成
)

// 确认角色
const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
)

// RevenueLedgerEntry 收益台账
// (transaction_id, event) 唯一索引就是"恰好记一次"的执行机制：
// 并发或重试下只有一次插入成功，失败方把冲突当作已记账
type RevenueLedgerEntry struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TransactionID uint      `json:"transactionId" gorm:"uniqueIndex:idx_ledger_tx_event"`
	Event         string    `json:"event" gorm:"size:32;uniqueIndex:idx_ledger_tx_event"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency" gorm:"size:8"`
	ProviderID    uint      `json:"providerId"`
	RequesterID   uint      `json:"requesterId"`
	TriggeredBy   uint      `json:"triggeredBy"`
	CreatedAt     time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// ConfirmCompletion 当事人确认完成
//
// 确认位是双方各自独立的布尔；按策略决定何时把状态翻到 completed。
// 已完成的交易再次确认是无副作用的读操作，原样返回记录。
func ConfirmCompletion(ctx context.Context, db *gorm.DB, dispatcher *notification.Dispatcher, policy string, txID, actorID uint, role string, amountCents int64) (*ServiceTransaction, error) {
	tx, err := GetTransaction(db.WithContext(ctx), txID)
	if err != nil {
		return nil, err
	}
	// 身份先于终态判断：已完成的幂等返回只给当事人
	if !tx.isParty(actorID) {
		return nil, errors.Forbidden("only a party to the transaction may confirm")
	}
	if tx.Status == TxCompleted {
		return tx, nil
	}
	if tx.Status != TxInProgress {
		return nil, errors.InvalidTransition(tx.Status, TxCompleted)
	}

	var flag string
	switch role {
	case RoleRequester:
		if tx.RequesterID != actorID {
			return nil, errors.Forbidden("actor is not the requester")
		}
		flag = "requester_confirmed"
		tx.RequesterConfirmed = true
	case RoleProvider:
		if tx.ProviderID == nil || *tx.ProviderID != actorID {
			return nil, errors.Forbidden("actor is not the provider")
		}
		flag = "provider_confirmed"
		tx.ProviderConfirmed = true
	default:
		return nil, errors.Validation("role")
	}

	updates := map[string]interface{}{flag: true}
	if amountCents > 0 && tx.AmountCents == 0 {
		tx.AmountCents = amountCents
		updates["amount_cents"] = amountCents
	}

	done := tx.RequesterConfirmed || tx.ProviderConfirmed
	if policy == CompletionBoth {
		done = tx.RequesterConfirmed && tx.ProviderConfirmed
	}

	if !done {
		if err := db.WithContext(ctx).Model(&ServiceTransaction{}).
			Where("id = ?", txID).Updates(updates).Error; err != nil {
			return nil, errors.Wrap(err, "save confirmation")
		}
		// 双方并发确认时各自读到的都是对方落位前的快照，单凭内存里的
		// 确认位谁都不会流转。落完自己的位重读一次，后落库的一方能看到
		// 两个位都为真，由它接上 completed
		current, err := GetTransaction(db.WithContext(ctx), txID)
		if err != nil {
			return nil, err
		}
		if current.Status != TxInProgress ||
			!current.RequesterConfirmed || !current.ProviderConfirmed {
			return current, nil
		}
		tx = current
		updates = map[string]interface{}{}
	}

	// 确认位与状态一次落库；CAS 保证并发确认只有一方真正执行流转，
	// 输家落到 completed 的幂等分支
	updates["status"] = TxCompleted
	res := db.WithContext(ctx).Model(&ServiceTransaction{}).
		Where("id = ? AND status = ?", txID, TxInProgress).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "complete transaction")
	}
	if res.RowsAffected == 0 {
		current, err := GetTransaction(db.WithContext(ctx), txID)
		if err != nil {
			return nil, err
		}
		if current.Status == TxCompleted {
			return current, nil
		}
		return nil, errors.InvalidTransition(current.Status, TxCompleted)
	}
	metrics.Default().Transitioned(TxInProgress, TxCompleted)
	tx.Status = TxCompleted

	if err := RecordCompletionRevenue(ctx, db, tx, actorID); err != nil {
		return nil, err
	}

	if other := tx.counterparty(actorID); other != 0 {
		notifyParty(ctx, db, dispatcher, other, notification.PushMessage{
			Title:    "交易已完成",
			Body:     tx.Description,
			Category: "transaction",
			Urgency:  "normal",
			Data:     map[string]interface{}{"transactionId": tx.ID},
		})
	}
	return tx, nil
}

// RecordCompletionRevenue 完成结算：插入唯一台账行，成功才动余额
//
// 金额为零不记账。唯一键冲突说明别的请求已经结算过，静默跳过——
// 重试和并发确认因此天然安全，余额只会各动一次。
func RecordCompletionRevenue(ctx context.Context, db *gorm.DB, tx *ServiceTransaction, triggeredBy uint) error {
	if tx.AmountCents <= 0 || tx.ProviderID == nil {
		return nil
	}

	entry := RevenueLedgerEntry{
		TransactionID: tx.ID,
		Event:         LedgerEventCompleted,
		AmountCents:   tx.AmountCents,
		Currency:      tx.Currency,
		ProviderID:    *tx.ProviderID,
		RequesterID:   tx.RequesterID,
		TriggeredBy:   triggeredBy,
	}
	err := db.WithContext(ctx).Create(&entry).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return errors.Wrap(err, "insert revenue ledger entry")
	}
	metrics.Default().RevenueRecorded()

	if err := db.WithContext(ctx).Model(&User{}).Where("id = ?", *tx.ProviderID).
		UpdateColumn("generated_balance", gorm.Expr("generated_balance + ?", tx.AmountCents)).Error; err != nil {
		return errors.Wrap(err, "credit provider balance")
	}
	if err := db.WithContext(ctx).Model(&User{}).Where("id = ?", tx.RequesterID).
		UpdateColumn("spent_balance", gorm.Expr("spent_balance + ?", tx.AmountCents)).Error; err != nil {
		return errors.Wrap(err, "debit requester balance")
	}
	return nil
}

// LedgerEntriesForTransaction 查询某交易的台账（测试与审计用）
func LedgerEntriesForTransaction(db *gorm.DB, txID uint) ([]RevenueLedgerEntry, error) {
	var entries []RevenueLedgerEntry
	err := db.Where("transaction_id = ?", txID).Find(&entries).Error
	return entries, err
}
