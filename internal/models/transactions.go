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

// 服务交易类型
const (
	TxKindRequest = "request" // 求助
	TxKindOffer   = "offer"   // 提供服务
)

// 交易状态
const (
	TxOpen       = "open"
	TxInterested = "interested"
	TxInProgress = "in_progress"
	TxCompleted  = "completed"
	TxCancelled  = "cancelled"
)

// transitionTable 状态机流转表，表中没有的一律拒绝
// completed / cancelled 是终态，没有出边
var transitionTable = map[string][]string{
	TxOpen:       {TxInterested, TxInProgress, TxCancelled},
	TxInterested: {TxInProgress, TxCancelled},
	TxInProgress: {TxCompleted, TxCancelled},
	TxCompleted:  {},
	TxCancelled:  {},
}

// CanTransition 查表判断流转是否允许
func CanTransition(from, to string) bool {
	for _, t := range transitionTable[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ServiceTransaction 服务交易
type ServiceTransaction struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Kind        string `json:"kind" gorm:"size:16"`
	Category    string `json:"category" gorm:"size:64"`
	Description string `json:"description" gorm:"size:2048"`
	RequesterID uint   `json:"requesterId" gorm:"index"`
	ProviderID  *uint  `json:"providerId" gorm:"index"` // 接受前为空
	Status      string `json:"status" gorm:"size:16;index"`

	// 双方独立的完成确认位
	RequesterConfirmed bool `json:"requesterConfirmed"`
	ProviderConfirmed  bool `json:"providerConfirmed"`

	AmountCents int64  `json:"amountCents"` // 可选金额（分）
	Currency    string `json:"currency" gorm:"size:8"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TransactionInterest 感兴趣记录，(transaction_id, user_id) 唯一
type TransactionInterest struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TransactionID uint      `json:"transactionId" gorm:"uniqueIndex:idx_tx_interest"`
	UserID        uint      `json:"userId" gorm:"uniqueIndex:idx_tx_interest"`
	CreatedAt     time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

func (t *ServiceTransaction) isParty(userID uint) bool {
	if t.RequesterID == userID {
		return true
	}
	return t.ProviderID != nil && *t.ProviderID == userID
}

func (t *ServiceTransaction) terminal() bool {
	return t.Status == TxCompleted || t.Status == TxCancelled
}

type CreateTransactionInput struct {
	RequesterID uint
	Kind        string
	Category    string
	Description string
	AmountCents int64
	Currency    string
}

// CreateTransaction 发布求助或服务
func CreateTransaction(ctx context.Context, db *gorm.DB, in CreateTransactionInput) (*ServiceTransaction, error) {
	switch {
	case in.RequesterID == 0:
		return nil, errors.Validation("requesterId")
	case in.Kind != TxKindRequest && in.Kind != TxKindOffer:
		return nil, errors.Validation("kind")
	case in.Category == "":
		return nil, errors.Validation("category")
	case in.Description == "":
		return nil, errors.Validation("description")
	case in.AmountCents < 0:
		return nil, errors.Validation("amountCents")
	}
	currency := in.Currency
	if currency == "" {
		currency = "CNY"
	}
	tx := &ServiceTransaction{
		Kind:        in.Kind,
		Category:    in.Category,
		Description: in.Description,
		RequesterID: in.RequesterID,
		Status:      TxOpen,
		AmountCents: in.AmountCents,
		Currency:    currency,
	}
	if err := db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, errors.Wrap(err, "create transaction")
	}
	return tx, nil
}

func GetTransaction(db *gorm.DB, id uint) (*ServiceTransaction, error) {
	var tx ServiceTransaction
	if err := db.First(&tx, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("transaction", id)
		}
		return nil, errors.Wrap(err, "load transaction")
	}
	return &tx, nil
}

// ExpressInterest 表达兴趣
// 重复表达幂等；发布人自己不能表达兴趣；首个兴趣把 open 推到 interested
func ExpressInterest(ctx context.Context, db *gorm.DB, dispatcher *notification.Dispatcher, txID, userID uint) (*ServiceTransaction, error) {
	tx, err := GetTransaction(db.WithContext(ctx), txID)
	if err != nil {
		return nil, err
	}
	if tx.RequesterID == userID {
		return nil, errors.Forbidden("cannot express interest in your own post")
	}
	if tx.terminal() {
		return nil, errors.InvalidTransition(tx.Status, TxInterested)
	}

	record := TransactionInterest{TransactionID: txID, UserID: userID}
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		if !stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.Wrap(err, "create interest record")
		}
		return tx, nil // 幂等成功
	}

	if tx.Status == TxOpen && CanTransition(TxOpen, TxInterested) {
		res := db.WithContext(ctx).Model(&ServiceTransaction{}).
			Where("id = ? AND status = ?", txID, TxOpen).
			Update("status", TxInterested)
		if res.Error == nil && res.RowsAffected > 0 {
			tx.Status = TxInterested
			metrics.Default().Transitioned(TxOpen, TxInterested)
		}
	}

	notifyParty(ctx, db, dispatcher, tx.RequesterID, notification.PushMessage{
		Title:    "有人对你的发布感兴趣",
		Body:     tx.Description,
		Category: "transaction",
		Urgency:  "normal",
		Data:     map[string]interface{}{"transactionId": tx.ID, "userId": userID},
	})
	return tx, nil
}

// AcceptTransaction 接受交易：校验、指派提供方并置 in_progress，一步完成
// 只能从 open / interested 接受；发布人不能接自己的单；
// 已有其他提供方时拒绝覆盖
func AcceptTransaction(ctx context.Context, db *gorm.DB, dispatcher *notification.Dispatcher, txID, providerID uint) (*ServiceTransaction, error) {
	tx, err := GetTransaction(db.WithContext(ctx), txID)
	if err != nil {
		return nil, err
	}
	if providerID == 0 {
		return nil, errors.Validation("providerId")
	}
	if tx.RequesterID == providerID {
		return nil, errors.Forbidden("cannot accept your own post")
	}
	if tx.ProviderID != nil && *tx.ProviderID != providerID {
		return nil, errors.Forbidden("transaction already has a provider")
	}
	if tx.Status != TxOpen && tx.Status != TxInterested {
		return nil, errors.InvalidTransition(tx.Status, TxInProgress)
	}

	// CAS：provider 指派与状态流转一次落库，先到先得
	from := tx.Status
	res := db.WithContext(ctx).Model(&ServiceTransaction{}).
		Where("id = ? AND status = ? AND (provider_id IS NULL OR provider_id = ?)", txID, from, providerID).
		Updates(map[string]interface{}{
			"provider_id": providerID,
			"status":      TxInProgress,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "accept transaction")
	}
	if res.RowsAffected == 0 {
		// 并发接单被抢先，按当前状态报错
		current, err := GetTransaction(db.WithContext(ctx), txID)
		if err != nil {
			return nil, err
		}
		if current.ProviderID != nil && *current.ProviderID == providerID && current.Status == TxInProgress {
			return current, nil // 重试请求，幂等成功
		}
		return nil, errors.Forbidden("transaction already has a provider")
	}
	metrics.Default().Transitioned(from, TxInProgress)

	tx.ProviderID = &providerID
	tx.Status = TxInProgress

	notifyParty(ctx, db, dispatcher, tx.RequesterID, notification.PushMessage{
		Title:    "你的发布已被接受",
		Body:     tx.Description,
		Category: "transaction",
		Urgency:  "normal",
		Data:     map[string]interface{}{"transactionId": tx.ID, "providerId": providerID},
	})
	return tx, nil
}

// SetTransactionStatus 通用状态流转
// 只有当事人可以发起；in_progress 之前必须已有 provider；流转必须在表内
func SetTransactionStatus(ctx context.Context, db *gorm.DB, dispatcher *notification.Dispatcher, txID, actorID uint, target string) (*ServiceTransaction, error) {
	tx, err := GetTransaction(db.WithContext(ctx), txID)
	if err != nil {
		return nil, err
	}
	if !tx.isParty(actorID) {
		return nil, errors.Forbidden("only a party to the transaction may change it")
	}
	if !CanTransition(tx.Status, target) {
		return nil, errors.InvalidTransition(tx.Status, target)
	}
	if target == TxInProgress && tx.ProviderID == nil {
		return nil, errors.Validation("providerId")
	}

	from := tx.Status
	res := db.WithContext(ctx).Model(&ServiceTransaction{}).
		Where("id = ? AND status = ?", txID, from).
		Update("status", target)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update transaction status")
	}
	if res.RowsAffected == 0 {
		current, err := GetTransaction(db.WithContext(ctx), txID)
		if err != nil {
			return nil, err
		}
		return nil, errors.InvalidTransition(current.Status, target)
	}
	metrics.Default().Transitioned(from, target)
	tx.Status = target

	// 任何到达 completed 的路径都要结算一次；台账唯一键保证不会重复
	if target == TxCompleted {
		if err := RecordCompletionRevenue(ctx, db, tx, actorID); err != nil {
			return nil, err
		}
	}

	if other := tx.counterparty(actorID); other != 0 {
		notifyParty(ctx, db, dispatcher, other, notification.PushMessage{
			Title:    "交易状态更新：" + target,
			Body:     tx.Description,
			Category: "transaction",
			Urgency:  "normal",
			Data:     map[string]interface{}{"transactionId": tx.ID, "status": target},
		})
	}
	return tx, nil
}

func (t *ServiceTransaction) counterparty(actorID uint) uint {
	if t.RequesterID == actorID {
		if t.ProviderID != nil {
			return *t.ProviderID
		}
		return 0
	}
	return t.RequesterID
}

// notifyParty 通知交易一方，分发失败不影响业务操作
func notifyParty(ctx context.Context, db *gorm.DB, dispatcher *notification.Dispatcher, userID uint, msg notification.PushMessage) {
	if dispatcher == nil || userID == 0 {
		return
	}
	recipients, err := RecipientForUser(db, userID)
	if err != nil {
		return
	}
	dispatcher.Dispatch(ctx, recipients, msg)
}
