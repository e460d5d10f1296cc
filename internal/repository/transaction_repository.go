package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/models"

	"gorm.io/gorm"
)

// TransitionResult 条件写结果（显式三态，代替唯一键异常驱动的控制流）
type TransitionResult int

const (
	// TransitionApplied 本次调用完成了状态迁移
	TransitionApplied TransitionResult = iota
	// TransitionAlreadyProcessed 行已不在期望的前置状态（重复投递或竞争失败方）
	TransitionAlreadyProcessed
	// TransitionNotFound 行不存在
	TransitionNotFound
)

// TransactionRepository 支付交易账本数据访问接口
type TransactionRepository interface {
	CreatePendingSuperseding(txn *models.PaymentTransaction) error
	Transition(id uint, fromStatus string, updates map[string]interface{}) (TransitionResult, error)
	GetByID(id uint) (*models.PaymentTransaction, error)
	GetByOrderNo(orderNo string) (*models.PaymentTransaction, error)
	GetPendingByOrderNo(orderNo string) (*models.PaymentTransaction, error)
	GetByGatewayTxnID(ref string) (*models.PaymentTransaction, error)
	GetPendingByGatewayTxnID(ref string) (*models.PaymentTransaction, error)
	GetPendingByScope(hotelID *uint, userID uint, gateway string) (*models.PaymentTransaction, error)
	ListExpiredPending(now time.Time, limit int) ([]models.PaymentTransaction, error)
	ListCompletedUnattached(userID uint) ([]models.PaymentTransaction, error)
	WithTx(tx *gorm.DB) *GormTransactionRepository
}

// GormTransactionRepository GORM 实现
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建交易账本仓库
func NewTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormTransactionRepository) WithTx(tx *gorm.DB) *GormTransactionRepository {
	if tx == nil {
		return r
	}
	return &GormTransactionRepository{db: tx}
}

// CreatePendingSuperseding 创建待支付交易。
// 同一作用域（酒店或先付用户）+ 网关下旧的 pending 行先被置为
// failed(superseded)，再插入新行，两步在同一事务内完成，保证
// 任意时刻每个作用域至多一条 pending。
func (r *GormTransactionRepository) CreatePendingSuperseding(txn *models.PaymentTransaction) error {
	if txn == nil {
		return errors.New("transaction is nil")
	}
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		scope := tx.Model(&models.PaymentTransaction{}).
			Where("gateway = ? AND status = ?", txn.Gateway, constants.TxnStatusPending)
		if txn.HotelID != nil {
			scope = scope.Where("hotel_id = ?", *txn.HotelID)
		} else {
			scope = scope.Where("hotel_id IS NULL AND user_id = ?", txn.UserID)
		}
		if err := scope.Updates(map[string]interface{}{
			"status":        constants.TxnStatusFailed,
			"failed_reason": constants.TxnFailReasonSuperseded,
			"failed_at":     now,
			"updated_at":    now,
		}).Error; err != nil {
			return err
		}
		return tx.Create(txn).Error
	})
}

// Transition 条件状态迁移：仅当交易仍处于 fromStatus 时写入 updates。
// 这是账本与巡检共用的唯一并发正确性原语。流水号唯一键冲突原样
// 上抛：语句失败会让 Postgres 中止外层事务，必须由调用方在回滚
// 后再归并为重复事件。
func (r *GormTransactionRepository) Transition(id uint, fromStatus string, updates map[string]interface{}) (TransitionResult, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	result := r.db.Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return TransitionNotFound, result.Error
	}
	if result.RowsAffected > 0 {
		return TransitionApplied, nil
	}

	existing, err := r.GetByID(id)
	if err != nil {
		return TransitionNotFound, err
	}
	if existing == nil {
		return TransitionNotFound, nil
	}
	return TransitionAlreadyProcessed, nil
}

// GetByID 根据 ID 获取交易
func (r *GormTransactionRepository) GetByID(id uint) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.First(&txn, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// GetByOrderNo 根据订单号获取交易
func (r *GormTransactionRepository) GetByOrderNo(orderNo string) (*models.PaymentTransaction, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var txn models.PaymentTransaction
	result := r.db.Where("order_no = ?", orderNo).Limit(1).Find(&txn)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &txn, nil
}

// GetPendingByOrderNo 根据订单号获取待支付交易
func (r *GormTransactionRepository) GetPendingByOrderNo(orderNo string) (*models.PaymentTransaction, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var txn models.PaymentTransaction
	result := r.db.Where("order_no = ? AND status = ?", orderNo, constants.TxnStatusPending).
		Limit(1).Find(&txn)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &txn, nil
}

// GetByGatewayTxnID 根据网关流水号获取交易
func (r *GormTransactionRepository) GetByGatewayTxnID(ref string) (*models.PaymentTransaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var txn models.PaymentTransaction
	result := r.db.Where("gateway_txn_id = ?", ref).Limit(1).Find(&txn)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &txn, nil
}

// GetPendingByGatewayTxnID 根据网关流水号获取待支付交易（轮询网关在下单时已持有流水号）
func (r *GormTransactionRepository) GetPendingByGatewayTxnID(ref string) (*models.PaymentTransaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var txn models.PaymentTransaction
	result := r.db.Where("gateway_txn_id = ? AND status = ?", ref, constants.TxnStatusPending).
		Limit(1).Find(&txn)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &txn, nil
}

// GetPendingByScope 获取作用域内的待支付交易
func (r *GormTransactionRepository) GetPendingByScope(hotelID *uint, userID uint, gateway string) (*models.PaymentTransaction, error) {
	query := r.db.Where("gateway = ? AND status = ?", gateway, constants.TxnStatusPending)
	if hotelID != nil {
		query = query.Where("hotel_id = ?", *hotelID)
	} else {
		query = query.Where("hotel_id IS NULL AND user_id = ?", userID)
	}
	var txn models.PaymentTransaction
	result := query.Order("id desc").Limit(1).Find(&txn)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &txn, nil
}

// ListExpiredPending 列出已过期的待支付交易
func (r *GormTransactionRepository) ListExpiredPending(now time.Time, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 500
	}
	var txns []models.PaymentTransaction
	if err := r.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?",
		constants.TxnStatusPending, now).
		Order("id asc").Limit(limit).Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// ListCompletedUnattached 列出已完成但尚未绑定酒店的交易（先付后建流程）
func (r *GormTransactionRepository) ListCompletedUnattached(userID uint) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	if err := r.db.Where("user_id = ? AND status = ? AND hotel_id IS NULL",
		userID, constants.TxnStatusCompleted).
		Order("id desc").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
