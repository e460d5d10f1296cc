package service

import (
	"context"
	"errors"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/gateway"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/queue"
	"github.com/roomgrid/billing-core/internal/repository"

	"gorm.io/gorm"
)

// 对账结果枚举。网关重试属于正常流量，除校验失败外一律回执成功。
const (
	// OutcomeApplied 本次事件完成了权益授予
	OutcomeApplied = "applied"
	// OutcomeAlreadyProcessed 重复事件，权益此前已授予
	OutcomeAlreadyProcessed = "already_processed"
	// OutcomeForeignEvent 无法匹配到任何账本行，静默回执
	OutcomeForeignEvent = "foreign_event"
	// OutcomeValidationFailed 匹配成功但金额或币种不符
	OutcomeValidationFailed = "validation_failed"
)

// ReconcileResult 对账结果
type ReconcileResult struct {
	Outcome        string
	Transaction    *models.PaymentTransaction
	Subscription   *models.Subscription
	FailReason     string
	EntitlementNew bool
}

// ReconcileService 对账管线：匹配、校验、原子认领加授予。
// 权益授予与交易状态迁移同一数据库事务，保证恰好一次。
type ReconcileService struct {
	db          *gorm.DB
	txnRepo     repository.TransactionRepository
	subService  *SubscriptionService
	billing     ExternalVerifier
	queueClient *queue.Client
}

// ExternalVerifier 远端核验接口，轮询网关与巡检共用
type ExternalVerifier interface {
	VerifyPayment(ctx context.Context, ref string) (*gateway.RemotePayment, error)
}

// NewReconcileService 创建对账服务
func NewReconcileService(db *gorm.DB, txnRepo repository.TransactionRepository, subService *SubscriptionService, verifier ExternalVerifier, queueClient *queue.Client) *ReconcileService {
	return &ReconcileService{
		db:          db,
		txnRepo:     txnRepo,
		subService:  subService,
		billing:     &verifierBox{verifier},
		queueClient: queueClient,
	}
}

// verifierBox 允许 nil 接口安全降级
type verifierBox struct {
	inner ExternalVerifier
}

func (b *verifierBox) VerifyPayment(ctx context.Context, ref string) (*gateway.RemotePayment, error) {
	if b == nil || b.inner == nil {
		return nil, ErrRemoteVerifyFailed
	}
	return b.inner.VerifyPayment(ctx, ref)
}

// Process 处理一条网关完成事件。
// 匹配顺序：流水号命中已完成行视为重复；流水号命中待支付行
// （轮询网关下单即持号）；订单号提示命中待支付行（转账备注）。
// 都未命中即为外部事件，静默回执避免网关无谓重投。
func (s *ReconcileService) Process(ctx context.Context, ev *gateway.CompletionEvent) (*ReconcileResult, error) {
	if ev == nil || ev.ExternalRef == "" {
		return &ReconcileResult{Outcome: OutcomeForeignEvent}, nil
	}

	existing, err := s.txnRepo.GetByGatewayTxnID(ev.ExternalRef)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != constants.TxnStatusPending {
		logger.Infow("reconcile_duplicate_event",
			"order_no", existing.OrderNo, "gateway_txn_id", ev.ExternalRef, "status", existing.Status)
		return &ReconcileResult{Outcome: OutcomeAlreadyProcessed, Transaction: existing}, nil
	}

	target := existing
	if target == nil && ev.OrderHint != "" {
		target, err = s.txnRepo.GetByOrderNo(ev.OrderHint)
		if err != nil {
			return nil, err
		}
		// 订单号提示只认领待支付行。已完成行由流水号分支识别重复，
		// 已失败（含自动过期）的行不再接受迟到转账，按外部事件回执
		if target != nil && target.Status != constants.TxnStatusPending {
			logger.Infow("reconcile_stale_order_hint",
				"order_no", target.OrderNo, "status", target.Status, "gateway_txn_id", ev.ExternalRef)
			return &ReconcileResult{Outcome: OutcomeForeignEvent}, nil
		}
	}
	if target == nil {
		logger.Infow("reconcile_foreign_event",
			"gateway_txn_id", ev.ExternalRef, "order_hint", ev.OrderHint, "amount_minor", ev.AmountMinor)
		return &ReconcileResult{Outcome: OutcomeForeignEvent}, nil
	}

	if reason := s.validate(target, ev); reason != "" {
		return s.failValidation(target, ev, reason)
	}

	return s.claimAndApply(target, ev)
}

// VerifyAndProcess 轮询网关主动核验：以供应商侧为准拉取支付
// 结果，成功后走同一条对账管线。
func (s *ReconcileService) VerifyAndProcess(ctx context.Context, orderNo string) (*ReconcileResult, error) {
	txn, err := s.txnRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	if txn.Status == constants.TxnStatusCompleted {
		return &ReconcileResult{Outcome: OutcomeAlreadyProcessed, Transaction: txn}, nil
	}
	if txn.Status != constants.TxnStatusPending {
		return nil, ErrTransactionNotPending
	}
	if txn.GatewayTxnID == nil || *txn.GatewayTxnID == "" {
		return nil, ErrExternalRefRequired
	}

	remote, err := s.billing.VerifyPayment(ctx, *txn.GatewayTxnID)
	if err != nil {
		logger.Warnw("remote_verify_failed", "order_no", orderNo, "error", err)
		return nil, ErrRemoteVerifyFailed
	}
	switch remote.Status {
	case constants.RemotePaymentPaid:
	case constants.RemotePaymentPending:
		return nil, ErrRemotePaymentNotPaid
	default:
		res, err := s.txnRepo.Transition(txn.ID, constants.TxnStatusPending, map[string]interface{}{
			"status":        constants.TxnStatusFailed,
			"failed_reason": constants.TxnFailReasonProviderDeclined,
			"failed_at":     time.Now(),
		})
		if err != nil {
			return nil, err
		}
		if res == repository.TransitionAlreadyProcessed {
			fresh, _ := s.txnRepo.GetByID(txn.ID)
			return &ReconcileResult{Outcome: OutcomeAlreadyProcessed, Transaction: fresh}, nil
		}
		return &ReconcileResult{
			Outcome:    OutcomeValidationFailed,
			FailReason: constants.TxnFailReasonProviderDeclined,
		}, nil
	}

	ev := &gateway.CompletionEvent{
		ExternalRef: remote.Ref,
		AmountMinor: remote.AmountMinor,
		Currency:    remote.Currency,
		OrderHint:   txn.OrderNo,
		Status:      remote.Status,
		Raw:         remote.Raw,
	}
	return s.Process(ctx, ev)
}

func (s *ReconcileService) validate(txn *models.PaymentTransaction, ev *gateway.CompletionEvent) string {
	if ev.AmountMinor != txn.AmountMinor {
		return constants.TxnFailReasonAmountMismatch
	}
	if ev.Currency != "" && ev.Currency != txn.Currency {
		return constants.TxnFailReasonCurrencyMismatch
	}
	return ""
}

func (s *ReconcileService) failValidation(txn *models.PaymentTransaction, ev *gateway.CompletionEvent, reason string) (*ReconcileResult, error) {
	now := time.Now()
	res, err := s.txnRepo.Transition(txn.ID, constants.TxnStatusPending, map[string]interface{}{
		"status":        constants.TxnStatusFailed,
		"failed_reason": reason,
		"failed_at":     now,
		"raw_payload":   models.JSON(ev.Raw),
	})
	if err != nil {
		return nil, err
	}
	if res == repository.TransitionAlreadyProcessed {
		fresh, _ := s.txnRepo.GetByID(txn.ID)
		return &ReconcileResult{Outcome: OutcomeAlreadyProcessed, Transaction: fresh}, nil
	}
	logger.Warnw("reconcile_validation_failed",
		"order_no", txn.OrderNo,
		"reason", reason,
		"expected_minor", txn.AmountMinor,
		"received_minor", ev.AmountMinor,
		"expected_currency", txn.Currency,
		"received_currency", ev.Currency,
	)
	s.enqueueAudit(queue.AuditDispatchPayload{
		Event:         constants.AuditEventValidationFailed,
		TransactionID: txn.ID,
		Gateway:       txn.Gateway,
		Detail:        reason,
	})
	return &ReconcileResult{Outcome: OutcomeValidationFailed, Transaction: txn, FailReason: reason}, nil
}

// claimAndApply 原子认领并授予。状态迁移与订阅变更同一事务，
// 并发投递下只有一个写者能迁移成功，失败方归并为重复事件。
func (s *ReconcileService) claimAndApply(txn *models.PaymentTransaction, ev *gateway.CompletionEvent) (*ReconcileResult, error) {
	now := time.Now()
	result := &ReconcileResult{Transaction: txn}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		txnRepo := s.txnRepo.WithTx(tx)
		updates := map[string]interface{}{
			"status":       constants.TxnStatusCompleted,
			"completed_at": now,
			"raw_payload":  models.JSON(ev.Raw),
		}
		if txn.GatewayTxnID == nil || *txn.GatewayTxnID == "" {
			updates["gateway_txn_id"] = ev.ExternalRef
		}
		// 认领放在保存点里。两条不同的待支付行抢同一个流水号时，
		// 唯一键冲突只回滚保存点，外层事务仍可正常提交
		var res repository.TransitionResult
		claimErr := tx.Transaction(func(inner *gorm.DB) error {
			var terr error
			res, terr = s.txnRepo.WithTx(inner).Transition(txn.ID, constants.TxnStatusPending, updates)
			return terr
		})
		if claimErr != nil {
			if errors.Is(claimErr, gorm.ErrDuplicatedKey) {
				result.Outcome = OutcomeAlreadyProcessed
				return nil
			}
			return claimErr
		}
		if res != repository.TransitionApplied {
			result.Outcome = OutcomeAlreadyProcessed
			return nil
		}

		fresh, err := txnRepo.GetByID(txn.ID)
		if err != nil {
			return err
		}
		sub, err := s.subService.ApplyCompletion(tx, fresh, now)
		if err != nil {
			return err
		}
		result.Outcome = OutcomeApplied
		result.Transaction = fresh
		result.Subscription = sub
		result.EntitlementNew = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeApplied {
		s.subService.InvalidateCache(result.Transaction.HotelID)
		logger.Infow("reconcile_applied",
			"order_no", result.Transaction.OrderNo,
			"gateway_txn_id", ev.ExternalRef,
			"gateway", result.Transaction.Gateway,
			"amount_minor", result.Transaction.AmountMinor,
		)
		payload := queue.AuditDispatchPayload{
			Event:         constants.AuditEventActivationApplied,
			TransactionID: result.Transaction.ID,
			Gateway:       result.Transaction.Gateway,
		}
		if result.Subscription != nil {
			payload.SubscriptionID = result.Subscription.ID
		}
		if result.Transaction.HotelID != nil {
			payload.HotelID = *result.Transaction.HotelID
		}
		s.enqueueAudit(payload)
	}
	return result, nil
}

func (s *ReconcileService) enqueueAudit(payload queue.AuditDispatchPayload) {
	if err := s.queueClient.EnqueueAuditDispatch(payload); err != nil {
		logger.Warnw("audit_enqueue_failed", "event", payload.Event, "error", err)
	}
}
