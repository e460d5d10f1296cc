package service

import (
	"context"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/gateway"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/queue"
	"github.com/roomgrid/billing-core/internal/repository"
)

// SweeperService 权益巡检。过期待支付交易作废，账期已过的订阅
// 按宽限期降档，外部计费订阅先向供应商核验再决定去留。
// 全部写入走条件更新，同一轮被跑两遍结果一致。
type SweeperService struct {
	txnRepo        repository.TransactionRepository
	subRepo        repository.SubscriptionRepository
	subService     *SubscriptionService
	remoteVerifier SubscriptionVerifier
	queueClient    *queue.Client
	gracePeriod    time.Duration
	batchSize      int
}

// SubscriptionVerifier 供应商侧订阅核验接口
type SubscriptionVerifier interface {
	VerifySubscription(ctx context.Context, externalSubID string) (*gateway.RemoteSubscription, error)
}

// NewSweeperService 创建巡检服务
func NewSweeperService(txnRepo repository.TransactionRepository, subRepo repository.SubscriptionRepository, subService *SubscriptionService, remoteVerifier SubscriptionVerifier, queueClient *queue.Client, gracePeriodDays int) *SweeperService {
	if gracePeriodDays <= 0 {
		gracePeriodDays = 3
	}
	return &SweeperService{
		txnRepo:        txnRepo,
		subRepo:        subRepo,
		subService:     subService,
		remoteVerifier: remoteVerifier,
		queueClient:    queueClient,
		gracePeriod:    time.Duration(gracePeriodDays) * 24 * time.Hour,
		batchSize:      500,
	}
}

// SweepReport 单轮巡检统计
type SweepReport struct {
	ExpiredTransactions int `json:"expired_transactions"`
	MarkedPastDue       int `json:"marked_past_due"`
	Downgraded          int `json:"downgraded"`
	Extended            int `json:"extended"`
	Errors              int `json:"errors"`
}

// Sweep 执行一轮巡检
func (s *SweeperService) Sweep(ctx context.Context) (*SweepReport, error) {
	now := time.Now()
	report := &SweepReport{}

	s.expirePendings(now, report)
	s.sweepSubscriptions(ctx, now, report)

	logger.Infow("sweep_finished",
		"expired_transactions", report.ExpiredTransactions,
		"marked_past_due", report.MarkedPastDue,
		"downgraded", report.Downgraded,
		"extended", report.Extended,
		"errors", report.Errors,
	)
	if err := s.queueClient.EnqueueAuditDispatch(queue.AuditDispatchPayload{
		Event: constants.AuditEventSweepFinished,
	}); err != nil {
		logger.Warnw("audit_enqueue_failed", "event", constants.AuditEventSweepFinished, "error", err)
	}
	return report, nil
}

// expirePendings 把超过支付窗口仍未完成的交易置为失效
func (s *SweeperService) expirePendings(now time.Time, report *SweepReport) {
	txns, err := s.txnRepo.ListExpiredPending(now, s.batchSize)
	if err != nil {
		logger.Errorw("sweep_list_expired_failed", "error", err)
		report.Errors++
		return
	}
	for _, txn := range txns {
		res, err := s.txnRepo.Transition(txn.ID, constants.TxnStatusPending, map[string]interface{}{
			"status":        constants.TxnStatusFailed,
			"failed_reason": constants.TxnFailReasonAutoExpired,
			"failed_at":     now,
		})
		if err != nil {
			logger.Warnw("sweep_expire_failed", "transaction_id", txn.ID, "error", err)
			report.Errors++
			continue
		}
		if res == repository.TransitionApplied {
			report.ExpiredTransactions++
		}
	}
}

// sweepSubscriptions 处理账期已过的订阅
func (s *SweeperService) sweepSubscriptions(ctx context.Context, now time.Time, report *SweepReport) {
	subs, err := s.subRepo.ListLapsed(now, s.batchSize)
	if err != nil {
		logger.Errorw("sweep_list_lapsed_failed", "error", err)
		report.Errors++
		return
	}
	for i := range subs {
		sub := &subs[i]
		if sub.ExternalProvider == constants.GatewayExternalBilling && sub.ExternalSubscriptionID != "" {
			if s.sweepExternal(ctx, sub, now, report) {
				continue
			}
		}
		s.sweepLocal(sub, now, report)
	}
}

// sweepExternal 向供应商核验订阅，返回是否已处理完毕。
// 供应商不可达时返回 false，回落到本地宽限期逻辑，避免因
// 远端抖动误降级。
func (s *SweeperService) sweepExternal(ctx context.Context, sub *models.Subscription, now time.Time, report *SweepReport) bool {
	if s.remoteVerifier == nil {
		return false
	}
	remote, err := s.remoteVerifier.VerifySubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		logger.Warnw("sweep_remote_verify_failed",
			"subscription_id", sub.ID, "external_subscription_id", sub.ExternalSubscriptionID, "error", err)
		report.Errors++
		return false
	}

	switch remote.Status {
	case constants.RemoteSubscriptionActive:
		if remote.CurrentPeriodEnd == nil || !remote.CurrentPeriodEnd.After(now) {
			return false
		}
		ok, err := s.subRepo.ExtendPeriod(sub.ID, *remote.CurrentPeriodEnd, map[string]interface{}{
			"status": constants.SubscriptionStatusActive,
		})
		if err != nil {
			logger.Warnw("sweep_extend_failed", "subscription_id", sub.ID, "error", err)
			report.Errors++
			return true
		}
		if ok {
			report.Extended++
			s.subService.InvalidateCache(sub.HotelID)
			logger.Infow("sweep_period_extended",
				"subscription_id", sub.ID, "new_period_end", remote.CurrentPeriodEnd)
		}
		return true
	case constants.RemoteSubscriptionCancelled, constants.RemoteSubscriptionExpired:
		// 供应商侧已终止，立即降级，不再给本地宽限期
		reason := constants.DowngradeReasonProviderCancelled
		if remote.Status == constants.RemoteSubscriptionExpired {
			reason = constants.DowngradeReasonProviderExpired
		}
		changed, err := s.subService.DowngradeToStandard(sub.ID, reason)
		if err != nil {
			logger.Warnw("sweep_downgrade_failed", "subscription_id", sub.ID, "error", err)
			report.Errors++
			return true
		}
		if changed {
			report.Downgraded++
		}
		return true
	default:
		// 远端状态未知，走本地宽限期兜底
		return false
	}
}

// sweepLocal 本地宽限期逻辑：窗口内标记 past_due，窗口外降级。
// 试用订阅没有宽限期，到期即降级。
func (s *SweeperService) sweepLocal(sub *models.Subscription, now time.Time, report *SweepReport) {
	if sub.CurrentPeriodEnd == nil {
		return
	}
	if sub.Status == constants.SubscriptionStatusTrial {
		changed, err := s.subService.DowngradeToStandard(sub.ID, constants.DowngradeReasonTrialExpired)
		if err != nil {
			logger.Warnw("sweep_downgrade_failed", "subscription_id", sub.ID, "error", err)
			report.Errors++
			return
		}
		if changed {
			report.Downgraded++
		}
		return
	}

	graceDeadline := sub.CurrentPeriodEnd.Add(s.gracePeriod)
	if now.Before(graceDeadline) {
		changed, err := s.subService.MarkPastDue(sub.ID)
		if err != nil {
			logger.Warnw("sweep_mark_past_due_failed", "subscription_id", sub.ID, "error", err)
			report.Errors++
			return
		}
		if changed {
			report.MarkedPastDue++
			logger.Infow("sweep_marked_past_due",
				"subscription_id", sub.ID, "grace_deadline", graceDeadline)
			if err := s.queueClient.EnqueueAuditDispatch(queue.AuditDispatchPayload{
				Event:          constants.AuditEventSubscriptionLapsed,
				SubscriptionID: sub.ID,
			}); err != nil {
				logger.Warnw("audit_enqueue_failed", "event", constants.AuditEventSubscriptionLapsed, "error", err)
			}
		}
		return
	}

	changed, err := s.subService.DowngradeToStandard(sub.ID, constants.DowngradeReasonGraceExpired)
	if err != nil {
		logger.Warnw("sweep_downgrade_failed", "subscription_id", sub.ID, "error", err)
		report.Errors++
		return
	}
	if changed {
		report.Downgraded++
	}
}
