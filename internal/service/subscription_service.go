package service

import (
	"context"
	"fmt"
	"time"

	"github.com/roomgrid/billing-core/internal/cache"
	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/plans"
	"github.com/roomgrid/billing-core/internal/repository"

	"gorm.io/gorm"
)

const subscriptionCacheTTL = 5 * time.Minute

// SubscriptionService 订阅服务。权益授予、降级、绑定与合规
// 检查都集中在这里，授予路径只会被对账管线在事务内调用。
type SubscriptionService struct {
	subRepo   repository.SubscriptionRepository
	hotelRepo repository.HotelRepository
	txnRepo   repository.TransactionRepository
	termDays  int
}

// NewSubscriptionService 创建订阅服务
func NewSubscriptionService(subRepo repository.SubscriptionRepository, hotelRepo repository.HotelRepository, txnRepo repository.TransactionRepository, termDays int) *SubscriptionService {
	if termDays <= 0 {
		termDays = 30
	}
	return &SubscriptionService{
		subRepo:   subRepo,
		hotelRepo: hotelRepo,
		txnRepo:   txnRepo,
		termDays:  termDays,
	}
}

// ApplyCompletion 按已完成交易授予权益。与交易状态迁移同一事务，
// 账期只向前推进，重复调用不会二次延长。
func (s *SubscriptionService) ApplyCompletion(tx *gorm.DB, txn *models.PaymentTransaction, now time.Time) (*models.Subscription, error) {
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	band, ok := plans.LookupBand(txn.PurchasedRoomBand)
	if !ok {
		return nil, ErrPlanInvalid
	}
	subRepo := s.subRepo.WithTx(tx)

	var sub *models.Subscription
	var err error
	if txn.HotelID != nil {
		sub, err = subRepo.GetByHotelID(*txn.HotelID)
	} else {
		sub, err = subRepo.GetUnattachedByUserID(txn.UserID)
	}
	if err != nil {
		return nil, err
	}

	termDays := s.termDays * maxInt(txn.TermMonths, 1)
	if sub == nil {
		start := now
		end := now.AddDate(0, 0, termDays)
		sub = &models.Subscription{
			HotelID:            txn.HotelID,
			UserID:             txn.UserID,
			Plan:               txn.PurchasedPlan,
			RoomBand:           txn.PurchasedRoomBand,
			Status:             constants.SubscriptionStatusActive,
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
			RoomQuota:          band.RoomCap,
			UserQuota:          band.UserQuota,
		}
		if txn.Gateway == constants.GatewayExternalBilling {
			sub.ExternalProvider = constants.GatewayExternalBilling
			if txn.GatewayTxnID != nil {
				sub.ExternalSubscriptionID = *txn.GatewayTxnID
			}
		}
		if err := subRepo.Create(sub); err != nil {
			return nil, err
		}
		return sub, nil
	}

	base := now
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
		base = *sub.CurrentPeriodEnd
	}
	newEnd := base.AddDate(0, 0, termDays)
	extra := map[string]interface{}{
		"plan":       txn.PurchasedPlan,
		"room_band":  txn.PurchasedRoomBand,
		"status":     constants.SubscriptionStatusActive,
		"room_quota": band.RoomCap,
		"user_quota": band.UserQuota,
	}
	if sub.CurrentPeriodStart == nil {
		extra["current_period_start"] = now
	}
	if txn.Gateway == constants.GatewayExternalBilling {
		extra["external_provider"] = constants.GatewayExternalBilling
		if txn.GatewayTxnID != nil {
			extra["external_subscription_id"] = *txn.GatewayTxnID
		}
	}
	if _, err := subRepo.ExtendPeriod(sub.ID, newEnd, extra); err != nil {
		return nil, err
	}
	return subRepo.GetByID(sub.ID)
}

// DowngradeToStandard 降级到免费档。条件写保证幂等，已降级的
// 订阅再次调用不产生任何写入。
func (s *SubscriptionService) DowngradeToStandard(subID uint, reason string) (bool, error) {
	sub, err := s.subRepo.GetByID(subID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, ErrSubscriptionNotFound
	}
	if sub.Plan == constants.PlanStandard && sub.Status == constants.SubscriptionStatusCancelled {
		return false, nil
	}

	extra := map[string]interface{}{
		"plan":                     constants.PlanStandard,
		"room_band":                constants.RoomBandSmall,
		"room_quota":               plans.StandardRoomQuota,
		"user_quota":               plans.StandardUserQuota,
		"external_provider":        "",
		"external_subscription_id": "",
	}
	changed := false
	for _, from := range []string{
		constants.SubscriptionStatusActive,
		constants.SubscriptionStatusTrial,
		constants.SubscriptionStatusPastDue,
	} {
		ok, err := s.subRepo.UpdateStatusConditional(sub.ID, from, constants.SubscriptionStatusCancelled, extra)
		if err != nil {
			return false, err
		}
		if ok {
			changed = true
			break
		}
	}
	if changed {
		logger.Infow("subscription_downgraded",
			"subscription_id", sub.ID,
			"reason", reason,
			"previous_plan", sub.Plan,
		)
		s.invalidate(sub.HotelID)
	}
	return changed, nil
}

// MarkPastDue 标记进入宽限期。仅 active 订阅有宽限期，
// 试用订阅到期直接降级。
func (s *SubscriptionService) MarkPastDue(subID uint) (bool, error) {
	changed, err := s.subRepo.UpdateStatusConditional(
		subID, constants.SubscriptionStatusActive, constants.SubscriptionStatusPastDue, nil)
	if err != nil {
		return false, err
	}
	if changed {
		sub, err := s.subRepo.GetByID(subID)
		if err == nil && sub != nil {
			s.invalidate(sub.HotelID)
		}
	}
	return changed, nil
}

// AttachHotel 把用户先付场景下的游离订阅绑定到新建酒店，并把
// 该用户已完成未绑定的交易一并归属。
func (s *SubscriptionService) AttachHotel(userID, hotelID uint) (*models.Subscription, error) {
	hotel, err := s.hotelRepo.GetByID(hotelID)
	if err != nil {
		return nil, err
	}
	if hotel == nil {
		return nil, ErrHotelNotFound
	}
	existing, err := s.subRepo.GetByHotelID(hotelID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrHotelAlreadyAttached
	}
	sub, err := s.subRepo.GetUnattachedByUserID(userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoAttachableSubscription
	}

	ok, err := s.subRepo.AttachHotel(sub.ID, hotelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHotelAlreadyAttached
	}

	txns, err := s.txnRepo.ListCompletedUnattached(userID)
	if err == nil {
		for _, txn := range txns {
			_, err := s.txnRepo.Transition(txn.ID, constants.TxnStatusCompleted, map[string]interface{}{
				"hotel_id": hotelID,
			})
			if err != nil {
				logger.Warnw("attach_transaction_failed", "transaction_id", txn.ID, "error", err)
			}
		}
	}

	s.invalidate(&hotelID)
	logger.Infow("subscription_attached", "subscription_id", sub.ID, "hotel_id", hotelID, "user_id", userID)
	return s.subRepo.GetByID(sub.ID)
}

// GetByHotel 查询酒店订阅，短 TTL 缓存兜住面板高频读取
func (s *SubscriptionService) GetByHotel(ctx context.Context, hotelID uint) (*models.Subscription, error) {
	key := subscriptionCacheKey(hotelID)
	var cached models.Subscription
	if hit, err := cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	sub, err := s.subRepo.GetByHotelID(hotelID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	if err := cache.SetJSON(ctx, key, sub, subscriptionCacheTTL); err != nil {
		logger.Warnw("subscription_cache_set_failed", "hotel_id", hotelID, "error", err)
	}
	return sub, nil
}

// ComplianceResult 合规检查结果
type ComplianceResult struct {
	Compliant bool     `json:"compliant"`
	InGrace   bool     `json:"in_grace"`
	Plan      string   `json:"plan"`
	RoomBand  string   `json:"room_band"`
	Status    string   `json:"status"`
	RoomQuota int      `json:"room_quota"`
	Reasons   []string `json:"reasons,omitempty"`
}

// CheckCompliance 比对酒店实际规模与订阅档位。宽限期内视为
// 合规但带标记，取消或超房量为不合规。
func (s *SubscriptionService) CheckCompliance(ctx context.Context, hotelID uint) (*ComplianceResult, error) {
	hotel, err := s.hotelRepo.GetByID(hotelID)
	if err != nil {
		return nil, err
	}
	if hotel == nil {
		return nil, ErrHotelNotFound
	}
	sub, err := s.GetByHotel(ctx, hotelID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	result := &ComplianceResult{
		Compliant: true,
		Plan:      sub.Plan,
		RoomBand:  sub.RoomBand,
		Status:    sub.Status,
		RoomQuota: sub.RoomQuota,
	}
	switch sub.Status {
	case constants.SubscriptionStatusPastDue:
		result.InGrace = true
		result.Reasons = append(result.Reasons, "payment_past_due")
	case constants.SubscriptionStatusCancelled:
		result.Compliant = false
		result.Reasons = append(result.Reasons, "subscription_cancelled")
	}
	if !plans.BandAllowsRooms(sub.RoomBand, hotel.RoomCount) {
		result.Compliant = false
		result.Reasons = append(result.Reasons, "room_quota_exceeded")
	}
	return result, nil
}

// InvalidateCache 失效酒店订阅缓存，对账提交后调用
func (s *SubscriptionService) InvalidateCache(hotelID *uint) {
	s.invalidate(hotelID)
}

func (s *SubscriptionService) invalidate(hotelID *uint) {
	if hotelID == nil {
		return
	}
	if err := cache.Del(context.Background(), subscriptionCacheKey(*hotelID)); err != nil {
		logger.Warnw("subscription_cache_del_failed", "hotel_id", *hotelID, "error", err)
	}
}

func subscriptionCacheKey(hotelID uint) string {
	return fmt.Sprintf("sub:hotel:%d", hotelID)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
