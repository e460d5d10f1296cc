package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/plans"
	"github.com/roomgrid/billing-core/internal/repository"
)

// BillingService 下单服务。负责定价校验、网关切换守卫与
// 待支付账本行的创建。
type BillingService struct {
	txnRepo       repository.TransactionRepository
	subRepo       repository.SubscriptionRepository
	expireMinutes int
}

// NewBillingService 创建下单服务
func NewBillingService(txnRepo repository.TransactionRepository, subRepo repository.SubscriptionRepository, expireMinutes int) *BillingService {
	if expireMinutes <= 0 {
		expireMinutes = 60
	}
	return &BillingService{
		txnRepo:       txnRepo,
		subRepo:       subRepo,
		expireMinutes: expireMinutes,
	}
}

// CheckoutInput 下单输入
type CheckoutInput struct {
	UserID      uint
	HotelID     *uint
	Plan        string
	RoomBand    string
	Currency    string
	Gateway     string
	TermMonths  int
	ExternalRef string
}

// Checkout 创建待支付交易。同一作用域内旧的 pending 行被
// 原子替换，外部计费订阅存续期间拒绝经其他网关购买。
func (s *BillingService) Checkout(input CheckoutInput) (*models.PaymentTransaction, error) {
	if input.UserID == 0 {
		return nil, fmt.Errorf("用户 ID 缺失")
	}
	plan, ok := plans.Lookup(input.Plan)
	if !ok {
		return nil, ErrPlanInvalid
	}
	if !plan.Paid {
		return nil, ErrPlanNotPurchasable
	}
	band, ok := plans.LookupBand(input.RoomBand)
	if !ok {
		return nil, ErrPlanInvalid
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}
	termMonths := input.TermMonths
	if termMonths <= 0 {
		termMonths = 1
	}
	unitPrice, ok := plans.PriceMinor(plan.Code, band.Code, currency)
	if !ok {
		return nil, ErrPriceUnavailable
	}
	amount := unitPrice * int64(termMonths)

	switch input.Gateway {
	case constants.GatewayTransferWebhook, constants.GatewayManual:
	case constants.GatewayExternalBilling:
		if strings.TrimSpace(input.ExternalRef) == "" {
			return nil, ErrExternalRefRequired
		}
	default:
		return nil, ErrGatewayInvalid
	}

	if err := s.checkProviderSwitch(input); err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.expireMinutes) * time.Minute)
	txn := &models.PaymentTransaction{
		OrderNo:           GenerateOrderNo(input.UserID, now),
		HotelID:           input.HotelID,
		UserID:            input.UserID,
		AmountMinor:       amount,
		Currency:          currency,
		Gateway:           input.Gateway,
		PurchasedPlan:     plan.Code,
		PurchasedRoomBand: band.Code,
		TermMonths:        termMonths,
		Status:            constants.TxnStatusPending,
		ExpiresAt:         &expiresAt,
	}
	if input.Gateway == constants.GatewayExternalBilling {
		ref := strings.TrimSpace(input.ExternalRef)
		txn.GatewayTxnID = &ref
	}

	if err := s.txnRepo.CreatePendingSuperseding(txn); err != nil {
		return nil, err
	}
	logger.Infow("checkout_pending_created",
		"order_no", txn.OrderNo,
		"user_id", txn.UserID,
		"gateway", txn.Gateway,
		"plan", txn.PurchasedPlan,
		"amount_minor", txn.AmountMinor,
		"currency", txn.Currency,
	)
	return txn, nil
}

// checkProviderSwitch 网关切换守卫：存续的外部计费订阅只允许
// 继续走该供应商，其余网关一律拒单。先付场景按用户名下游离
// 订阅判定。
func (s *BillingService) checkProviderSwitch(input CheckoutInput) error {
	var sub *models.Subscription
	var err error
	if input.HotelID != nil {
		sub, err = s.subRepo.GetByHotelID(*input.HotelID)
	} else {
		sub, err = s.subRepo.GetUnattachedByUserID(input.UserID)
	}
	if err != nil {
		return err
	}
	if sub == nil || sub.ExternalProvider == "" {
		return nil
	}
	if sub.Status == constants.SubscriptionStatusCancelled {
		return nil
	}
	if input.Gateway != sub.ExternalProvider {
		logger.Warnw("provider_switch_blocked",
			"user_id", input.UserID,
			"subscription_id", sub.ID,
			"current_provider", sub.ExternalProvider,
			"requested_gateway", input.Gateway,
		)
		return ErrProviderSwitchForbidden
	}
	return nil
}

// GenerateOrderNo 生成订单号。用户 ID 与纳秒时间戳各取 36 进制，
// 全大写，能被转账备注提取规则反向识别。
func GenerateOrderNo(userID uint, at time.Time) string {
	return strings.ToUpper(fmt.Sprintf("RG-%s-%s",
		strconv.FormatUint(uint64(userID), 36),
		strconv.FormatInt(at.UnixNano(), 36),
	))
}
