package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/gateway"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/queue"
	"github.com/roomgrid/billing-core/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type serviceTestEnv struct {
	db         *gorm.DB
	txnRepo    *repository.GormTransactionRepository
	subRepo    *repository.GormSubscriptionRepository
	hotelRepo  *repository.GormHotelRepository
	billing    *BillingService
	subService *SubscriptionService
	reconcile  *ReconcileService
}

func setupServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.Hotel{}, &models.Subscription{}, &models.PaymentTransaction{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	txnRepo := repository.NewTransactionRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	hotelRepo := repository.NewHotelRepository(db)
	queueClient, err := queue.NewClient(nil)
	if err != nil {
		t.Fatalf("queue client failed: %v", err)
	}
	subService := NewSubscriptionService(subRepo, hotelRepo, txnRepo, 30)
	return &serviceTestEnv{
		db:         db,
		txnRepo:    txnRepo,
		subRepo:    subRepo,
		hotelRepo:  hotelRepo,
		billing:    NewBillingService(txnRepo, subRepo, 60),
		subService: subService,
		reconcile:  NewReconcileService(db, txnRepo, subService, nil, queueClient),
	}
}

func (e *serviceTestEnv) createHotel(t *testing.T, id uint, rooms int) {
	t.Helper()
	hotel := models.Hotel{ID: id, Name: fmt.Sprintf("Hotel %d", id), UserID: id, RoomCount: rooms}
	if err := e.db.Create(&hotel).Error; err != nil {
		t.Fatalf("create hotel failed: %v", err)
	}
}

func (e *serviceTestEnv) checkoutTransfer(t *testing.T, hotelID uint, userID uint) *models.PaymentTransaction {
	t.Helper()
	txn, err := e.billing.Checkout(CheckoutInput{
		UserID:   userID,
		HotelID:  &hotelID,
		Plan:     constants.PlanPro,
		RoomBand: constants.RoomBandSmall,
		Currency: "KZT",
		Gateway:  constants.GatewayTransferWebhook,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	return txn
}

func transferEvent(ref, orderNo string, amountMinor int64) *gateway.CompletionEvent {
	return &gateway.CompletionEvent{
		ExternalRef: ref,
		AmountMinor: amountMinor,
		Currency:    "KZT",
		OrderHint:   orderNo,
		Status:      constants.RemotePaymentPaid,
		Raw:         map[string]interface{}{"id": ref},
	}
}

func TestReconcileAppliesCompletion(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)
	txn := env.checkoutTransfer(t, 1, 1)

	result, err := env.reconcile.Process(context.Background(), transferEvent("TRX-1", txn.OrderNo, txn.AmountMinor))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}

	completed, err := env.txnRepo.GetByOrderNo(txn.OrderNo)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if completed.Status != constants.TxnStatusCompleted {
		t.Fatalf("transaction not completed: %s", completed.Status)
	}
	if completed.GatewayTxnID == nil || *completed.GatewayTxnID != "TRX-1" {
		t.Fatalf("gateway txn id not claimed: %v", completed.GatewayTxnID)
	}

	sub, err := env.subRepo.GetByHotelID(1)
	if err != nil {
		t.Fatalf("fetch subscription failed: %v", err)
	}
	if sub == nil {
		t.Fatal("subscription not created")
	}
	if sub.Plan != constants.PlanPro || sub.Status != constants.SubscriptionStatusActive {
		t.Fatalf("unexpected subscription: plan=%s status=%s", sub.Plan, sub.Status)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(time.Now().AddDate(0, 0, 29)) {
		t.Fatalf("period end not extended: %v", sub.CurrentPeriodEnd)
	}
}

func TestReconcileDuplicateEventGrantsOnce(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)
	txn := env.checkoutTransfer(t, 1, 1)

	first, err := env.reconcile.Process(context.Background(), transferEvent("TRX-2", txn.OrderNo, txn.AmountMinor))
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	if first.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", first.Outcome)
	}
	sub, _ := env.subRepo.GetByHotelID(1)
	endAfterFirst := *sub.CurrentPeriodEnd

	second, err := env.reconcile.Process(context.Background(), transferEvent("TRX-2", txn.OrderNo, txn.AmountMinor))
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if second.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already processed, got %s", second.Outcome)
	}

	sub, _ = env.subRepo.GetByHotelID(1)
	if !sub.CurrentPeriodEnd.Equal(endAfterFirst) {
		t.Fatalf("period extended twice: %v vs %v", sub.CurrentPeriodEnd, endAfterFirst)
	}
}

func TestReconcileForeignEventSilentlyAcked(t *testing.T) {
	env := setupServiceTest(t)

	result, err := env.reconcile.Process(context.Background(), transferEvent("TRX-UNKNOWN", "RG-ZZ-NOPE", 990000))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != OutcomeForeignEvent {
		t.Fatalf("expected foreign event, got %s", result.Outcome)
	}

	var count int64
	env.db.Model(&models.PaymentTransaction{}).Count(&count)
	if count != 0 {
		t.Fatalf("foreign event must not create rows, got %d", count)
	}
}

func TestReconcileAmountMismatchFailsValidation(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)
	txn := env.checkoutTransfer(t, 1, 1)

	result, err := env.reconcile.Process(context.Background(), transferEvent("TRX-3", txn.OrderNo, txn.AmountMinor-100))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != OutcomeValidationFailed {
		t.Fatalf("expected validation failed, got %s", result.Outcome)
	}
	if result.FailReason != constants.TxnFailReasonAmountMismatch {
		t.Fatalf("unexpected reason: %s", result.FailReason)
	}

	failed, _ := env.txnRepo.GetByOrderNo(txn.OrderNo)
	if failed.Status != constants.TxnStatusFailed || failed.FailedReason != constants.TxnFailReasonAmountMismatch {
		t.Fatalf("row not failed: status=%s reason=%s", failed.Status, failed.FailedReason)
	}

	sub, _ := env.subRepo.GetByHotelID(1)
	if sub != nil {
		t.Fatal("no entitlement may be granted on mismatch")
	}
}

func TestReconcileCurrencyMismatchFailsValidation(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)
	txn := env.checkoutTransfer(t, 1, 1)

	ev := transferEvent("TRX-4", txn.OrderNo, txn.AmountMinor)
	ev.Currency = "USD"
	result, err := env.reconcile.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != OutcomeValidationFailed || result.FailReason != constants.TxnFailReasonCurrencyMismatch {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReconcileRenewalExtendsForward(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)

	txn1 := env.checkoutTransfer(t, 1, 1)
	if _, err := env.reconcile.Process(context.Background(), transferEvent("TRX-5", txn1.OrderNo, txn1.AmountMinor)); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	sub, _ := env.subRepo.GetByHotelID(1)
	firstEnd := *sub.CurrentPeriodEnd

	txn2 := env.checkoutTransfer(t, 1, 1)
	if _, err := env.reconcile.Process(context.Background(), transferEvent("TRX-6", txn2.OrderNo, txn2.AmountMinor)); err != nil {
		t.Fatalf("renewal failed: %v", err)
	}
	sub, _ = env.subRepo.GetByHotelID(1)
	if !sub.CurrentPeriodEnd.After(firstEnd) {
		t.Fatalf("renewal did not extend period: %v vs %v", sub.CurrentPeriodEnd, firstEnd)
	}
	// 续期基准是旧账期终点而非当前时间
	if sub.CurrentPeriodEnd.Before(firstEnd.AddDate(0, 0, 29)) {
		t.Fatalf("renewal extended from wrong base: %v", sub.CurrentPeriodEnd)
	}
}

func TestReconcileManualActivation(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)

	txn, err := env.billing.Checkout(CheckoutInput{
		UserID:   1,
		HotelID:  uintPtr(1),
		Plan:     constants.PlanPro,
		RoomBand: constants.RoomBandSmall,
		Currency: "KZT",
		Gateway:  constants.GatewayManual,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	ev, err := gateway.BuildManualEvent(gateway.ManualActivationInput{
		Reference:   "bank-slip-77",
		AmountMinor: txn.AmountMinor,
		Currency:    "KZT",
		OrderNo:     txn.OrderNo,
		OperatorID:  100,
	})
	if err != nil {
		t.Fatalf("build manual event failed: %v", err)
	}

	first, err := env.reconcile.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if first.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", first.Outcome)
	}

	// 同一凭证重复提交只生效一次
	second, err := env.reconcile.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already processed, got %s", second.Outcome)
	}
}

type fakePaymentVerifier struct {
	payment *gateway.RemotePayment
	err     error
}

func (f *fakePaymentVerifier) VerifyPayment(_ context.Context, ref string) (*gateway.RemotePayment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func TestVerifyAndProcessPollGateway(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)

	txn, err := env.billing.Checkout(CheckoutInput{
		UserID:      1,
		HotelID:     uintPtr(1),
		Plan:        constants.PlanPro,
		RoomBand:    constants.RoomBandSmall,
		Currency:    "KZT",
		Gateway:     constants.GatewayExternalBilling,
		ExternalRef: "EXT-900",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	queueClient, _ := queue.NewClient(nil)
	verifier := &fakePaymentVerifier{payment: &gateway.RemotePayment{
		Ref:         "EXT-900",
		Status:      constants.RemotePaymentPaid,
		AmountMinor: txn.AmountMinor,
		Currency:    "KZT",
	}}
	reconcile := NewReconcileService(env.db, env.txnRepo, env.subService, verifier, queueClient)

	result, err := reconcile.VerifyAndProcess(context.Background(), txn.OrderNo)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", result.Outcome)
	}

	sub, _ := env.subRepo.GetByHotelID(1)
	if sub == nil || sub.ExternalProvider != constants.GatewayExternalBilling || sub.ExternalSubscriptionID != "EXT-900" {
		t.Fatalf("external provider not recorded: %+v", sub)
	}
}

func TestVerifyAndProcessDeclined(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)

	txn, err := env.billing.Checkout(CheckoutInput{
		UserID:      1,
		HotelID:     uintPtr(1),
		Plan:        constants.PlanPro,
		RoomBand:    constants.RoomBandSmall,
		Currency:    "KZT",
		Gateway:     constants.GatewayExternalBilling,
		ExternalRef: "EXT-901",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	queueClient, _ := queue.NewClient(nil)
	verifier := &fakePaymentVerifier{payment: &gateway.RemotePayment{
		Ref:    "EXT-901",
		Status: constants.RemotePaymentDeclined,
	}}
	reconcile := NewReconcileService(env.db, env.txnRepo, env.subService, verifier, queueClient)

	result, err := reconcile.VerifyAndProcess(context.Background(), txn.OrderNo)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeValidationFailed || result.FailReason != constants.TxnFailReasonProviderDeclined {
		t.Fatalf("unexpected result: %+v", result)
	}
	failed, _ := env.txnRepo.GetByOrderNo(txn.OrderNo)
	if failed.Status != constants.TxnStatusFailed {
		t.Fatalf("row not failed: %s", failed.Status)
	}
}

func TestReconcileConcurrentDeliveriesGrantOnce(t *testing.T) {
	env := setupServiceTest(t)
	sqlDB, err := env.db.DB()
	if err != nil {
		t.Fatalf("raw db failed: %v", err)
	}
	// 单连接串行化写入，避免内存 sqlite 的写锁干扰并发投递本身的竞争
	sqlDB.SetMaxOpenConns(1)

	env.createHotel(t, 1, 30)
	txn := env.checkoutTransfer(t, 1, 1)

	const deliveries = 8
	outcomes := make([]string, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, perr := env.reconcile.Process(context.Background(), transferEvent("TRX-RACE", txn.OrderNo, txn.AmountMinor))
			if perr != nil {
				errs[i] = perr
				return
			}
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < deliveries; i++ {
		if errs[i] != nil {
			t.Fatalf("delivery %d failed: %v", i, errs[i])
		}
		switch outcomes[i] {
		case OutcomeApplied:
			applied++
		case OutcomeAlreadyProcessed:
		default:
			t.Fatalf("delivery %d unexpected outcome: %q", i, outcomes[i])
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied delivery, got %d", applied)
	}

	var subCount int64
	if err := env.db.Model(&models.Subscription{}).Count(&subCount).Error; err != nil {
		t.Fatalf("count subscriptions failed: %v", err)
	}
	if subCount != 1 {
		t.Fatalf("expected one subscription, got %d", subCount)
	}
	sub, err := env.subRepo.GetByHotelID(1)
	if err != nil || sub == nil {
		t.Fatalf("subscription missing: %v", err)
	}
	// 只授予一个计费周期
	wantEnd := time.Now().AddDate(0, 0, 30)
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Sub(wantEnd).Abs() > time.Minute {
		t.Fatalf("period granted more than once: %v", sub.CurrentPeriodEnd)
	}
}

func TestReconcileLateWebhookAfterAutoExpiry(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)
	txn := env.checkoutTransfer(t, 1, 1)

	past := time.Now().Add(-time.Hour)
	if err := env.db.Model(&models.PaymentTransaction{}).
		Where("id = ?", txn.ID).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("backdate expiry failed: %v", err)
	}

	sweeper := newSweeper(env, nil, 3)
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.ExpiredTransactions != 1 {
		t.Fatalf("pending not expired: %+v", report)
	}

	// 迟到的转账回执不能复活已失效的订单
	result, err := env.reconcile.Process(context.Background(), transferEvent("TRX-LATE", txn.OrderNo, txn.AmountMinor))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != OutcomeForeignEvent {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}
	got, _ := env.txnRepo.GetByID(txn.ID)
	if got.Status != constants.TxnStatusFailed || got.FailedReason != constants.TxnFailReasonAutoExpired {
		t.Fatalf("expired row must stay failed: status=%s reason=%s", got.Status, got.FailedReason)
	}
	sub, _ := env.subRepo.GetByHotelID(1)
	if sub != nil {
		t.Fatalf("no subscription should be granted, got %+v", sub)
	}
}

func TestReconcileRefConflictTreatedAsDuplicate(t *testing.T) {
	env := setupServiceTest(t)
	env.createHotel(t, 1, 30)
	env.createHotel(t, 2, 30)

	first := env.checkoutTransfer(t, 1, 1)
	if _, err := env.reconcile.Process(context.Background(), transferEvent("TRX-SHARED", first.OrderNo, first.AmountMinor)); err != nil {
		t.Fatalf("first process failed: %v", err)
	}

	// 直接走认领路径，模拟匹配之后、认领之前同一流水号已被
	// 另一条交易占用的窗口
	second := env.checkoutTransfer(t, 2, 2)
	result, err := env.reconcile.claimAndApply(second, transferEvent("TRX-SHARED", second.OrderNo, second.AmountMinor))
	if err != nil {
		t.Fatalf("claim must not surface the conflict: %v", err)
	}
	if result.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}

	got, _ := env.txnRepo.GetByID(second.ID)
	if got.Status != constants.TxnStatusPending {
		t.Fatalf("conflicting claim must roll back, got %s", got.Status)
	}
	sub, _ := env.subRepo.GetByHotelID(2)
	if sub != nil {
		t.Fatalf("conflicting claim must not grant entitlement, got %+v", sub)
	}
}

func uintPtr(v uint) *uint {
	return &v
}
