package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTransactionRepoTest(t *testing.T) (*GormTransactionRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:txn_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return NewTransactionRepository(db), db
}

func newPendingTxn(orderNo string, hotelID *uint, userID uint, gateway string) *models.PaymentTransaction {
	expires := time.Now().Add(time.Hour)
	return &models.PaymentTransaction{
		OrderNo:           orderNo,
		HotelID:           hotelID,
		UserID:            userID,
		AmountMinor:       990000,
		Currency:          "KZT",
		Gateway:           gateway,
		PurchasedPlan:     constants.PlanPro,
		PurchasedRoomBand: constants.RoomBandSmall,
		TermMonths:        1,
		Status:            constants.TxnStatusPending,
		ExpiresAt:         &expires,
	}
}

func TestCreatePendingSupersedesSameScope(t *testing.T) {
	repo, _ := setupTransactionRepoTest(t)
	hotelID := uint(7)

	first := newPendingTxn("RG-A-1", &hotelID, 1, constants.GatewayTransferWebhook)
	if err := repo.CreatePendingSuperseding(first); err != nil {
		t.Fatalf("create first failed: %v", err)
	}
	second := newPendingTxn("RG-A-2", &hotelID, 1, constants.GatewayTransferWebhook)
	if err := repo.CreatePendingSuperseding(second); err != nil {
		t.Fatalf("create second failed: %v", err)
	}

	old, err := repo.GetByOrderNo("RG-A-1")
	if err != nil {
		t.Fatalf("fetch old failed: %v", err)
	}
	if old.Status != constants.TxnStatusFailed || old.FailedReason != constants.TxnFailReasonSuperseded {
		t.Fatalf("old row not superseded: status=%s reason=%s", old.Status, old.FailedReason)
	}

	pending, err := repo.GetPendingByScope(&hotelID, 1, constants.GatewayTransferWebhook)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if pending == nil || pending.OrderNo != "RG-A-2" {
		t.Fatalf("expected RG-A-2 to be the only pending row, got %+v", pending)
	}
}

func TestCreatePendingKeepsOtherScopes(t *testing.T) {
	repo, _ := setupTransactionRepoTest(t)
	hotelA := uint(1)
	hotelB := uint(2)

	if err := repo.CreatePendingSuperseding(newPendingTxn("RG-B-1", &hotelA, 1, constants.GatewayTransferWebhook)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// 不同酒店
	if err := repo.CreatePendingSuperseding(newPendingTxn("RG-B-2", &hotelB, 1, constants.GatewayTransferWebhook)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// 同酒店不同网关
	if err := repo.CreatePendingSuperseding(newPendingTxn("RG-B-3", &hotelA, 1, constants.GatewayManual)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// 先付用户作用域（无酒店）
	if err := repo.CreatePendingSuperseding(newPendingTxn("RG-B-4", nil, 9, constants.GatewayTransferWebhook)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, orderNo := range []string{"RG-B-1", "RG-B-2", "RG-B-3", "RG-B-4"} {
		txn, err := repo.GetByOrderNo(orderNo)
		if err != nil {
			t.Fatalf("fetch %s failed: %v", orderNo, err)
		}
		if txn.Status != constants.TxnStatusPending {
			t.Fatalf("%s should stay pending, got %s", orderNo, txn.Status)
		}
	}
}

func TestTransitionTriState(t *testing.T) {
	repo, _ := setupTransactionRepoTest(t)
	hotelID := uint(3)
	txn := newPendingTxn("RG-C-1", &hotelID, 1, constants.GatewayTransferWebhook)
	if err := repo.CreatePendingSuperseding(txn); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Now()
	res, err := repo.Transition(txn.ID, constants.TxnStatusPending, map[string]interface{}{
		"status":         constants.TxnStatusCompleted,
		"completed_at":   now,
		"gateway_txn_id": "TRX-500",
	})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if res != TransitionApplied {
		t.Fatalf("expected applied, got %v", res)
	}

	// 重复迁移归并为已处理
	res, err = repo.Transition(txn.ID, constants.TxnStatusPending, map[string]interface{}{
		"status": constants.TxnStatusCompleted,
	})
	if err != nil {
		t.Fatalf("second transition failed: %v", err)
	}
	if res != TransitionAlreadyProcessed {
		t.Fatalf("expected already processed, got %v", res)
	}

	// 不存在的行
	res, err = repo.Transition(99999, constants.TxnStatusPending, map[string]interface{}{
		"status": constants.TxnStatusCompleted,
	})
	if err != nil {
		t.Fatalf("missing transition failed: %v", err)
	}
	if res != TransitionNotFound {
		t.Fatalf("expected not found, got %v", res)
	}
}

func TestGetPendingByGatewayTxnID(t *testing.T) {
	repo, _ := setupTransactionRepoTest(t)
	ref := "EXT-42"
	txn := newPendingTxn("RG-D-1", nil, 5, constants.GatewayExternalBilling)
	txn.GatewayTxnID = &ref
	if err := repo.CreatePendingSuperseding(txn); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.GetPendingByGatewayTxnID("EXT-42")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got == nil || got.OrderNo != "RG-D-1" {
		t.Fatalf("unexpected result: %+v", got)
	}
	missing, err := repo.GetPendingByGatewayTxnID("EXT-NOPE")
	if err != nil {
		t.Fatalf("fetch missing failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown ref, got %+v", missing)
	}
}

func TestListExpiredPending(t *testing.T) {
	repo, db := setupTransactionRepoTest(t)
	hotelID := uint(4)

	expired := newPendingTxn("RG-E-1", &hotelID, 1, constants.GatewayTransferWebhook)
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past
	if err := db.Create(expired).Error; err != nil {
		t.Fatalf("create expired failed: %v", err)
	}
	alive := newPendingTxn("RG-E-2", nil, 2, constants.GatewayTransferWebhook)
	if err := db.Create(alive).Error; err != nil {
		t.Fatalf("create alive failed: %v", err)
	}

	txns, err := repo.ListExpiredPending(time.Now(), 100)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txns) != 1 || txns[0].OrderNo != "RG-E-1" {
		t.Fatalf("unexpected expired list: %+v", txns)
	}
}
