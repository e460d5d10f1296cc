package public

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/roomgrid/billing-core/internal/config"
	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/provider"
	"github.com/roomgrid/billing-core/internal/queue"
	"github.com/roomgrid/billing-core/internal/repository"
	"github.com/roomgrid/billing-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testWebhookSecret = "webhook-test-secret"

type webhookTestEnv struct {
	db      *gorm.DB
	router  *gin.Engine
	billing *service.BillingService
	txnRepo *repository.GormTransactionRepository
}

func setupWebhookTest(t *testing.T) *webhookTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:webhook_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	cfg := &config.Config{}
	cfg.Server.Mode = "debug"
	cfg.Billing.WebhookSecret = testWebhookSecret

	subService := service.NewSubscriptionService(subRepo, hotelRepo, txnRepo, 30)
	billing := service.NewBillingService(txnRepo, subRepo, 60)
	container := &provider.Container{
		Config:              cfg,
		QueueClient:         queueClient,
		TransactionRepo:     txnRepo,
		SubscriptionRepo:    subRepo,
		HotelRepo:           hotelRepo,
		BillingService:      billing,
		SubscriptionService: subService,
		ReconcileService:    service.NewReconcileService(db, txnRepo, subService, nil, queueClient),
	}
	handler := New(container)

	r := gin.New()
	r.POST("/api/v1/payments/webhook/transfer", handler.TransferWebhook)

	return &webhookTestEnv{db: db, router: r, billing: billing, txnRepo: txnRepo}
}

func (e *webhookTestEnv) post(t *testing.T, secret, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	url := "/api/v1/payments/webhook/transfer"
	if secret != "" {
		url += "?secret=" + secret
	}
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v (body: %s)", err, w.Body.String())
	}
	return w, resp
}

func (e *webhookTestEnv) checkoutPending(t *testing.T, hotelID, userID uint) *models.PaymentTransaction {
	t.Helper()
	hotel := models.Hotel{ID: hotelID, Name: fmt.Sprintf("Hotel %d", hotelID), UserID: userID, RoomCount: 20}
	if err := e.db.Create(&hotel).Error; err != nil {
		t.Fatalf("create hotel failed: %v", err)
	}
	txn, err := e.billing.Checkout(service.CheckoutInput{
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

func transferBody(ref, content string, amountMinor int64) string {
	amount := decimal.NewFromInt(amountMinor).Div(decimal.NewFromInt(100))
	return fmt.Sprintf(`{"id":%q,"transferType":"in","transferAmount":%s,"currency":"KZT","content":%q}`,
		ref, amount.String(), content)
}

func TestTransferWebhookRejectsBadSecret(t *testing.T) {
	env := setupWebhookTest(t)

	// 机器网关按 HTTP 状态码判定，鉴权失败必须是真实的 401
	w, resp := env.post(t, "wrong-secret", transferBody("tr-1", "no order", 100))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("http status = %d, want 401", w.Code)
	}
	if code := resp["status_code"].(float64); code != 401 {
		t.Fatalf("status_code = %v, want 401", code)
	}

	w, _ = env.post(t, "", transferBody("tr-2", "no order", 100))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("http status without secret = %d, want 401", w.Code)
	}
}

func TestTransferWebhookAppliesCompletion(t *testing.T) {
	env := setupWebhookTest(t)
	txn := env.checkoutPending(t, 1, 10)

	content := "Перевод за подписку " + txn.OrderNo
	w, resp := env.post(t, testWebhookSecret, transferBody("tr-apply-1", content, txn.AmountMinor))
	if w.Code != http.StatusOK {
		t.Fatalf("http status = %d, want 200", w.Code)
	}
	if code := resp["status_code"].(float64); code != 0 {
		t.Fatalf("status_code = %v, want 0 (body: %v)", code, resp)
	}
	data := resp["data"].(map[string]interface{})
	if data["outcome"] != service.OutcomeApplied {
		t.Fatalf("outcome = %v, want %s", data["outcome"], service.OutcomeApplied)
	}

	stored, err := env.txnRepo.GetByID(txn.ID)
	if err != nil || stored == nil {
		t.Fatalf("fetch transaction failed: %v", err)
	}
	if stored.Status != constants.TxnStatusCompleted {
		t.Fatalf("transaction status = %s, want completed", stored.Status)
	}

	// 同一事件重投只回执，不重复发放
	_, resp = env.post(t, testWebhookSecret, transferBody("tr-apply-1", content, txn.AmountMinor))
	data = resp["data"].(map[string]interface{})
	if data["outcome"] != service.OutcomeAlreadyProcessed {
		t.Fatalf("replay outcome = %v, want %s", data["outcome"], service.OutcomeAlreadyProcessed)
	}
}

func TestTransferWebhookForeignEventAcked(t *testing.T) {
	env := setupWebhookTest(t)

	_, resp := env.post(t, testWebhookSecret, transferBody("tr-foreign-1", "оплата аренды без номера заказа", 5000))
	if code := resp["status_code"].(float64); code != 0 {
		t.Fatalf("status_code = %v, want 0", code)
	}
	data := resp["data"].(map[string]interface{})
	if data["outcome"] != service.OutcomeForeignEvent {
		t.Fatalf("outcome = %v, want %s", data["outcome"], service.OutcomeForeignEvent)
	}
}

func TestTransferWebhookAmountMismatchAckedAsFailed(t *testing.T) {
	env := setupWebhookTest(t)
	txn := env.checkoutPending(t, 2, 20)

	// 金额不符的事件也回执成功，该笔落为 failed 转人工，
	// 网关不应重投同一笔坏账
	w, resp := env.post(t, testWebhookSecret, transferBody("tr-mismatch-1", txn.OrderNo, txn.AmountMinor-100))
	if w.Code != http.StatusOK {
		t.Fatalf("http status = %d, want 200", w.Code)
	}
	if code := resp["status_code"].(float64); code != 0 {
		t.Fatalf("status_code = %v, want 0", code)
	}
	data := resp["data"].(map[string]interface{})
	if data["outcome"] != service.OutcomeValidationFailed {
		t.Fatalf("outcome = %v, want %s", data["outcome"], service.OutcomeValidationFailed)
	}
	if data["reason"] != constants.TxnFailReasonAmountMismatch {
		t.Fatalf("reason = %v, want amount_mismatch", data["reason"])
	}

	stored, err := env.txnRepo.GetByID(txn.ID)
	if err != nil || stored == nil {
		t.Fatalf("fetch transaction failed: %v", err)
	}
	if stored.Status != constants.TxnStatusFailed {
		t.Fatalf("transaction status = %s, want failed", stored.Status)
	}
}

func TestTransferWebhookMalformedPayload(t *testing.T) {
	env := setupWebhookTest(t)

	_, resp := env.post(t, testWebhookSecret, `{"transferType":"out"`)
	if code := resp["status_code"].(float64); code != 400 {
		t.Fatalf("status_code = %v, want 400", code)
	}
}
