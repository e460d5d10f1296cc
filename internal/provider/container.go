package provider

import (
	"github.com/roomgrid/billing-core/internal/cache"
	"github.com/roomgrid/billing-core/internal/config"
	"github.com/roomgrid/billing-core/internal/gateway"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/models"
	"github.com/roomgrid/billing-core/internal/queue"
	"github.com/roomgrid/billing-core/internal/repository"
	"github.com/roomgrid/billing-core/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	TransactionRepo  repository.TransactionRepository
	SubscriptionRepo repository.SubscriptionRepository
	HotelRepo        repository.HotelRepository

	// Gateways
	ExternalBilling *gateway.ExternalBillingClient

	// Services
	BillingService      *service.BillingService
	SubscriptionService *service.SubscriptionService
	ReconcileService    *service.ReconcileService
	SweeperService      *service.SweeperService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	db := models.DB
	c.TransactionRepo = repository.NewTransactionRepository(db)
	c.SubscriptionRepo = repository.NewSubscriptionRepository(db)
	c.HotelRepo = repository.NewHotelRepository(db)

	c.ExternalBilling = gateway.NewExternalBillingClient(cfg.ExternalBilling)

	c.SubscriptionService = service.NewSubscriptionService(
		c.SubscriptionRepo, c.HotelRepo, c.TransactionRepo, cfg.Billing.TermDays)
	c.BillingService = service.NewBillingService(
		c.TransactionRepo, c.SubscriptionRepo, cfg.Billing.PendingExpireMinutes)
	c.ReconcileService = service.NewReconcileService(
		db, c.TransactionRepo, c.SubscriptionService, c.ExternalBilling, c.QueueClient)
	c.SweeperService = service.NewSweeperService(
		c.TransactionRepo, c.SubscriptionRepo, c.SubscriptionService,
		c.ExternalBilling, c.QueueClient, cfg.Billing.GracePeriodDays)

	return c
}
