package router

import (
	"fmt"
	"strings"

	"github.com/roomgrid/billing-core/internal/cache"
	"github.com/roomgrid/billing-core/internal/config"
	"github.com/roomgrid/billing-core/internal/constants"
	adminhandlers "github.com/roomgrid/billing-core/internal/http/handlers/admin"
	publichandlers "github.com/roomgrid/billing-core/internal/http/handlers/public"
	"github.com/roomgrid/billing-core/internal/http/response"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redisClient := cache.Client()
	checkoutRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:checkout", redisPrefix),
		WindowSeconds: cfg.Security.CheckoutRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CheckoutRateLimit.MaxRequests,
	}
	webhookRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:webhook", redisPrefix),
		WindowSeconds: cfg.Security.WebhookRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.WebhookRateLimit.MaxRequests,
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		// 网关回调与外部调度，不走用户鉴权
		payments := apiV1.Group("/payments")
		{
			payments.POST("/webhook/transfer",
				RateLimitMiddleware(redisClient, webhookRule, KeyByIP),
				publicHandler.TransferWebhook)
		}
		apiV1.GET("/billing/sweep", publicHandler.TriggerSweep)

		// 用户接口（需鉴权）
		user := apiV1.Group("")
		user.Use(UserJWTAuthMiddleware(cfg.JWT.SecretKey))
		{
			user.POST("/checkout",
				RateLimitMiddleware(redisClient, checkoutRule, KeyByIP),
				publicHandler.Checkout)
			user.POST("/payments/:order_no/verify", publicHandler.VerifyPayment)
			user.GET("/subscriptions/by-hotel/:hotel_id", publicHandler.GetSubscriptionByHotel)
			user.GET("/subscriptions/by-hotel/:hotel_id/compliance", publicHandler.GetSubscriptionCompliance)
		}

		// 后台接口
		admin := apiV1.Group("/admin")
		admin.Use(AdminJWTAuthMiddleware(cfg.AdminJWT.SecretKey))
		{
			admin.POST("/activations", adminHandler.CreateActivation)
			admin.POST("/hotels/:id/attach-subscription", adminHandler.AttachSubscription)
		}
	}

	return r
}
