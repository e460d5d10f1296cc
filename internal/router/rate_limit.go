package router

import (
	"strings"

	"github.com/roomgrid/billing-core/internal/http/response"
	"github.com/roomgrid/billing-core/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
}

// 固定窗口计数，首次计数时设置窗口过期
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimitMiddleware Redis 固定窗口限流中间件。
// Redis 未启用或规则为空时放行；Redis 故障时同样放行，
// 回调和下单请求不能因为限流组件不可用而丢失。
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || rule.WindowSeconds <= 0 || rule.MaxRequests <= 0 {
			c.Next()
			return
		}

		count, err := windowCount(c, client, rule, keyFunc)
		if err != nil {
			logger.Warnw("rate_limit_unavailable", "prefix", rule.Prefix, "error", err)
			c.Next()
			return
		}
		if count > int64(rule.MaxRequests) {
			response.Error(c, response.CodeTooManyRequests, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Next()
	}
}

func windowCount(c *gin.Context, client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) (int64, error) {
	key := ""
	if keyFunc != nil {
		key = strings.TrimSpace(keyFunc(c))
	}
	if key == "" {
		key = c.ClientIP()
	}
	if rule.Prefix != "" {
		key = rule.Prefix + ":" + key
	}
	return fixedWindowScript.Run(c.Request.Context(), client, []string{key}, rule.WindowSeconds).Int64()
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}
