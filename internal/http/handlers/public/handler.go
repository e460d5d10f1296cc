package public

import (
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/provider"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 前台接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

// requestLog 带请求 ID 的日志器
func requestLog(c *gin.Context) *zap.SugaredLogger {
	requestID := ""
	if value, ok := c.Get("request_id"); ok {
		if id, ok := value.(string); ok {
			requestID = id
		}
	}
	return logger.SW().With("request_id", requestID)
}

// getUserID 从鉴权上下文取用户 ID
func getUserID(c *gin.Context) (uint, bool) {
	value, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}
