package admin

import (
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/provider"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 后台接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建后台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func requestLog(c *gin.Context) *zap.SugaredLogger {
	requestID := ""
	if value, ok := c.Get("request_id"); ok {
		if id, ok := value.(string); ok {
			requestID = id
		}
	}
	return logger.SW().With("request_id", requestID)
}

func getAdminID(c *gin.Context) (uint, bool) {
	value, ok := c.Get("admin_id")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}
