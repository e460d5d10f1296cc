package public

import (
	"crypto/subtle"
	"strings"

	"github.com/roomgrid/billing-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

// TriggerSweep 外部调度触发一轮权益巡检。巡检全程幂等，
// 与 worker 内置的周期巡检并发执行也不会重复降级。
func (h *Handler) TriggerSweep(c *gin.Context) {
	log := requestLog(c)

	token := bearerToken(c)
	expected := strings.TrimSpace(h.Config.Billing.SweepSecret)
	if expected == "" {
		// 未配置密钥时仅允许在非 release 模式下裸调，便于本地调试
		if h.Config.Server.Mode == "release" {
			log.Warnw("sweep_secret_missing", "client_ip", c.ClientIP())
			response.Unauthorized(c, "密钥无效")
			return
		}
	} else if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		log.Warnw("sweep_secret_invalid", "client_ip", c.ClientIP())
		response.Unauthorized(c, "密钥无效")
		return
	}

	report, err := h.SweeperService.Sweep(c.Request.Context())
	if err != nil {
		log.Errorw("sweep_trigger_failed", "error", err)
		response.Error(c, response.CodeInternal, "巡检失败")
		return
	}
	response.Success(c, report)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
