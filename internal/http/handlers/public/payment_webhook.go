package public

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/roomgrid/billing-core/internal/gateway"
	"github.com/roomgrid/billing-core/internal/http/response"
	"github.com/roomgrid/billing-core/internal/service"

	"github.com/gin-gonic/gin"
)

// TransferWebhook 转账到账回调。
// 只要报文能解析就回执成功：无法匹配到账本行的事件静默回执，
// 校验失败的已落为 failed 待人工处理，重投都没有意义。
func (h *Handler) TransferWebhook(c *gin.Context) {
	log := requestLog(c)

	// 对接方是机器网关，鉴权失败要给真实的 401 状态码
	secret := strings.TrimSpace(c.Query("secret"))
	expected := strings.TrimSpace(h.Config.Billing.WebhookSecret)
	if expected == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(expected)) != 1 {
		log.Warnw("transfer_webhook_secret_invalid", "client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Response{
			StatusCode: response.CodeUnauthorized,
			Msg:        "密钥无效",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		log.Warnw("transfer_webhook_body_read_failed", "error", err)
		response.BadRequest(c, "请求体读取失败")
		return
	}

	ev, err := gateway.ParseTransferWebhook(body)
	if err != nil {
		log.Warnw("transfer_webhook_parse_failed", "error", err, "body_size", len(body))
		response.BadRequest(c, "回调载荷无效")
		return
	}
	log.Infow("transfer_webhook_received",
		"gateway_txn_id", ev.ExternalRef,
		"amount_minor", ev.AmountMinor,
		"currency", ev.Currency,
		"order_hint", ev.OrderHint,
		"client_ip", c.ClientIP(),
	)

	result, err := h.ReconcileService.Process(c.Request.Context(), ev)
	if err != nil {
		log.Errorw("transfer_webhook_process_failed", "gateway_txn_id", ev.ExternalRef, "error", err)
		response.Error(c, response.CodeInternal, "对账处理失败")
		return
	}

	// 校验失败也回执成功，该笔已落为 failed 待人工处理，
	// 网关重投同一笔坏账没有意义
	if result.Outcome == service.OutcomeValidationFailed {
		response.Success(c, gin.H{
			"outcome": result.Outcome,
			"reason":  result.FailReason,
		})
		return
	}
	response.Success(c, gin.H{"outcome": result.Outcome})
}
