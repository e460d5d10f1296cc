package public

import (
	"strings"

	"github.com/roomgrid/billing-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

// VerifyPayment 主动核验轮询网关订单。以供应商侧为准，核验
// 通过后与回调走同一条对账管线。
func (h *Handler) VerifyPayment(c *gin.Context) {
	log := requestLog(c)
	userID, ok := getUserID(c)
	if !ok {
		response.Unauthorized(c, "未登录")
		return
	}
	orderNo := strings.ToUpper(strings.TrimSpace(c.Param("order_no")))
	if orderNo == "" {
		response.BadRequest(c, "订单号缺失")
		return
	}

	txn, err := h.TransactionRepo.GetByOrderNo(orderNo)
	if err != nil {
		log.Errorw("verify_fetch_failed", "order_no", orderNo, "error", err)
		response.Error(c, response.CodeInternal, "查询失败")
		return
	}
	if txn == nil || txn.UserID != userID {
		response.NotFound(c, "订单不存在")
		return
	}

	result, err := h.ReconcileService.VerifyAndProcess(c.Request.Context(), orderNo)
	if err != nil {
		log.Warnw("verify_process_failed", "order_no", orderNo, "error", err)
		respondWithMappedError(c, err, verifyErrorRules, response.CodeInternal, "核验失败")
		return
	}

	data := gin.H{"outcome": result.Outcome}
	if result.Transaction != nil {
		data["order_no"] = result.Transaction.OrderNo
		data["status"] = result.Transaction.Status
	}
	if result.FailReason != "" {
		data["reason"] = result.FailReason
	}
	response.Success(c, data)
}
