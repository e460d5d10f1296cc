package public

import (
	"github.com/roomgrid/billing-core/internal/http/response"
	"github.com/roomgrid/billing-core/internal/service"

	"github.com/gin-gonic/gin"
)

// CheckoutRequest 下单请求
type CheckoutRequest struct {
	HotelID     *uint  `json:"hotel_id"`
	Plan        string `json:"plan" binding:"required"`
	RoomBand    string `json:"room_band" binding:"required"`
	Currency    string `json:"currency"`
	Gateway     string `json:"gateway" binding:"required"`
	TermMonths  int    `json:"term_months"`
	ExternalRef string `json:"external_ref"`
}

// Checkout 创建待支付交易
func (h *Handler) Checkout(c *gin.Context) {
	log := requestLog(c)
	userID, ok := getUserID(c)
	if !ok {
		response.Unauthorized(c, "未登录")
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnw("checkout_request_invalid", "error", err)
		response.BadRequest(c, "请求参数无效")
		return
	}

	txn, err := h.BillingService.Checkout(service.CheckoutInput{
		UserID:      userID,
		HotelID:     req.HotelID,
		Plan:        req.Plan,
		RoomBand:    req.RoomBand,
		Currency:    req.Currency,
		Gateway:     req.Gateway,
		TermMonths:  req.TermMonths,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		log.Warnw("checkout_failed", "user_id", userID, "plan", req.Plan, "error", err)
		respondWithMappedError(c, err, checkoutErrorRules, response.CodeInternal, "下单失败")
		return
	}

	response.Success(c, gin.H{
		"order_no":     txn.OrderNo,
		"amount_minor": txn.AmountMinor,
		"currency":     txn.Currency,
		"gateway":      txn.Gateway,
		"expires_at":   txn.ExpiresAt,
	})
}
