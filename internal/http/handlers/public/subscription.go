package public

import (
	"strconv"

	"github.com/roomgrid/billing-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetSubscriptionByHotel 查询酒店订阅
func (h *Handler) GetSubscriptionByHotel(c *gin.Context) {
	hotelID, ok := parseHotelID(c)
	if !ok {
		return
	}
	sub, err := h.SubscriptionService.GetByHotel(c.Request.Context(), hotelID)
	if err != nil {
		requestLog(c).Errorw("subscription_fetch_failed", "hotel_id", hotelID, "error", err)
		response.Error(c, response.CodeInternal, "查询失败")
		return
	}
	if sub == nil {
		response.NotFound(c, "订阅不存在")
		return
	}
	response.Success(c, sub)
}

// GetSubscriptionCompliance 查询酒店订阅合规状态
func (h *Handler) GetSubscriptionCompliance(c *gin.Context) {
	hotelID, ok := parseHotelID(c)
	if !ok {
		return
	}
	result, err := h.SubscriptionService.CheckCompliance(c.Request.Context(), hotelID)
	if err != nil {
		requestLog(c).Warnw("compliance_check_failed", "hotel_id", hotelID, "error", err)
		respondWithMappedError(c, err, subscriptionErrorRules, response.CodeInternal, "查询失败")
		return
	}
	response.Success(c, result)
}

func parseHotelID(c *gin.Context) (uint, bool) {
	raw := c.Param("hotel_id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "酒店 ID 无效")
		return 0, false
	}
	return uint(id), true
}
