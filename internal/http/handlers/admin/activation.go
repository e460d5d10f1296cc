package admin

import (
	"errors"

	"github.com/roomgrid/billing-core/internal/gateway"
	"github.com/roomgrid/billing-core/internal/http/response"
	"github.com/roomgrid/billing-core/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateActivationRequest 手工开通请求
type CreateActivationRequest struct {
	OrderNo     string `json:"order_no" binding:"required"`
	Reference   string `json:"reference" binding:"required"`
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	Currency    string `json:"currency"`
	Note        string `json:"note"`
}

// CreateActivation 管理员手工开通。凭证归一为完成事件后走
// 与线上网关相同的对账管线，同一凭证重复提交只会生效一次。
func (h *Handler) CreateActivation(c *gin.Context) {
	log := requestLog(c)
	adminID, ok := getAdminID(c)
	if !ok {
		response.Unauthorized(c, "未登录")
		return
	}
	var req CreateActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnw("activation_request_invalid", "error", err)
		response.BadRequest(c, "请求参数无效")
		return
	}

	ev, err := gateway.BuildManualEvent(gateway.ManualActivationInput{
		Reference:   req.Reference,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		OrderNo:     req.OrderNo,
		Note:        req.Note,
		OperatorID:  adminID,
	})
	if err != nil {
		log.Warnw("activation_event_invalid", "reference", req.Reference, "error", err)
		response.BadRequest(c, "开通凭证无效")
		return
	}

	result, err := h.ReconcileService.Process(c.Request.Context(), ev)
	if err != nil {
		log.Errorw("activation_process_failed", "reference", req.Reference, "error", err)
		response.Error(c, response.CodeInternal, "开通处理失败")
		return
	}
	log.Infow("activation_processed",
		"admin_id", adminID,
		"reference", req.Reference,
		"order_no", req.OrderNo,
		"outcome", result.Outcome,
	)

	switch result.Outcome {
	case service.OutcomeForeignEvent:
		response.NotFound(c, "订单不存在或已不可开通")
	case service.OutcomeValidationFailed:
		response.ErrorWithData(c, response.CodeBadRequest, "校验失败", gin.H{
			"reason": result.FailReason,
		})
	default:
		data := gin.H{"outcome": result.Outcome}
		if result.Transaction != nil {
			data["order_no"] = result.Transaction.OrderNo
			data["status"] = result.Transaction.Status
		}
		if result.Subscription != nil {
			data["subscription_id"] = result.Subscription.ID
		}
		response.Success(c, data)
	}
}

// AttachSubscriptionRequest 绑定订阅请求
type AttachSubscriptionRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// AttachSubscription 把用户先付产生的游离订阅绑定到酒店
func (h *Handler) AttachSubscription(c *gin.Context) {
	log := requestLog(c)
	hotelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req AttachSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnw("attach_request_invalid", "error", err)
		response.BadRequest(c, "请求参数无效")
		return
	}

	sub, err := h.SubscriptionService.AttachHotel(req.UserID, hotelID)
	if err != nil {
		log.Warnw("attach_failed", "hotel_id", hotelID, "user_id", req.UserID, "error", err)
		switch {
		case errors.Is(err, service.ErrHotelNotFound):
			response.NotFound(c, "酒店不存在")
		case errors.Is(err, service.ErrHotelAlreadyAttached):
			response.BadRequest(c, "酒店已绑定订阅")
		case errors.Is(err, service.ErrNoAttachableSubscription):
			response.BadRequest(c, "该用户名下没有可绑定的订阅")
		default:
			response.Error(c, response.CodeInternal, "绑定失败")
		}
		return
	}
	response.Success(c, sub)
}
