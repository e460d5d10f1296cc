package public

import (
	"errors"

	"github.com/roomgrid/billing-core/internal/http/response"
	"github.com/roomgrid/billing-core/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			response.Error(c, rule.code, rule.msg)
			return
		}
	}
	response.Error(c, fallbackCode, fallbackMsg)
}

var checkoutErrorRules = []mappedHandlerError{
	{target: service.ErrPlanInvalid, code: response.CodeBadRequest, msg: "套餐或档位无效"},
	{target: service.ErrPlanNotPurchasable, code: response.CodeBadRequest, msg: "该套餐不可购买"},
	{target: service.ErrPriceUnavailable, code: response.CodeBadRequest, msg: "该货币下无定价"},
	{target: service.ErrGatewayInvalid, code: response.CodeBadRequest, msg: "支付网关无效"},
	{target: service.ErrExternalRefRequired, code: response.CodeBadRequest, msg: "缺少供应商流水号"},
	{target: service.ErrProviderSwitchForbidden, code: response.CodeForbidden, msg: "外部计费订阅存续期间不可切换支付方式"},
}

var verifyErrorRules = []mappedHandlerError{
	{target: service.ErrTransactionNotFound, code: response.CodeNotFound, msg: "订单不存在"},
	{target: service.ErrTransactionNotPending, code: response.CodeBadRequest, msg: "订单已不在待支付状态"},
	{target: service.ErrExternalRefRequired, code: response.CodeBadRequest, msg: "订单缺少供应商流水号"},
	{target: service.ErrRemoteVerifyFailed, code: response.CodeInternal, msg: "供应商核验暂不可用"},
	{target: service.ErrRemotePaymentNotPaid, code: response.CodeBadRequest, msg: "供应商侧支付尚未完成"},
}

var subscriptionErrorRules = []mappedHandlerError{
	{target: service.ErrHotelNotFound, code: response.CodeNotFound, msg: "酒店不存在"},
	{target: service.ErrSubscriptionNotFound, code: response.CodeNotFound, msg: "订阅不存在"},
}
