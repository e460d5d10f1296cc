package service

import "errors"

var (
	// ErrPlanInvalid 套餐或房量档位不存在
	ErrPlanInvalid = errors.New("plan invalid")
	// ErrPlanNotPurchasable 免费套餐不可购买
	ErrPlanNotPurchasable = errors.New("plan not purchasable")
	// ErrPriceUnavailable 套餐在该货币下无定价
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrGatewayInvalid 未知支付网关
	ErrGatewayInvalid = errors.New("gateway invalid")
	// ErrExternalRefRequired 轮询网关下单必须携带供应商流水号
	ErrExternalRefRequired = errors.New("external ref required")
	// ErrProviderSwitchForbidden 外部计费订阅存续期间禁止切换网关购买
	ErrProviderSwitchForbidden = errors.New("provider switch forbidden")
	// ErrTransactionNotFound 交易不存在
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionNotPending 交易已不在待支付状态
	ErrTransactionNotPending = errors.New("transaction not pending")
	// ErrSubscriptionNotFound 订阅不存在
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrHotelNotFound 酒店不存在
	ErrHotelNotFound = errors.New("hotel not found")
	// ErrHotelAlreadyAttached 酒店已绑定订阅
	ErrHotelAlreadyAttached = errors.New("hotel already attached")
	// ErrNoAttachableSubscription 用户名下没有可绑定的订阅
	ErrNoAttachableSubscription = errors.New("no attachable subscription")
	// ErrRemoteVerifyFailed 远端核验失败
	ErrRemoteVerifyFailed = errors.New("remote verify failed")
	// ErrRemotePaymentNotPaid 远端支付未完成
	ErrRemotePaymentNotPaid = errors.New("remote payment not paid")
)
