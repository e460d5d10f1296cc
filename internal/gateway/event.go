package gateway

// CompletionEvent 网关完成事件的统一形态。各适配器把自己的
// 线上格式归一到这里，对账管线只认这一种输入。
type CompletionEvent struct {
	// ExternalRef 网关侧流水号，账本层幂等键
	ExternalRef string
	// AmountMinor 金额，最小货币单位
	AmountMinor int64
	// Currency ISO 4217 货币码，大写
	Currency string
	// OrderHint 从事件中提取出的订单号，可能为空
	OrderHint string
	// Status 归一化后的远端状态
	Status string
	// Raw 原始载荷，落库留痕
	Raw map[string]interface{}
}
