package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/roomgrid/billing-core/internal/constants"

	"github.com/shopspring/decimal"
)

// orderTokenPattern 到账备注中的订单号形态。下单时生成的订单号
// 全大写，银行侧可能改写大小写，匹配时忽略大小写。
var orderTokenPattern = regexp.MustCompile(`(?i)RG-[0-9A-Z]+-[0-9A-Z]+`)

// transferNotification 转账回调的原始载荷
type transferNotification struct {
	ID             string          `json:"id"`
	TransferType   string          `json:"transferType"`
	TransferAmount decimal.Decimal `json:"transferAmount"`
	Currency       string          `json:"currency"`
	Content        string          `json:"content"`
}

// ParseTransferWebhook 解析转账回调并归一为完成事件。
// 金额在边界处一次性换算为最小货币单位，含亚分精度的金额直接拒绝，
// 管线内部不再出现小数。
func ParseTransferWebhook(body []byte) (*CompletionEvent, error) {
	var n transferNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("回调载荷解析失败: %w", err)
	}
	if strings.TrimSpace(n.ID) == "" {
		return nil, fmt.Errorf("回调缺少流水号")
	}
	if n.TransferType != constants.TransferTypeIn {
		return nil, fmt.Errorf("不支持的转账方向: %s", n.TransferType)
	}

	minor, err := ToMinorUnits(n.TransferAmount)
	if err != nil {
		return nil, err
	}
	if minor <= 0 {
		return nil, fmt.Errorf("转账金额非正: %s", n.TransferAmount)
	}

	currency := strings.ToUpper(strings.TrimSpace(n.Currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	return &CompletionEvent{
		ExternalRef: n.ID,
		AmountMinor: minor,
		Currency:    currency,
		OrderHint:   ExtractOrderToken(n.Content),
		Status:      constants.RemotePaymentPaid,
		Raw:         raw,
	}, nil
}

// ExtractOrderToken 从转账备注里提取订单号，未命中返回空串
func ExtractOrderToken(content string) string {
	match := orderTokenPattern.FindString(content)
	if match == "" {
		return ""
	}
	return strings.ToUpper(match)
}

// ToMinorUnits 十进制金额转最小货币单位。两位小数以内精确换算，
// 更细的精度视为畸形输入。
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("金额精度超出最小货币单位: %s", amount)
	}
	return minor.IntPart(), nil
}
