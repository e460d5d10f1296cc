package gateway

import (
	"fmt"
	"strings"

	"github.com/roomgrid/billing-core/internal/constants"
)

// ManualActivationInput 管理员手工开通的输入
type ManualActivationInput struct {
	Reference   string
	AmountMinor int64
	Currency    string
	OrderNo     string
	Note        string
	OperatorID  uint
}

// BuildManualEvent 把手工开通归一为完成事件，与线上网关走同一条
// 对账管线，共享全部幂等与校验逻辑。
func BuildManualEvent(in ManualActivationInput) (*CompletionEvent, error) {
	ref := strings.TrimSpace(in.Reference)
	if ref == "" {
		return nil, fmt.Errorf("手工开通缺少凭证号")
	}
	if in.AmountMinor <= 0 {
		return nil, fmt.Errorf("手工开通金额非正")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}
	return &CompletionEvent{
		ExternalRef: "manual:" + ref,
		AmountMinor: in.AmountMinor,
		Currency:    currency,
		OrderHint:   strings.ToUpper(strings.TrimSpace(in.OrderNo)),
		Status:      constants.RemotePaymentPaid,
		Raw: map[string]interface{}{
			"reference":   ref,
			"note":        in.Note,
			"operator_id": in.OperatorID,
		},
	}, nil
}
