package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roomgrid/billing-core/internal/config"
	"github.com/roomgrid/billing-core/internal/constants"

	"github.com/shopspring/decimal"
)

// ExternalBillingClient 外部计费供应商查询客户端。支付结果与订阅
// 状态都以供应商侧为准，本地只做拉取核验。
type ExternalBillingClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// RemotePayment 供应商侧支付查询结果
type RemotePayment struct {
	Ref         string
	Status      string
	AmountMinor int64
	Currency    string
	Raw         map[string]interface{}
}

// RemoteSubscription 供应商侧订阅查询结果
type RemoteSubscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd *time.Time
}

// NewExternalBillingClient 创建外部计费客户端
func NewExternalBillingClient(cfg config.ExternalBillingConfig) *ExternalBillingClient {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ExternalBillingClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
		client:  &http.Client{Timeout: timeout},
	}
}

type remotePaymentResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type remoteSubscriptionResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// VerifyPayment 按流水号向供应商查询支付结果
func (c *ExternalBillingClient) VerifyPayment(ctx context.Context, ref string) (*RemotePayment, error) {
	body, err := c.get(ctx, "/v1/payments/"+url.PathEscape(ref))
	if err != nil {
		return nil, err
	}

	var resp remotePaymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("供应商支付响应解析失败: %w", err)
	}
	minor, err := ToMinorUnits(resp.Amount)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	return &RemotePayment{
		Ref:         resp.ID,
		Status:      normalizePaymentStatus(resp.Status),
		AmountMinor: minor,
		Currency:    strings.ToUpper(strings.TrimSpace(resp.Currency)),
		Raw:         raw,
	}, nil
}

// VerifySubscription 按供应商订阅号查询订阅状态
func (c *ExternalBillingClient) VerifySubscription(ctx context.Context, externalSubID string) (*RemoteSubscription, error) {
	body, err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(externalSubID))
	if err != nil {
		return nil, err
	}

	var resp remoteSubscriptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("供应商订阅响应解析失败: %w", err)
	}

	out := &RemoteSubscription{
		ID:     resp.ID,
		Status: normalizeSubscriptionStatus(resp.Status),
	}
	if resp.CurrentPeriodEnd > 0 {
		end := time.Unix(resp.CurrentPeriodEnd, 0)
		out.CurrentPeriodEnd = &end
	}
	return out, nil
}

func (c *ExternalBillingClient) get(ctx context.Context, path string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("外部计费服务未配置")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("外部计费服务请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("外部计费服务返回 %d", resp.StatusCode)
	}
	return body, nil
}

func normalizePaymentStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "succeeded", "success", "completed":
		return constants.RemotePaymentPaid
	case "pending", "processing", "requires_action":
		return constants.RemotePaymentPending
	default:
		return constants.RemotePaymentDeclined
	}
}

func normalizeSubscriptionStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "trialing":
		return constants.RemoteSubscriptionActive
	case "canceled", "cancelled":
		return constants.RemoteSubscriptionCancelled
	default:
		return constants.RemoteSubscriptionExpired
	}
}
