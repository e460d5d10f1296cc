package queue

import (
	"encoding/json"

	"github.com/roomgrid/billing-core/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskAuditDispatch 计费审计事件分发任务
	TaskAuditDispatch = constants.TaskAuditDispatch
	// TaskEntitlementSweep 权益巡检任务
	TaskEntitlementSweep = constants.TaskEntitlementSweep
)

// AuditDispatchPayload 审计事件任务载荷。对账提交后异步投递，
// 失败重试不会触碰账本。
type AuditDispatchPayload struct {
	Event          string `json:"event"`
	TransactionID  uint   `json:"transaction_id,omitempty"`
	SubscriptionID uint   `json:"subscription_id,omitempty"`
	HotelID        uint   `json:"hotel_id,omitempty"`
	Gateway        string `json:"gateway,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// EntitlementSweepPayload 权益巡检任务载荷
type EntitlementSweepPayload struct {
	Trigger string `json:"trigger"`
}

// NewAuditDispatchTask 创建审计分发任务
func NewAuditDispatchTask(payload AuditDispatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDispatch, body), nil
}

// NewEntitlementSweepTask 创建权益巡检任务
func NewEntitlementSweepTask(payload EntitlementSweepPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEntitlementSweep, body), nil
}
