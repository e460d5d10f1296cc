package worker

import (
	"context"
	"encoding/json"

	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/provider"
	"github.com/roomgrid/billing-core/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskAuditDispatch, c.handleAuditDispatch)
	mux.HandleFunc(queue.TaskEntitlementSweep, c.handleEntitlementSweep)
}

// handleAuditDispatch 落盘审计事件。审计只在对账提交后异步
// 投递，这里的失败重试不会触碰账本。
func (c *Consumer) handleAuditDispatch(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.AuditDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_audit_dispatch_unmarshal_failed", "error", err)
		return err
	}
	if payload.Event == "" {
		logger.Debugw("worker_audit_dispatch_skip_empty_event")
		return nil
	}
	logger.Infow("billing_audit",
		"event", payload.Event,
		"transaction_id", payload.TransactionID,
		"subscription_id", payload.SubscriptionID,
		"hotel_id", payload.HotelID,
		"gateway", payload.Gateway,
		"detail", payload.Detail,
	)
	return nil
}

// handleEntitlementSweep 消费外部投递的巡检任务
func (c *Consumer) handleEntitlementSweep(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.EntitlementSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_sweep_unmarshal_failed", "error", err)
		return err
	}
	report, err := c.SweeperService.Sweep(ctx)
	if err != nil {
		logger.Errorw("worker_sweep_failed", "trigger", payload.Trigger, "error", err)
		return err
	}
	logger.Infow("worker_sweep_done",
		"trigger", payload.Trigger,
		"expired_transactions", report.ExpiredTransactions,
		"marked_past_due", report.MarkedPastDue,
		"downgraded", report.Downgraded,
		"extended", report.Extended,
	)
	return nil
}
