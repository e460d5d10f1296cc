package constants

// 支付交易状态常量
const (
	TxnStatusPending   = "pending"
	TxnStatusCompleted = "completed"
	TxnStatusFailed    = "failed"
	TxnStatusExpired   = "expired"
)

// 支付交易失败原因常量（机器可读，直接落库）
const (
	TxnFailReasonSuperseded       = "superseded"
	TxnFailReasonAutoExpired      = "auto_expired"
	TxnFailReasonAmountMismatch   = "amount_mismatch"
	TxnFailReasonCurrencyMismatch = "currency_mismatch"
	TxnFailReasonPlanMissing      = "plan_missing"
	TxnFailReasonProviderDeclined = "provider_declined"
)

// 支付网关常量
const (
	GatewayTransferWebhook = "transfer_webhook"
	GatewayExternalBilling = "external_billing"
	GatewayManual          = "manual"
)

// 订阅状态常量
const (
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
)

// 订阅降级原因常量
const (
	DowngradeReasonGraceExpired      = "grace_expired"
	DowngradeReasonProviderCancelled = "provider_cancelled"
	DowngradeReasonProviderExpired   = "provider_expired"
	DowngradeReasonTrialExpired      = "trial_expired"
	DowngradeReasonAdmin             = "admin"
)

// 套餐常量
const (
	PlanStandard   = "standard"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// 房量档位常量
const (
	RoomBandSmall     = "upto_50"
	RoomBandMedium    = "upto_200"
	RoomBandUnlimited = "unlimited"
)

// 转账 Webhook 回调常量
const (
	TransferTypeIn         = "in"
	TransferCallbackOK     = "ok"
	TransferCallbackIgnore = "ignored"
)

// 外部计费方远程状态常量
const (
	RemotePaymentPaid           = "paid"
	RemotePaymentPending        = "pending"
	RemotePaymentDeclined       = "declined"
	RemoteSubscriptionActive    = "active"
	RemoteSubscriptionCancelled = "cancelled"
	RemoteSubscriptionExpired   = "expired"
)

// 审计事件常量
const (
	AuditEventCheckoutCreated    = "checkout_created"
	AuditEventActivationApplied  = "activation_applied"
	AuditEventActivationReplayed = "activation_replayed"
	AuditEventValidationFailed   = "validation_failed"
	AuditEventSubscriptionLapsed = "subscription_lapsed"
	AuditEventSweepFinished      = "sweep_finished"
)

// 队列常量
const (
	QueueDefault         = "default"
	QueueCritical        = "critical"
	TaskAuditDispatch    = "audit:dispatch"
	TaskEntitlementSweep = "billing:sweep"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "rg"
)

// 币种常量
const (
	SiteCurrencyDefault = "KZT"
)
