package models

import (
	"time"
)

// PaymentTransaction 支付交易账本，一行对应一次购买尝试。
// 终态（completed/failed/expired）一经写入不再变更；gateway_txn_id
// 全局唯一，是存储层自身的幂等闸门。
type PaymentTransaction struct {
	ID                uint       `gorm:"primarykey" json:"id"`                        // 主键
	OrderNo           string     `gorm:"uniqueIndex;not null" json:"order_no"`        // 订单号（租户+时间派生）
	GatewayTxnID      *string    `gorm:"uniqueIndex" json:"gateway_txn_id,omitempty"` // 网关流水号（去重键，置空时不占用索引）
	HotelID           *uint      `gorm:"index" json:"hotel_id,omitempty"`             // 酒店ID（先付后建时为空）
	UserID            uint       `gorm:"index;not null" json:"user_id"`               // 用户ID
	AmountMinor       int64      `gorm:"not null" json:"amount_minor"`                // 金额（最小货币单位整数）
	Currency          string     `gorm:"not null" json:"currency"`                    // 币种
	Gateway           string     `gorm:"index;not null" json:"gateway"`               // 支付网关
	PurchasedPlan     string     `gorm:"not null" json:"purchased_plan"`              // 购买套餐
	PurchasedRoomBand string     `gorm:"not null" json:"purchased_room_band"`         // 购买房量档位
	TermMonths        int        `gorm:"not null;default:1" json:"term_months"`       // 购买周期（月）
	Status            string     `gorm:"index;not null" json:"status"`                // 交易状态
	ExpiresAt         *time.Time `gorm:"index" json:"expires_at"`                     // 待支付过期时间
	CompletedAt       *time.Time `json:"completed_at"`                                // 完成时间
	FailedAt          *time.Time `json:"failed_at"`                                   // 失败时间
	FailedReason      string     `json:"failed_reason,omitempty"`                     // 失败原因（机器可读）
	RawPayload        JSON       `gorm:"type:json" json:"raw_payload,omitempty"`      // 网关原始数据（审计留存）
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`                     // 创建时间
	UpdatedAt         time.Time  `json:"updated_at"`                                  // 更新时间
}

// TableName 指定表名
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
