package models

import (
	"time"
)

// Subscription 酒店订阅，每家酒店一条（先付后建流程中短暂不绑定酒店）。
// current_period_end 是服务资格的唯一权威依据，除显式降级外不允许回拨。
type Subscription struct {
	ID                     uint       `gorm:"primarykey" json:"id"`                     // 主键
	HotelID                *uint      `gorm:"uniqueIndex" json:"hotel_id,omitempty"`    // 酒店ID
	UserID                 uint       `gorm:"index;not null" json:"user_id"`            // 归属用户ID
	Plan                   string     `gorm:"not null" json:"plan"`                     // 套餐
	RoomBand               string     `gorm:"not null" json:"room_band"`                // 房量档位
	Status                 string     `gorm:"index;not null" json:"status"`             // 订阅状态
	CurrentPeriodStart     *time.Time `json:"current_period_start"`                     // 当前周期起点
	CurrentPeriodEnd       *time.Time `gorm:"index" json:"current_period_end"`          // 当前周期终点
	ExternalProvider       string     `gorm:"index" json:"external_provider,omitempty"` // 外部计费提供方
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`       // 外部订阅ID
	RoomQuota              int        `gorm:"not null;default:0" json:"room_quota"`     // 房量配额快照
	UserQuota              int        `gorm:"not null;default:0" json:"user_quota"`     // 用户数配额快照
	CreatedAt              time.Time  `gorm:"index" json:"created_at"`                  // 创建时间
	UpdatedAt              time.Time  `json:"updated_at"`                               // 更新时间
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}

// Hotel 酒店主数据（租户 CRUD 属外部系统，此处仅保留查询与合规校验所需字段）
type Hotel struct {
	ID        uint      `gorm:"primarykey" json:"id"`          // 主键
	Name      string    `gorm:"not null" json:"name"`          // 酒店名称
	UserID    uint      `gorm:"index;not null" json:"user_id"` // 归属用户ID
	RoomCount int       `gorm:"not null" json:"room_count"`    // 客房数量
	CreatedAt time.Time `json:"created_at"`                    // 创建时间
	UpdatedAt time.Time `json:"updated_at"`                    // 更新时间
}

// TableName 指定表名
func (Hotel) TableName() string {
	return "hotels"
}
