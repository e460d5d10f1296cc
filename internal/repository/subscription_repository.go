package repository

import (
	"errors"
	"time"

	"github.com/roomgrid/billing-core/internal/constants"
	"github.com/roomgrid/billing-core/internal/models"

	"gorm.io/gorm"
)

// SubscriptionRepository 订阅数据访问接口
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByHotelID(hotelID uint) (*models.Subscription, error)
	GetUnattachedByUserID(userID uint) (*models.Subscription, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	UpdateStatusConditional(id uint, fromStatus, toStatus string, extra map[string]interface{}) (bool, error)
	ExtendPeriod(id uint, newEnd time.Time, extra map[string]interface{}) (bool, error)
	AttachHotel(subID, hotelID uint) (bool, error)
	ListLapsed(now time.Time, limit int) ([]models.Subscription, error)
	WithTx(tx *gorm.DB) *GormSubscriptionRepository
}

// GormSubscriptionRepository GORM 实现
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建订阅仓库
func NewSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSubscriptionRepository) WithTx(tx *gorm.DB) *GormSubscriptionRepository {
	if tx == nil {
		return r
	}
	return &GormSubscriptionRepository{db: tx}
}

// Create 创建订阅
func (r *GormSubscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByID 根据 ID 获取订阅
func (r *GormSubscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// GetByHotelID 根据酒店 ID 获取订阅（一店一订阅）
func (r *GormSubscriptionRepository) GetByHotelID(hotelID uint) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.Where("hotel_id = ?", hotelID).Limit(1).Find(&sub)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &sub, nil
}

// GetUnattachedByUserID 获取用户名下尚未绑定酒店的订阅
func (r *GormSubscriptionRepository) GetUnattachedByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.Where("user_id = ? AND hotel_id IS NULL", userID).
		Order("id desc").Limit(1).Find(&sub)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &sub, nil
}

// UpdateFields 无条件更新字段
func (r *GormSubscriptionRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now()
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateStatusConditional 仅当订阅处于 fromStatus 时迁移到 toStatus，
// 返回是否实际写入。降级与宽限期标记都走这里，天然幂等。
func (r *GormSubscriptionRepository) UpdateStatusConditional(id uint, fromStatus, toStatus string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExtendPeriod 单调推进账期终点：仅当新终点晚于当前终点时写入。
// 并发续期或重复投递下账期只会向前，不会回退。
func (r *GormSubscriptionRepository) ExtendPeriod(id uint, newEnd time.Time, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"current_period_end": newEnd,
		"updated_at":         time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.db.Model(&models.Subscription{}).
		Where("id = ? AND (current_period_end IS NULL OR current_period_end < ?)", id, newEnd).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AttachHotel 将订阅绑定到酒店，仅当订阅尚未绑定。唯一索引兜底
// 防止同一酒店被并发绑上两条订阅。
func (r *GormSubscriptionRepository) AttachHotel(subID, hotelID uint) (bool, error) {
	result := r.db.Model(&models.Subscription{}).
		Where("id = ? AND hotel_id IS NULL", subID).
		Updates(map[string]interface{}{
			"hotel_id":   hotelID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListLapsed 列出账期已过且仍处于活跃或试用状态的订阅
func (r *GormSubscriptionRepository) ListLapsed(now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	var subs []models.Subscription
	if err := r.db.Where("status IN ? AND current_period_end IS NOT NULL AND current_period_end < ?",
		[]string{constants.SubscriptionStatusActive, constants.SubscriptionStatusTrial, constants.SubscriptionStatusPastDue}, now).
		Order("id asc").Limit(limit).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
