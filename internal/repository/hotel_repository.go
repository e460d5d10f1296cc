package repository

import (
	"errors"

	"github.com/roomgrid/billing-core/internal/models"

	"gorm.io/gorm"
)

// HotelRepository 酒店数据访问接口
type HotelRepository interface {
	Create(hotel *models.Hotel) error
	GetByID(id uint) (*models.Hotel, error)
	WithTx(tx *gorm.DB) *GormHotelRepository
}

// GormHotelRepository GORM 实现
type GormHotelRepository struct {
	db *gorm.DB
}

// NewHotelRepository 创建酒店仓库
func NewHotelRepository(db *gorm.DB) *GormHotelRepository {
	return &GormHotelRepository{db: db}
}

// WithTx 绑定事务
func (r *GormHotelRepository) WithTx(tx *gorm.DB) *GormHotelRepository {
	if tx == nil {
		return r
	}
	return &GormHotelRepository{db: tx}
}

// Create 创建酒店
func (r *GormHotelRepository) Create(hotel *models.Hotel) error {
	return r.db.Create(hotel).Error
}

// GetByID 根据 ID 获取酒店
func (r *GormHotelRepository) GetByID(id uint) (*models.Hotel, error) {
	var hotel models.Hotel
	if err := r.db.First(&hotel, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &hotel, nil
}
