package repository

import (
	"context"

	"app/internal/domain/model"

	"gorm.io/gorm"
)

type OrderPaymentGormRepository struct {
	db *gorm.DB
}

func NewOrderPaymentGormRepository(db *gorm.DB) *OrderPaymentGormRepository {
	return &OrderPaymentGormRepository{db: db}
}

func (r *OrderPaymentGormRepository) CreateBulk(ctx context.Context, orderID int64, payments []model.OrderPayment) error {
	if len(payments) == 0 {
		return nil
	}
	for i := range payments {
		payments[i].OrderID = orderID
	}
	if err := r.db.WithContext(ctx).Create(&payments).Error; err != nil {
		return err
	}
	return nil
}

func (r *OrderPaymentGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderPayment, error) {
	var payments []model.OrderPayment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&payments).Error
	if err != nil {
		return []model.OrderPayment{}, err
	}
	return payments, nil
}
