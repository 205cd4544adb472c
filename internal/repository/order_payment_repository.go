package repository

import (
	"context"

	"app/internal/domain/model"
)

type OrderPaymentRepository interface {
	CreateBulk(ctx context.Context, orderID int64, payments []model.OrderPayment) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderPayment, error)
}
