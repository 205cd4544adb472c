package repository

import (
	"context"

	"app/internal/domain/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	// cart_idのuniqueIndex前提。Finalizerの「1カート1注文」確認に使う。
	FindByCartID(ctx context.Context, cartID int64) (model.Order, bool, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error
	SetManualReview(ctx context.Context, orderID int64, flag bool) error
}
