package repository

import (
	"context"

	"app/internal/domain/model"
)

// 追加時点のスナップショット一式
type CartItemSnapshot struct {
	UnitPrice int64
	Currency  string
	IsNFT     bool
}

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 同一商品はプラス（NFTは加算不可、呼び出し側で弾く）
	UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64, snap CartItemSnapshot) error
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	DeleteByID(ctx context.Context, cartItemID int64) error
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error)
}
