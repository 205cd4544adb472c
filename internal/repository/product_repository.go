package repository

import (
	"app/internal/domain/model"
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")

	// uniqueIndex違反（idempotency_key, cart_id, emailなど）
	ErrDuplicate = errors.New("duplicate")
)

// 一覧検索
type ProductListQuery struct {
	Page     int
	Limit    int
	Q        string
	Currency string
	MinPrice *int64
	MaxPrice *int64
	Sort     string
}

// 商品の永続化（取得）だけを約束。
type ProductRepository interface {
	ListPublic(ctx context.Context, q ProductListQuery) ([]model.Product, int64, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
