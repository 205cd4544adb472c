package repository

import "context"

type InventoryRepository interface {
	// 在庫が足りるときだけ減算（read-then-writeではなく条件付きUPDATE）
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// NFTは販売中のときだけSOLDにする（1点物の二重販売防止）
	MarkNFTSoldIfAvailable(ctx context.Context, productID int64) (bool, error)
}
