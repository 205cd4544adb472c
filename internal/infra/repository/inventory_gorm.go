package repository

import (
	"context"

	"app/internal/domain/model"

	"gorm.io/gorm"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 在庫が足りるときだけ減らす
func (r *InventoryGormRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock >= ? AND availability IN ?", productID, qty,
			[]model.Availability{model.AvailabilityAvailable, model.AvailabilityLimited}).
		Update("stock", gorm.Expr("stock - ?", qty))

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, nil
}

// NFTは1点物。販売中のときだけSOLDに落とす（条件付きUPDATEで二重販売を防ぐ）
func (r *InventoryGormRepository) MarkNFTSoldIfAvailable(ctx context.Context, productID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND is_nft = ? AND availability IN ?", productID, true,
			[]model.Availability{model.AvailabilityAvailable, model.AvailabilityLimited}).
		Updates(map[string]any{
			"availability": model.AvailabilitySold,
			"stock":        0,
		})

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, nil
}
