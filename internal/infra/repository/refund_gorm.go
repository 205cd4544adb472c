package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
)

type RefundGormRepository struct {
	db *gorm.DB
}

func NewRefundGormRepository(db *gorm.DB) *RefundGormRepository {
	return &RefundGormRepository{db: db}
}

func (r *RefundGormRepository) Create(ctx context.Context, rf model.Refund) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&rf).Error; err != nil {
		return 0, err
	}
	return rf.ID, nil
}

func (r *RefundGormRepository) FindByID(ctx context.Context, id int64) (model.Refund, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Refund{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Refund{}, err
	}
	return rf, nil
}

// リトライワーカーが拾う分
func (r *RefundGormRepository) ListPending(ctx context.Context, limit int) ([]model.Refund, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var refunds []model.Refund
	err := r.db.WithContext(ctx).
		Where("status = ?", model.RefundStatusPending).
		Order("id asc").
		Limit(limit).
		Find(&refunds).Error
	if err != nil {
		return []model.Refund{}, err
	}
	return refunds, nil
}

// PENDINGのときだけIN_PROGRESSへ進める（在庫減算と同じ条件付きUPDATE方式）。
// 非同期発行と背景ワーカーが同じ行を拾っても送金するのは片方だけ。
func (r *RefundGormRepository) ClaimPending(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("id = ? AND status = ?", id, model.RefundStatusPending).
		Update("status", model.RefundStatusInProgress)

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, nil
}

func (r *RefundGormRepository) MarkIssued(ctx context.Context, id int64, externalRef string, attempts int) error {
	res := r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("id = ? AND status = ?", id, model.RefundStatusInProgress).
		Updates(map[string]any{
			"status":       model.RefundStatusIssued,
			"external_ref": externalRef,
			"attempts":     attempts,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *RefundGormRepository) MarkFailed(ctx context.Context, id int64, attempts int) error {
	res := r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("id = ? AND status = ?", id, model.RefundStatusInProgress).
		Updates(map[string]any{
			"status":   model.RefundStatusFailed,
			"attempts": attempts,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *RefundGormRepository) IncrementAttempts(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1"))

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
