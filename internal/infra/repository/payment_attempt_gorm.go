package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
)

type PaymentAttemptGormRepository struct {
	db *gorm.DB
}

func NewPaymentAttemptGormRepository(db *gorm.DB) *PaymentAttemptGormRepository {
	return &PaymentAttemptGormRepository{db: db}
}

func (r *PaymentAttemptGormRepository) Create(ctx context.Context, a model.PaymentAttempt) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&a).Error; err != nil {
		//idempotency_keyのuniqueIndex違反はErrDuplicate
		return 0, translateDuplicate(err)
	}
	return a.ID, nil
}

func (r *PaymentAttemptGormRepository) FindByID(ctx context.Context, id int64) (model.PaymentAttempt, error) {
	var a model.PaymentAttempt
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentAttempt{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentAttempt{}, err
	}
	return a, nil
}

// 同じキーなら同じ試行を返す（uniqueIndexが最後の砦）
func (r *PaymentAttemptGormRepository) FindByIdempotencyKey(ctx context.Context, key string) (model.PaymentAttempt, bool, error) {
	var a model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&a).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentAttempt{}, false, nil
	}
	if err != nil {
		return model.PaymentAttempt{}, false, err
	}
	return a, true, nil
}

// Webhookはprovider+外部参照で突き合わせる
func (r *PaymentAttemptGormRepository) FindByExternalRef(ctx context.Context, provider model.PaymentProvider, ref string) (model.PaymentAttempt, bool, error) {
	var a model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_ref = ?", provider, ref).
		First(&a).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentAttempt{}, false, nil
	}
	if err != nil {
		return model.PaymentAttempt{}, false, err
	}
	return a, true, nil
}

func (r *PaymentAttemptGormRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.PaymentAttempt, error) {
	var attempts []model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&attempts).Error
	if err != nil {
		return []model.PaymentAttempt{}, err
	}
	return attempts, nil
}

// 同一グループの未決着（CREATED/AWAITING_CONFIRMATION）は高々1件のはず
func (r *PaymentAttemptGormRepository) FindOpenByCartAndCurrency(ctx context.Context, cartID int64, currency string) (model.PaymentAttempt, bool, error) {
	var a model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND currency = ? AND status IN ?", cartID, currency,
			[]model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting}).
		Order("id desc").
		First(&a).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentAttempt{}, false, nil
	}
	if err != nil {
		return model.PaymentAttempt{}, false, err
	}
	return a, true, nil
}

// fromのいずれかに一致するときだけtoへ進める。
// 終端状態は返金遷移以外で上書きされない（在庫減算と同じ条件付きUPDATE方式）。
func (r *PaymentAttemptGormRepository) UpdateStatusIf(ctx context.Context, id int64, from []model.AttemptStatus, to model.AttemptStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentAttempt{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, nil
}

func (r *PaymentAttemptGormRepository) SetSettledTxHash(ctx context.Context, id int64, txHash string) error {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentAttempt{}).
		Where("id = ?", id).
		Update("settled_tx_hash", txHash)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *PaymentAttemptGormRepository) AddRefundedAmount(ctx context.Context, id int64, amount int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentAttempt{}).
		Where("id = ?", id).
		Update("refunded_amount", gorm.Expr("refunded_amount + ?", amount))

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
