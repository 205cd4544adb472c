package repository

import (
	"context"

	"app/internal/domain/model"
)

type PaymentAttemptRepository interface {
	Create(ctx context.Context, a model.PaymentAttempt) (int64, error)
	FindByID(ctx context.Context, id int64) (model.PaymentAttempt, error)

	// 同じキーなら同じ試行（リプレイは既存を返す）
	FindByIdempotencyKey(ctx context.Context, key string) (model.PaymentAttempt, bool, error)
	FindByExternalRef(ctx context.Context, provider model.PaymentProvider, ref string) (model.PaymentAttempt, bool, error)
	ListByCartID(ctx context.Context, cartID int64) ([]model.PaymentAttempt, error)

	// 同一(cart, currency)で未決着の試行を探す（重複作成防止）
	FindOpenByCartAndCurrency(ctx context.Context, cartID int64, currency string) (model.PaymentAttempt, bool, error)

	// fromのいずれかに一致するときだけtoへ進める（条件付きUPDATE）。
	// 終端状態の巻き戻しはここで物理的に起きない。
	UpdateStatusIf(ctx context.Context, id int64, from []model.AttemptStatus, to model.AttemptStatus) (bool, error)
	SetSettledTxHash(ctx context.Context, id int64, txHash string) error
	AddRefundedAmount(ctx context.Context, id int64, amount int64) error
}
