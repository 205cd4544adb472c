package repository

import (
	"context"

	"app/internal/domain/model"
)

type RefundRepository interface {
	Create(ctx context.Context, r model.Refund) (int64, error)
	FindByID(ctx context.Context, id int64) (model.Refund, error)
	// リトライワーカー用
	ListPending(ctx context.Context, limit int) ([]model.Refund, error)

	// PENDINGのときだけIN_PROGRESSへ確保する（条件付きUPDATE）。
	// falseなら他の発行者が先に取ったか既に終端。
	ClaimPending(ctx context.Context, id int64) (bool, error)

	// MarkIssued/MarkFailedはIN_PROGRESSの行にしか効かない
	MarkIssued(ctx context.Context, id int64, externalRef string, attempts int) error
	MarkFailed(ctx context.Context, id int64, attempts int) error
	IncrementAttempts(ctx context.Context, id int64) error
}
