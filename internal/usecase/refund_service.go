package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// RefundService は補償返金の発行を一手に引き受ける。
// 発行はバックオフ付きでリトライし、使い切ったらRefundをFAILEDにして
// manual_reviewを立てる。金の行方を黙って失うことはしない。
type RefundService struct {
	tx        repo.TransactionManager
	providers ProviderSet

	maxAttempts int
	backoffBase time.Duration
}

func NewRefundService(tx repo.TransactionManager, providers ProviderSet) *RefundService {
	return &RefundService{
		tx:          tx,
		providers:   providers,
		maxAttempts: 3,
		backoffBase: 2 * time.Second,
	}
}

// QueueFullRefund は試行の全額返金を積んで非同期に発行する。
// （カートクリア後の遅延成功、チェックアウト後の過払いで使う）
func (s *RefundService) QueueFullRefund(ctx context.Context, attempt model.PaymentAttempt, reason string) error {
	now := time.Now()
	var refundID int64

	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		id, err := r.Refunds().Create(ctx, model.Refund{
			PaymentAttemptID: attempt.ID,
			Amount:           attempt.Amount,
			Currency:         attempt.Currency,
			Reason:           reason,
			Status:           model.RefundStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return err
		}
		refundID = id
		return nil
	})
	if err != nil {
		return err
	}

	s.IssueAsync([]int64{refundID})
	return nil
}

// IssueAsync は発行をリクエスト処理から切り離す
func (s *RefundService) IssueAsync(refundIDs []int64) {
	go func() {
		ctx := context.Background()
		for _, id := range refundIDs {
			if err := s.Issue(ctx, id); err != nil {
				log.Printf("[refund_svc] WARN: refund issue failed refund_id=%d err=%v", id, err)
			}
		}
	}()
}

// ProcessPending は背景ワーカーの入口。PENDINGの返金を拾って発行する。
// 積んだまま発行前にプロセスが止まった分の再実行経路。IN_PROGRESSのまま
// 止まった分は拾わない（二重送金より手動確認を取る）。
func (s *RefundService) ProcessPending(ctx context.Context) {
	var pending []model.Refund
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		list, err := r.Refunds().ListPending(ctx, 50)
		if err != nil {
			return err
		}
		pending = list
		return nil
	})
	if err != nil {
		log.Printf("[refund_svc] WARN: pending list failed err=%v", err)
		return
	}

	for _, rf := range pending {
		if err := s.Issue(ctx, rf.ID); err != nil {
			log.Printf("[refund_svc] WARN: refund issue failed refund_id=%d err=%v", rf.ID, err)
		}
	}
}

// Issue は1件の返金をリトライ付きで発行する。
// まず行をIN_PROGRESSへ確保してから送金する。確保できなければ
// 発行済み・失敗確定・他の発行者が作業中のいずれかなので何もしない（冪等）。
func (s *RefundService) Issue(ctx context.Context, refundID int64) error {
	var refund model.Refund
	var attempt model.PaymentAttempt
	claimed := false

	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Refunds().ClaimPending(ctx, refundID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		claimed = true

		rf, err := r.Refunds().FindByID(ctx, refundID)
		if err != nil {
			return err
		}
		refund = rf
		a, err := r.Attempts().FindByID(ctx, rf.PaymentAttemptID)
		if err != nil {
			return err
		}
		attempt = a
		return nil
	})
	if err != nil || !claimed {
		return err
	}

	adapter, ok := s.providers.adapterFor(attempt.Provider)
	if !ok {
		return s.markFailed(ctx, refund)
	}

	//オンチェーンの返金は外部参照ではなく決済txハッシュで宛先を解決する
	refundRef := attempt.ExternalRef
	if attempt.Provider == model.ProviderOnChain {
		refundRef = attempt.SettledTxHash
	}

	var externalRef string
	issued := false
	attemptsDone := refund.Attempts

	for i := 0; i < s.maxAttempts; i++ {
		ref, err := adapter.Refund(ctx, refundRef, refund.Amount)
		attemptsDone++
		if err == nil {
			externalRef = ref
			issued = true
			break
		}
		log.Printf("[refund_svc] refund attempt %d/%d failed refund_id=%d err=%v",
			i+1, s.maxAttempts, refund.ID, err)
		//試行回数は都度永続化する（プロセス停止後も通算が残る）
		if incErr := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			return r.Refunds().IncrementAttempts(ctx, refund.ID)
		}); incErr != nil {
			log.Printf("[refund_svc] WARN: attempts increment failed refund_id=%d err=%v", refund.ID, incErr)
		}
		if i < s.maxAttempts-1 {
			//指数バックオフ
			select {
			case <-time.After(s.backoffBase << i):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if !issued {
		refund.Attempts = attemptsDone
		return s.markFailed(ctx, refund)
	}

	return s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Refunds().MarkIssued(ctx, refund.ID, externalRef, attemptsDone); err != nil {
			return err
		}
		if err := r.Attempts().AddRefundedAmount(ctx, attempt.ID, refund.Amount); err != nil {
			return err
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			Action:       model.AuditActionRefundIssued,
			ResourceType: model.AuditResourceRefund,
			ResourceID:   refund.ID,
			AfterJSON: fmt.Sprintf(`{"attempt_id":%d,"amount":%d,"currency":%q,"external_ref":%q}`,
				attempt.ID, refund.Amount, refund.Currency, externalRef),
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}

		//全額返金ならREFUNDED、一部ならPARTIALLY_REFUNDED
		next := model.AttemptStatusPartiallyRefunded
		if attempt.RefundedAmount+refund.Amount >= attempt.Amount {
			next = model.AttemptStatusRefunded
		}
		from := []model.AttemptStatus{model.AttemptStatusSucceeded, model.AttemptStatusPartiallyRefunded}
		if _, err := r.Attempts().UpdateStatusIf(ctx, attempt.ID, from, next); err != nil {
			return err
		}
		return nil
	})
}

// 返金が出せなかった。FAILEDで固定し、注文があればmanual_reviewを立てる。
func (s *RefundService) markFailed(ctx context.Context, refund model.Refund) error {
	return s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Refunds().MarkFailed(ctx, refund.ID, refund.Attempts); err != nil {
			return err
		}
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			Action:       model.AuditActionRefundFailed,
			ResourceType: model.AuditResourceRefund,
			ResourceID:   refund.ID,
			AfterJSON: fmt.Sprintf(`{"attempt_id":%d,"amount":%d,"currency":%q,"attempts":%d}`,
				refund.PaymentAttemptID, refund.Amount, refund.Currency, refund.Attempts),
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		if refund.OrderID != nil {
			if err := r.Orders().SetManualReview(ctx, *refund.OrderID, true); err != nil {
				return err
			}
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				Action:       model.AuditActionManualReview,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   *refund.OrderID,
				AfterJSON:    fmt.Sprintf(`{"manual_review":true,"refund_id":%d}`, refund.ID),
				CreatedAt:    time.Now(),
			}); err != nil {
				return err
			}
		}
		log.Printf("[refund_svc] manual review required refund_id=%d attempt_id=%d amount=%d %s",
			refund.ID, refund.PaymentAttemptID, refund.Amount, refund.Currency)
		return nil
	})
}
