package usecase

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// ReconcileUsecase は3つの入口（クライアント申告・webhook・明示refresh）を
// 1本の状態機械更新に合流させる。
// クライアントの「成功しました」はヒント扱いで、正はプロバイダConfirmのみ。
type ReconcileUsecase struct {
	tx        repo.TransactionManager
	attempts  repo.PaymentAttemptRepository
	carts     repo.CartRepository
	providers ProviderSet
	finalizer *FinalizeUsecase
	refunds   *RefundService

	confirmTimeout time.Duration
}

func NewReconcileUsecase(
	tx repo.TransactionManager,
	attempts repo.PaymentAttemptRepository,
	carts repo.CartRepository,
	providers ProviderSet,
	finalizer *FinalizeUsecase,
	refunds *RefundService,
) *ReconcileUsecase {
	return &ReconcileUsecase{
		tx:             tx,
		attempts:       attempts,
		carts:          carts,
		providers:      providers,
		finalizer:      finalizer,
		refunds:        refunds,
		confirmTimeout: 15 * time.Second,
	}
}

type AttemptStatusOutput struct {
	AttemptID int64  `json:"attempt_id"`
	Status    string `json:"status"`
}

// ConfirmByClient はクライアント申告をトリガーにした即時Confirm。
// 申告そのものは書き込まない。
func (u *ReconcileUsecase) ConfirmByClient(ctx context.Context, userID int64, attemptID int64, txHash string) (AttemptStatusOutput, error) {
	return u.confirmOwned(ctx, userID, attemptID, ConfirmHint{TxHash: txHash})
}

// Refresh は明示的なステータス更新要求
func (u *ReconcileUsecase) Refresh(ctx context.Context, userID int64, attemptID int64) (AttemptStatusOutput, error) {
	return u.confirmOwned(ctx, userID, attemptID, ConfirmHint{})
}

func (u *ReconcileUsecase) confirmOwned(ctx context.Context, userID int64, attemptID int64, hint ConfirmHint) (AttemptStatusOutput, error) {
	if userID <= 0 {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if attemptID <= 0 {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusBadRequest, "invalid attempt_id")
	}

	attempt, err := u.attempts.FindByID(ctx, attemptID)
	if errors.Is(err, repo.ErrNotFound) {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//所有チェック（カート経由）
	cart, err := u.carts.FindByID(ctx, attempt.CartID)
	if err != nil {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if cart.UserID != userID {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}

	//終端は動かさない（重複confirmはno-op）
	if attempt.Status.IsTerminal() {
		return AttemptStatusOutput{AttemptID: attempt.ID, Status: string(attempt.Status)}, nil
	}

	adapter, ok := u.providers.adapterFor(attempt.Provider)
	if !ok {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "provider not configured")
	}

	confirmCtx, cancel := context.WithTimeout(ctx, u.confirmTimeout)
	defer cancel()

	hint.Amount = attempt.Amount
	hint.Currency = attempt.Currency
	res, err := adapter.Confirm(confirmCtx, attempt.ExternalRef, hint)
	if err != nil {
		if errors.Is(err, ErrConfirmationTimeout) {
			// タイムアウトはFailedにしない。AWAITINGに留めて再ポーリング可能にする。
			if _, aerr := u.attempts.UpdateStatusIf(ctx, attempt.ID,
				[]model.AttemptStatus{model.AttemptStatusCreated}, model.AttemptStatusAwaiting); aerr != nil {
				return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
			}
			return AttemptStatusOutput{AttemptID: attempt.ID, Status: string(model.AttemptStatusAwaiting)}, nil
		}
		if errors.Is(err, ErrChainVerificationFailed) {
			//宛先・金額不一致は終端FAILED
			return u.apply(ctx, attempt, model.AttemptStatusFailed)
		}
		return AttemptStatusOutput{}, NewHTTPError(http.StatusBadGateway, "provider unavailable")
	}

	// 着金額不足は検証失敗と同じ扱い（終端FAILED）
	if res.Status == model.AttemptStatusSucceeded && res.SettledAmount > 0 && res.SettledAmount < attempt.Amount {
		return u.apply(ctx, attempt, model.AttemptStatusFailed)
	}

	// オンチェーンは決済txハッシュを記録する（返金の宛先解決に使う）
	if attempt.Provider == model.ProviderOnChain && hint.TxHash != "" && res.Status == model.AttemptStatusSucceeded {
		if err := u.attempts.SetSettledTxHash(ctx, attempt.ID, hint.TxHash); err != nil {
			return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}
	}

	return u.apply(ctx, attempt, res.Status)
}

// HandleCallback はプロバイダからの非同期通知。
// 署名不正・解釈不能はエラー（ハンドラが4xxで拒否、状態には触れない）。
func (u *ReconcileUsecase) HandleCallback(ctx context.Context, provider model.PaymentProvider, raw []byte, signature string) (AttemptStatusOutput, error) {
	adapter, ok := u.providers.adapterFor(provider)
	if !ok {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusNotFound, "unknown provider")
	}

	event, err := adapter.AcceptCallback(ctx, raw, signature)
	if err != nil {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	attempt, found, err := u.attempts.FindByExternalRef(ctx, provider, event.AttemptRef)
	if err != nil {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if !found {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusNotFound, "unknown reference")
	}

	//終端への重複通知はno-op（冪等）
	if attempt.Status.IsTerminal() {
		return AttemptStatusOutput{AttemptID: attempt.ID, Status: string(attempt.Status)}, nil
	}

	//着金額不足は成功扱いしない
	if event.Status == model.AttemptStatusSucceeded && event.Amount > 0 && event.Amount < attempt.Amount {
		return u.apply(ctx, attempt, model.AttemptStatusFailed)
	}

	if provider == model.ProviderOnChain && event.TxHash != "" && event.Status == model.AttemptStatusSucceeded {
		if err := u.attempts.SetSettledTxHash(ctx, attempt.ID, event.TxHash); err != nil {
			return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}
	}

	return u.apply(ctx, attempt, event.Status)
}

// apply は単調な状態遷移だけを許す。
// CREATED -> AWAITING -> {SUCCEEDED|FAILED}。終端の巻き戻しは条件付きUPDATEで物理的に不可能。
func (u *ReconcileUsecase) apply(ctx context.Context, attempt model.PaymentAttempt, next model.AttemptStatus) (AttemptStatusOutput, error) {
	open := []model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting}

	switch next {
	case model.AttemptStatusAwaiting:
		if _, err := u.attempts.UpdateStatusIf(ctx, attempt.ID,
			[]model.AttemptStatus{model.AttemptStatusCreated}, model.AttemptStatusAwaiting); err != nil {
			return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}

	case model.AttemptStatusFailed:
		if _, err := u.attempts.UpdateStatusIf(ctx, attempt.ID, open, model.AttemptStatusFailed); err != nil {
			return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}

	case model.AttemptStatusSucceeded:
		advanced, err := u.attempts.UpdateStatusIf(ctx, attempt.ID, open, model.AttemptStatusSucceeded)
		if err != nil {
			return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if advanced {
			u.onSucceeded(ctx, attempt)
		}

	default:
		//CREATEDへの巻き戻し等は無視
	}

	updated, err := u.attempts.FindByID(ctx, attempt.ID)
	if err != nil {
		return AttemptStatusOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return AttemptStatusOutput{AttemptID: updated.ID, Status: string(updated.Status)}, nil
}

// onSucceeded は成功確定後のフック。
// カートが生きていればFinalize、すでにクリア済みなら黙殺せず返金を積む。
func (u *ReconcileUsecase) onSucceeded(ctx context.Context, attempt model.PaymentAttempt) {
	cart, err := u.carts.FindByID(ctx, attempt.CartID)
	if err != nil {
		log.Printf("[reconcile_uc] WARN: cart lookup failed cart_id=%d err=%v", attempt.CartID, err)
		return
	}

	if cart.Status == model.CartStatusActive {
		if _, err := u.finalizer.Finalize(ctx, attempt.CartID); err != nil {
			log.Printf("[reconcile_uc] WARN: finalize failed cart_id=%d err=%v", attempt.CartID, err)
		}
		return
	}

	// カートクリア後に届いた成功は返金対象（金の行方を失わない）
	if cart.Status == model.CartStatusAbandoned {
		if err := u.refunds.QueueFullRefund(ctx, attempt, "cart cleared before settlement"); err != nil {
			log.Printf("[reconcile_uc] WARN: refund queue failed attempt_id=%d err=%v", attempt.ID, err)
		}
		return
	}

	// CHECKED_OUT: 注文は既に存在する。この試行が注文の決済に含まれていなければ過払い。
	settled, err := u.finalizer.AttemptSettledOrder(ctx, attempt)
	if err != nil {
		log.Printf("[reconcile_uc] WARN: order check failed attempt_id=%d err=%v", attempt.ID, err)
		return
	}
	if !settled {
		if err := u.refunds.QueueFullRefund(ctx, attempt, "late success after checkout"); err != nil {
			log.Printf("[reconcile_uc] WARN: refund queue failed attempt_id=%d err=%v", attempt.ID, err)
		}
	}
}
