package usecase

import (
	"context"
	"net/http"
	"testing"
	"time"

	"app/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type reconcileFixture struct {
	attempts *AttemptRepoMock
	carts    *CartRepoMock
	orders   *OrderRepoMock
	payments *OrderPaymentRepoMock
	refunds  *RefundRepoMock
	audits   *AuditLogRepoMock
	adapter  *AdapterMock

	refundSvc *RefundService
	uc        *ReconcileUsecase
}

func newReconcileFixture(provider model.PaymentProvider) *reconcileFixture {
	f := &reconcileFixture{
		attempts: new(AttemptRepoMock),
		carts:    new(CartRepoMock),
		orders:   new(OrderRepoMock),
		payments: new(OrderPaymentRepoMock),
		refunds:  new(RefundRepoMock),
		audits:   new(AuditLogRepoMock),
		adapter:  new(AdapterMock),
	}
	tx := &txManagerStub{repos: &txReposStub{
		orders:        f.orders,
		orderPayments: f.payments,
		attempts:      f.attempts,
		refunds:       f.refunds,
		auditLogs:     f.audits,
	}}
	providers := ProviderSet{provider: f.adapter}
	f.refundSvc = NewRefundService(tx, providers)
	f.refundSvc.backoffBase = time.Millisecond
	finalizer := NewFinalizeUsecase(tx, f.refundSvc)
	f.uc = NewReconcileUsecase(tx, f.attempts, f.carts, providers, finalizer, f.refundSvc)
	return f
}

func openAttempt(provider model.PaymentProvider) model.PaymentAttempt {
	return model.PaymentAttempt{
		ID: 42, CartID: 7, Currency: "USD", Provider: provider,
		IdempotencyKey: "key-1", ExternalRef: "pi_1",
		Status: model.AttemptStatusAwaiting, Amount: 1000,
	}
}

// =====================
// ConfirmByClient / Refresh
// =====================

// プロバイダ無応答はFAILEDにしない。AWAITINGのまま再ポーリングに回す。
func TestReconcileUsecase_Confirm_TimeoutStaysAwaiting(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	attempt := openAttempt(model.ProviderCard)
	attempt.Status = model.AttemptStatusCreated

	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(attempt, nil)
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(activeCart(7, 1), nil)
	f.adapter.On("Confirm", mock.Anything, "pi_1", mock.Anything).Return(ConfirmResult{}, ErrConfirmationTimeout)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusCreated}, model.AttemptStatusAwaiting).Return(true, nil)

	out, err := f.uc.Refresh(ctx, 1, 42)
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusAwaiting), out.Status)

	f.attempts.AssertNotCalled(t, "UpdateStatusIf",
		mock.Anything, mock.Anything, mock.Anything, model.AttemptStatusFailed)
}

// 終端の試行への再confirmは何もしない
func TestReconcileUsecase_Confirm_TerminalIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	attempt := openAttempt(model.ProviderCard)
	attempt.Status = model.AttemptStatusSucceeded

	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(attempt, nil)
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(activeCart(7, 1), nil)

	out, err := f.uc.ConfirmByClient(ctx, 1, 42, "")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusSucceeded), out.Status)

	f.adapter.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

// オンチェーン検証の不一致（宛先・金額・ミント）は終端FAILED
func TestReconcileUsecase_Confirm_ChainVerificationFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderOnChain)

	attempt := openAttempt(model.ProviderOnChain)
	failed := attempt
	failed.Status = model.AttemptStatusFailed

	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(attempt, nil).Once()
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(activeCart(7, 1), nil)
	f.adapter.On("Confirm", mock.Anything, "pi_1", ConfirmHint{
		TxHash: "sig123", Amount: 1000, Currency: "USD",
	}).Return(ConfirmResult{}, ErrChainVerificationFailed)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting},
		model.AttemptStatusFailed).Return(true, nil)
	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(failed, nil)

	out, err := f.uc.ConfirmByClient(ctx, 1, 42, "sig123")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusFailed), out.Status)

	f.adapter.AssertExpectations(t)
}

// 着金額が足りない成功報告は成功扱いにしない
func TestReconcileUsecase_Confirm_UnderpaymentBecomesFailed(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	attempt := openAttempt(model.ProviderCard)
	failed := attempt
	failed.Status = model.AttemptStatusFailed

	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(attempt, nil).Once()
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(activeCart(7, 1), nil)
	f.adapter.On("Confirm", mock.Anything, "pi_1", mock.Anything).Return(ConfirmResult{
		Status: model.AttemptStatusSucceeded, SettledAmount: 400,
	}, nil)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting},
		model.AttemptStatusFailed).Return(true, nil)
	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(failed, nil)

	out, err := f.uc.ConfirmByClient(ctx, 1, 42, "")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusFailed), out.Status)
}

// オンチェーン成功時は決済txハッシュを控える（返金の宛先解決に使う）
func TestReconcileUsecase_Confirm_OnChainSuccessRecordsSettledTxHash(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderOnChain)

	attempt := openAttempt(model.ProviderOnChain)
	succeeded := attempt
	succeeded.Status = model.AttemptStatusSucceeded

	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(attempt, nil).Once()
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(activeCart(7, 1), nil)
	f.adapter.On("Confirm", mock.Anything, "pi_1", ConfirmHint{
		TxHash: "sig123", Amount: 1000, Currency: "USD",
	}).Return(ConfirmResult{Status: model.AttemptStatusSucceeded, SettledAmount: 1000}, nil)
	f.attempts.On("SetSettledTxHash", mock.Anything, int64(42), "sig123").Return(nil)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting},
		model.AttemptStatusSucceeded).Return(true, nil)
	// 成功フック: カートはACTIVEだが注文が既にあるのでFinalizeは即settled
	f.orders.On("FindByCartID", mock.Anything, int64(7)).Return(model.Order{ID: 9}, true, nil)
	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(succeeded, nil)

	out, err := f.uc.ConfirmByClient(ctx, 1, 42, "sig123")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusSucceeded), out.Status)

	f.attempts.AssertExpectations(t)
}

// 他人の試行は存在しない扱い
func TestReconcileUsecase_Confirm_ForeignAttemptHidden(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(openAttempt(model.ProviderCard), nil)
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(activeCart(7, 2), nil)

	_, err := f.uc.Refresh(ctx, 1, 42)
	assertHTTPStatus(t, err, http.StatusNotFound)
}

// =====================
// HandleCallback
// =====================

// 署名不正は4xxで拒否し、状態には一切触れない
func TestReconcileUsecase_HandleCallback_InvalidSignatureRejected(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	raw := []byte(`{"payment_intent_id":"pi_1","status":"succeeded"}`)
	f.adapter.On("AcceptCallback", mock.Anything, raw, "bad-sig").
		Return(CallbackEvent{}, assert.AnError)

	_, err := f.uc.HandleCallback(ctx, model.ProviderCard, raw, "bad-sig")
	assertHTTPStatus(t, err, http.StatusBadRequest)

	f.attempts.AssertNotCalled(t, "FindByExternalRef", mock.Anything, mock.Anything, mock.Anything)
	f.attempts.AssertNotCalled(t, "UpdateStatusIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// 終端の試行への重複通知はno-op（冪等）
func TestReconcileUsecase_HandleCallback_DuplicateTerminalNoOp(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	attempt := openAttempt(model.ProviderCard)
	attempt.Status = model.AttemptStatusSucceeded

	raw := []byte(`{"payment_intent_id":"pi_1","status":"succeeded"}`)
	f.adapter.On("AcceptCallback", mock.Anything, raw, "sig").
		Return(CallbackEvent{AttemptRef: "pi_1", Status: model.AttemptStatusSucceeded, Amount: 1000}, nil)
	f.attempts.On("FindByExternalRef", mock.Anything, model.ProviderCard, "pi_1").Return(attempt, true, nil)

	out, err := f.uc.HandleCallback(ctx, model.ProviderCard, raw, "sig")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusSucceeded), out.Status)

	f.attempts.AssertNotCalled(t, "UpdateStatusIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// 不明な参照は404（プロバイダ側がリトライする）
func TestReconcileUsecase_HandleCallback_UnknownReference(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	raw := []byte(`{"payment_intent_id":"pi_x","status":"succeeded"}`)
	f.adapter.On("AcceptCallback", mock.Anything, raw, "sig").
		Return(CallbackEvent{AttemptRef: "pi_x", Status: model.AttemptStatusSucceeded}, nil)
	f.attempts.On("FindByExternalRef", mock.Anything, model.ProviderCard, "pi_x").
		Return(model.PaymentAttempt{}, false, nil)

	_, err := f.uc.HandleCallback(ctx, model.ProviderCard, raw, "sig")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

// カートクリア後に届いた成功は黙殺せず全額返金を積む
func TestReconcileUsecase_HandleCallback_LateSuccessAfterClearQueuesRefund(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderCard)

	attempt := openAttempt(model.ProviderCard)
	abandoned := model.Cart{ID: 7, UserID: 1, Status: model.CartStatusAbandoned}

	raw := []byte(`{"payment_intent_id":"pi_1","status":"succeeded","amount":1000}`)
	f.adapter.On("AcceptCallback", mock.Anything, raw, "sig").
		Return(CallbackEvent{AttemptRef: "pi_1", Status: model.AttemptStatusSucceeded, Amount: 1000}, nil)
	f.attempts.On("FindByExternalRef", mock.Anything, model.ProviderCard, "pi_1").Return(attempt, true, nil)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting},
		model.AttemptStatusSucceeded).Return(true, nil)
	f.carts.On("FindByID", mock.Anything, int64(7)).Return(abandoned, nil)

	f.refunds.On("Create", mock.Anything, mock.MatchedBy(func(r model.Refund) bool {
		return r.PaymentAttemptID == 42 && r.Amount == 1000 && r.Currency == "USD" &&
			r.Status == model.RefundStatusPending && r.OrderID == nil
	})).Return(int64(5), nil)

	// 非同期の発行チェーン（最後のUpdateStatusIfで完了を知る）
	done := make(chan struct{})
	f.refunds.On("ClaimPending", mock.Anything, int64(5)).Return(true, nil)
	f.refunds.On("FindByID", mock.Anything, int64(5)).Return(model.Refund{
		ID: 5, PaymentAttemptID: 42, Amount: 1000, Currency: "USD", Status: model.RefundStatusPending,
	}, nil)
	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(attempt, nil)
	f.adapter.On("Refund", mock.Anything, "pi_1", int64(1000)).Return("re_1", nil)
	f.refunds.On("MarkIssued", mock.Anything, int64(5), "re_1", 1).Return(nil)
	f.attempts.On("AddRefundedAmount", mock.Anything, int64(42), int64(1000)).Return(nil)
	f.audits.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Action == model.AuditActionRefundIssued && l.ResourceID == 5
	})).Return(nil)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusSucceeded, model.AttemptStatusPartiallyRefunded},
		model.AttemptStatusRefunded).
		Run(func(mock.Arguments) { close(done) }).
		Return(true, nil)

	out, err := f.uc.HandleCallback(ctx, model.ProviderCard, raw, "sig")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusSucceeded), out.Status)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("refund was not issued")
	}
	f.refunds.AssertExpectations(t)
}

// 通知の着金額不足も成功扱いにしない
func TestReconcileUsecase_HandleCallback_UnderpaymentBecomesFailed(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(model.ProviderMobileMoney)

	attempt := openAttempt(model.ProviderMobileMoney)
	failed := attempt
	failed.Status = model.AttemptStatusFailed

	raw := []byte(`{"reference_id":"pi_1","status":"SUCCESSFUL","amount":700}`)
	f.adapter.On("AcceptCallback", mock.Anything, raw, "sig").
		Return(CallbackEvent{AttemptRef: "pi_1", Status: model.AttemptStatusSucceeded, Amount: 700}, nil)
	f.attempts.On("FindByExternalRef", mock.Anything, model.ProviderMobileMoney, "pi_1").Return(attempt, true, nil)
	f.attempts.On("UpdateStatusIf", mock.Anything, int64(42),
		[]model.AttemptStatus{model.AttemptStatusCreated, model.AttemptStatusAwaiting},
		model.AttemptStatusFailed).Return(true, nil)
	f.attempts.On("FindByID", mock.Anything, int64(42)).Return(failed, nil)

	out, err := f.uc.HandleCallback(ctx, model.ProviderMobileMoney, raw, "sig")
	assert.NoError(t, err)
	assert.Equal(t, string(model.AttemptStatusFailed), out.Status)
}
