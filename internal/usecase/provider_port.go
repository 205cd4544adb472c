package usecase

import (
	"context"
	"errors"
	"fmt"

	"app/internal/domain/model"
)

// プロバイダ側の一時的な失敗・応答なし。再ポーリングで解決する（Failed扱い禁止）。
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// オンチェーン検証の不一致（宛先・金額・トークン）。終端FAILED、リトライしない。
var ErrChainVerificationFailed = errors.New("chain verification failed")

// プロバイダがintent作成を拒否した（金額不正など）。PaymentAttemptは残さない。
type IntentCreationError struct {
	Provider model.PaymentProvider
	Detail   string
}

func (e *IntentCreationError) Error() string {
	return fmt.Sprintf("intent creation failed (%s): %s", e.Provider, e.Detail)
}

type InitiateInput struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type InitiateResult struct {
	AttemptRef string
	// UIがプロバイダSDKを起動するのに必要な情報（client_secret、入金先アドレス等）
	ClientPayload map[string]string
}

// Confirmに添える追加情報。オンチェーンはクライアント申告のtxハッシュを
// 期待金額・通貨と突き合わせて検証する。
type ConfirmHint struct {
	TxHash   string
	Amount   int64
	Currency string
}

type ConfirmResult struct {
	Status        model.AttemptStatus
	SettledAmount int64
}

// Webhookペイロードの検証・正規化結果
type CallbackEvent struct {
	AttemptRef string
	Status     model.AttemptStatus
	Amount     int64
	Currency   string
	// オンチェーンのみ（indexerが通知する決済txハッシュ）
	TxHash string
}

// ProviderAdapter は3レール（カード・モバイルマネー・オンチェーン）共通の契約。
// ネットワークI/Oを伴うので全メソッドにctx、実装側でタイムアウトを切る。
type ProviderAdapter interface {
	Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error)

	// 同期ポーリング。タイムアウトはErrConfirmationTimeout（AWAITINGのまま）。
	Confirm(ctx context.Context, attemptRef string, hint ConfirmHint) (ConfirmResult, error)

	// 署名検証込み。不正ならerror（4xxで拒否、状態には触れない）。
	AcceptCallback(ctx context.Context, raw []byte, signature string) (CallbackEvent, error)

	// 補償返金。外部参照を返す。
	Refund(ctx context.Context, attemptRef string, amount int64) (string, error)
}

// ProviderSet はprovider種別→adapterの束。DIで注入する。
type ProviderSet map[model.PaymentProvider]ProviderAdapter

func (s ProviderSet) adapterFor(p model.PaymentProvider) (ProviderAdapter, bool) {
	a, ok := s[p]
	return a, ok
}
