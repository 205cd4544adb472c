package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// IntentUsecase は通貨グループごとのPaymentAttemptを冪等に作る。
// 同じidempotency keyのリプレイは既存の試行を返し、プロバイダは二度呼ばない。
type IntentUsecase struct {
	tx        repo.TransactionManager
	carts     repo.CartRepository
	cartItems repo.CartItemRepository
	attempts  repo.PaymentAttemptRepository
	providers ProviderSet

	// 同一カートのintent作成を直列化する（openチェックとcreateの間の競合対策）
	locks *cartLocks

	initiateTimeout time.Duration
}

func NewIntentUsecase(
	tx repo.TransactionManager,
	carts repo.CartRepository,
	cartItems repo.CartItemRepository,
	attempts repo.PaymentAttemptRepository,
	providers ProviderSet,
) *IntentUsecase {
	return &IntentUsecase{
		tx:              tx,
		carts:           carts,
		cartItems:       cartItems,
		attempts:        attempts,
		providers:       providers,
		locks:           newCartLocks(),
		initiateTimeout: 10 * time.Second,
	}
}

type CreateIntentInput struct {
	CartID         int64
	Currency       string
	Provider       model.PaymentProvider
	IdempotencyKey string
}

type IntentOutput struct {
	AttemptID     int64             `json:"attempt_id"`
	AttemptRef    string            `json:"attempt_ref"`
	Currency      string            `json:"currency"`
	Provider      string            `json:"provider"`
	Amount        int64             `json:"amount"`
	Status        string            `json:"status"`
	ClientPayload map[string]string `json:"provider_client_payload,omitempty"`
}

func (u *IntentUsecase) CreateOrReuseIntent(ctx context.Context, userID int64, in CreateIntentInput) (IntentOutput, error) {
	if userID <= 0 {
		return IntentOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.CartID <= 0 {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid cart_id")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid currency")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}

	adapter, ok := u.providers.adapterFor(in.Provider)
	if !ok {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid provider")
	}

	//カートの存在・所有チェック
	cart, err := u.carts.FindByID(ctx, in.CartID)
	if errors.Is(err, repo.ErrNotFound) {
		return IntentOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return IntentOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if cart.UserID != userID {
		return IntentOutput{}, NewHTTPError(http.StatusForbidden, "forbidden")
	}
	if cart.Status != model.CartStatusActive {
		return IntentOutput{}, NewHTTPError(http.StatusConflict, "cart is not active")
	}

	// ここから先はカート単位で直列化する。openチェックを通った2本が
	// どちらもcreateまで進むと同一グループの未決着が2件できてしまう。
	unlock := u.locks.lock(in.CartID)
	defer unlock()

	// 同じキーなら同じ試行（プロバイダは呼ばない）
	existing, found, err := u.attempts.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return IntentOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if found {
		//キーの流用（別カート・別通貨・別プロバイダ）は冪等違反
		if existing.CartID != in.CartID || existing.Currency != currency || existing.Provider != in.Provider {
			return IntentOutput{}, NewHTTPError(http.StatusConflict, "idempotency key already used")
		}
		return toIntentOutput(existing, nil), nil
	}

	// グループは毎回計算し直す（価格・在庫が変わっている可能性がある）
	items, err := u.cartItems.ListByCartID(ctx, in.CartID)
	if err != nil {
		return IntentOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	groups, err := BuildCurrencyGroups(items)
	if errors.Is(err, ErrEmptyCart) {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "cart empty")
	}
	if err != nil {
		return IntentOutput{}, NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	group, ok := FindGroup(groups, currency)
	if !ok {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "no items in this currency")
	}
	//NFT入りグループはON_CHAIN限定、それ以外はCARD/MOBILE_MONEY
	if !group.AllowsProvider(in.Provider) {
		return IntentOutput{}, NewHTTPError(http.StatusBadRequest, "provider not allowed for this group")
	}
	if group.Subtotal <= 0 {
		return IntentOutput{}, NewHTTPError(http.StatusUnprocessableEntity, "intent creation failed: invalid amount")
	}

	// 同一グループの未決着試行は高々1件
	open, openFound, err := u.attempts.FindOpenByCartAndCurrency(ctx, in.CartID, currency)
	if err != nil {
		return IntentOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if openFound && open.IdempotencyKey != key {
		return IntentOutput{}, NewHTTPError(http.StatusConflict, "duplicate attempt for this group")
	}

	// プロバイダ呼び出しはDBトランザクションの外で。
	// タイムアウトしたらレコードは作らない（同じキーで安全に再試行できる）。
	initCtx, cancel := context.WithTimeout(ctx, u.initiateTimeout)
	defer cancel()

	res, err := adapter.Initiate(initCtx, InitiateInput{
		Amount:         group.Subtotal,
		Currency:       currency,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"cart_id": strconv.FormatInt(in.CartID, 10),
		},
	})
	if err != nil {
		var ice *IntentCreationError
		if errors.As(err, &ice) {
			return IntentOutput{}, NewHTTPError(http.StatusUnprocessableEntity, "intent creation failed: "+ice.Detail)
		}
		return IntentOutput{}, NewHTTPError(http.StatusBadGateway, "provider unavailable")
	}

	now := time.Now()
	attempt := model.PaymentAttempt{
		CartID:         in.CartID,
		Currency:       currency,
		Provider:       in.Provider,
		IdempotencyKey: key,
		ExternalRef:    res.AttemptRef,
		Status:         model.AttemptStatusCreated,
		Amount:         group.Subtotal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var out IntentOutput
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		id, createErr := r.Attempts().Create(ctx, attempt)
		if createErr != nil {
			//同じキーが同時に入った場合はもう一回検索して同じ結果を返す
			ex2, found2, err2 := r.Attempts().FindByIdempotencyKey(ctx, key)
			if err2 == nil && found2 {
				out = toIntentOutput(ex2, nil)
				return nil
			}
			//キーが無ければopenグループの部分uniqueIndexに負けた
			//（別プロセスが同じグループのintentを先に作った）
			if errors.Is(createErr, repo.ErrDuplicate) {
				return NewHTTPError(http.StatusConflict, "duplicate attempt for this group")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		attempt.ID = id
		out = toIntentOutput(attempt, res.ClientPayload)
		return nil
	})
	if err != nil {
		return IntentOutput{}, err
	}

	return out, nil
}

func toIntentOutput(a model.PaymentAttempt, payload map[string]string) IntentOutput {
	return IntentOutput{
		AttemptID:     a.ID,
		AttemptRef:    a.ExternalRef,
		Currency:      a.Currency,
		Provider:      string(a.Provider),
		Amount:        a.Amount,
		Status:        string(a.Status),
		ClientPayload: payload,
	}
}
