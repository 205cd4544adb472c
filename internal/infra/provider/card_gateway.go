package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/domain/model"
	"app/internal/usecase"
)

// CardGateway はカード決済ゲートウェイのRESTクライアント。
// intentを作り、client_secretをUIに渡してSDKを起動させる方式。
type CardGateway struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
}

func NewCardGateway(baseURL, apiKey, webhookSecret string) *CardGateway {
	return &CardGateway{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

type cardIntentRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type cardIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

func (g *CardGateway) Initiate(ctx context.Context, in usecase.InitiateInput) (usecase.InitiateResult, error) {
	var resp cardIntentResponse
	status, err := g.doJSON(ctx, http.MethodPost, "/v1/payment_intents", cardIntentRequest{
		Amount:         in.Amount,
		Currency:       in.Currency,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
	}, &resp)
	if err != nil {
		return usecase.InitiateResult{}, fmt.Errorf("card gateway: %w", err)
	}
	//4xxはゲートウェイ側の拒否（金額不正・通貨未対応など）
	if status >= 400 && status < 500 {
		return usecase.InitiateResult{}, &usecase.IntentCreationError{
			Provider: model.ProviderCard,
			Detail:   resp.Error,
		}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return usecase.InitiateResult{}, fmt.Errorf("card gateway: unexpected status %d", status)
	}

	return usecase.InitiateResult{
		AttemptRef: resp.ID,
		ClientPayload: map[string]string{
			"client_secret": resp.ClientSecret,
		},
	}, nil
}

func (g *CardGateway) Confirm(ctx context.Context, attemptRef string, _ usecase.ConfirmHint) (usecase.ConfirmResult, error) {
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	}
	status, err := g.doJSON(ctx, http.MethodGet, "/v1/payment_intents/"+attemptRef, nil, &resp)
	if err != nil {
		// 応答なしはタイムアウト扱い（Failedにしない。後で再ポーリングする）
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return usecase.ConfirmResult{}, usecase.ErrConfirmationTimeout
		}
		return usecase.ConfirmResult{}, fmt.Errorf("card gateway: %w", err)
	}
	if status != http.StatusOK {
		return usecase.ConfirmResult{}, fmt.Errorf("card gateway: unexpected status %d", status)
	}

	return usecase.ConfirmResult{
		Status:        mapCardStatus(resp.Status),
		SettledAmount: resp.Amount,
	}, nil
}

type cardWebhookEvent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func (g *CardGateway) AcceptCallback(_ context.Context, raw []byte, signature string) (usecase.CallbackEvent, error) {
	if !verifySignature(g.webhookSecret, raw, signature) {
		return usecase.CallbackEvent{}, errors.New("card webhook: invalid signature")
	}

	var ev cardWebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return usecase.CallbackEvent{}, fmt.Errorf("card webhook: %w", err)
	}
	if ev.PaymentIntentID == "" {
		return usecase.CallbackEvent{}, errors.New("card webhook: missing payment_intent_id")
	}

	return usecase.CallbackEvent{
		AttemptRef: ev.PaymentIntentID,
		Status:     mapCardStatus(ev.Status),
		Amount:     ev.Amount,
		Currency:   ev.Currency,
	}, nil
}

func (g *CardGateway) Refund(ctx context.Context, attemptRef string, amount int64) (string, error) {
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	status, err := g.doJSON(ctx, http.MethodPost, "/v1/refunds", map[string]any{
		"payment_intent": attemptRef,
		"amount":         amount,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("card gateway: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("card gateway: refund rejected (%d): %s", status, resp.Error)
	}
	return resp.ID, nil
}

// ゲートウェイのステータス語彙 → 内部状態
func mapCardStatus(s string) model.AttemptStatus {
	switch s {
	case "succeeded":
		return model.AttemptStatusSucceeded
	case "failed", "canceled":
		return model.AttemptStatusFailed
	default:
		// requires_confirmation / processing 等は未決着
		return model.AttemptStatusAwaiting
	}
}

func (g *CardGateway) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
