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

	"github.com/google/uuid"

	"app/internal/domain/model"
	"app/internal/usecase"
)

// MobileMoneyGateway はモバイルマネー（回収API）のRESTクライアント。
// 回収リクエストを作ると利用者の端末にプッシュが飛び、承認されると
// webhook（またはポーリング）で決着が返る。
type MobileMoneyGateway struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
}

func NewMobileMoneyGateway(baseURL, apiKey, webhookSecret string) *MobileMoneyGateway {
	return &MobileMoneyGateway{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

type momoCollectionRequest struct {
	ReferenceID string `json:"reference_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ExternalID  string `json:"external_id"`
}

type momoCollectionResponse struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

func (g *MobileMoneyGateway) Initiate(ctx context.Context, in usecase.InitiateInput) (usecase.InitiateResult, error) {
	// reference_idはこちらで採番する方式（同じidempotency keyでもAPI上は別参照になるが、
	// 呼び出し側が既存試行を返すので二重リクエストにはならない）
	refID := uuid.NewString()

	var resp momoCollectionResponse
	status, err := g.doJSON(ctx, http.MethodPost, "/collections", momoCollectionRequest{
		ReferenceID: refID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		ExternalID:  in.IdempotencyKey,
	}, &resp)
	if err != nil {
		return usecase.InitiateResult{}, fmt.Errorf("momo gateway: %w", err)
	}
	if status >= 400 && status < 500 {
		return usecase.InitiateResult{}, &usecase.IntentCreationError{
			Provider: model.ProviderMobileMoney,
			Detail:   resp.Reason,
		}
	}
	if status != http.StatusOK && status != http.StatusAccepted && status != http.StatusCreated {
		return usecase.InitiateResult{}, fmt.Errorf("momo gateway: unexpected status %d", status)
	}

	return usecase.InitiateResult{
		AttemptRef: refID,
		ClientPayload: map[string]string{
			"reference_id": refID,
		},
	}, nil
}

func (g *MobileMoneyGateway) Confirm(ctx context.Context, attemptRef string, _ usecase.ConfirmHint) (usecase.ConfirmResult, error) {
	var resp struct {
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
		Amount      int64  `json:"amount"`
	}
	status, err := g.doJSON(ctx, http.MethodGet, "/collections/"+attemptRef, nil, &resp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return usecase.ConfirmResult{}, usecase.ErrConfirmationTimeout
		}
		return usecase.ConfirmResult{}, fmt.Errorf("momo gateway: %w", err)
	}
	if status != http.StatusOK {
		return usecase.ConfirmResult{}, fmt.Errorf("momo gateway: unexpected status %d", status)
	}

	return usecase.ConfirmResult{
		Status:        mapMomoStatus(resp.Status),
		SettledAmount: resp.Amount,
	}, nil
}

type momoWebhookEvent struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

func (g *MobileMoneyGateway) AcceptCallback(_ context.Context, raw []byte, signature string) (usecase.CallbackEvent, error) {
	if !verifySignature(g.webhookSecret, raw, signature) {
		return usecase.CallbackEvent{}, errors.New("momo webhook: invalid signature")
	}

	var ev momoWebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return usecase.CallbackEvent{}, fmt.Errorf("momo webhook: %w", err)
	}
	if ev.ReferenceID == "" {
		return usecase.CallbackEvent{}, errors.New("momo webhook: missing reference_id")
	}

	return usecase.CallbackEvent{
		AttemptRef: ev.ReferenceID,
		Status:     mapMomoStatus(ev.Status),
		Amount:     ev.Amount,
		Currency:   ev.Currency,
	}, nil
}

func (g *MobileMoneyGateway) Refund(ctx context.Context, attemptRef string, amount int64) (string, error) {
	refID := uuid.NewString()

	var resp struct {
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
		Reason      string `json:"reason,omitempty"`
	}
	status, err := g.doJSON(ctx, http.MethodPost, "/disbursements", map[string]any{
		"reference_id": refID,
		"collection":   attemptRef,
		"amount":       amount,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("momo gateway: %w", err)
	}
	if status != http.StatusOK && status != http.StatusAccepted && status != http.StatusCreated {
		return "", fmt.Errorf("momo gateway: refund rejected (%d): %s", status, resp.Reason)
	}
	return refID, nil
}

func mapMomoStatus(s string) model.AttemptStatus {
	switch s {
	case "SUCCESSFUL":
		return model.AttemptStatusSucceeded
	case "FAILED", "REJECTED", "EXPIRED":
		return model.AttemptStatusFailed
	default:
		//PENDINGは未決着
		return model.AttemptStatusAwaiting
	}
}

func (g *MobileMoneyGateway) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
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
	req.Header.Set("Ocp-Apim-Subscription-Key", g.apiKey)

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
