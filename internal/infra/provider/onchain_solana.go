package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/google/uuid"

	"app/internal/domain/model"
	"app/internal/usecase"
)

// OnChainGateway はSolana上の直接入金レール。
// intentは「入金先アドレス＋参照ID」を払い出すだけで、決着はクライアント申告の
// txハッシュをRPCで検証するか、indexerのwebhookで受ける。
type OnChainGateway struct {
	rpc           *client.Client
	payee         common.PublicKey
	webhookSecret string

	// この深さまで確定しないうちはSUCCEEDEDにしない
	minConfirmations uint64

	// 返金の送金元。未設定なら返金は失敗する（manual reviewに落ちる）
	treasury *types.Account

	// 通貨コード→SPLトークンミント。未登録の通貨はネイティブSOL扱い。
	mints map[string]string
}

type OnChainConfig struct {
	RPCURL           string
	PayeeAddress     string
	WebhookSecret    string
	MinConfirmations uint64
	TreasuryKey      string // base58秘密鍵。空なら返金不可。
	Mints            map[string]string
}

func NewOnChainGateway(cfg OnChainConfig) (*OnChainGateway, error) {
	payeeAddr := strings.TrimSpace(cfg.PayeeAddress)
	if payeeAddr == "" {
		return nil, errors.New("onchain gateway: payee address required")
	}

	g := &OnChainGateway{
		rpc:              client.NewClient(cfg.RPCURL),
		payee:            common.PublicKeyFromString(payeeAddr),
		webhookSecret:    cfg.WebhookSecret,
		minConfirmations: cfg.MinConfirmations,
		mints:            cfg.Mints,
	}
	if g.minConfirmations == 0 {
		g.minConfirmations = 32
	}

	if key := strings.TrimSpace(cfg.TreasuryKey); key != "" {
		acc, err := types.AccountFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("onchain gateway: treasury key: %w", err)
		}
		g.treasury = &acc
	}

	return g, nil
}

// Initiate はRPCを呼ばない。入金先と参照IDを払い出すだけ。
func (g *OnChainGateway) Initiate(_ context.Context, in usecase.InitiateInput) (usecase.InitiateResult, error) {
	mint, isSPL := g.mints[in.Currency]
	if !isSPL && in.Currency != "SOL" {
		return usecase.InitiateResult{}, &usecase.IntentCreationError{
			Provider: model.ProviderOnChain,
			Detail:   "unsupported on-chain currency: " + in.Currency,
		}
	}

	ref := uuid.NewString()
	payload := map[string]string{
		"deposit_address": g.payee.ToBase58(),
		"reference":       ref,
		"amount":          strconv.FormatInt(in.Amount, 10),
		"currency":        in.Currency,
	}
	if isSPL {
		payload["token_mint"] = mint
	}

	return usecase.InitiateResult{AttemptRef: ref, ClientPayload: payload}, nil
}

// Confirm は申告されたtxハッシュをチェーンに対して検証する。
// 宛先・ミント・金額の不一致は検証失敗（終端）、確定深度が浅いだけなら未決着のまま。
func (g *OnChainGateway) Confirm(ctx context.Context, _ string, hint usecase.ConfirmHint) (usecase.ConfirmResult, error) {
	if hint.TxHash == "" {
		// txハッシュが無ければ検証しようがない。申告待ち。
		return usecase.ConfirmResult{Status: model.AttemptStatusAwaiting}, nil
	}

	tx, err := g.rpc.GetTransaction(ctx, hint.TxHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return usecase.ConfirmResult{}, usecase.ErrConfirmationTimeout
		}
		return usecase.ConfirmResult{}, fmt.Errorf("onchain gateway: GetTransaction: %w", err)
	}
	if tx == nil || tx.Meta == nil {
		// まだ取り込まれていない。未決着のまま待つ。
		return usecase.ConfirmResult{Status: model.AttemptStatusAwaiting}, nil
	}

	slot, err := g.rpc.GetSlot(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return usecase.ConfirmResult{}, usecase.ErrConfirmationTimeout
		}
		return usecase.ConfirmResult{}, fmt.Errorf("onchain gateway: GetSlot: %w", err)
	}

	return g.evaluateSettlement(tx, slot, hint)
}

// evaluateSettlement は取得済みのtxと現在スロットに対する判定本体。
// 宛先・ミント・金額の不一致は終端の検証失敗、確定深度が浅いだけなら未決着。
func (g *OnChainGateway) evaluateSettlement(tx *client.Transaction, currentSlot uint64, hint usecase.ConfirmHint) (usecase.ConfirmResult, error) {
	if tx.Meta.Err != nil {
		return usecase.ConfirmResult{}, usecase.ErrChainVerificationFailed
	}

	received, err := g.receivedAmount(tx, hint.Currency)
	if err != nil {
		return usecase.ConfirmResult{}, usecase.ErrChainVerificationFailed
	}
	if received < hint.Amount {
		return usecase.ConfirmResult{}, usecase.ErrChainVerificationFailed
	}

	// 確定深度チェック。浅いうちは成功にしない（チェーン巻き戻り対策）。
	if currentSlot < tx.Slot+g.minConfirmations {
		return usecase.ConfirmResult{Status: model.AttemptStatusAwaiting}, nil
	}

	return usecase.ConfirmResult{
		Status:        model.AttemptStatusSucceeded,
		SettledAmount: received,
	}, nil
}

// 入金先が受け取った額を算出する。SPLはトークン残高差分、SOLはlamports差分。
func (g *OnChainGateway) receivedAmount(tx *client.Transaction, currency string) (int64, error) {
	payee := g.payee.ToBase58()

	if mint, ok := g.mints[currency]; ok {
		var pre, post int64
		for _, b := range tx.Meta.PreTokenBalances {
			if b.Owner == payee && b.Mint == mint {
				v, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
				if err != nil {
					return 0, err
				}
				pre += v
			}
		}
		for _, b := range tx.Meta.PostTokenBalances {
			if b.Owner == payee && b.Mint == mint {
				v, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
				if err != nil {
					return 0, err
				}
				post += v
			}
		}
		return post - pre, nil
	}

	accounts := tx.Transaction.Message.Accounts
	for i, acc := range accounts {
		if acc.ToBase58() != payee {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			return 0, errors.New("balance index out of range")
		}
		return tx.Meta.PostBalances[i] - tx.Meta.PreBalances[i], nil
	}
	return 0, errors.New("payee not found in transaction")
}

type onchainWebhookEvent struct {
	Reference string `json:"reference"`
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// AcceptCallback は入金監視indexerからの通知。署名はゲートウェイ系と同じHMAC。
func (g *OnChainGateway) AcceptCallback(_ context.Context, raw []byte, signature string) (usecase.CallbackEvent, error) {
	if !verifySignature(g.webhookSecret, raw, signature) {
		return usecase.CallbackEvent{}, errors.New("onchain webhook: invalid signature")
	}

	var ev onchainWebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return usecase.CallbackEvent{}, fmt.Errorf("onchain webhook: %w", err)
	}
	if ev.Reference == "" {
		return usecase.CallbackEvent{}, errors.New("onchain webhook: missing reference")
	}

	var status model.AttemptStatus
	switch ev.Status {
	case "confirmed":
		status = model.AttemptStatusSucceeded
	case "failed":
		status = model.AttemptStatusFailed
	default:
		status = model.AttemptStatusAwaiting
	}

	return usecase.CallbackEvent{
		AttemptRef: ev.Reference,
		Status:     status,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		TxHash:     ev.TxHash,
	}, nil
}

// Refund は決済txの送金元へトレジャリーから送り返す。
// refには決済を成立させたtxハッシュが入っている前提。
func (g *OnChainGateway) Refund(ctx context.Context, settledTxHash string, amount int64) (string, error) {
	if g.treasury == nil {
		return "", errors.New("onchain gateway: treasury not configured")
	}
	if settledTxHash == "" {
		return "", errors.New("onchain gateway: settled tx hash unknown")
	}
	if amount <= 0 {
		return "", fmt.Errorf("onchain gateway: invalid refund amount %d", amount)
	}

	tx, err := g.rpc.GetTransaction(ctx, settledTxHash)
	if err != nil {
		return "", fmt.Errorf("onchain gateway: GetTransaction: %w", err)
	}
	if tx == nil || len(tx.Transaction.Message.Accounts) == 0 {
		return "", errors.New("onchain gateway: settled tx not found")
	}

	// fee payer（先頭アカウント）を返金先とみなす
	payer := tx.Transaction.Message.Accounts[0]

	ins, err := g.buildRefundInstructions(tx, payer, amount)
	if err != nil {
		return "", err
	}

	latest, err := g.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("onchain gateway: GetLatestBlockhash: %w", err)
	}

	refundTx, err := types.NewTransaction(types.NewTransactionParam{
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        g.treasury.PublicKey,
			RecentBlockhash: latest.Blockhash,
			Instructions:    ins,
		}),
		Signers: []types.Account{*g.treasury},
	})
	if err != nil {
		return "", fmt.Errorf("onchain gateway: NewTransaction: %w", err)
	}

	sig, err := g.rpc.SendTransaction(ctx, refundTx)
	if err != nil {
		return "", fmt.Errorf("onchain gateway: SendTransaction: %w", err)
	}
	return sig, nil
}

// 決済txのトークン残高からSPLかネイティブかを判別して返金命令を組む
func (g *OnChainGateway) buildRefundInstructions(settled *client.Transaction, payer common.PublicKey, amount int64) ([]types.Instruction, error) {
	payee := g.payee.ToBase58()

	var mintAddr string
	if settled.Meta != nil {
		for _, b := range settled.Meta.PostTokenBalances {
			if b.Owner == payee {
				mintAddr = b.Mint
				break
			}
		}
	}

	if mintAddr == "" {
		//ネイティブSOL
		return []types.Instruction{
			system.Transfer(system.TransferParam{
				From:   g.treasury.PublicKey,
				To:     payer,
				Amount: uint64(amount),
			}),
		}, nil
	}

	mint := common.PublicKeyFromString(mintAddr)
	fromATA, _, err := common.FindAssociatedTokenAddress(g.treasury.PublicKey, mint)
	if err != nil {
		return nil, fmt.Errorf("onchain gateway: derive treasury ATA: %w", err)
	}
	toATA, _, err := common.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("onchain gateway: derive payer ATA: %w", err)
	}

	return []types.Instruction{
		token.Transfer(token.TransferParam{
			From:   fromATA,
			To:     toATA,
			Auth:   g.treasury.PublicKey,
			Amount: uint64(amount),
		}),
	}, nil
}

// ビルド時に全レールがProviderAdapterを満たすことを確認する
var (
	_ usecase.ProviderAdapter = (*CardGateway)(nil)
	_ usecase.ProviderAdapter = (*MobileMoneyGateway)(nil)
	_ usecase.ProviderAdapter = (*OnChainGateway)(nil)
)
