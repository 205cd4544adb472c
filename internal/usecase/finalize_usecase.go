package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

const (
	CheckoutStatusPartial = "partial"
	CheckoutStatusSettled = "settled"

	// 全明細が在庫競合で注文を作れず、全グループを返金したとき
	CheckoutStatusRefunded = "refunded"
)

// FinalizeUsecase は「全グループ決済済みか」を判定し、
// 済みなら在庫を確定してOrderを作る。在庫競合は部分返金で補償する。
// カート単位の排他で、webhookとrefreshの同時着火でも注文は1つしかできない。
type FinalizeUsecase struct {
	tx      repo.TransactionManager
	locks   *cartLocks
	refunds *RefundService
}

func NewFinalizeUsecase(tx repo.TransactionManager, refunds *RefundService) *FinalizeUsecase {
	return &FinalizeUsecase{
		tx:      tx,
		locks:   newCartLocks(),
		refunds: refunds,
	}
}

type FinalizeOutput struct {
	Status      string   `json:"status"`
	Outstanding []string `json:"outstanding_currencies,omitempty"`
	OrderID     int64    `json:"order_id,omitempty"`
}

// グループごとの決済状況（statusエンドポイント用）
type GroupStatus struct {
	Currency string `json:"currency"`
	Provider string `json:"provider,omitempty"`
	Status   string `json:"status"`
}

type CheckoutStatusOutput struct {
	Groups        []GroupStatus `json:"groups"`
	OverallStatus string        `json:"overall_status"`
	OrderID       int64         `json:"order_id,omitempty"`
	ManualReview  bool          `json:"manual_review,omitempty"`
}

// Finalize はPaymentAttemptがSUCCEEDEDになるたびに呼ばれる。
// グループを毎回計算し直し（キャッシュしない）、未払いが残れば"partial"を返す。
func (u *FinalizeUsecase) Finalize(ctx context.Context, cartID int64) (FinalizeOutput, error) {
	if cartID <= 0 {
		return FinalizeOutput{}, NewHTTPError(http.StatusBadRequest, "invalid cart_id")
	}

	//カート単位の排他区間
	unlock := u.locks.lock(cartID)
	defer unlock()

	var out FinalizeOutput
	var refundIDs []int64

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 注文が既にあれば何もしない（1カート1注文）
		existing, found, err := r.Orders().FindByCartID(ctx, cartID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			out = FinalizeOutput{Status: CheckoutStatusSettled, OrderID: existing.ID}
			return nil
		}

		cart, err := r.Carts().FindByID(ctx, cartID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		items, err := r.CartItems().ListByCartID(ctx, cartID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		groups, err := BuildCurrencyGroups(items)
		if errors.Is(err, ErrEmptyCart) {
			return NewHTTPError(http.StatusBadRequest, "cart empty")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "internal error")
		}

		attempts, err := r.Attempts().ListByCartID(ctx, cartID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// グループごとに最新の終端試行を見る
		settledBy, outstanding := settledAttempts(groups, attempts)
		if len(outstanding) > 0 {
			out = FinalizeOutput{Status: CheckoutStatusPartial, Outstanding: outstanding}
			return nil
		}

		// 全グループ決済済み。ここで初めて在庫を減らす（intent作成時ではない）。
		now := time.Now()
		orderItems := make([]model.OrderItem, 0, len(items))
		type conflict struct {
			item    model.CartItem
			attempt model.PaymentAttempt
		}
		var conflicts []conflict

		for _, it := range items {
			attempt := settledBy[it.CurrencySnapshot]

			var ok bool
			if it.IsNFTSnapshot {
				ok, err = r.Inventory().MarkNFTSoldIfAvailable(ctx, it.ProductID)
			} else {
				ok, err = r.Inventory().DecreaseStockIfEnough(ctx, it.ProductID, it.Quantity)
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !ok {
				//同時並行で売り切れた。注文全体は失敗させず、この明細分だけ返金する。
				conflicts = append(conflicts, conflict{item: it, attempt: attempt})
				continue
			}

			p, err := r.Products().FindByID(ctx, it.ProductID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}

			orderItems = append(orderItems, model.OrderItem{
				ProductID:           it.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   it.UnitPriceSnapshot,
				Currency:            it.CurrencySnapshot,
				Quantity:            it.Quantity,
				IsNFT:               it.IsNFTSnapshot,
				CreatedAt:           now,
			})
		}

		// 全明細が売り切れていた。空の注文は作らず、全グループを返金して閉じる。
		if len(orderItems) == 0 {
			for _, g := range groups {
				a := settledBy[g.Currency]
				refundID, err := r.Refunds().Create(ctx, model.Refund{
					PaymentAttemptID: a.ID,
					Amount:           a.Amount,
					Currency:         a.Currency,
					Reason:           "all items sold out during finalization",
					Status:           model.RefundStatusPending,
					CreatedAt:        now,
					UpdatedAt:        now,
				})
				if err != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				refundIDs = append(refundIDs, refundID)
			}
			if err := r.Carts().UpdateStatus(ctx, cartID, model.CartStatusAbandoned); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if err := r.Carts().Clear(ctx, cartID); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out = FinalizeOutput{Status: CheckoutStatusRefunded}
			return nil
		}

		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID:       cart.UserID,
			CartID:       cartID,
			Status:       model.OrderStatusSettled,
			ManualReview: false,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			// cart_idのunique制約に負けた＝並行Finalizeが先に作った
			ex2, found2, err2 := r.Orders().FindByCartID(ctx, cartID)
			if err2 == nil && found2 {
				out = FinalizeOutput{Status: CheckoutStatusSettled, OrderID: ex2.ID}
				return nil
			}
			return NewHTTPError(http.StatusConflict, "finalize conflict")
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		payments := make([]model.OrderPayment, 0, len(settledBy))
		for _, g := range groups {
			a := settledBy[g.Currency]
			payments = append(payments, model.OrderPayment{
				PaymentAttemptID: a.ID,
				Currency:         a.Currency,
				Amount:           a.Amount,
				CreatedAt:        now,
			})
		}
		if err := r.OrderPayments().CreateBulk(ctx, orderID, payments); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// 売り切れ分の補償返金を積む（発行はコミット後に非同期で）
		for _, c := range conflicts {
			oid := orderID
			refundID, err := r.Refunds().Create(ctx, model.Refund{
				PaymentAttemptID: c.attempt.ID,
				OrderID:          &oid,
				Amount:           c.item.UnitPriceSnapshot * c.item.Quantity,
				Currency:         c.item.CurrencySnapshot,
				Reason:           "item sold out during finalization",
				Status:           model.RefundStatusPending,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			refundIDs = append(refundIDs, refundID)
		}

		//カートを閉じて明細をクリア
		if err := r.Carts().UpdateStatus(ctx, cartID, model.CartStatusCheckedOut); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := r.Carts().Clear(ctx, cartID); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = FinalizeOutput{Status: CheckoutStatusSettled, OrderID: orderID}
		return nil
	})
	if err != nil {
		return FinalizeOutput{}, err
	}

	//返金発行はリクエストを塞がない（リトライ・バックオフはRefundService側）
	if len(refundIDs) > 0 {
		u.refunds.IssueAsync(refundIDs)
	}

	return out, nil
}

// Status は UIの「このグループは支払い済み、残りはこれ」表示のための集計。
func (u *FinalizeUsecase) Status(ctx context.Context, userID int64, cartID int64) (CheckoutStatusOutput, error) {
	if userID <= 0 {
		return CheckoutStatusOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartID <= 0 {
		return CheckoutStatusOutput{}, NewHTTPError(http.StatusBadRequest, "invalid cart_id")
	}

	var out CheckoutStatusOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().FindByID(ctx, cartID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if cart.UserID != userID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		// 注文済みならsettled＋manual_reviewを返す
		order, found, err := r.Orders().FindByCartID(ctx, cartID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			payments, err := r.OrderPayments().ListByOrderID(ctx, order.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			groups := make([]GroupStatus, 0, len(payments))
			for _, p := range payments {
				groups = append(groups, GroupStatus{
					Currency: p.Currency,
					Status:   string(model.AttemptStatusSucceeded),
				})
			}
			out = CheckoutStatusOutput{
				Groups:        groups,
				OverallStatus: CheckoutStatusSettled,
				OrderID:       order.ID,
				ManualReview:  order.ManualReview,
			}
			return nil
		}

		items, err := r.CartItems().ListByCartID(ctx, cartID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		groups, err := BuildCurrencyGroups(items)
		if errors.Is(err, ErrEmptyCart) {
			return NewHTTPError(http.StatusBadRequest, "cart empty")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "internal error")
		}

		attempts, err := r.Attempts().ListByCartID(ctx, cartID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		_, outstanding := settledAttempts(groups, attempts)

		statuses := make([]GroupStatus, 0, len(groups))
		for _, g := range groups {
			gs := GroupStatus{Currency: g.Currency, Status: "UNPAID"}
			if latest, ok := latestAttempt(attempts, g.Currency); ok {
				gs.Provider = string(latest.Provider)
				gs.Status = string(latest.Status)
			}
			statuses = append(statuses, gs)
		}

		overall := CheckoutStatusSettled
		if len(outstanding) > 0 {
			overall = CheckoutStatusPartial
		}
		out = CheckoutStatusOutput{Groups: statuses, OverallStatus: overall}
		return nil
	})
	if err != nil {
		return CheckoutStatusOutput{}, err
	}
	return out, nil
}

// AttemptSettledOrder はその試行がカートの注文の決済に含まれているか。
// 含まれない遅延成功は過払いなので呼び出し側で返金する。
func (u *FinalizeUsecase) AttemptSettledOrder(ctx context.Context, attempt model.PaymentAttempt) (bool, error) {
	var settled bool
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		order, found, err := r.Orders().FindByCartID(ctx, attempt.CartID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		payments, err := r.OrderPayments().ListByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.PaymentAttemptID == attempt.ID {
				settled = true
				return nil
			}
		}
		return nil
	})
	return settled, err
}

// settledAttempts はグループごとの「最新の終端試行がSUCCEEDEDか」を判定し、
// 決済済みmapと未払い通貨リストを返す。
func settledAttempts(groups []CurrencyGroup, attempts []model.PaymentAttempt) (map[string]model.PaymentAttempt, []string) {
	settled := make(map[string]model.PaymentAttempt, len(groups))
	outstanding := make([]string, 0)

	for _, g := range groups {
		var last model.PaymentAttempt
		var found bool
		for _, a := range attempts {
			if a.Currency != g.Currency || !a.Status.IsTerminal() {
				continue
			}
			if !found || a.ID > last.ID {
				last = a
				found = true
			}
		}
		// 返金済みも「成功して決済に使える」状態ではない
		if found && last.Status == model.AttemptStatusSucceeded {
			settled[g.Currency] = last
		} else {
			outstanding = append(outstanding, g.Currency)
		}
	}
	return settled, outstanding
}

// latestAttempt は通貨グループの最新試行（終端・未決着問わず）
func latestAttempt(attempts []model.PaymentAttempt, currency string) (model.PaymentAttempt, bool) {
	var last model.PaymentAttempt
	var found bool
	for _, a := range attempts {
		if a.Currency != currency {
			continue
		}
		if !found || a.ID > last.ID {
			last = a
			found = true
		}
	}
	return last, found
}
