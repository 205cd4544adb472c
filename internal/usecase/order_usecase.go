package usecase

import (
	"context"
	"net/http"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// OrderUsecase は確定済み注文の参照のみ。
// 注文の作成はFinalizeUsecaseが全通貨グループの決着を見て行う。
type OrderUsecase struct {
	tx repo.TransactionManager
}

func NewOrderUsecase(tx repo.TransactionManager) *OrderUsecase {
	return &OrderUsecase{tx: tx}
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
	Quantity  int64  `json:"quantity"`
	IsNFT     bool   `json:"is_nft"`
}

type OrderPaymentOutput struct {
	PaymentAttemptID int64  `json:"payment_attempt_id"`
	Currency         string `json:"currency"`
	Amount           int64  `json:"amount"`
}

type OrderOutput struct {
	ID           int64                `json:"id"`
	UserID       int64                `json:"user_id"`
	CartID       int64                `json:"cart_id"`
	Status       string               `json:"status"`
	ManualReview bool                 `json:"manual_review"`
	Totals       map[string]int64     `json:"totals"`
	CreatedAt    time.Time            `json:"created_at"`
	Items        []OrderItemOutput    `json:"items"`
	Payments     []OrderPaymentOutput `json:"payments"`
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	//ページングはまずは固定で取る
	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			payments, err := r.OrderPayments().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items, payments))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		payments, err := r.OrderPayments().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(o, items, payments)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem, payments []model.OrderPayment) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	totals := make(map[string]int64)
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Currency:  it.Currency,
			Quantity:  it.Quantity,
			IsNFT:     it.IsNFT,
		})
		totals[it.Currency] += it.UnitPriceSnapshot * it.Quantity
	}

	outPayments := make([]OrderPaymentOutput, 0, len(payments))
	for _, p := range payments {
		outPayments = append(outPayments, OrderPaymentOutput{
			PaymentAttemptID: p.PaymentAttemptID,
			Currency:         p.Currency,
			Amount:           p.Amount,
		})
	}

	return OrderOutput{
		ID:           o.ID,
		UserID:       o.UserID,
		CartID:       o.CartID,
		Status:       string(o.Status),
		ManualReview: o.ManualReview,
		Totals:       totals,
		CreatedAt:    o.CreatedAt,
		Items:        outItems,
		Payments:     outPayments,
	}
}
