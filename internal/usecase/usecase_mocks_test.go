package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/stretchr/testify/mock"
)

// =====================
// 共通アサーション
// =====================

func assertErrContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("expected error containing %q, got %q", want, err.Error())
	}
}

func assertHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := AsHTTPError(err)
	if !ok {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, he.Status, he.Message)
	}
}

// =====================
// Repository mocks
// =====================

type CartRepoMock struct{ mock.Mock }

func (m *CartRepoMock) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	args := m.Called(ctx, userID)
	c, _ := args.Get(0).(model.Cart)
	return c, args.Error(1)
}

func (m *CartRepoMock) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	args := m.Called(ctx, userID)
	c, _ := args.Get(0).(model.Cart)
	return c, args.Error(1)
}

func (m *CartRepoMock) FindByID(ctx context.Context, cartID int64) (model.Cart, error) {
	args := m.Called(ctx, cartID)
	c, _ := args.Get(0).(model.Cart)
	return c, args.Error(1)
}

func (m *CartRepoMock) UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	args := m.Called(ctx, cartID, status)
	return args.Error(0)
}

func (m *CartRepoMock) Clear(ctx context.Context, cartID int64) error {
	args := m.Called(ctx, cartID)
	return args.Error(0)
}

type CartItemRepoMock struct{ mock.Mock }

func (m *CartItemRepoMock) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	args := m.Called(ctx, cartID)
	items, _ := args.Get(0).([]model.CartItem)
	return items, args.Error(1)
}

func (m *CartItemRepoMock) UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64, snap repo.CartItemSnapshot) error {
	args := m.Called(ctx, cartID, productID, addQty, snap)
	return args.Error(0)
}

func (m *CartItemRepoMock) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	args := m.Called(ctx, cartItemID, qty)
	return args.Error(0)
}

func (m *CartItemRepoMock) DeleteByID(ctx context.Context, cartItemID int64) error {
	args := m.Called(ctx, cartItemID)
	return args.Error(0)
}

func (m *CartItemRepoMock) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	args := m.Called(ctx, cartItemID)
	it, _ := args.Get(0).(model.CartItem)
	return it, args.Error(1)
}

func (m *CartItemRepoMock) IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	args := m.Called(ctx, cartItemID, userID)
	return args.Bool(0), args.Error(1)
}

type ProductRepoMock struct{ mock.Mock }

func (m *ProductRepoMock) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	args := m.Called(ctx, q)
	items, _ := args.Get(0).([]model.Product)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *ProductRepoMock) FindByID(ctx context.Context, id int64) (model.Product, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(model.Product)
	return p, args.Error(1)
}

type AttemptRepoMock struct{ mock.Mock }

func (m *AttemptRepoMock) Create(ctx context.Context, a model.PaymentAttempt) (int64, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(int64), args.Error(1)
}

func (m *AttemptRepoMock) FindByID(ctx context.Context, id int64) (model.PaymentAttempt, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(model.PaymentAttempt)
	return a, args.Error(1)
}

func (m *AttemptRepoMock) FindByIdempotencyKey(ctx context.Context, key string) (model.PaymentAttempt, bool, error) {
	args := m.Called(ctx, key)
	a, _ := args.Get(0).(model.PaymentAttempt)
	return a, args.Bool(1), args.Error(2)
}

func (m *AttemptRepoMock) FindByExternalRef(ctx context.Context, provider model.PaymentProvider, ref string) (model.PaymentAttempt, bool, error) {
	args := m.Called(ctx, provider, ref)
	a, _ := args.Get(0).(model.PaymentAttempt)
	return a, args.Bool(1), args.Error(2)
}

func (m *AttemptRepoMock) ListByCartID(ctx context.Context, cartID int64) ([]model.PaymentAttempt, error) {
	args := m.Called(ctx, cartID)
	list, _ := args.Get(0).([]model.PaymentAttempt)
	return list, args.Error(1)
}

func (m *AttemptRepoMock) FindOpenByCartAndCurrency(ctx context.Context, cartID int64, currency string) (model.PaymentAttempt, bool, error) {
	args := m.Called(ctx, cartID, currency)
	a, _ := args.Get(0).(model.PaymentAttempt)
	return a, args.Bool(1), args.Error(2)
}

func (m *AttemptRepoMock) UpdateStatusIf(ctx context.Context, id int64, from []model.AttemptStatus, to model.AttemptStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *AttemptRepoMock) SetSettledTxHash(ctx context.Context, id int64, txHash string) error {
	args := m.Called(ctx, id, txHash)
	return args.Error(0)
}

func (m *AttemptRepoMock) AddRefundedAmount(ctx context.Context, id int64, amount int64) error {
	args := m.Called(ctx, id, amount)
	return args.Error(0)
}

type OrderRepoMock struct{ mock.Mock }

func (m *OrderRepoMock) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) FindByCartID(ctx context.Context, cartID int64) (model.Order, bool, error) {
	args := m.Called(ctx, cartID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Bool(1), args.Error(2)
}

func (m *OrderRepoMock) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	args := m.Called(ctx, userID, page, limit)
	list, _ := args.Get(0).([]model.Order)
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *OrderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *OrderRepoMock) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *OrderRepoMock) SetManualReview(ctx context.Context, orderID int64, flag bool) error {
	args := m.Called(ctx, orderID, flag)
	return args.Error(0)
}

type OrderItemRepoMock struct{ mock.Mock }

func (m *OrderItemRepoMock) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *OrderItemRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	args := m.Called(ctx, orderID)
	items, _ := args.Get(0).([]model.OrderItem)
	return items, args.Error(1)
}

type OrderPaymentRepoMock struct{ mock.Mock }

func (m *OrderPaymentRepoMock) CreateBulk(ctx context.Context, orderID int64, payments []model.OrderPayment) error {
	args := m.Called(ctx, orderID, payments)
	return args.Error(0)
}

func (m *OrderPaymentRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderPayment, error) {
	args := m.Called(ctx, orderID)
	list, _ := args.Get(0).([]model.OrderPayment)
	return list, args.Error(1)
}

type InventoryRepoMock struct{ mock.Mock }

func (m *InventoryRepoMock) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	args := m.Called(ctx, productID, qty)
	return args.Bool(0), args.Error(1)
}

func (m *InventoryRepoMock) MarkNFTSoldIfAvailable(ctx context.Context, productID int64) (bool, error) {
	args := m.Called(ctx, productID)
	return args.Bool(0), args.Error(1)
}

type RefundRepoMock struct{ mock.Mock }

func (m *RefundRepoMock) Create(ctx context.Context, r model.Refund) (int64, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RefundRepoMock) FindByID(ctx context.Context, id int64) (model.Refund, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(model.Refund)
	return r, args.Error(1)
}

func (m *RefundRepoMock) ListPending(ctx context.Context, limit int) ([]model.Refund, error) {
	args := m.Called(ctx, limit)
	list, _ := args.Get(0).([]model.Refund)
	return list, args.Error(1)
}

func (m *RefundRepoMock) ClaimPending(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *RefundRepoMock) MarkIssued(ctx context.Context, id int64, externalRef string, attempts int) error {
	args := m.Called(ctx, id, externalRef, attempts)
	return args.Error(0)
}

func (m *RefundRepoMock) MarkFailed(ctx context.Context, id int64, attempts int) error {
	args := m.Called(ctx, id, attempts)
	return args.Error(0)
}

func (m *RefundRepoMock) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type AuditLogRepoMock struct{ mock.Mock }

func (m *AuditLogRepoMock) Create(ctx context.Context, l model.AuditLog) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

type UserRepoMock struct{ mock.Mock }

func (m *UserRepoMock) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *UserRepoMock) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *UserRepoMock) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *UserRepoMock) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

// =====================
// TxManagerスタブ（モックの束をそのままTxとして渡す）
// =====================

type txReposStub struct {
	orders        repo.OrderRepository
	orderItems    repo.OrderItemRepository
	orderPayments repo.OrderPaymentRepository
	carts         repo.CartRepository
	cartItems     repo.CartItemRepository
	inventory     repo.InventoryRepository
	products      repo.ProductRepository
	attempts      repo.PaymentAttemptRepository
	refunds       repo.RefundRepository
	auditLogs     repo.AuditLogRepository
}

func (s *txReposStub) Orders() repo.OrderRepository               { return s.orders }
func (s *txReposStub) OrderItems() repo.OrderItemRepository       { return s.orderItems }
func (s *txReposStub) OrderPayments() repo.OrderPaymentRepository { return s.orderPayments }
func (s *txReposStub) Carts() repo.CartRepository                 { return s.carts }
func (s *txReposStub) CartItems() repo.CartItemRepository         { return s.cartItems }
func (s *txReposStub) Inventory() repo.InventoryRepository        { return s.inventory }
func (s *txReposStub) Products() repo.ProductRepository           { return s.products }
func (s *txReposStub) Attempts() repo.PaymentAttemptRepository    { return s.attempts }
func (s *txReposStub) Refunds() repo.RefundRepository             { return s.refunds }
func (s *txReposStub) AuditLogs() repo.AuditLogRepository         { return s.auditLogs }

type txManagerStub struct{ repos *txReposStub }

func (s *txManagerStub) WithinTx(_ context.Context, fn func(r repo.TxRepos) error) error {
	return fn(s.repos)
}

// =====================
// ProviderAdapterモック
// =====================

type AdapterMock struct{ mock.Mock }

func (m *AdapterMock) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(InitiateResult)
	return res, args.Error(1)
}

func (m *AdapterMock) Confirm(ctx context.Context, attemptRef string, hint ConfirmHint) (ConfirmResult, error) {
	args := m.Called(ctx, attemptRef, hint)
	res, _ := args.Get(0).(ConfirmResult)
	return res, args.Error(1)
}

func (m *AdapterMock) AcceptCallback(ctx context.Context, raw []byte, signature string) (CallbackEvent, error) {
	args := m.Called(ctx, raw, signature)
	ev, _ := args.Get(0).(CallbackEvent)
	return ev, args.Error(1)
}

func (m *AdapterMock) Refund(ctx context.Context, attemptRef string, amount int64) (string, error) {
	args := m.Called(ctx, attemptRef, amount)
	return args.String(0), args.Error(1)
}
