package handler

import (
	"net/http"
	"strconv"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /checkoutのHTTP。intent作成・確認・状況照会。
type CheckoutHandler struct {
	intents   *usecase.IntentUsecase
	reconcile *usecase.ReconcileUsecase
	finalizer *usecase.FinalizeUsecase
}

func NewCheckoutHandler(
	intents *usecase.IntentUsecase,
	reconcile *usecase.ReconcileUsecase,
	finalizer *usecase.FinalizeUsecase,
) *CheckoutHandler {
	return &CheckoutHandler{
		intents:   intents,
		reconcile: reconcile,
		finalizer: finalizer,
	}
}

type CreateIntentRequest struct {
	CartID         int64  `json:"cart_id"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ConfirmRequest struct {
	AttemptID int64  `json:"attempt_id"`
	TxHash    string `json:"tx_hash,omitempty"`
}

func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/checkout")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("/intents", h.createIntent)
	g.POST("/confirm", h.confirm)
	g.POST("/attempts/:id/refresh", h.refresh)
	g.GET("/status/:cartId", h.status)
}

func (h *CheckoutHandler) createIntent(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CreateIntentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.intents.CreateOrReuseIntent(c.Request().Context(), userID, usecase.CreateIntentInput{
		CartID:         req.CartID,
		Currency:       req.Currency,
		Provider:       model.PaymentProvider(req.Provider),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

// クライアントの「支払いました」。申告はヒントで、正はプロバイダ確認。
func (h *CheckoutHandler) confirm(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.reconcile.ConfirmByClient(c.Request().Context(), userID, req.AttemptID, req.TxHash)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

// 明示的な再ポーリング
func (h *CheckoutHandler) refresh(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	attemptID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.reconcile.Refresh(c.Request().Context(), userID, attemptID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CheckoutHandler) status(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	cartID, err := strconv.ParseInt(c.Param("cartId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid cart_id"})
	}

	out, err := h.finalizer.Status(c.Request().Context(), userID, cartID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}
