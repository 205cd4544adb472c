package handler

import (
	"io"
	"net/http"

	"app/internal/domain/model"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /webhooksのHTTP。プロバイダからの非同期通知を受ける（認証はHMAC署名のみ）。
type WebhookHandler struct {
	reconcile *usecase.ReconcileUsecase
}

func NewWebhookHandler(reconcile *usecase.ReconcileUsecase) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/webhooks")
	g.POST("/card", h.handle(model.ProviderCard))
	g.POST("/momo", h.handle(model.ProviderMobileMoney))
	g.POST("/onchain", h.handle(model.ProviderOnChain))
}

func (h *WebhookHandler) handle(provider model.PaymentProvider) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
		}
		signature := c.Request().Header.Get("X-Signature")

		out, err := h.reconcile.HandleCallback(c.Request().Context(), provider, raw, signature)
		if err != nil {
			return writeError(c, err)
		}

		return c.JSON(http.StatusOK, out)
	}
}
