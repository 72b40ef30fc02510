package handler

import (
	"context"
	"io"
	"net/http"

	"ordercore/internal/domain/model"
	"ordercore/internal/pkg/logging"
	"ordercore/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// webhook本文の上限
const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider model.PaymentMethodCode, body []byte, header http.Header) (usecase.WebhookResult, error)
}

// WebhookHandler はゲートウェイからの通知を受ける（認証なし、署名で検証）。
// ゲートウェイにはいつも200を返す。
type WebhookHandler struct {
	p WebhookProcessor
}

func NewWebhookHandler(p WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{p: p}
}

type zaloPayAck struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

type sePayAck struct {
	Success bool `json:"success"`
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/webhooks")
	g.POST("/zalopay", h.zaloPay)
	g.POST("/paypal", h.payPal)
	g.POST("/sepay", h.sePay)
}

func (h *WebhookHandler) process(c echo.Context, provider model.PaymentMethodCode) (usecase.WebhookResult, error) {
	ctx := c.Request().Context()
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		logging.FromContext(ctx).Warn("read webhook body failed", zap.String("provider", string(provider)), zap.Error(err))
		return usecase.WebhookResult{}, nil
	}
	return h.p.HandleWebhook(ctx, provider, body, c.Request().Header)
}

func (h *WebhookHandler) zaloPay(c echo.Context) error {
	res, err := h.process(c, model.PaymentMethodZaloPay)
	switch {
	case err != nil:
		// 0ならZaloPayが再送する
		return c.JSON(http.StatusOK, zaloPayAck{ReturnCode: 0, ReturnMessage: "retry"})
	case res.Accepted:
		return c.JSON(http.StatusOK, zaloPayAck{ReturnCode: 1, ReturnMessage: "success"})
	default:
		return c.JSON(http.StatusOK, zaloPayAck{ReturnCode: 2, ReturnMessage: "ignored"})
	}
}

func (h *WebhookHandler) payPal(c echo.Context) error {
	res, err := h.process(c, model.PaymentMethodPayPal)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"received": true, "accepted": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"received": true, "accepted": res.Accepted})
}

func (h *WebhookHandler) sePay(c echo.Context) error {
	_, err := h.process(c, model.PaymentMethodSePay)
	return c.JSON(http.StatusOK, sePayAck{Success: err == nil})
}
