package server

import (
	"ordercore/internal/config"
	"ordercore/internal/handler"
	"ordercore/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Order      *handler.OrderHandler
	AdminOrder *handler.AdminOrderHandler
	Wallet     *handler.WalletHandler
	Webhook    *handler.WebhookHandler
	Shipping   *handler.ShippingHandler
	System     *handler.SystemHandler
}

// New はミドルウェアと全ルートを登録したechoを返す
func New(cfg config.Config, logger *zap.Logger, gatherer prometheus.Gatherer, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))

	h.Order.RegisterRoutes(e, cfg)
	h.AdminOrder.RegisterRoutes(e, cfg)
	h.Wallet.RegisterRoutes(e, cfg)
	h.Webhook.RegisterRoutes(e)
	h.Shipping.RegisterRoutes(e)
	h.System.RegisterRoutes(e, cfg)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return e
}
