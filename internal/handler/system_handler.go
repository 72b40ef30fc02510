package handler

import (
	"context"
	"errors"
	"net/http"

	"ordercore/internal/config"
	"ordercore/internal/middleware"
	"ordercore/internal/pkg/logging"
	"ordercore/internal/settings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type SettingsRefresher interface {
	Refresh(ctx context.Context) (settings.Snapshot, error)
}

type SettingWriter interface {
	Upsert(ctx context.Context, key string, value string) error
}

// SystemHandler はヘルスチェックと設定の更新・再読み込み
type SystemHandler struct {
	settings SettingsRefresher
	store    SettingWriter
	ping     func(ctx context.Context) error
}

func NewSystemHandler(s SettingsRefresher, store SettingWriter, ping func(ctx context.Context) error) *SystemHandler {
	return &SystemHandler{settings: s, store: store, ping: ping}
}

type PutSettingRequest struct {
	Value string `json:"value"`
}

type SettingsStatusResponse struct {
	ZaloPay bool `json:"zalopay"`
	PayPal  bool `json:"paypal"`
	SePay   bool `json:"sepay"`
	GHN     bool `json:"ghn"`
}

func (h *SystemHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	e.GET("/healthz", h.health)

	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())
	admin.POST("/settings/refresh", h.refreshSettings)
	admin.PUT("/settings/:key", h.putSetting)
}

func (h *SystemHandler) health(c echo.Context) error {
	if h.ping != nil {
		if err := h.ping(c.Request().Context()); err != nil {
			logging.FromContext(c.Request().Context()).Error("health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "db unavailable"})
		}
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "ok"})
}

// 値そのものは返さない（どのゲートウェイが使えるかだけ）
func (h *SystemHandler) refreshSettings(c echo.Context) error {
	return h.reload(c)
}

// 保存したら即座に読み直す
func (h *SystemHandler) putSetting(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	var req PutSettingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := settings.ValidateValue(key, req.Value); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown setting key"})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if err := h.store.Upsert(ctx, key, req.Value); err != nil {
		logging.FromContext(ctx).Error("setting upsert failed", zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	logging.FromContext(ctx).Info("setting updated", zap.String("key", key))
	return h.reload(c)
}

func (h *SystemHandler) reload(c echo.Context) error {
	snap, err := h.settings.Refresh(c.Request().Context())
	if err != nil {
		logging.FromContext(c.Request().Context()).Error("settings refresh failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "settings refresh failed"})
	}
	return c.JSON(http.StatusOK, SettingsStatusResponse{
		ZaloPay: snap.ZaloPay.Configured(),
		PayPal:  snap.PayPal.Configured(),
		SePay:   snap.SePay.Configured(),
		GHN:     snap.GHN.Configured(),
	})
}
