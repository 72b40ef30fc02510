package handler

import (
	"context"
	"net/http"
	"strconv"

	"ordercore/internal/pkg/logging"
	"ordercore/internal/shipping"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// 住所選択用の地域マスタ（配送業者から取得）
type RegionDirectory interface {
	Provinces(ctx context.Context) ([]shipping.Province, error)
	Districts(ctx context.Context, provinceID int64) ([]shipping.District, error)
	Wards(ctx context.Context, districtID int64) ([]shipping.Ward, error)
}

type ShippingHandler struct {
	dir RegionDirectory
}

func NewShippingHandler(dir RegionDirectory) *ShippingHandler {
	return &ShippingHandler{dir: dir}
}

func (h *ShippingHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/shipping")
	g.GET("/provinces", h.provinces)
	g.GET("/districts", h.districts)
	g.GET("/wards", h.wards)
}

func (h *ShippingHandler) provinces(c echo.Context) error {
	out, err := h.dir.Provinces(c.Request().Context())
	if err != nil {
		return carrierError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ShippingHandler) districts(c echo.Context) error {
	id, err := strconv.ParseInt(c.QueryParam("province_id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid province_id"})
	}
	out, err := h.dir.Districts(c.Request().Context(), id)
	if err != nil {
		return carrierError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ShippingHandler) wards(c echo.Context) error {
	id, err := strconv.ParseInt(c.QueryParam("district_id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid district_id"})
	}
	out, err := h.dir.Wards(c.Request().Context(), id)
	if err != nil {
		return carrierError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func carrierError(c echo.Context, err error) error {
	logging.FromContext(c.Request().Context()).Warn("carrier lookup failed", zap.Error(err))
	return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "shipping carrier error"})
}
