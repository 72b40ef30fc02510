package handler

import (
	"net/http"

	"ordercore/internal/config"
	"ordercore/internal/middleware"
	"ordercore/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type WalletHandler struct {
	ledger *usecase.WalletLedger
}

func NewWalletHandler(ledger *usecase.WalletLedger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

type WalletAmountRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

func (h *WalletHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/wallet")
	g.Use(middleware.AuthJWT(cfg))
	g.GET("", h.get)
	g.GET("/transactions", h.entries)
	g.POST("/withdraw", h.withdraw)

	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())
	admin.POST("/wallets/:userId/deposit", h.adminDeposit)
}

func (h *WalletHandler) get(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.ledger.GetWallet(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *WalletHandler) entries(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	page, limit, err := parsePaging(c, 20)
	if err != nil {
		return writeError(c, err)
	}

	out, err := h.ledger.ListEntries(c.Request().Context(), userID, page, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *WalletHandler) withdraw(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req WalletAmountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	ref := "withdraw:" + uuid.NewString()
	out, err := h.ledger.Withdraw(c.Request().Context(), userID, req.Amount, ref, req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *WalletHandler) adminDeposit(c echo.Context) error {
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user_id"})
	}

	var req WalletAmountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.ledger.AdminDeposit(c.Request().Context(), adminID, userID, req.Amount, req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
