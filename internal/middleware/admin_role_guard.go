package middleware

import (
	"net/http"

	"ordercore/internal/pkg/logging"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// RequireRole はAuthJWTの後ろに置き、contextのroleが許可リストにあるか確認する。
func RequireRole(allowed ...string) echo.MiddlewareFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxUserRoleKey).(string)
			if !ok || role == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}
			if _, ok := set[role]; !ok {
				logging.FromContext(c.Request().Context()).Warn("role not allowed",
					zap.String("role", role),
					zap.String("path", c.Path()))
				return c.JSON(http.StatusForbidden, errorJSON("admin only"))
			}
			return next(c)
		}
	}
}

// 管理者API（注文管理、入金、設定再読み込み）
func AdminRoleGuard() echo.MiddlewareFunc {
	return RequireRole(RoleAdmin)
}
