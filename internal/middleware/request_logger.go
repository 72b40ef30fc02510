package middleware

import (
	"time"

	"ordercore/internal/pkg/logging"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const ctxLoggerKey = "logger"

// RequestLogger はリクエストごとのloggerをcontextに載せ、終了時に1行残す
func RequestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)

			l := base.With(
				zap.String("request_id", rid),
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
			)
			c.Set(ctxLoggerKey, l)
			c.SetRequest(req.WithContext(logging.ContextWithLogger(req.Context(), l)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			// 認証後のloggerを使う
			if cl, ok := c.Get(ctxLoggerKey).(*zap.Logger); ok {
				l = cl
			}
			status := c.Response().Status
			fields := []zap.Field{
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Error("request", fields...)
			case status >= 400:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
			return nil
		}
	}
}
