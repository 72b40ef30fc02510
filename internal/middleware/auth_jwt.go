package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ordercore/internal/config"
	"ordercore/internal/pkg/logging"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	CtxUserIDKey   = "user_id"   // int64
	CtxUserRoleKey = "user_role" // string
)

// Identity はアクセストークンから取り出した利用者
type Identity struct {
	UserID int64
	Role   string
}

var errNoBearer = errors.New("missing bearer token")

// AuthJWT はBearerトークンを検証し、利用者IDとロールをcontextに載せる。
// トークンは認証サービスが発行する（sub, role, exp）。HS256以外は拒否。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithJSONNumber(),
	)
	key := []byte(cfg.JWTSecret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := authenticate(parser, key, c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				logging.FromContext(c.Request().Context()).Debug("authentication failed", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			c.Set(CtxUserIDKey, id.UserID)
			c.Set(CtxUserRoleKey, id.Role)

			//ログにもユーザーを載せる
			if l, ok := c.Get(ctxLoggerKey).(*zap.Logger); ok {
				withUser := l.With(zap.Int64("user_id", id.UserID))
				c.Set(ctxLoggerKey, withUser)
				c.SetRequest(c.Request().WithContext(logging.ContextWithLogger(c.Request().Context(), withUser)))
			}
			return next(c)
		}
	}
}

func authenticate(p *jwt.Parser, key []byte, header string) (Identity, error) {
	raw, err := bearerToken(header)
	if err != nil {
		return Identity{}, err
	}

	claims := jwt.MapClaims{}
	if _, err := p.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		return Identity{}, err
	}

	userID, err := subject(claims["sub"])
	if err != nil {
		return Identity{}, err
	}
	role, _ := claims["role"].(string)
	if role == "" {
		return Identity{}, errors.New("missing role claim")
	}
	return Identity{UserID: userID, Role: role}, nil
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNoBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}

// subは数値でも文字列でも受ける
func subject(v interface{}) (int64, error) {
	var (
		id  int64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		id, err = t.Int64()
	case string:
		id, err = strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("invalid sub claim %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid sub claim: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid sub claim %d", id)
	}
	return id, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
