package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ordercore/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newEcho() *echo.Echo {
	e := echo.New()
	cfg := config.Config{JWTSecret: testSecret}
	e.Use(RequestLogger(zap.NewNop()))
	e.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"user_id": c.Get(CtxUserIDKey), "role": c.Get(CtxUserRoleKey)})
	}, AuthJWT(cfg))
	e.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, AuthJWT(cfg), AdminRoleGuard())
	return e
}

func do(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT(t *testing.T) {
	e := newEcho()
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(e, "/me", "").Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := do(e, "/me", signToken(t, jwt.MapClaims{"sub": "42", "role": "USER", "exp": exp}))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"user_id":42,"role":"USER"}`, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("expired token", func(t *testing.T) {
		rec := do(e, "/me", signToken(t, jwt.MapClaims{"sub": "42", "role": "USER", "exp": time.Now().Add(-time.Minute).Unix()}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42", "role": "USER", "exp": exp}).SignedString([]byte("other"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(e, "/me", s).Code)
	})

	t.Run("missing role", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(e, "/me", signToken(t, jwt.MapClaims{"sub": "42", "exp": exp})).Code)
	})
}

func TestAdminRoleGuard(t *testing.T) {
	e := newEcho()
	exp := time.Now().Add(time.Hour).Unix()

	assert.Equal(t, http.StatusForbidden, do(e, "/admin", signToken(t, jwt.MapClaims{"sub": 1, "role": "USER", "exp": exp})).Code)
	assert.Equal(t, http.StatusNoContent, do(e, "/admin", signToken(t, jwt.MapClaims{"sub": 1, "role": "ADMIN", "exp": exp})).Code)
}

func TestRequireRole_MultipleRoles(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: testSecret}
	e.GET("/ops", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, AuthJWT(cfg), RequireRole(RoleAdmin, "OPERATOR"))
	exp := time.Now().Add(time.Hour).Unix()

	assert.Equal(t, http.StatusNoContent, do(e, "/ops", signToken(t, jwt.MapClaims{"sub": 1, "role": "OPERATOR", "exp": exp})).Code)
	assert.Equal(t, http.StatusForbidden, do(e, "/ops", signToken(t, jwt.MapClaims{"sub": 1, "role": RoleUser, "exp": exp})).Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "/ops", "").Code)
}

func TestAuthJWT_RejectsOtherAlgorithms(t *testing.T) {
	e := newEcho()
	exp := time.Now().Add(time.Hour).Unix()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": 1, "role": "ADMIN", "exp": exp}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, "/me", s).Code)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": 1, "role": "ADMIN", "exp": exp}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, "/me", none).Code)
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Bearer   ":  false,
		"Basic abc":  false,
		"abc":        false,
		"":           false,
	}
	for header, ok := range cases {
		_, err := bearerToken(header)
		assert.Equal(t, ok, err == nil, header)
	}
}

func TestSubject(t *testing.T) {
	id, err := subject(json.Number("42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = subject("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	for _, v := range []interface{}{json.Number("0"), "-3", "x", 1.5, nil} {
		_, err := subject(v)
		assert.Error(t, err, "%v", v)
	}
}
