package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtectedEcho(secret string) *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(secret, SkipUnlessAPI))
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/chat", func(c echo.Context) error {
		userID, ok := TokenUser(c)
		if !ok {
			return c.NoContent(http.StatusForbidden)
		}
		return c.String(http.StatusOK, userID)
	})
	return e
}

func TestJWTMiddlewareGuardsAPIOnly(t *testing.T) {
	t.Parallel()

	secret := "test-secret"
	e := newProtectedEcho(secret)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnauthorized}, rec.Code)

	token, _, err := GenerateToken("tester", secret, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tester", rec.Body.String())
}

func TestJWTMiddlewareRejectsForeignSecret(t *testing.T) {
	t.Parallel()

	e := newProtectedEcho("right")
	token, _, err := GenerateToken("tester", "wrong", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat?token="+token, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateTokenClaims(t *testing.T) {
	t.Parallel()

	signed, expiresAt, err := GenerateToken("user-123", "s", time.Hour)
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("s"), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "user-123", claims[claimSubject])
	assert.Equal(t, "user-123", claims[claimUserID])
	assert.Equal(t, expiresAt.Unix(), int64(claims["exp"].(float64)))
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Parallel()

	_, _, err := GenerateToken("", "s", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("u", " ", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("u", "s", 0)
	assert.Error(t, err)
}

func TestTokenUserWithoutToken(t *testing.T) {
	t.Parallel()

	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, ok := TokenUser(c)
	assert.False(t, ok)
}

func TestTokenUserFallsBackToSubject(t *testing.T) {
	t.Parallel()

	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set(tokenContextKey, &jwt.Token{Valid: true, Claims: jwt.MapClaims{claimSubject: "sub-user"}})
	userID, ok := TokenUser(c)
	assert.True(t, ok)
	assert.Equal(t, "sub-user", userID)

	c.Set(tokenContextKey, &jwt.Token{Valid: false, Claims: jwt.MapClaims{claimSubject: "sub-user"}})
	_, ok = TokenUser(c)
	assert.False(t, ok)
}
