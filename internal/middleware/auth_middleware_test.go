package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/legacy-access-service/internal/utils"
)

func init() {
	utils.InitLogger("legacy-access-service-test")
}

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"iss": TokenIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

// echoUserID writes the context user ID back so tests can assert on it.
func echoUserID(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ContextKeyUserID).(string)
	w.Write([]byte(userID))
}

func TestAuthMiddlewareBearerToken(t *testing.T) {
	key := newTestKey(t)
	handler := AuthMiddleware(&key.PublicKey)(http.HandlerFunc(echoUserID))

	signed := signToken(t, key, validClaims("owner-123"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/legacy-access/mine", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "owner-123", w.Body.String())
}

func TestAuthMiddlewareCookie(t *testing.T) {
	key := newTestKey(t)
	handler := AuthMiddleware(&key.PublicKey)(http.HandlerFunc(echoUserID))

	signed := signToken(t, key, validClaims("owner-456"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/legacy-access/mine", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookieName, Value: signed})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "owner-456", w.Body.String())
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	key := newTestKey(t)
	handler := AuthMiddleware(&key.PublicKey)(http.HandlerFunc(echoUserID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/legacy-access/mine", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	key := newTestKey(t)
	handler := AuthMiddleware(&key.PublicKey)(http.HandlerFunc(echoUserID))

	claims := validClaims("owner-789")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	signed := signToken(t, key, claims)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/legacy-access/mine", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareWrongKey(t *testing.T) {
	key := newTestKey(t)
	otherKey := newTestKey(t)
	handler := AuthMiddleware(&key.PublicKey)(http.HandlerFunc(echoUserID))

	signed := signToken(t, otherKey, validClaims("owner-123"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/legacy-access/mine", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidateTokenIssuer(t *testing.T) {
	key := newTestKey(t)

	claims := validClaims("owner-1")
	claims["iss"] = "SomeoneElse"
	signed := signToken(t, key, claims)

	_, err := ValidateToken(signed, &key.PublicKey)
	require.Error(t, err)
}

func TestValidateTokenRejectsHMAC(t *testing.T) {
	key := newTestKey(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("owner-1"))
	signed, err := tok.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = ValidateToken(signed, &key.PublicKey)
	require.Error(t, err)
}
