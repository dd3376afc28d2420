package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_Verify(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	userID := uuid.New()

	t.Run("valid token", func(t *testing.T) {
		got, err := verifier.Verify(signToken(t, userID.String()))
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := verifier.Verify("not-a-token")
		assert.Error(t, err)
	})

	t.Run("non-uuid subject", func(t *testing.T) {
		_, err := verifier.Verify(signToken(t, "alice"))
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTVerifier([]byte("other-secret"))
		_, err := other.Verify(signToken(t, userID.String()))
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	userID := uuid.New()

	var gotID uuid.UUID
	var gotOK bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(verifier)(next)

	t.Run("passes through valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/imports", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID.String()))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gotOK)
		assert.Equal(t, userID, gotID)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/imports", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/imports", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
