package bridge

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndVerify(t *testing.T) {
	p := NewPasswordService()

	hash, err := p.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	valid, err := p.VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = p.VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyPasswordRejectsGarbageHash(t *testing.T) {
	p := NewPasswordService()
	_, err := p.VerifyPassword("anything", "not-a-hash")
	require.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTService("0123456789abcdef0123456789abcdef", "cabana-bridge", 1)

	token, err := j.GenerateToken("operator")
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, "cabana-bridge", claims.Issuer)
}

func TestJWTRejectsWrongKey(t *testing.T) {
	j := NewJWTService("0123456789abcdef0123456789abcdef", "cabana-bridge", 1)
	other := NewJWTService("ffffffffffffffffffffffffffffffff", "cabana-bridge", 1)

	token, err := j.GenerateToken("operator")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestRequireAuthMiddleware(t *testing.T) {
	j := NewJWTService("0123456789abcdef0123456789abcdef", "cabana-bridge", 1)
	mw := NewAuthMiddleware(j, true)

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("MissingHeader", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("BadToken", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer nonsense")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		token, err := j.GenerateToken("operator")
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("AuthDisabledPassesThrough", func(t *testing.T) {
		open := NewAuthMiddleware(j, false).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
