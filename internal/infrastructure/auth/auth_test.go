package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/auth"
	"github.com/honeynil/ReWearExchange/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndParseJWT(t *testing.T) {
	token, err := auth.GenerateJWT(secret, models.Actor{ID: 12, Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	actor, err := auth.ParseJWT(secret, token)
	require.NoError(t, err)
	assert.Equal(t, int64(12), actor.ID)
	assert.True(t, actor.IsAdmin())
}

func TestParseJWT_Rejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.GenerateJWT(secret, models.Actor{ID: 1, Role: models.RoleUser}, time.Hour)
		require.NoError(t, err)
		_, err = auth.ParseJWT("other", token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := auth.GenerateJWT(secret, models.Actor{ID: 1, Role: models.RoleUser}, -time.Minute)
		require.NoError(t, err)
		_, err = auth.ParseJWT(secret, token)
		assert.Error(t, err)
	})

	t.Run("missing user id", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "user"})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		_, err = auth.ParseJWT(secret, signed)
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 3, "role": "root"})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		_, err = auth.ParseJWT(secret, signed)
		assert.Error(t, err)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := auth.GenerateJWT("", models.Actor{ID: 1}, time.Hour)
		assert.Error(t, err)
	})
}

func TestAuthMiddleware(t *testing.T) {
	var got models.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		require.True(t, ok)
		got = actor
		w.WriteHeader(http.StatusNoContent)
	})
	h := auth.AuthMiddleware(secret)(next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("valid token", func(t *testing.T) {
		token, err := auth.GenerateJWT(secret, models.Actor{ID: 5, Role: models.RoleUser}, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, models.Actor{ID: 5, Role: models.RoleUser}, got)
	})
}
