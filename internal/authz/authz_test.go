package authz_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian/internal/authz"
)

const signingKey = "test-signing-key"

func newAuthorizer() *authz.JWTAuthorizer {
	return authz.NewJWTAuthorizer(signingKey, "meridian")
}

func mint(t *testing.T, auth *authz.JWTAuthorizer, subject string, caps ...authz.Capability) string {
	t.Helper()
	token, err := auth.Mint(subject, caps, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return token
}

func TestStatic(t *testing.T) {
	auth := authz.NewStatic(map[string][]authz.Capability{
		"operator": {authz.CapDividendCreate, authz.CapDividendPush},
	})
	ctx := context.Background()

	assert.True(t, auth.Can(ctx, "operator", authz.CapDividendCreate))
	assert.False(t, auth.Can(ctx, "operator", authz.CapDividendReclaim))
	assert.False(t, auth.Can(ctx, "stranger", authz.CapDividendCreate))
}

func TestJWTAuthorizer(t *testing.T) {
	ctx := context.Background()

	t.Run("grants only the minted capabilities", func(t *testing.T) {
		auth := newAuthorizer()
		token := mint(t, auth, "operator", authz.CapDividendPush)

		assert.True(t, auth.Can(ctx, token, authz.CapDividendPush))
		assert.False(t, auth.Can(ctx, token, authz.CapDividendCreate))
	})

	t.Run("resolves the subject as the actor", func(t *testing.T) {
		auth := newAuthorizer()
		token := mint(t, auth, "operator")

		actor, err := auth.ActorFromToken(token)
		require.NoError(t, err)
		assert.Equal(t, "operator", actor)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		auth := newAuthorizer()
		token, err := auth.Mint("operator", []authz.Capability{authz.CapDividendPush}, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})
		require.NoError(t, err)

		assert.False(t, auth.Can(ctx, token, authz.CapDividendPush))
		_, err = auth.ActorFromToken(token)
		require.Error(t, err)
	})

	t.Run("rejects a token signed with another key", func(t *testing.T) {
		auth := newAuthorizer()
		other := authz.NewJWTAuthorizer("other-key", "meridian")
		token := mint(t, other, "operator", authz.CapDividendPush)

		assert.False(t, auth.Can(ctx, token, authz.CapDividendPush))
	})

	t.Run("rejects a token from another issuer", func(t *testing.T) {
		auth := newAuthorizer()
		other := authz.NewJWTAuthorizer(signingKey, "someone-else")
		token := mint(t, other, "operator", authz.CapDividendPush)

		assert.False(t, auth.Can(ctx, token, authz.CapDividendPush))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		auth := newAuthorizer()
		assert.False(t, auth.Can(ctx, "not-a-token", authz.CapDividendPush))
	})
}

func TestRequireCapability(t *testing.T) {
	auth := newAuthorizer()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotActor string
	handler := authz.RequireCapability(auth, authz.CapDividendPush, log)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotActor = authz.GetActor(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	do := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/dividends/1/push", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("passes a capable token and sets the actor", func(t *testing.T) {
		token := mint(t, auth, "operator", authz.CapDividendPush)
		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "operator", gotActor)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		rec := do("")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing capability is forbidden", func(t *testing.T) {
		token := mint(t, auth, "operator", authz.CapDividendCreate)
		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAuthenticate(t *testing.T) {
	auth := newAuthorizer()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotActor string
	handler := authz.Authenticate(auth, log)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotActor = authz.GetActor(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	t.Run("resolves the holder from the token", func(t *testing.T) {
		token := mint(t, auth, "alice")
		req := httptest.NewRequest(http.MethodPost, "/dividends/1/claims", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "alice", gotActor)
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/dividends/1/claims", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
