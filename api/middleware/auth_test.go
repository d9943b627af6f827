package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/assetledger-backend/pkg/auth"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
)

var ledgerJWT = config.JWTConfig{Secret: "ledger-test-secret", Issuer: "assetledger", ExpirationMinutes: 15}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signedFor(t *testing.T, cfg config.JWTConfig, issued time.Time, userID int64, role enums.Role) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, issued, auth.AccessTokenPayload{UserID: userID, Role: role})
	require.NoError(t, err)
	return token
}

func withBearer(header string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/7/download", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req
}

func TestAuthGuards(t *testing.T) {
	valid := signedFor(t, ledgerJWT, time.Now(), 42, enums.RoleUser)
	expired := signedFor(t, ledgerJWT, time.Now().Add(-2*time.Hour), 42, enums.RoleUser)
	otherIssuer := ledgerJWT
	otherIssuer.Issuer = "someone-else"
	foreign := signedFor(t, otherIssuer, time.Now(), 42, enums.RoleUser)

	cases := []struct {
		name             string
		header           string
		strict, optional int
	}{
		{"no header", "", http.StatusUnauthorized, http.StatusOK},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + foreign, http.StatusUnauthorized, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			strict := httptest.NewRecorder()
			Auth(ledgerJWT, nil)(okHandler()).ServeHTTP(strict, withBearer(tc.header))
			assert.Equal(t, tc.strict, strict.Code, "Auth")

			optional := httptest.NewRecorder()
			OptionalAuth(ledgerJWT, nil)(okHandler()).ServeHTTP(optional, withBearer(tc.header))
			assert.Equal(t, tc.optional, optional.Code, "OptionalAuth")
		})
	}
}

func TestAuthSeedsCallerAndActor(t *testing.T) {
	var (
		userID int64
		role   string
		actor  *outbox.ActorRef
	)
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		role = RoleFromContext(r.Context())
		actor = outbox.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	Auth(ledgerJWT, nil)(capture).ServeHTTP(rec, withBearer("Bearer "+signedFor(t, ledgerJWT, time.Now(), 42, enums.RoleAdmin)))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(42), userID)
	assert.Equal(t, string(enums.RoleAdmin), role)
	require.NotNil(t, actor)
	assert.Equal(t, outbox.ActorRef{UserID: 42, Role: "admin"}, *actor)
}

func TestAnonymousCallerHasNoIdentity(t *testing.T) {
	userID := int64(-1)
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	OptionalAuth(ledgerJWT, nil)(capture).ServeHTTP(httptest.NewRecorder(), withBearer(""))
	assert.Zero(t, userID)
}

func TestRequireRoleAdminOnly(t *testing.T) {
	chain := Auth(ledgerJWT, nil)(RequireRole(nil, string(enums.RoleAdmin))(okHandler()))

	for role, want := range map[enums.Role]int{
		enums.RoleAdmin: http.StatusOK,
		enums.RoleUser:  http.StatusForbidden,
	} {
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, withBearer("Bearer "+signedFor(t, ledgerJWT, time.Now(), 9, role)))
		assert.Equal(t, want, rec.Code, role)
	}
}
