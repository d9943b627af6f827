package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/assetledger-backend/api/responses"
	pkgAuth "github.com/angelmondragon/assetledger-backend/pkg/auth"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims, logg)))
		})
	}
}

// OptionalAuth attaches claims when a valid bearer token is present and lets
// anonymous requests through. A malformed token is still rejected.
func OptionalAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims, logg)))
		})
	}
}

func bearerToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func withClaims(ctx context.Context, claims *pkgAuth.AccessTokenClaims, logg *logger.Logger) context.Context {
	role := string(claims.Role)
	ctx = WithUserID(ctx, claims.UserID)
	ctx = WithRole(ctx, role)
	ctx = outbox.WithActor(ctx, outbox.ActorRef{UserID: claims.UserID, Role: role})
	if logg != nil {
		ctx = logg.WithUserID(ctx, claims.UserID)
		ctx = logg.WithActorRole(ctx, role)
	}
	return ctx
}
