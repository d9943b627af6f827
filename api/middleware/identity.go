package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

const (
	// SessionCookieName carries the anonymous visitor session.
	SessionCookieName = "al_session"
	sessionHeader     = "X-Session-Id"
	maxSessionIDLen   = 128
)

// Identity records who is calling for anonymous-capable routes: the session id
// from the cookie or header, the client IP and the user agent.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if session := sessionID(r); session != "" {
				ctx = context.WithValue(ctx, ctxSessionID, session)
			}
			ip := clientIP(r)
			ctx = context.WithValue(ctx, ctxClientIP, ip)
			ctx = context.WithValue(ctx, ctxUserAgent, strings.TrimSpace(r.UserAgent()))
			if logg != nil && ip != "" {
				ctx = logg.WithField(ctx, "client_ip", ip)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionID(r *http.Request) string {
	value := ""
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		value = cookie.Value
	}
	if strings.TrimSpace(value) == "" {
		value = r.Header.Get(sessionHeader)
	}
	value = strings.TrimSpace(value)
	if len(value) > maxSessionIDLen {
		return value[:maxSessionIDLen]
	}
	return value
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
