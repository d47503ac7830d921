package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fjod/storefront/internal/auth"
)

// SessionCookie carries the token for browser clients that do not set an
// Authorization header.
const SessionCookie = "session_token"

type ctxKey int

const userIDKey ctxKey = iota

type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (string, error)
}

// RequireSession rejects requests without a live session and stores the
// resolved user ID in the request context.
func RequireSession(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.ResolveIdentity(r.Context(), tokenFromRequest(r))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					respondError(w, http.StatusUnauthorized, "unauthenticated", "valid session required")
					return
				}
				slog.ErrorContext(r.Context(), "resolve identity failed", slog.Any("err", err))
				respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MaxBodySize caps request bodies at limit bytes.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
