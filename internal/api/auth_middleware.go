package api

import (
	"context"
	"net/http"
	"strings"

	"momo-collab/internal/auth"
)

type userIDKey struct{}

// RequireAuth verifies the Bearer token on REST requests and stashes the
// subject user id in the request context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestUserID returns the authenticated user id, or "" outside RequireAuth.
func requestUserID(r *http.Request) string {
	if id, ok := r.Context().Value(userIDKey{}).(string); ok {
		return id
	}
	return ""
}
