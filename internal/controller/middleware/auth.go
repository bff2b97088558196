// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"clusterplane/internal/auth"
	"clusterplane/internal/logger"
	"clusterplane/internal/store"
	"clusterplane/pkg/api"

	"github.com/google/uuid"
)

// userKey is the context key for the authenticated user.
type userKey struct{}

// UserLookup resolves an API key hash to a user.
type UserLookup interface {
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error)
}

// AuthMiddleware authenticates requests by API key. Every protected
// operation runs as exactly one user.
func AuthMiddleware(s UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				unauthorized(w)
				return
			}

			user, err := s.GetUserByAPIKeyHash(r.Context(), auth.HashKey(key))
			if err != nil || !user.Active {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a new context carrying the authenticated user.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userKey{}).(*store.User)
	return user, ok
}

// RequestID attaches a correlation ID to every request so log lines
// from one call can be stitched together.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), reqID)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: "Unauthorized",
		Code:  "401",
	})
}
