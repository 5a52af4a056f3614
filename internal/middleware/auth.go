package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dmchat/internal/model"
)

// UserSource resolves a bearer token to a user. Tokens are opaque user ids
// issued at login; the lookup confirms the account still exists.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": "unauthorized",
	})
}

// BearerAuth authenticates requests via the Authorization header
// ("Bearer <token>"). WebSocket upgrades cannot set headers from browsers,
// so the token query parameter is accepted as a fallback.
func BearerAuth(users UserSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			}
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeUnauthorized(w)
				return
			}
			u, err := users.GetByID(r.Context(), token)
			if err != nil || u == nil {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, u.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
