package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/pocketmoney/internal/auth"
)

// TokenParser turns a bearer token into an actor.
type TokenParser interface {
	Parse(raw string) (auth.Actor, error)
}

// RequireActor authenticates the bearer token and stores the actor in the
// request context. Browsers cannot set headers on websocket upgrades, so the
// access_token query parameter is accepted as a fallback.
func RequireActor(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			actor, err := tokens.Parse(raw)
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}

// RequireParent rejects callers that are not parents. It must run after
// RequireActor.
func RequireParent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsParent(r.Context()) {
			deny(w, http.StatusForbidden, "parent role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
