package auth

import (
	"net/http"

	"github.com/obsidianstack/deltacache/server/internal/config"
)

// Middleware wraps next with the same API key check as APIKeyInterceptor,
// reading the key from the configured HTTP header. Requests whose path is in
// exempt skip the check. Rejected requests get 401 with a JSON error body.
func Middleware(cfg config.AuthConfig, next http.Handler, exempt ...string) http.Handler {
	kc := newKeyCheck(cfg)
	if !kc.enabled() {
		return next
	}
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip[r.URL.Path] || kc.valid(r.Header.Get(kc.header)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
	})
}
