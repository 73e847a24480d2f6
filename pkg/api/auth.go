package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig holds credentials accepted by the API. /health and /metrics
// are always open.
type AuthConfig struct {
	Users   map[string]string // username -> password
	APIKeys map[string]bool   // valid API key tokens
}

// NewAuthConfig builds an AuthConfig from configured users and keys.
// It returns nil when neither is set, leaving the API open.
func NewAuthConfig(users map[string]string, keys []string) *AuthConfig {
	if len(users) == 0 && len(keys) == 0 {
		return nil
	}
	cfg := &AuthConfig{Users: users, APIKeys: make(map[string]bool, len(keys))}
	for _, k := range keys {
		cfg.APIKeys[k] = true
	}
	return cfg
}

func unauthenticatedPath(path string) bool {
	return path == "/health" || path == "/metrics"
}

// authMiddleware wraps an http.Handler with Basic Auth / Bearer / X-API-Key checks.
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPath(r.URL.Path) || cfg.authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="bbrd API"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

func (cfg AuthConfig) authenticate(r *http.Request) bool {
	if key := r.Header.Get("X-API-Key"); key != "" && cfg.APIKeys[key] {
		return true
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return cfg.APIKeys[token]
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	expected, exists := cfg.Users[user]
	if !exists {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1
}
