// Package authmw authenticates inbound HTTP requests: bearer tokens for
// service-to-service calls to the ledger and detectors, and HMAC signatures
// for GitHub webhook deliveries.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken returns middleware that rejects requests whose Authorization
// header is not "Bearer <token>". The comparison is constant-time.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				unauthorized(w)
				return
			}
			if subtle.ConstantTimeCompare([]byte(auth[len(bearerPrefix):]), expected) != 1 {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Optional is BearerToken when token is set and a pass-through otherwise.
func Optional(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return BearerToken(token)
}

func unauthorized(w http.ResponseWriter) {
	http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
}
