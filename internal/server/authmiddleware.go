package server

import (
	"crypto/subtle"
	"net/http"
)

// AuthMiddleware validates each request against a static set of API keys.
// The key is extracted from the Authorization header; a "Bearer " prefix is
// accepted but not required. Comparison is constant-time per key.
func AuthMiddleware(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("Authorization")
			if apiKey == "" {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}

			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(k)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
		})
	}
}
