package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth requires the API token in the Authorization header. Websocket
// clients that cannot set headers may pass it as the access_token query
// parameter instead.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			presented := r.URL.Query().Get("access_token")
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
				presented = auth[len(prefix):]
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
