// Package middleware holds the HTTP middleware shared by ShelfLife routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth protects routes with the admin password when one is set. The
// password is accepted as HTTP basic auth or as a bearer token; an empty
// password lets every request through.
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, pass, ok := r.BasicAuth(); ok && matches(pass, password) {
				next.ServeHTTP(w, r)
				return
			}

			// Bearer token (scripts, curl)
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				if matches(strings.TrimPrefix(auth, "Bearer "), password) {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("WWW-Authenticate", `Basic realm="ShelfLife Admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func matches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
