package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name     string
		password string
		setup    func(r *http.Request)
		want     int
	}{
		{"no password configured", "", func(*http.Request) {}, http.StatusNoContent},
		{"missing credentials", "s3cret", func(*http.Request) {}, http.StatusUnauthorized},
		{"basic auth", "s3cret", func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") }, http.StatusNoContent},
		{"wrong basic auth", "s3cret", func(r *http.Request) { r.SetBasicAuth("admin", "nope") }, http.StatusUnauthorized},
		{"bearer", "s3cret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/profile", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			AdminAuth(tt.password)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate challenge")
			}
		})
	}
}
