package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/db/dbtest"
	"github.com/pysugar/shelflife/internal/tbdb"
	"gorm.io/gorm"
)

type tbdbEnv struct {
	db       *gorm.DB
	store    *db.ConnectionStore
	cache    *cache.DBStore
	provider *tbdb.ClientProvider
}

// newTBDBEnv connects a fresh database to an upstream served by handler.
func newTBDBEnv(t *testing.T, handler http.HandlerFunc) *tbdbEnv {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gdb := dbtest.Open(t)
	e := &tbdbEnv{db: gdb, store: db.NewConnectionStore(gdb), cache: cache.NewDBStore(gdb)}
	ctx := context.Background()
	if _, err := e.store.StoreRegistration(ctx, "client-1", "secret-1", srv.URL); err != nil {
		t.Fatalf("StoreRegistration: %v", err)
	}
	if _, err := e.store.StoreTokens(ctx, "access-token-0123456789", "refresh-1", time.Now().Add(time.Hour), srv.URL); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}
	e.provider = tbdb.NewClientProvider(e.store,
		tbdb.WithDefaultBaseURL(srv.URL),
		tbdb.WithThrottle(tbdb.NewThrottle(0)),
		tbdb.WithCache(e.cache),
		tbdb.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	return e
}

// serve routes a single request through a chi router so URL params resolve.
func serve(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
