package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/db/dbtest"
	"github.com/pysugar/shelflife/internal/db/models"
)

// fakeProvider is a minimal TBDB OAuth server.
type fakeProvider struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	status   map[string]int
	body     map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		requests: map[string][]map[string]any{},
		status:   map[string]int{},
		body: map[string]string{
			"/oauth/register": `{"client_id":"cid-123","client_secret":"csecret"}`,
			"/oauth/token":    `{"access_token":"access-abcdefghijklmnopqrstuvwxyz","refresh_token":"refresh-1","expires_in":7200}`,
			"/oauth/revoke":   `{}`,
		},
	}
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)

	p.mu.Lock()
	p.requests[r.URL.Path] = append(p.requests[r.URL.Path], payload)
	status, ok := p.status[r.URL.Path]
	body := p.body[r.URL.Path]
	p.mu.Unlock()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "json only", http.StatusUnsupportedMediaType)
		return
	}
	if !ok {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func (p *fakeProvider) respond(path string, status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[path] = status
	p.body[path] = body
}

func (p *fakeProvider) calls(path string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[path]
}

type harness struct {
	provider *fakeProvider
	store    *db.ConnectionStore
	cache    *cache.DBStore
	manager  *Manager
	changes  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{provider: newFakeProvider()}
	srv := httptest.NewServer(h.provider)
	t.Cleanup(srv.Close)

	gdb := dbtest.Open(t)
	h.store = db.NewConnectionStore(gdb)
	h.cache = cache.NewDBStore(gdb)
	h.manager = NewManager(Config{
		OAuthURL:    srv.URL + "/",
		APIURL:      "http://api.tbdb.test",
		RedirectURI: "http://localhost:4001/auth/tbdb/callback",
	}, h.store, h.cache, WithOnChange(func() { h.changes++ }))
	return h
}

func (h *harness) conn(t *testing.T) *models.Connection {
	t.Helper()
	conn, err := h.store.Instance(context.Background())
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	return conn
}

func TestColdConnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if h.conn(t).Registered() {
		t.Fatal("connection should start unregistered")
	}

	conn, err := h.manager.EnsureClientRegistered(ctx)
	if err != nil {
		t.Fatalf("EnsureClientRegistered: %v", err)
	}
	if conn.ClientID != "cid-123" || conn.APIBaseURL != "http://api.tbdb.test" {
		t.Fatalf("registration not persisted: %+v", conn)
	}
	reg := h.provider.calls("/oauth/register")
	if len(reg) != 1 {
		t.Fatalf("register calls = %d", len(reg))
	}
	if reg[0]["token_endpoint_auth_method"] != "client_secret_post" || reg[0]["application_type"] != "web" || reg[0]["scope"] != "data:read" {
		t.Fatalf("unexpected registration payload: %v", reg[0])
	}

	authURL, err := h.manager.BuildAuthorizationURL(ctx)
	if err != nil {
		t.Fatalf("BuildAuthorizationURL: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if !strings.HasSuffix(u.Path, "/oauth/authorize") || q.Get("client_id") != "cid-123" || q.Get("response_type") != "code" {
		t.Fatalf("unexpected authorization url %s", authURL)
	}
	if q.Get("redirect_uri") != "http://localhost:4001/auth/tbdb/callback" || q.Get("scope") != "data:read" {
		t.Fatalf("unexpected authorization url %s", authURL)
	}
	state := q.Get("state")
	if len(state) != 32 {
		t.Fatalf("state = %q", state)
	}
	if len(h.provider.calls("/oauth/register")) != 1 {
		t.Fatal("registration must be idempotent")
	}

	before := time.Now()
	if err := h.manager.ExchangeCodeForToken(ctx, "auth-code", state); err != nil {
		t.Fatalf("ExchangeCodeForToken: %v", err)
	}
	conn = h.conn(t)
	if !conn.Connected() || conn.Status != models.ConnectionConnected {
		t.Fatalf("expected connected, got %+v", conn)
	}
	if conn.RefreshToken != "refresh-1" || conn.VerifiedAt == nil {
		t.Fatalf("tokens not persisted: %+v", conn)
	}
	if conn.ExpiresAt == nil || conn.ExpiresAt.Before(before.Add(119*time.Minute)) {
		t.Fatalf("ExpiresAt = %v", conn.ExpiresAt)
	}
	tok := h.provider.calls("/oauth/token")[0]
	if tok["grant_type"] != "authorization_code" || tok["code"] != "auth-code" || tok["client_secret"] != "csecret" {
		t.Fatalf("unexpected token payload: %v", tok)
	}

	// State is single use.
	if err := h.manager.ExchangeCodeForToken(ctx, "auth-code", state); err == nil {
		t.Fatal("reusing a state must fail")
	}
	if h.changes == 0 {
		t.Fatal("change hook never ran")
	}
}

func TestExchange_FailsClosedOnState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var oerr *OAuthError
	if err := h.manager.ExchangeCodeForToken(ctx, "code", "anything"); !errors.As(err, &oerr) {
		t.Fatalf("cache miss: expected OAuthError, got %v", err)
	}

	if _, err := h.manager.BuildAuthorizationURL(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.manager.ExchangeCodeForToken(ctx, "code", "wrong"); !errors.As(err, &oerr) {
		t.Fatalf("mismatch: expected OAuthError, got %v", err)
	}
	if err := h.manager.ExchangeCodeForToken(ctx, "code", ""); !errors.As(err, &oerr) {
		t.Fatalf("empty: expected OAuthError, got %v", err)
	}
	if len(h.provider.calls("/oauth/token")) != 0 {
		t.Fatal("no token request may be sent without a valid state")
	}
}

func TestExchange_ProviderErrorAndDefaultExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, _ := h.manager.BuildAuthorizationURL(ctx)
	state := mustState(t, authURL)
	h.provider.respond("/oauth/token", http.StatusBadRequest, `{"error":"invalid_grant"}`)

	err := h.manager.ExchangeCodeForToken(ctx, "bad", state)
	var oerr *OAuthError
	if !errors.As(err, &oerr) || !strings.Contains(oerr.Error(), "invalid_grant") {
		t.Fatalf("expected OAuthError with provider message, got %v", err)
	}

	authURL, _ = h.manager.BuildAuthorizationURL(ctx)
	state = mustState(t, authURL)
	h.provider.respond("/oauth/token", http.StatusOK, `{"access_token":"no-expiry-token-0123456789"}`)
	if err := h.manager.ExchangeCodeForToken(ctx, "good", state); err != nil {
		t.Fatalf("ExchangeCodeForToken: %v", err)
	}
	conn := h.conn(t)
	if d := time.Until(*conn.ExpiresAt); d < 59*time.Minute || d > time.Hour {
		t.Fatalf("default expiry should be one hour, got %s", d)
	}
}

func TestRegistrationFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.respond("/oauth/register", http.StatusUnprocessableEntity, `{"error":"invalid_redirect_uri"}`)

	_, err := h.manager.BuildAuthorizationURL(context.Background())
	var oerr *OAuthError
	if !errors.As(err, &oerr) || oerr.Message != "invalid_redirect_uri" {
		t.Fatalf("expected registration OAuthError, got %v", err)
	}
	if h.conn(t).Registered() {
		t.Fatal("failed registration must not persist credentials")
	}
}

func TestRefreshAccessToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if h.manager.RefreshAccessToken(ctx) {
		t.Fatal("refresh without a refresh token must report false")
	}
	if len(h.provider.calls("/oauth/token")) != 0 {
		t.Fatal("no request expected without a refresh token")
	}

	if _, err := h.store.StoreRegistration(ctx, "cid-123", "csecret", "http://api.tbdb.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.StoreTokens(ctx, "old-token", "refresh-0", time.Now().Add(-time.Minute), "http://api.tbdb.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.MarkInvalid(ctx, "expired"); err != nil {
		t.Fatal(err)
	}

	if !h.manager.RefreshAccessToken(ctx) {
		t.Fatal("refresh should succeed")
	}
	call := h.provider.calls("/oauth/token")[0]
	if call["grant_type"] != "refresh_token" || call["refresh_token"] != "refresh-0" {
		t.Fatalf("unexpected refresh payload: %v", call)
	}
	conn := h.conn(t)
	if conn.Status != models.ConnectionConnected || conn.RefreshToken != "refresh-1" || conn.TokenExpired(time.Now()) {
		t.Fatalf("refresh not persisted: %+v", conn)
	}

	h.provider.respond("/oauth/token", http.StatusBadRequest, `{"error":"invalid_grant"}`)
	if h.manager.RefreshAccessToken(ctx) {
		t.Fatal("refused refresh must report false")
	}
}

func TestRevokeTokens_BestEffort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.manager.RevokeTokens(ctx); err != nil {
		t.Fatalf("RevokeTokens without token: %v", err)
	}
	if len(h.provider.calls("/oauth/revoke")) != 0 {
		t.Fatal("nothing to revoke")
	}

	if _, err := h.store.StoreRegistration(ctx, "cid-123", "csecret", "http://api.tbdb.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.StoreTokens(ctx, "live-token", "refresh-0", time.Now().Add(time.Hour), "http://api.tbdb.test"); err != nil {
		t.Fatal(err)
	}
	h.provider.respond("/oauth/revoke", http.StatusInternalServerError, `{}`)

	if err := h.manager.RevokeTokens(ctx); err != nil {
		t.Fatalf("RevokeTokens: %v", err)
	}
	if got := h.provider.calls("/oauth/revoke"); len(got) != 1 || got[0]["token"] != "live-token" {
		t.Fatalf("unexpected revoke calls: %v", got)
	}
	conn := h.conn(t)
	if conn.AccessToken != "" || conn.RefreshToken != "" {
		t.Fatal("tokens must be cleared even when revoke fails")
	}
	if !conn.Registered() {
		t.Fatal("revocation keeps the client registration")
	}
}

func TestClearClientCredentials_ForcesReRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.manager.EnsureClientRegistered(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.manager.ClearClientCredentials(ctx); err != nil {
		t.Fatalf("ClearClientCredentials: %v", err)
	}
	if h.conn(t).Registered() {
		t.Fatal("registration should be cleared")
	}
	if _, err := h.manager.BuildAuthorizationURL(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.provider.calls("/oauth/register")) != 2 {
		t.Fatal("expected a second registration")
	}
}

func mustState(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Query().Get("state")
}
