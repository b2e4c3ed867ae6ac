// Package oauth drives the TBDB OAuth lifecycle: dynamic client
// registration, the authorization code flow, refresh and revocation.
package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/version"
	"golang.org/x/oauth2"
)

const (
	// StateCacheKey holds the CSRF state of the one in-flight authorization.
	StateCacheKey = "tbdb:oauth_state"
	StateTTL      = 10 * time.Minute

	DefaultScope      = "data:read"
	DefaultClientName = "ShelfLife Instance"
	defaultTokenTTL   = time.Hour
)

// OAuthError carries the provider's reason for a failed OAuth step.
type OAuthError struct {
	Op      string
	Message string
}

func (e *OAuthError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + " failed: " + e.Message
}

// Store is the connection persistence the manager writes through.
type Store interface {
	Instance(ctx context.Context) (*models.Connection, error)
	StoreRegistration(ctx context.Context, clientID, clientSecret, apiBaseURL string) (*models.Connection, error)
	StoreTokens(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time, apiBaseURL string) (*models.Connection, error)
	ClearConnection(ctx context.Context) (*models.Connection, error)
	ClearRegistration(ctx context.Context) (*models.Connection, error)
}

type Config struct {
	OAuthURL    string
	APIURL      string
	RedirectURI string
	Scope       string
	ClientName  string
}

// Manager owns the shared OAuth relationship with TBDB.
type Manager struct {
	cfg        Config
	store      Store
	cache      cache.Store
	httpClient *http.Client
	now        func() time.Time
	onChange   func()
}

type Option func(*Manager)

func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) {
		if hc != nil {
			m.httpClient = hc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithOnChange registers a hook run whenever tokens or registration change.
func WithOnChange(fn func()) Option {
	return func(m *Manager) { m.onChange = fn }
}

func NewManager(cfg Config, store Store, sc cache.Store, opts ...Option) *Manager {
	cfg.OAuthURL = strings.TrimRight(cfg.OAuthURL, "/")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	m := &Manager{
		cfg:        cfg,
		store:      store,
		cache:      sc,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) oauth2Config(conn *models.Connection) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		RedirectURL:  m.cfg.RedirectURI,
		Scopes:       []string{m.cfg.Scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.cfg.OAuthURL + "/oauth/authorize",
			TokenURL:  m.cfg.OAuthURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// EnsureClientRegistered registers this instance as an OAuth client unless
// it already is.
func (m *Manager) EnsureClientRegistered(ctx context.Context) (*models.Connection, error) {
	conn, err := m.store.Instance(ctx)
	if err != nil {
		return nil, err
	}
	if conn.Registered() {
		return conn, nil
	}

	var reg struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	status, body, err := m.postJSON(ctx, "/oauth/register", map[string]any{
		"client_name":                m.cfg.ClientName,
		"redirect_uris":              []string{m.cfg.RedirectURI},
		"scope":                      m.cfg.Scope,
		"application_type":           "web",
		"token_endpoint_auth_method": "client_secret_post",
	})
	if err != nil {
		return nil, &OAuthError{Op: "Client registration", Message: err.Error()}
	}
	if !success(status) {
		return nil, &OAuthError{Op: "Client registration", Message: providerMessage(status, body)}
	}
	if err := json.Unmarshal(body, &reg); err != nil || reg.ClientID == "" || reg.ClientSecret == "" {
		return nil, &OAuthError{Op: "Client registration", Message: "response carried no client credentials"}
	}

	conn, err = m.store.StoreRegistration(ctx, reg.ClientID, reg.ClientSecret, m.cfg.APIURL)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("api_url", m.cfg.APIURL).Msg("✅ Registered OAuth client with TBDB")
	m.changed()
	return conn, nil
}

// BuildAuthorizationURL returns the URL to send the user to. It registers
// the client first if needed and remembers a fresh CSRF state.
func (m *Manager) BuildAuthorizationURL(ctx context.Context) (string, error) {
	conn, err := m.EnsureClientRegistered(ctx)
	if err != nil {
		return "", err
	}
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	if err := m.cache.Set(ctx, StateCacheKey, state, StateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return m.oauth2Config(conn).AuthCodeURL(state), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeCodeForToken completes the authorization code flow. The state
// must match the one issued by BuildAuthorizationURL.
func (m *Manager) ExchangeCodeForToken(ctx context.Context, code, state string) error {
	cached, ok, err := m.cache.Get(ctx, StateCacheKey)
	if err != nil {
		return fmt.Errorf("read oauth state: %w", err)
	}
	if !ok || state == "" || state != cached {
		return &OAuthError{Message: "Invalid state parameter"}
	}
	if err := m.cache.Delete(ctx, StateCacheKey); err != nil {
		logging.Warn().Err(err).Msg("Failed to delete OAuth state")
	}

	conn, err := m.store.Instance(ctx)
	if err != nil {
		return err
	}
	logging.Debug().
		Str("client_id", conn.ClientID).
		Str("redirect_uri", m.cfg.RedirectURI).
		Str("code", logging.MaskToken(code)).
		Msg("Exchanging TBDB authorization code")

	status, body, err := m.postJSON(ctx, "/oauth/token", map[string]any{
		"grant_type":    "authorization_code",
		"client_id":     conn.ClientID,
		"client_secret": conn.ClientSecret,
		"code":          code,
		"redirect_uri":  m.cfg.RedirectURI,
	})
	if err != nil {
		return &OAuthError{Op: "Token exchange", Message: err.Error()}
	}
	if !success(status) {
		return &OAuthError{Op: "Token exchange", Message: providerMessage(status, body)}
	}
	tok, err := m.parseToken(body)
	if err != nil {
		return &OAuthError{Op: "Token exchange", Message: err.Error()}
	}
	return m.storeToken(ctx, tok)
}

// RefreshAccessToken trades the refresh token for a new access token. It
// reports false when there is nothing to refresh or the provider refused;
// the caller decides whether that invalidates the connection.
func (m *Manager) RefreshAccessToken(ctx context.Context) bool {
	conn, err := m.store.Instance(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load TBDB connection for refresh")
		return false
	}
	if conn.RefreshToken == "" {
		return false
	}

	status, body, err := m.postJSON(ctx, "/oauth/token", map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     conn.ClientID,
		"client_secret": conn.ClientSecret,
		"refresh_token": conn.RefreshToken,
	})
	if err != nil {
		logging.Error().Err(err).Msg("❌ TBDB token refresh failed")
		return false
	}
	if !success(status) {
		logging.Error().Int("status", status).Str("body", logging.Truncate(string(body), 0)).Msg("❌ TBDB token refresh failed")
		return false
	}
	tok, err := m.parseToken(body)
	if err != nil {
		logging.Error().Err(err).Msg("❌ TBDB token refresh returned an unusable token")
		return false
	}
	if err := m.storeToken(ctx, tok); err != nil {
		logging.Error().Err(err).Msg("Failed to persist refreshed TBDB token")
		return false
	}
	logging.Info().Time("expires_at", tok.Expiry).Msg("✅ Refreshed TBDB access token")
	return true
}

// RevokeTokens asks TBDB to revoke the access token and forgets it locally
// whatever TBDB answers. The client registration is kept.
func (m *Manager) RevokeTokens(ctx context.Context) error {
	conn, err := m.store.Instance(ctx)
	if err != nil {
		return err
	}
	if conn.AccessToken == "" {
		return nil
	}

	status, body, err := m.postJSON(ctx, "/oauth/revoke", map[string]any{
		"client_id":     conn.ClientID,
		"client_secret": conn.ClientSecret,
		"token":         conn.AccessToken,
	})
	switch {
	case err != nil:
		logging.Warn().Err(err).Msg("TBDB token revocation failed, clearing locally")
	case !success(status):
		logging.Warn().Int("status", status).Str("body", logging.Truncate(string(body), 0)).Msg("TBDB token revocation refused, clearing locally")
	}

	if _, err := m.store.ClearConnection(ctx); err != nil {
		return err
	}
	logging.Info().Msg("Disconnected from TBDB")
	m.changed()
	return nil
}

// ClearClientCredentials forgets the registration and all tokens so the
// next authorization re-registers from scratch.
func (m *Manager) ClearClientCredentials(ctx context.Context) error {
	if _, err := m.store.ClearRegistration(ctx); err != nil {
		return err
	}
	logging.Info().Msg("Cleared TBDB OAuth client credentials")
	m.changed()
	return nil
}

func (m *Manager) parseToken(body []byte) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access_token")
	}
	ttl := defaultTokenTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	return &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Expiry:       m.now().Add(ttl),
	}, nil
}

func (m *Manager) storeToken(ctx context.Context, tok *oauth2.Token) error {
	if _, err := m.store.StoreTokens(ctx, tok.AccessToken, tok.RefreshToken, tok.Expiry, m.cfg.APIURL); err != nil {
		return err
	}
	logging.Info().Str("api_url", m.cfg.APIURL).Str("token", logging.MaskToken(tok.AccessToken)).Msg("Stored TBDB OAuth tokens")
	m.changed()
	return nil
}

func (m *Manager) postJSON(ctx context.Context, path string, payload any) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.OAuthURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

func success(status int) bool {
	return status >= 200 && status < 300
}

// providerMessage prefers the provider's own error text over the status line.
func providerMessage(status int, body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) == nil {
		switch {
		case e.Error != "" && e.ErrorDescription != "":
			return e.Error + ": " + e.ErrorDescription
		case e.Error != "":
			return e.Error
		}
	}
	return http.StatusText(status)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
