// Package token keeps the shared TBDB access token fresh in the background.
package token

import (
	"context"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
)

const (
	DefaultInterval = 15 * time.Minute
	// DefaultLeeway is how close to expiry a token gets refreshed.
	DefaultLeeway = 20 * time.Minute
)

type ConnectionStore interface {
	Instance(ctx context.Context) (*models.Connection, error)
	MarkInvalid(ctx context.Context, message string) (*models.Connection, error)
}

type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context) bool
}

// Refresher periodically renews the access token ahead of its expiry.
type Refresher struct {
	store    ConnectionStore
	oauth    TokenRefresher
	interval time.Duration
	leeway   time.Duration
	now      func() time.Time
}

func NewRefresher(store ConnectionStore, oauth TokenRefresher, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{
		store:    store,
		oauth:    oauth,
		interval: interval,
		leeway:   DefaultLeeway,
		now:      time.Now,
	}
}

// Serve runs the refresh loop until ctx is cancelled.
func (r *Refresher) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", r.interval).Msg("🔄 TBDB token refresh loop started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RefreshIfExpiring(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshIfExpiring(ctx)
		}
	}
}

func (r *Refresher) String() string { return "tbdb-token-refresher" }

// RefreshIfExpiring refreshes a connected token that expires within the
// leeway. It reports whether a refresh was attempted.
func (r *Refresher) RefreshIfExpiring(ctx context.Context) bool {
	conn, err := r.store.Instance(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("⚠️ Failed to load TBDB connection")
		return false
	}
	if !conn.Connected() || conn.RefreshToken == "" {
		return false
	}
	now := r.now()
	if !conn.TokenExpired(now.Add(r.leeway)) {
		return false
	}

	if r.oauth.RefreshAccessToken(ctx) {
		return true
	}
	if conn.TokenExpired(now) {
		msg := "TBDB token expired and could not be refreshed. Reconnect at /profile"
		if _, err := r.store.MarkInvalid(ctx, msg); err != nil {
			logging.Error().Err(err).Msg("Failed to mark TBDB connection invalid")
		}
		logging.Error().Msg("🔒 " + msg)
		return true
	}
	// Transient failure while the token is still usable; try again next tick.
	logging.Warn().Time("expires_at", *conn.ExpiresAt).Msg("⏳ TBDB token refresh failed, token still valid")
	return true
}
