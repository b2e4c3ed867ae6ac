package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionStore owns the single TBDB connection row. It is constructed
// once at startup and shared by the OAuth manager and API clients; writes
// are last-write-wins.
type ConnectionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewConnectionStore(db *gorm.DB) *ConnectionStore {
	return &ConnectionStore{db: db, now: time.Now}
}

// Instance returns the connection row, creating it on first use.
func (s *ConnectionStore) Instance(ctx context.Context) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.WithContext(ctx).First(&conn, models.ConnectionID).Error
	if err == nil {
		return &conn, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load connection: %w", err)
	}

	// Fixed key plus DO NOTHING keeps concurrent first access to one row.
	seed := models.Connection{ID: models.ConnectionID, Status: models.ConnectionConnected}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&conn, models.ConnectionID).Error; err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	return &conn, nil
}

func (s *ConnectionStore) update(ctx context.Context, fields map[string]any) (*models.Connection, error) {
	if _, err := s.Instance(ctx); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", models.ConnectionID).
		Updates(fields).Error
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	return s.Instance(ctx)
}

// StoreRegistration records a freshly registered OAuth client.
func (s *ConnectionStore) StoreRegistration(ctx context.Context, clientID, clientSecret, apiBaseURL string) (*models.Connection, error) {
	return s.update(ctx, map[string]any{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"api_base_url":  apiBaseURL,
	})
}

// StoreTokens records an access/refresh token pair and marks the connection
// verified and connected.
func (s *ConnectionStore) StoreTokens(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time, apiBaseURL string) (*models.Connection, error) {
	now := s.now()
	fields := map[string]any{
		"access_token": accessToken,
		"expires_at":   expiresAt,
		"api_base_url": apiBaseURL,
		"verified_at":  now,
		"status":       models.ConnectionConnected,
		"last_error":   "",
	}
	if refreshToken != "" {
		fields["refresh_token"] = refreshToken
	}
	return s.update(ctx, fields)
}

// MarkVerified records a successful authenticated call.
func (s *ConnectionStore) MarkVerified(ctx context.Context) (*models.Connection, error) {
	return s.update(ctx, map[string]any{
		"status":      models.ConnectionConnected,
		"verified_at": s.now(),
		"last_error":  "",
	})
}

// MarkInvalid blocks API calls until a reconnect and drops the quota snapshot.
func (s *ConnectionStore) MarkInvalid(ctx context.Context, message string) (*models.Connection, error) {
	fields := map[string]any{
		"status":     models.ConnectionInvalid,
		"last_error": message,
	}
	for k, v := range clearedQuota() {
		fields[k] = v
	}
	return s.update(ctx, fields)
}

// ClearConnection forgets tokens but keeps the client registration.
func (s *ConnectionStore) ClearConnection(ctx context.Context) (*models.Connection, error) {
	return s.update(ctx, clearedTokens())
}

// ClearRegistration forgets the client registration and all tokens.
func (s *ConnectionStore) ClearRegistration(ctx context.Context) (*models.Connection, error) {
	fields := clearedTokens()
	fields["client_id"] = ""
	fields["client_secret"] = ""
	fields["api_base_url"] = ""
	return s.update(ctx, fields)
}

// StoreQuota writes every quota column at once.
func (s *ConnectionStore) StoreQuota(ctx context.Context, q models.QuotaSnapshot) (*models.Connection, error) {
	fields := map[string]any{
		"quota_remaining":  q.Remaining,
		"quota_limit":      q.Limit,
		"quota_percentage": decimal.NewNullDecimal(q.Percentage),
		"quota_updated_at": q.UpdatedAt,
		"quota_reset_at":   nil,
	}
	if !q.ResetAt.IsZero() {
		fields["quota_reset_at"] = q.ResetAt
	}
	return s.update(ctx, fields)
}

func clearedTokens() map[string]any {
	return map[string]any{
		"access_token":  "",
		"refresh_token": "",
		"expires_at":    nil,
		"status":        models.ConnectionConnected,
		"verified_at":   nil,
		"last_error":    "",
	}
}

func clearedQuota() map[string]any {
	return map[string]any{
		"quota_remaining":  nil,
		"quota_limit":      nil,
		"quota_percentage": nil,
		"quota_reset_at":   nil,
		"quota_updated_at": nil,
	}
}
