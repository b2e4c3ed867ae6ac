package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionID is the fixed primary key of the single TBDB connection row.
const ConnectionID uint = 1

// VerificationTTL is how long a successful API call vouches for the token.
const VerificationTTL = 10 * time.Minute

type ConnectionStatus string

const (
	ConnectionConnected ConnectionStatus = "connected"
	ConnectionInvalid   ConnectionStatus = "invalid"
)

// Connection stores the OAuth client registration, tokens and the last quota
// snapshot for this instance's TBDB account. Exactly one row exists.
type Connection struct {
	ID uint `gorm:"primaryKey;autoIncrement:false"`

	ClientID     string
	ClientSecret string
	AccessToken  string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	ExpiresAt    *time.Time

	APIBaseURL string
	Status     ConnectionStatus `gorm:"default:connected"`
	VerifiedAt *time.Time
	LastError  string `gorm:"type:text"`

	QuotaRemaining  *int
	QuotaLimit      *int
	QuotaPercentage decimal.NullDecimal `gorm:"type:decimal(5,2)"`
	QuotaResetAt    *time.Time
	QuotaUpdatedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Connection) TableName() string {
	return "tbdb_connections"
}

// Registered reports whether dynamic client registration has succeeded.
func (c *Connection) Registered() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Connected reports whether API calls may be attempted.
func (c *Connection) Connected() bool {
	return c.AccessToken != "" && c.Status == ConnectionConnected
}

// TokenExpired is true when no expiry is recorded or it has passed.
func (c *Connection) TokenExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Before(*c.ExpiresAt)
}

// Verified reports whether the token was used successfully within VerificationTTL.
func (c *Connection) Verified(now time.Time) bool {
	return c.VerifiedAt != nil && c.VerifiedAt.After(now.Add(-VerificationTTL))
}

// Quota returns the stored snapshot, or nil when none is recorded.
func (c *Connection) Quota() *QuotaSnapshot {
	if c.QuotaRemaining == nil || c.QuotaLimit == nil {
		return nil
	}
	q := &QuotaSnapshot{
		Remaining: *c.QuotaRemaining,
		Limit:     *c.QuotaLimit,
	}
	if c.QuotaPercentage.Valid {
		q.Percentage = c.QuotaPercentage.Decimal
	}
	if c.QuotaResetAt != nil {
		q.ResetAt = *c.QuotaResetAt
	}
	if c.QuotaUpdatedAt != nil {
		q.UpdatedAt = *c.QuotaUpdatedAt
	}
	return q
}

// QuotaSnapshot is the daily call budget reported by TBDB.
type QuotaSnapshot struct {
	Remaining  int             `json:"remaining"`
	Limit      int             `json:"limit"`
	Percentage decimal.Decimal `json:"percentage"`
	ResetAt    time.Time       `json:"reset_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Exhausted reports whether no calls remain.
func (q QuotaSnapshot) Exhausted() bool {
	return q.Remaining <= 0
}

// Low reports whether under 10% of the budget remains.
func (q QuotaSnapshot) Low() bool {
	return q.Percentage.LessThan(decimal.NewFromInt(10))
}
