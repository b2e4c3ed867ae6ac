package tbdb

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/metrics"
	"github.com/shopspring/decimal"
)

const (
	// QuotaCacheKey holds the latest snapshot for every process on this database.
	QuotaCacheKey = "tbdb:quota_status"
	QuotaCacheTTL = time.Hour
)

type quotaBody struct {
	Remaining  *int             `json:"remaining"`
	Limit      *int             `json:"limit"`
	Percentage *decimal.Decimal `json:"percentage"`
	ResetAt    string           `json:"reset_at"`
	ResetsAt   string           `json:"resets_at"`
}

// quotaFromHeaders reads X-Quota-Remaining / X-Quota-Limit / X-Quota-Reset.
func quotaFromHeaders(h http.Header, now time.Time) (models.QuotaSnapshot, bool) {
	remaining, err1 := strconv.Atoi(strings.TrimSpace(h.Get("X-Quota-Remaining")))
	limit, err2 := strconv.Atoi(strings.TrimSpace(h.Get("X-Quota-Limit")))
	if err1 != nil || err2 != nil {
		return models.QuotaSnapshot{}, false
	}
	return newSnapshot(remaining, limit, nil, parseResetHeader(h.Get("X-Quota-Reset")), now), true
}

// quotaFromBody looks for a quota object at the top level or under "data",
// the shape GET /api/v1/me returns.
func quotaFromBody(body []byte, now time.Time) (models.QuotaSnapshot, bool) {
	var envelope struct {
		Quota *quotaBody `json:"quota"`
		Data  *struct {
			Quota *quotaBody `json:"quota"`
		} `json:"data"`
	}
	if len(body) == 0 || json.Unmarshal(body, &envelope) != nil {
		return models.QuotaSnapshot{}, false
	}
	q := envelope.Quota
	if q == nil && envelope.Data != nil {
		q = envelope.Data.Quota
	}
	if q == nil || q.Remaining == nil || q.Limit == nil {
		return models.QuotaSnapshot{}, false
	}
	reset := q.ResetAt
	if reset == "" {
		reset = q.ResetsAt
	}
	return newSnapshot(*q.Remaining, *q.Limit, q.Percentage, parseResetHeader(reset), now), true
}

func newSnapshot(remaining, limit int, pct *decimal.Decimal, resetAt, now time.Time) models.QuotaSnapshot {
	q := models.QuotaSnapshot{Remaining: remaining, Limit: limit, ResetAt: resetAt, UpdatedAt: now}
	switch {
	case pct != nil:
		q.Percentage = *pct
	case limit > 0:
		q.Percentage = decimal.NewFromInt(int64(remaining)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(limit))).
			Round(2)
	}
	return q
}

// recordQuota persists a snapshot to the side cache and the connection row.
func (c *Client) recordQuota(ctx context.Context, q models.QuotaSnapshot) {
	metrics.TBDBQuotaRemaining.Set(float64(q.Remaining))

	if c.cache != nil {
		if err := cache.SetJSON(ctx, c.cache, QuotaCacheKey, q, QuotaCacheTTL); err != nil {
			logging.Warn().Err(err).Msg("Failed to cache TBDB quota")
		}
	}
	if _, err := c.store.StoreQuota(ctx, q); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist TBDB quota")
	}

	switch {
	case q.Exhausted():
		logging.Error().Int("limit", q.Limit).Time("reset_at", q.ResetAt).Msg("🚫 TBDB quota exhausted")
	case q.Low():
		logging.Warn().Int("remaining", q.Remaining).Int("limit", q.Limit).
			Str("percentage", q.Percentage.StringFixed(2)).Msg("⚠️ TBDB quota running low")
	}
}

// QuotaReader is the subset of the connection store QuotaStatus needs.
type QuotaReader interface {
	Instance(ctx context.Context) (*models.Connection, error)
}

// QuotaStatus returns the freshest known quota snapshot, preferring the side
// cache and falling back to the connection row. Nil means nothing is known,
// which is always the case while the connection is invalid.
func QuotaStatus(ctx context.Context, sc cache.Store, conns QuotaReader) (*models.QuotaSnapshot, error) {
	conn, err := conns.Instance(ctx)
	if err != nil {
		return nil, err
	}
	if conn.Status == models.ConnectionInvalid {
		forgetQuota(ctx, sc)
		return nil, nil
	}
	if sc != nil {
		var q models.QuotaSnapshot
		ok, err := cache.GetJSON(ctx, sc, QuotaCacheKey, &q)
		if err != nil {
			logging.Debug().Err(err).Msg("quota cache read failed")
		}
		if ok {
			return &q, nil
		}
	}
	return conn.Quota(), nil
}

// forgetQuota drops the cached snapshot so it cannot outlive the connection.
func forgetQuota(ctx context.Context, sc cache.Store) {
	if sc == nil {
		return
	}
	if err := sc.Delete(ctx, QuotaCacheKey); err != nil {
		logging.Warn().Err(err).Msg("Failed to drop cached TBDB quota")
	}
}
