package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/tbdb"
	"gorm.io/gorm"
)

// ErrProductGone means the job points at a product that no longer exists.
var ErrProductGone = errors.New("product no longer exists")

// Retry buckets. Attempts are counted per bucket and restart when a job
// moves from one bucket to another.
const (
	RetryGeneric        = "error"
	RetryRateLimited    = "rate_limited"
	RetryQuotaExhausted = "quota_exhausted"
)

const (
	GenericAttempts        = 3
	GenericWait            = 30 * time.Second
	RateLimitedAttempts    = 5
	QuotaExhaustedAttempts = 10
)

const connectionRequiredMessage = "TBDB connection required. Connect at /profile"

type Action int

const (
	ActionDone Action = iota
	ActionRetry
	ActionDiscard
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionDiscard:
		return "discard"
	default:
		return "failed"
	}
}

// Decision tells the worker what to do with a job after an attempt.
// Attempts is the count within Reason's bucket, including this attempt.
type Decision struct {
	Action   Action
	RunAt    time.Time
	Reason   string
	Attempts int
	Err      error
}

// Handler performs one attempt of a job.
type Handler interface {
	Perform(ctx context.Context, job *models.Job) Decision
}

// Enricher is what the enrichment job needs from the enrichment service.
type Enricher interface {
	Call(ctx context.Context, product *models.Product, force bool) (*models.Product, error)
	RecordStatus(ctx context.Context, product *models.Product, state models.EnrichmentState) error
}

// EnrichmentJob fetches TBDB data for one product and decides how to
// retry based on the kind of failure.
type EnrichmentJob struct {
	db       *gorm.DB
	enricher Enricher
	now      func() time.Time
}

func NewEnrichmentJob(db *gorm.DB, enricher Enricher) *EnrichmentJob {
	return &EnrichmentJob{db: db, enricher: enricher, now: time.Now}
}

func (j *EnrichmentJob) loadProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	err := j.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductGone
	}
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", id, err)
	}
	return &p, nil
}

func (j *EnrichmentJob) Perform(ctx context.Context, job *models.Job) Decision {
	log := logging.Ctx(ctx).With().Uint("job_id", job.ID).Uint("product_id", job.ProductID).Logger()

	product, err := j.loadProduct(ctx, job.ProductID)
	if errors.Is(err, ErrProductGone) {
		log.Warn().Msg("Discarding enrichment job, product is gone")
		return Decision{Action: ActionDiscard, Err: err}
	}
	if err != nil {
		return j.retry(ctx, job, RetryGeneric, GenericAttempts, j.now().Add(GenericWait), err)
	}

	_, err = j.enricher.Call(ctx, product, job.Force)
	outcome := tbdb.Classify(err)
	now := j.now()

	switch outcome.Kind {
	case tbdb.OutcomeOK:
		return Decision{Action: ActionDone}

	case tbdb.OutcomeRateLimited:
		retryAt := outcome.RetryAt(now)
		log.Warn().Time("retry_at", retryAt).Msg("Rate limited by TBDB, rescheduling")
		j.record(ctx, product, models.RateLimited(now, retryAt, err.Error()))
		return j.retry(ctx, job, RetryRateLimited, RateLimitedAttempts, retryAt, err)

	case tbdb.OutcomeQuotaExhausted:
		retryAt := outcome.RetryAt(now)
		log.Warn().Time("retry_at", retryAt).Msg("TBDB quota exhausted, rescheduling")
		j.record(ctx, product, models.QuotaExhausted(now, retryAt, err.Error()))
		return j.retry(ctx, job, RetryQuotaExhausted, QuotaExhaustedAttempts, retryAt, err)

	case tbdb.OutcomeAuthRequired:
		log.Error().Err(err).Msg("TBDB authentication failed, discarding job")
		j.record(ctx, product, models.AuthenticationFailed(now, err.Error()))
		return Decision{Action: ActionDiscard, Err: err}

	case tbdb.OutcomeConnectionRequired:
		log.Error().Err(err).Msg("No TBDB connection, discarding job")
		j.record(ctx, product, models.AuthenticationFailed(now, connectionRequiredMessage))
		return Decision{Action: ActionDiscard, Err: err}

	default:
		return j.retry(ctx, job, RetryGeneric, GenericAttempts, now.Add(GenericWait), err)
	}
}

// retry schedules another attempt in reason's bucket, or gives up once the
// bucket's attempts are spent.
func (j *EnrichmentJob) retry(ctx context.Context, job *models.Job, reason string, limit int, runAt time.Time, err error) Decision {
	attempts := job.Attempts
	if job.RetryReason != reason {
		attempts = 1
	}
	if attempts >= limit {
		logging.Ctx(ctx).Error().Err(err).Str("reason", reason).Int("attempts", attempts).
			Msg("Giving up on enrichment job")
		return Decision{Action: ActionGiveUp, Reason: reason, Attempts: attempts, Err: err}
	}
	return Decision{Action: ActionRetry, RunAt: runAt, Reason: reason, Attempts: attempts, Err: err}
}

func (j *EnrichmentJob) record(ctx context.Context, p *models.Product, state models.EnrichmentState) {
	if err := j.enricher.RecordStatus(ctx, p, state); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to record enrichment status")
	}
}
