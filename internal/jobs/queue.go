// Package jobs is a small persistent job queue with a polling worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"gorm.io/gorm"
)

// Queue stores jobs in the jobs table.
type Queue struct {
	db  *gorm.DB
	now func() time.Time
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue stores job as pending. A zero RunAt means now.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	job.State = models.JobPending
	if job.RunAt.IsZero() {
		job.RunAt = q.now()
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Kind, err)
	}
	return nil
}

// EnqueueEnrichment schedules a product enrichment. An enrichment already
// pending for the product is reused; a forced request upgrades it and
// pulls it forward.
func (q *Queue) EnqueueEnrichment(ctx context.Context, productID uint, force bool) (*models.Job, error) {
	var existing models.Job
	err := q.db.WithContext(ctx).
		Where("kind = ? AND product_id = ? AND state = ?", models.JobKindProductDataFetch, productID, models.JobPending).
		Order("id").First(&existing).Error
	switch {
	case err == nil:
		if force && !existing.Force {
			now := q.now()
			err := q.db.WithContext(ctx).Model(&existing).
				Updates(map[string]any{"force": true, "run_at": now}).Error
			if err != nil {
				return nil, fmt.Errorf("upgrade enrichment job: %w", err)
			}
			existing.Force, existing.RunAt = true, now
		}
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("find pending enrichment: %w", err)
	}

	job := &models.Job{
		Kind:           models.JobKindProductDataFetch,
		ProductID:      productID,
		Force:          force,
		ConcurrencyKey: TBDBAccessKey,
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext moves the oldest due pending job to running and returns it. It
// returns nil when nothing is due.
func (q *Queue) ClaimNext(ctx context.Context) (*models.Job, error) {
	for range 3 {
		now := q.now()
		var job models.Job
		err := q.db.WithContext(ctx).
			Where("state = ? AND run_at <= ?", models.JobPending, now).
			Order("run_at, id").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find next job: %w", err)
		}

		// Only one claimer wins the pending -> running transition.
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND state = ?", job.ID, models.JobPending).
			Updates(map[string]any{
				"state":     models.JobRunning,
				"locked_at": now,
				"attempts":  gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			return q.Get(ctx, job.ID)
		}
	}
	return nil, nil
}

func (q *Queue) Get(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	if err := q.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, fmt.Errorf("load job %d: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) Complete(ctx context.Context, id uint) error {
	return q.finish(ctx, id, models.JobDone, "")
}

// Discard ends a job that must not be retried.
func (q *Queue) Discard(ctx context.Context, id uint, reason string) error {
	return q.finish(ctx, id, models.JobDiscarded, reason)
}

// Fail ends a job whose retries are used up.
func (q *Queue) Fail(ctx context.Context, id uint, reason string) error {
	return q.finish(ctx, id, models.JobFailed, reason)
}

// Reschedule returns a job to pending for another attempt at runAt.
// attempts is the count within the retry bucket named by reason.
func (q *Queue) Reschedule(ctx context.Context, id uint, runAt time.Time, reason string, attempts int, lastError string) error {
	err := q.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"state":        models.JobPending,
			"run_at":       runAt,
			"retry_reason": reason,
			"attempts":     attempts,
			"last_error":   lastError,
			"locked_at":    nil,
		}).Error
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", id, err)
	}
	return nil
}

func (q *Queue) finish(ctx context.Context, id uint, state models.JobState, lastError string) error {
	err := q.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"state":      state,
			"last_error": lastError,
			"locked_at":  nil,
		}).Error
	if err != nil {
		return fmt.Errorf("mark job %d %s: %w", id, state, err)
	}
	return nil
}

// RecoverStale returns jobs left running longer than olderThan to pending,
// typically after a crash.
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().Add(-olderThan)
	res := q.db.WithContext(ctx).Model(&models.Job{}).
		Where("state = ? AND (locked_at IS NULL OR locked_at < ?)", models.JobRunning, cutoff).
		Updates(map[string]any{"state": models.JobPending, "locked_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats counts jobs by state.
func (q *Queue) Stats(ctx context.Context) (map[models.JobState]int64, error) {
	var rows []struct {
		State models.JobState
		Count int64
	}
	err := q.db.WithContext(ctx).Model(&models.Job{}).
		Select("state, count(*) as count").Group("state").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	stats := make(map[models.JobState]int64, len(rows))
	for _, r := range rows {
		stats[r.State] = r.Count
	}
	return stats, nil
}
