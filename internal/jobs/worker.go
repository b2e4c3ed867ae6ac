package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/metrics"
)

const (
	DefaultPollInterval = 2 * time.Second
	// DefaultStaleAfter is how long a job may sit in running before a
	// restarted worker takes it back.
	DefaultStaleAfter = 10 * time.Minute
)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// Worker polls the queue and runs jobs with their registered handler.
type Worker struct {
	queue    *Queue
	gate     *Gate
	cfg      WorkerConfig
	handlers map[string]Handler
}

func NewWorker(queue *Queue, gate *Gate, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Worker{queue: queue, gate: gate, cfg: cfg, handlers: make(map[string]Handler)}
}

// Register binds a handler to a job kind. Call before Serve.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Serve implements suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	n, err := w.queue.RecoverStale(ctx, w.cfg.StaleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Warn().Int64("jobs", n).Msg("Recovered stale running jobs")
	}
	logging.Info().Int("concurrency", w.cfg.Concurrency).Msg("🚀 Job worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) String() string { return "job-worker" }

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// Drain everything that is due before sleeping again.
		for ctx.Err() == nil {
			ran, err := w.RunOnce(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Job worker iteration failed")
				break
			}
			if !ran {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and runs at most one due job. It reports whether a job
// was run.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNext(ctx)
	if err != nil || job == nil {
		return false, err
	}
	log := logging.Ctx(ctx).With().Uint("job_id", job.ID).Str("kind", job.Kind).Int("attempt", job.Attempts).Logger()

	h, ok := w.handlers[job.Kind]
	if !ok {
		log.Error().Msg("No handler registered for job kind")
		return true, w.queue.Discard(ctx, job.ID, "no handler for "+job.Kind)
	}

	if job.ConcurrencyKey != "" && w.gate != nil {
		release, err := w.gate.Acquire(ctx, job.ConcurrencyKey)
		if err != nil {
			// Shutting down or the lock is unavailable; hand the job back untouched.
			if rerr := w.queue.Reschedule(context.WithoutCancel(ctx), job.ID, time.Now(), job.RetryReason, job.Attempts-1, job.LastError); rerr != nil {
				log.Error().Err(rerr).Msg("Failed to release job")
			}
			return false, err
		}
		defer release()
	}

	start := time.Now()
	d := w.perform(ctx, h, job)
	log.Debug().Stringer("action", d.Action).Dur("took", time.Since(start)).Msg("Job attempt finished")
	metrics.EnrichmentJobs.WithLabelValues(d.Action.String()).Inc()
	return true, w.apply(context.WithoutCancel(ctx), job, d)
}

func (w *Worker) perform(ctx context.Context, h Handler, job *models.Job) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Uint("job_id", job.ID).Str("stack", string(debug.Stack())).Msgf("Job panicked: %v", r)
			d = Decision{Action: ActionGiveUp, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return h.Perform(ctx, job)
}

func (w *Worker) apply(ctx context.Context, job *models.Job, d Decision) error {
	msg := ""
	if d.Err != nil {
		msg = d.Err.Error()
	}
	switch d.Action {
	case ActionDone:
		return w.queue.Complete(ctx, job.ID)
	case ActionRetry:
		return w.queue.Reschedule(ctx, job.ID, d.RunAt, d.Reason, d.Attempts, msg)
	case ActionDiscard:
		return w.queue.Discard(ctx, job.ID, msg)
	default:
		return w.queue.Fail(ctx, job.ID, msg)
	}
}
