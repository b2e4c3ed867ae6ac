package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
)

type handlerFunc func(ctx context.Context, job *models.Job) Decision

func (f handlerFunc) Perform(ctx context.Context, job *models.Job) Decision { return f(ctx, job) }

func enqueue(t *testing.T, q *Queue, job *models.Job) *models.Job {
	t.Helper()
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func state(t *testing.T, q *Queue, id uint) *models.Job {
	t.Helper()
	job, err := q.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func TestWorkerAppliesDecisions(t *testing.T) {
	retryAt := time.Now().Add(time.Hour)
	tests := []struct {
		name     string
		decision Decision
		want     models.JobState
	}{
		{"done", Decision{Action: ActionDone}, models.JobDone},
		{"retry", Decision{Action: ActionRetry, RunAt: retryAt, Reason: RetryGeneric, Attempts: 1, Err: errors.New("boom")}, models.JobPending},
		{"discard", Decision{Action: ActionDiscard, Err: errors.New("gone")}, models.JobDiscarded},
		{"give up", Decision{Action: ActionGiveUp, Err: errors.New("boom")}, models.JobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue(t)
			w := NewWorker(q, NewGate(""), WorkerConfig{})
			w.Register("k", handlerFunc(func(context.Context, *models.Job) Decision { return tt.decision }))
			job := enqueue(t, q, &models.Job{Kind: "k"})

			ran, err := w.RunOnce(context.Background())
			if err != nil || !ran {
				t.Fatalf("RunOnce: ran=%v err=%v", ran, err)
			}
			got := state(t, q, job.ID)
			if got.State != tt.want {
				t.Fatalf("state = %s, want %s", got.State, tt.want)
			}
			if tt.decision.Err != nil && got.LastError != tt.decision.Err.Error() {
				t.Fatalf("last error = %q", got.LastError)
			}
		})
	}
}

func TestWorkerNothingDue(t *testing.T) {
	w := NewWorker(newQueue(t), nil, WorkerConfig{})
	ran, err := w.RunOnce(context.Background())
	if err != nil || ran {
		t.Fatalf("expected idle run, got ran=%v err=%v", ran, err)
	}
}

func TestWorkerUnknownKindDiscarded(t *testing.T) {
	q := newQueue(t)
	w := NewWorker(q, nil, WorkerConfig{})
	job := enqueue(t, q, &models.Job{Kind: "mystery"})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := state(t, q, job.ID); got.State != models.JobDiscarded {
		t.Fatalf("state = %s", got.State)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	q := newQueue(t)
	w := NewWorker(q, nil, WorkerConfig{})
	w.Register("k", handlerFunc(func(context.Context, *models.Job) Decision { panic("kaboom") }))
	job := enqueue(t, q, &models.Job{Kind: "k"})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := state(t, q, job.ID)
	if got.State != models.JobFailed || got.LastError != "panic: kaboom" {
		t.Fatalf("unexpected job after panic: %+v", got)
	}
}

func TestWorkerHoldsGateForKeyedJobs(t *testing.T) {
	q := newQueue(t)
	gate := NewGate("")
	w := NewWorker(q, gate, WorkerConfig{})

	var heldDuringRun bool
	w.Register("k", handlerFunc(func(context.Context, *models.Job) Decision {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := gate.Acquire(ctx, TBDBAccessKey)
		heldDuringRun = err != nil
		return Decision{Action: ActionDone}
	}))
	enqueue(t, q, &models.Job{Kind: "k", ConcurrencyKey: TBDBAccessKey})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !heldDuringRun {
		t.Fatal("expected the gate to be held while the job ran")
	}
	release, err := gate.Acquire(context.Background(), TBDBAccessKey)
	if err != nil {
		t.Fatalf("gate not released: %v", err)
	}
	release()
}

func TestWorkerServeDrainsQueue(t *testing.T) {
	q := newQueue(t)
	w := NewWorker(q, NewGate(""), WorkerConfig{Concurrency: 2, PollInterval: 10 * time.Millisecond})
	done := make(chan uint, 3)
	w.Register("k", handlerFunc(func(_ context.Context, job *models.Job) Decision {
		done <- job.ID
		return Decision{Action: ActionDone}
	}))
	for i := 0; i < 3; i++ {
		enqueue(t, q, &models.Job{Kind: "k", ConcurrencyKey: TBDBAccessKey})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Serve(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d jobs ran", i)
		}
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v", err)
	}
}
