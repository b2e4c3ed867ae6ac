package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pysugar/shelflife/internal/logging"
)

// TBDBAccessKey serialises everything that talks to the TBDB API.
const TBDBAccessKey = "tbdb_api_access"

const lockRetryDelay = 250 * time.Millisecond

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Gate is a named semaphore of width one. Within a process it is a
// buffered channel per key; with a lock dir it also takes a file lock so
// separate processes on the same host share the limit.
type Gate struct {
	lockDir string

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewGate returns a gate. An empty lockDir keeps it in-process only.
func NewGate(lockDir string) *Gate {
	return &Gate{lockDir: lockDir, slots: make(map[string]chan struct{})}
}

func (g *Gate) slot(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		g.slots[key] = ch
	}
	return ch
}

// Acquire blocks until key is free or ctx is done. The returned func
// releases it and is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context, key string) (func(), error) {
	ch := g.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var fl *flock.Flock
	if g.lockDir != "" {
		if err := os.MkdirAll(g.lockDir, 0o755); err != nil {
			<-ch
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
		fl = flock.New(filepath.Join(g.lockDir, unsafeKey.ReplaceAllString(key, "_")+".lock"))
		ok, err := fl.TryLockContext(ctx, lockRetryDelay)
		if err != nil || !ok {
			<-ch
			if err == nil {
				err = fmt.Errorf("lock %s not acquired", key)
			}
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				if err := fl.Unlock(); err != nil {
					logging.Warn().Err(err).Str("key", key).Msg("failed to release gate lock")
				}
			}
			<-ch
		})
	}, nil
}
