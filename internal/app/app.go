// Package app assembles ShelfLife's components from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pysugar/shelflife/internal/auth/oauth"
	"github.com/pysugar/shelflife/internal/auth/token"
	"github.com/pysugar/shelflife/internal/broadcast"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/config"
	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/enrichment"
	"github.com/pysugar/shelflife/internal/jobs"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/server"
	"github.com/pysugar/shelflife/internal/storage"
	"github.com/pysugar/shelflife/internal/tbdb"
	"github.com/pysugar/shelflife/internal/version"
	"github.com/thejerf/suture/v4"
	"gorm.io/gorm"
)

// App holds every long-lived component of a ShelfLife process.
type App struct {
	Config      config.Config
	DB          *gorm.DB
	Connections *db.ConnectionStore
	Cache       *cache.DBStore
	OAuth       *oauth.Manager
	Clients     *tbdb.ClientProvider
	Enrichment  *enrichment.Service
	Queue       *jobs.Queue
	Gate        *jobs.Gate
	Hub         *broadcast.Hub
	Covers      *storage.Covers
	Worker      *jobs.Worker
	Refresher   *token.Refresher
}

// New opens the database and wires the components together.
func New(cfg config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.CoverDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cover dir: %w", err)
	}
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		DB:          database,
		Connections: db.NewConnectionStore(database),
		Cache:       cache.NewDBStore(database),
		Queue:       jobs.NewQueue(database),
		Gate:        jobs.NewGate(cfg.Worker.LockDir),
		Hub:         broadcast.NewHub(),
		Covers:      storage.NewCovers(cfg.Storage.CoverDir),
	}
	httpClient := &http.Client{Timeout: cfg.TBDB.RequestTimeout}

	a.OAuth = oauth.NewManager(oauth.Config{
		OAuthURL:    cfg.TBDB.OAuthURL,
		APIURL:      cfg.TBDB.APIURL,
		RedirectURI: cfg.TBDB.RedirectURI,
		Scope:       cfg.TBDB.Scope,
		ClientName:  cfg.TBDB.ClientName,
	}, a.Connections, a.Cache,
		oauth.WithHTTPClient(httpClient),
		oauth.WithOnChange(func() { a.Clients.Invalidate() }),
	)
	a.Clients = tbdb.NewClientProvider(a.Connections,
		tbdb.WithHTTPClient(httpClient),
		tbdb.WithDefaultBaseURL(cfg.TBDB.APIURL),
		tbdb.WithRefresher(a.OAuth),
		tbdb.WithStaleClientHandler(a.OAuth),
		tbdb.WithCache(a.Cache),
		tbdb.WithThrottle(tbdb.NewThrottle(cfg.TBDB.ThrottleDefault)),
		tbdb.WithUserAgent(version.UserAgent()),
	)
	a.Enrichment = enrichment.NewService(database, enrichment.FromProvider(a.Clients),
		enrichment.WithCovers(a.Covers),
		enrichment.WithPublisher(a.Hub),
	)

	a.Worker = jobs.NewWorker(a.Queue, a.Gate, jobs.WorkerConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	})
	a.Worker.Register(models.JobKindProductDataFetch, jobs.NewEnrichmentJob(database, a.Enrichment))
	a.Refresher = token.NewRefresher(a.Connections, a.OAuth, token.DefaultInterval)
	return a, nil
}

// Router returns the HTTP handler tree.
func (a *App) Router() http.Handler {
	return server.NewRouter(server.Deps{
		DB:            a.DB,
		Connections:   a.Connections,
		Cache:         a.Cache,
		OAuth:         a.OAuth,
		Clients:       a.Clients,
		Enrichment:    a.Enrichment,
		Queue:         a.Queue,
		Gate:          a.Gate,
		Hub:           a.Hub,
		Covers:        a.Covers,
		AdminPassword: a.Config.Server.AdminPassword,
	})
}

// Supervisor puts the HTTP server, job worker, token refresher and hub
// under one suture supervisor.
func (a *App) Supervisor() *suture.Supervisor {
	sup := suture.New("shelflife", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Fields(e.Map()).Msg(e.String())
		},
		Timeout: server.DefaultShutdownTimeout,
	})
	sup.Add(a.Hub)
	sup.Add(a.Worker)
	sup.Add(a.Refresher)
	sup.Add(cacheJanitor{cache: a.Cache})
	sup.Add(server.NewHTTPService(a.Config.Server.Addr(), a.Router()))
	return sup
}

// Close releases the database.
func (a *App) Close() error {
	a.Hub.Close()
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// cacheJanitor purges expired side-cache rows every so often.
type cacheJanitor struct {
	cache *cache.DBStore
}

const janitorInterval = 30 * time.Minute

func (j cacheJanitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := j.cache.Purge(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("Failed to purge side cache")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("rows", n).Msg("Purged expired cache entries")
			}
		}
	}
}

func (cacheJanitor) String() string { return "cache-janitor" }
