// Package server wires the ShelfLife HTTP routes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/shelflife/internal/auth/oauth"
	"github.com/pysugar/shelflife/internal/broadcast"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/enrichment"
	"github.com/pysugar/shelflife/internal/jobs"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/server/handlers"
	"github.com/pysugar/shelflife/internal/server/middleware"
	"github.com/pysugar/shelflife/internal/storage"
	"github.com/pysugar/shelflife/internal/tbdb"
	"gorm.io/gorm"
)

// AuthRateLimit caps OAuth flow requests per client IP per minute.
const AuthRateLimit = 20

// Deps are the collaborators the routes are built from.
type Deps struct {
	DB            *gorm.DB
	Connections   *db.ConnectionStore
	Cache         cache.Store
	OAuth         *oauth.Manager
	Clients       *tbdb.ClientProvider
	Enrichment    *enrichment.Service
	Queue         *jobs.Queue
	Gate          *jobs.Gate
	Hub           *broadcast.Hub
	Covers        *storage.Covers
	AdminPassword string
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)

	adminAuth := middleware.AdminAuth(d.AdminPassword)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// OAuth flow
	r.Route("/auth/tbdb", func(r chi.Router) {
		r.Use(adminAuth)
		r.Use(httprate.LimitByIP(AuthRateLimit, time.Minute))
		r.Get("/", handlers.TBDBAuthStartHandler(d.OAuth))
		r.Get("/callback", handlers.TBDBAuthCallbackHandler(d.OAuth))
		r.Delete("/disconnect", handlers.TBDBDisconnectHandler(d.OAuth))
		r.Post("/disconnect", handlers.TBDBDisconnectHandler(d.OAuth))
	})

	r.With(adminAuth).Get("/profile", handlers.ProfileHandler(d.Connections, d.Clients, d.Cache))

	r.Route("/api", func(r chi.Router) {
		r.Use(adminAuth)

		// TBDB passthrough
		r.Get("/tbdb/quota", handlers.QuotaHandler(d.Cache, d.Connections))
		r.Get("/tbdb/search", handlers.SearchHandler(d.Clients))
		r.Post("/tbdb/products", handlers.CreateTBDBProductHandler(d.Clients))
		r.Patch("/tbdb/products/{id}", handlers.UpdateTBDBProductHandler(d.Clients))

		// Local products
		r.Post("/products", handlers.CreateProductHandler(d.DB, d.Queue))
		r.Get("/products/{id}", handlers.GetProductHandler(d.DB, d.Queue))
		r.Post("/products/{id}/refresh", handlers.RefreshProductHandler(d.DB, d.Enrichment, d.Gate))
		r.Post("/products/{id}/retry", handlers.RetryProductHandler(d.DB, d.Enrichment, d.Queue))
	})

	r.Route("/streams", func(r chi.Router) {
		r.Use(adminAuth)
		r.Get("/products/{id}", handlers.ProductStreamHandler(d.Hub))
		r.Get("/libraries/{id}", handlers.LibraryStreamHandler(d.Hub))
	})

	if d.Covers != nil {
		r.Get("/covers/{name}", handlers.CoverHandler(d.Covers))
	}
	return r
}
