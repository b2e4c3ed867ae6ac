package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/jobs"
	"github.com/pysugar/shelflife/internal/logging"
	"gorm.io/gorm"
)

// RefreshGateTimeout bounds how long a synchronous refresh waits for a
// background enrichment to release the TBDB gate.
const RefreshGateTimeout = 30 * time.Second

type Enrichment interface {
	Call(ctx context.Context, product *models.Product, force bool) (*models.Product, error)
	Reset(ctx context.Context, product *models.Product) (bool, error)
}

type EnrichmentQueue interface {
	EnqueueEnrichment(ctx context.Context, productID uint, force bool) (*models.Job, error)
}

type Gate interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type createProductRequest struct {
	GTIN        string `json:"gtin" validate:"required,len=13,numeric"`
	ProductType string `json:"product_type" validate:"omitempty,oneof=book dvd board_game"`
	Title       string `json:"title" validate:"max=500"`
	Author      string `json:"author" validate:"max=255"`
	Publisher   string `json:"publisher" validate:"max=255"`
}

type productResponse struct {
	Product *models.Product `json:"product"`
	JobID   uint            `json:"job_id,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateProductHandler finds or creates a product by GTIN and queues its
// enrichment when it has no TBDB data yet.
func CreateProductHandler(database *gorm.DB, queue EnrichmentQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req createProductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		p, created, err := db.FindOrCreateProduct(ctx, database, req.GTIN, db.ProductInput{
			Title:       req.Title,
			Author:      req.Author,
			Publisher:   req.Publisher,
			ProductType: models.ProductType(req.ProductType),
		})
		if errors.Is(err, db.ErrInvalidGTIN) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save product")
			return
		}

		resp := productResponse{Product: p, JobID: queueIfUnenriched(ctx, queue, p)}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, resp)
	}
}

// GetProductHandler returns a product, queueing enrichment when it has no
// TBDB data yet.
func GetProductHandler(database *gorm.DB, queue EnrichmentQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := loadProduct(w, r, database)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, productResponse{Product: p, JobID: queueIfUnenriched(r.Context(), queue, p)})
	}
}

func queueIfUnenriched(ctx context.Context, queue EnrichmentQueue, p *models.Product) uint {
	if p.Enriched() {
		return 0
	}
	job, err := queue.EnqueueEnrichment(ctx, p.ID, false)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("gtin", p.GTIN).Msg("Failed to queue enrichment")
		return 0
	}
	return job.ID
}

// RefreshProductHandler runs a forced enrichment inline. It takes the same
// gate as background enrichment so the two never hit TBDB at once.
func RefreshProductHandler(database *gorm.DB, svc Enrichment, gate Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := loadProduct(w, r, database)
		if !ok {
			return
		}

		waitCtx, cancel := context.WithTimeout(r.Context(), RefreshGateTimeout)
		release, err := gate.Acquire(waitCtx, jobs.TBDBAccessKey)
		cancel()
		if err != nil {
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusServiceUnavailable, "TBDB access is busy, try again shortly")
			return
		}
		defer release()

		p, err = svc.Call(r.Context(), p, true)
		if err != nil {
			writeTBDBError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, productResponse{Product: p})
	}
}

// RetryProductHandler clears a failed enrichment and queues another attempt.
func RetryProductHandler(database *gorm.DB, svc Enrichment, queue EnrichmentQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, ok := loadProduct(w, r, database)
		if !ok {
			return
		}
		reset, err := svc.Reset(ctx, p)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset enrichment")
			return
		}
		if !reset {
			writeError(w, http.StatusConflict, "Product has no failed enrichment to retry")
			return
		}
		job, err := queue.EnqueueEnrichment(ctx, p.ID, false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to queue enrichment")
			return
		}
		writeJSON(w, http.StatusAccepted, productResponse{Product: p, JobID: job.ID})
	}
}

func loadProduct(w http.ResponseWriter, r *http.Request, database *gorm.DB) (*models.Product, bool) {
	id, ok := urlParamID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid product ID")
		return nil, false
	}
	p, err := db.ProductByID(r.Context(), database, id)
	if errors.Is(err, db.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, "Product not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load product")
		return nil, false
	}
	return p, true
}
