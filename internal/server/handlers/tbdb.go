package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/tbdb"
)

// QuotaHandler reports the latest known TBDB quota.
func QuotaHandler(sc cache.Store, conns ConnectionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := tbdb.QuotaStatus(r.Context(), sc, conns)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read quota")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quota": q})
	}
}

// SearchHandler passes a free-text search through to TBDB.
func SearchHandler(clients TBDBClients) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := strings.TrimSpace(q.Get("q"))
		if query == "" {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}
		opts := tbdb.SearchOptions{ProductType: q.Get("product_type")}
		opts.PerPage, _ = strconv.Atoi(q.Get("per_page"))
		opts.Page, _ = strconv.Atoi(q.Get("page"))

		client, err := clients.Client(r.Context())
		if err != nil {
			writeTBDBError(w, err)
			return
		}
		res, err := client.SearchProducts(r.Context(), query, opts)
		if err != nil {
			writeTBDBError(w, err)
			return
		}
		if res == nil {
			res = &tbdb.SearchResult{Data: []tbdb.Product{}}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// CreateTBDBProductHandler contributes a new product to TBDB.
func CreateTBDBProductHandler(clients TBDBClients) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		client, err := clients.Client(r.Context())
		if err != nil {
			writeTBDBError(w, err)
			return
		}
		p, err := client.CreateProduct(r.Context(), data)
		writeContribution(w, http.StatusCreated, p, err)
	}
}

// UpdateTBDBProductHandler contributes corrections to an existing TBDB product.
func UpdateTBDBProductHandler(clients TBDBClients) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		client, err := clients.Client(r.Context())
		if err != nil {
			writeTBDBError(w, err)
			return
		}
		p, err := client.UpdateProduct(r.Context(), id, data)
		writeContribution(w, http.StatusOK, p, err)
	}
}

func writeContribution(w http.ResponseWriter, status int, p *tbdb.Product, err error) {
	switch {
	case err != nil:
		writeTBDBError(w, err)
	case p == nil:
		writeError(w, http.StatusBadGateway, "TBDB rejected the request")
	default:
		writeJSON(w, status, p)
	}
}
