// Package api exposes product lookups, searches and background jobs over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/amazon-product-scraper/internal/cache"
	"github.com/maltedev/amazon-product-scraper/internal/jobs"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/scraper"
)

// MaxSearchPages caps synchronous searches; longer walks go through jobs.
const MaxSearchPages = 5

// ProductStore is the persistence the handlers need. *database.DB
// implements it.
type ProductStore interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
	UpsertProducts(ctx context.Context, products []models.Product) error
	ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error)
	Ping(ctx context.Context) error
}

type Handlers struct {
	pool   *scraper.Pool
	jobs   *jobs.Manager
	cache  cache.Cache
	store  ProductStore
	logger *slog.Logger
}

// NewHandlers wires the handlers. cache and store may be nil.
func NewHandlers(pool *scraper.Pool, jobManager *jobs.Manager, c cache.Cache, store ProductStore, log *slog.Logger) *Handlers {
	if log == nil {
		log = logger.Discard()
	}
	return &Handlers{
		pool:   pool,
		jobs:   jobManager,
		cache:  c,
		store:  store,
		logger: log.With("component", "api"),
	}
}

type ProductRequest struct {
	URL string `json:"url"`
}

type ProductResponse struct {
	Found   bool            `json:"found"`
	Product *models.Product `json:"product"`
}

type SearchResponse struct {
	Count    int              `json:"count"`
	Pages    int              `json:"pages"`
	Stop     string           `json:"stop_reason"`
	Products []models.Product `json:"products"`
}

type ListResponse struct {
	Count    int              `json:"count"`
	Products []models.Product `json:"products"`
}

// Health reports service status. A failing database makes it 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":   "ok",
		"database": "disabled",
	}
	status := http.StatusOK

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", "error", err)
			health["status"] = "error"
			health["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}
	if h.jobs != nil {
		health["jobs"] = h.jobs.Stats()
	}

	h.respondJSON(w, status, health)
}

// GetProduct scrapes one product page, going through the cache.
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := cache.Key(req.URL)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "url is not an Amazon product URL")
		return
	}

	var poolErr error
	product := cache.GetOrLoad(r.Context(), h.cache, key, h.logger, func(ctx context.Context) *models.Product {
		var p *models.Product
		poolErr = h.pool.Do(ctx, func(s *scraper.Scraper) {
			p = s.GetProduct(ctx, req.URL)
		})
		return p
	})
	if poolErr != nil {
		h.logger.Error("no scraper available", "error", poolErr)
		h.respondError(w, http.StatusServiceUnavailable, "no scraper available")
		return
	}

	if product != nil && h.store != nil {
		if err := h.store.UpsertProduct(r.Context(), product); err != nil {
			h.logger.Error("failed to save product", "asin", product.ASIN, "error", err)
		}
	}

	h.respondJSON(w, http.StatusOK, ProductResponse{Found: product != nil, Product: product})
}

// Search walks up to MaxSearchPages result pages synchronously.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req scraper.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" && req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "either query or url is required")
		return
	}
	if req.MaxPages > MaxSearchPages {
		h.respondError(w, http.StatusBadRequest, "max_pages is limited to "+strconv.Itoa(MaxSearchPages)+"; use /api/v1/jobs")
		return
	}

	var result scraper.SearchResult
	if err := h.pool.Do(r.Context(), func(s *scraper.Scraper) {
		result = s.SearchReport(r.Context(), req, nil)
	}); err != nil {
		h.logger.Error("no scraper available", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "no scraper available")
		return
	}

	if h.store != nil && len(result.Products) > 0 {
		if err := h.store.UpsertProducts(r.Context(), result.Products); err != nil {
			h.logger.Error("failed to save search results", "error", err)
		}
	}

	h.respondJSON(w, http.StatusOK, SearchResponse{
		Count:    len(result.Products),
		Pages:    result.Pages,
		Stop:     string(result.Stop),
		Products: result.Products,
	})
}

// ListProducts pages through stored products.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondError(w, http.StatusNotImplemented, "persistence is disabled")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 || offset < 0 {
		h.respondError(w, http.StatusBadRequest, "limit must be 1-500 and offset non-negative")
		return
	}

	products, err := h.store.ListProducts(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	h.respondJSON(w, http.StatusOK, ListResponse{Count: len(products), Products: products})
}

// CreateJob queues a background search.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req scraper.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Submit(req)
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.Get(jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
