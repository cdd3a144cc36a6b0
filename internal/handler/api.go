package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/service"
	"github.com/ippclub/dora-registry/internal/store"
	"go.uber.org/zap"
)

// API handles HTTP requests
type API struct {
	cfg         *config.Config
	logger      *zap.Logger
	registry    *service.Registry
	syncService *service.SyncService
	rateLimiter *RateLimiter
}

// NewAPI creates a new API instance
func NewAPI(cfg *config.Config, logger *zap.Logger, registry *service.Registry, syncService *service.SyncService) *API {
	return &API{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		syncService: syncService,
		rateLimiter: NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}
}

// Close stops the rate limiter
func (a *API) Close() {
	a.rateLimiter.Close()
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(a.logger))
	r.Use(middleware.Recoverer)

	// API routes with rate limiting
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Use(a.rateLimiter.RateLimit)
		r.Post("/packages", a.registerPackage)
		r.Get("/packages", a.listPackages)
		r.Get("/packages/{name}", a.getPackage)
		r.Get("/packages/{name}/badge", a.getBadge)
		r.Get("/search", a.searchPackages)
		r.Get("/search/autocomplete", a.autocomplete)
		r.Post("/download", a.recordDownload)
		r.Get("/stats", a.getStats)
	})

	// Admin routes (localhost only)
	r.Route("/admin", func(r chi.Router) {
		r.Use(LocalOnly)
		r.Post("/sync", a.triggerSync)
	})
}

type registerRequest struct {
	RepositoryURL string `json:"repositoryUrl"`
	Description   string `json:"description"`
	Rev           string `json:"rev"`
	Subdir        string `json:"subdir"`
	TotalFiles    *int64 `json:"totalFiles"`
	TotalSize     *int64 `json:"totalSize"`
	AccountID     *int64 `json:"accountId"`
}

// registerPackage ingests a repository revision
func (a *API) registerPackage(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RepositoryURL == "" {
		http.Error(w, "repositoryUrl is required", http.StatusBadRequest)
		return
	}

	id, err := a.registry.Register(r.Context(), service.RegisterRequest{
		RepositoryURL: req.RepositoryURL,
		Description:   req.Description,
		Rev:           req.Rev,
		Subdir:        req.Subdir,
		TotalFiles:    req.TotalFiles,
		TotalSize:     req.TotalSize,
		AccountID:     req.AccountID,
	})
	if err != nil {
		a.fail(w, "failed to register package", err, zap.String("url", req.RepositoryURL))
		return
	}

	a.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// listPackages returns one page of all packages
func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	page, err := a.registry.ListAll(r.Context(), q)
	if err != nil {
		a.fail(w, "failed to list packages", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

// searchPackages returns one page of packages matching every term of q
func (a *API) searchPackages(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	q.Query = r.URL.Query().Get("q")
	page, err := a.registry.Search(r.Context(), q)
	if err != nil {
		a.fail(w, "failed to search packages", err, zap.String("query", q.Query))
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

// autocomplete suggests packages whose name starts with q
func (a *API) autocomplete(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit := 0
	if v := params.Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	items, err := a.registry.Autocomplete(r.Context(), params.Get("q"), limit)
	if err != nil {
		a.fail(w, "failed to autocomplete", err, zap.String("query", params.Get("q")))
		return
	}
	a.writeJSON(w, http.StatusOK, items)
}

// getPackage returns a package with its versions
func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sort := model.ParseVersionSort(r.URL.Query().Get("versions_sort"))

	detail, err := a.registry.PackageDetail(r.Context(), name, sort)
	if err != nil {
		a.fail(w, "failed to get package", err, zap.String("name", name))
		return
	}
	a.writeJSON(w, http.StatusOK, detail)
}

// getBadge returns the badge summary of a package
func (a *API) getBadge(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	badge, err := a.registry.Badge(r.Context(), name)
	if err != nil {
		a.fail(w, "failed to get badge", err, zap.String("name", name))
		return
	}
	a.writeJSON(w, http.StatusOK, badge)
}

// recordDownload counts one download and answers with the version's new count
func (a *API) recordDownload(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	url := params.Get("url")
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	count, err := a.registry.RecordDownload(r.Context(), url, params.Get("rev"), params.Get("subdir"))
	if err != nil {
		a.fail(w, "failed to record download", err, zap.String("url", url))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(strconv.FormatInt(count, 10)))
}

// getStats returns registry-wide counts
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.registry.Stats(r.Context())
	if err != nil {
		a.fail(w, "failed to get stats", err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

// triggerSync triggers a manual sync of all configured repositories
func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("manual sync triggered")

	// Start sync in a goroutine to avoid blocking
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.syncTimeout())
		defer cancel()
		if err := a.syncService.SyncAll(ctx); err != nil {
			a.logger.Error("manual sync failed", zap.Error(err))
		} else {
			a.logger.Info("manual sync completed successfully")
		}
	}()

	// Return immediately with a 202 Accepted status
	a.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "sync started",
		"message": "Repository synchronization has been triggered",
	})
}

// syncTimeout bounds a manual sync by one fetch timeout per repository.
func (a *API) syncTimeout() time.Duration {
	if a.cfg.Fetcher.Timeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(len(a.cfg.Repos)+1) * a.cfg.Fetcher.Timeout
}

// parseQuery reads sort, order, page and per_page. Unknown sort values fall
// back to the listing's default order; malformed numbers are rejected.
func parseQuery(w http.ResponseWriter, r *http.Request) (service.Query, bool) {
	params := r.URL.Query()
	q := service.Query{
		SortField: model.ParseSortField(params.Get("sort")),
		SortOrder: model.ParseSortOrder(params.Get("order")),
	}

	var err error
	if v := params.Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return q, false
		}
	}
	if v := params.Get("per_page"); v != "" {
		if q.PageSize, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid per_page", http.StatusBadRequest)
			return q, false
		}
	}
	return q, true
}

// fail maps a core error to a status code and logs what the client does not see
func (a *API) fail(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "package not found", http.StatusNotFound)
	case errors.Is(err, service.ErrFetchFailed):
		a.logger.Warn(msg, append(fields, zap.Error(err))...)
		http.Error(w, "repository not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		a.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}
