package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

const (
	tenantIDHeader  = "X-Tenant-Id"
	maxRequestBytes = 1 << 20
)

// Metrics is the slice of the Prometheus metrics the router reports to.
type Metrics interface {
	Middleware(routePattern func(*http.Request) string) func(http.Handler) http.Handler
	Handler() http.Handler
	RecordRejected(reason string)
	RecordSearch(status string, rerank, hyde, expandContext bool, resultCount int)
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	Metrics        Metrics
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type Router struct {
	search ports.SearchService
	opts   Options
	logger *slog.Logger
}

func NewRouter(search ports.SearchService, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = 250 * time.Millisecond
	}
	return &Router{search: search, opts: opts, logger: logger}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(rt.logger))
	r.Use(accessLogMiddleware(rt.logger))
	if rt.opts.Metrics != nil {
		r.Use(rt.opts.Metrics.Middleware(routePattern))
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)
	if rt.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.Metrics.Handler())
	}

	var limiter *rate.Limiter
	if rt.opts.RateLimitRPS > 0 {
		burst := rt.opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rt.opts.RateLimitRPS), burst)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(rateLimitMiddleware(limiter, rt.recordRejected))
		v1.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.opts.MaxInFlight, rt.opts.QueueWait, rt.recordRejected)
		})
		v1.Post("/search", rt.searchHandler)
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (rt *Router) recordRejected(reason string) {
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordRejected(reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.opts.Ready(ctx); err != nil {
			rt.logger.Warn("readiness_check_failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (rt *Router) searchHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.Header.Get(tenantIDHeader))

	var req searchRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode search request", errors.New("invalid json body")))
		return
	}

	opts, err := req.toOptions()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	resp, err := rt.search.Search(r.Context(), tenantID, req.Query, opts)
	if err != nil {
		if rt.opts.Metrics != nil {
			rt.opts.Metrics.RecordSearch("error", opts.Rerank, opts.HyDE, opts.ExpandContext, 0)
		}
		rt.writeError(w, r, err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordSearch("success", opts.Rerank, opts.HyDE, opts.ExpandContext, len(resp.Results))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	requestID := requestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		rt.logger.Error("search_failed", "request_id", requestID, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     publicErrorMessage(status, err),
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
