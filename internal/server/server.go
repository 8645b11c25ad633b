// Package server implements the reference catalogue HTTP API: search over
// the record store, facet option listings, batch fetch, authenticated
// metadata updates, and the out-of-band login flow that unblocks deferred
// saves.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/broadcast"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store"
)

const maxMetadataBodySize = 1 << 20 // 1MB

// Deps carries everything the handlers need.
type Deps struct {
	Store   store.Store
	Broker  *broadcast.Broker
	Token   string // static write token; session tokens are issued by the login flow
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New builds the catalogue API router.
func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	sessions := newSessionRegistry(sessionTTL)

	r := chi.NewRouter()
	r.Use(observe(deps.Metrics))

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", handleSearch(deps))
		r.Get("/facets/{type}", handleFacetOptions(deps))
		r.Post("/records/batch", handleBatchFetch(deps))

		r.Get("/login", handleLoginInfo)
		r.Post("/login/complete", handleLoginComplete(deps, sessions))
		r.Get("/login/wait", handleLoginWait(deps, sessions))

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(deps.Token, sessions))
			r.Put("/records/{id}/metadata", handleUpdateMetadata(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		parsed, err := query.Parse(params.Get("q"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_query", "parsing query: %v", err)
			return
		}

		limit := intParam(params.Get("limit"), 100)
		if limit < 1 || limit > 1000 {
			httpError(w, http.StatusUnprocessableEntity, "invalid_query", "limit must be between 1 and 1000")
			return
		}
		offset := intParam(params.Get("offset"), 0)
		if offset < 0 {
			httpError(w, http.StatusUnprocessableEntity, "invalid_query", "offset must not be negative")
			return
		}

		sort := query.Sort{Field: params.Get("sort"), Order: params.Get("order")}
		if sort.Field == "" {
			sort = query.DefaultSort
		}

		records, total, err := deps.Store.Search(r.Context(), parsed, sort, limit, offset)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_query", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, catalogue.SearchPage{Records: records, Total: total})
	}
}

func handleFacetOptions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facet := chi.URLParam(r, "type")

		// Ancestor filters arrive keyed "<type>_name" on the wire; the store
		// speaks bare facet types.
		filters := make(map[string]string)
		for key, vals := range r.URL.Query() {
			if len(vals) > 0 && vals[0] != "" {
				filters[strings.TrimSuffix(key, "_name")] = vals[0]
			}
		}

		options, err := deps.Store.FacetOptions(r.Context(), facet, filters)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_query", "%v", err)
			return
		}
		if options == nil {
			options = []catalogue.FacetOption{}
		}
		writeJSON(w, http.StatusOK, options)
	}
}

func handleBatchFetch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req struct {
			IDs []int64 `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ids is required")
			return
		}

		records, err := deps.Store.GetByIDs(r.Context(), req.IDs)
		if err != nil {
			deps.Logger.Error("batch fetch failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "fetching records failed")
			return
		}
		if records == nil {
			records = []catalogue.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleUpdateMetadata(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid record id")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxMetadataBodySize)
		defer r.Body.Close()

		var req struct {
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid metadata document: %v", err)
			return
		}
		if req.Metadata == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "metadata is required")
			return
		}

		rec, err := deps.Store.UpdateMetadata(r.Context(), id, req.Metadata)
		switch {
		case err == store.ErrNotFound:
			httpError(w, http.StatusNotFound, "not_found", "record %d does not exist", id)
			return
		case err != nil:
			deps.Logger.Error("metadata update failed", "record", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "updating metadata failed")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleLoginInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "POST to /api/login/complete with the write token to obtain a session token",
		"complete": "/api/login/complete",
	})
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// observe records request counts and latencies per route pattern.
func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(route, rec.code, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}
