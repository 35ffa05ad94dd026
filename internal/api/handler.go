// Package api exposes the need-score pipeline over HTTP for the dashboard.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/needscore/internal/aggregate"
	"github.com/sells-group/needscore/internal/geo"
	"github.com/sells-group/needscore/internal/ingest"
	"github.com/sells-group/needscore/internal/inference"
	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/pipeline"
)

const requestTimeout = 30 * time.Second

// Handler serves aggregates, risk scores and summaries computed over a
// fixed record set. It is read-only and safe for concurrent requests.
type Handler struct {
	records  []model.Record
	index    *geo.Index
	scorer   *inference.Service
	modelErr error
}

// New creates a Handler. scorer may be nil, in which case modelErr
// explains why and /risk degrades to unscored rows.
func New(records []model.Record, index *geo.Index, scorer *inference.Service, modelErr error) *Handler {
	return &Handler{
		records:  records,
		index:    index,
		scorer:   scorer,
		modelErr: modelErr,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.Timeout(requestTimeout))
	apiRouter.Get("/health", h.handleHealth)
	apiRouter.Get("/aggregates", h.handleAggregates)
	apiRouter.Get("/risk", h.handleRisk)
	apiRouter.Get("/summary", h.handleSummary)

	r.Mount("/", apiRouter)
}

// RouterOptions configures the root router.
type RouterOptions struct {
	AllowedOrigins []string
	RateLimit      float64 // requests per second across all clients; 0 disables
	Burst          int
}

// NewRouter builds the root router with request IDs, panic recovery,
// request logging, CORS and an optional global rate limit.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	h.Register(r)
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// rateLimit rejects requests with 429 once l is exhausted. The limit is
// global, not per client.
func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Records     int    `json:"records"`
	Regions     int    `json:"regions"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelID     string `json:"model_id,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Records:     len(h.records),
		Regions:     h.index.Len(),
		ModelLoaded: h.scorer != nil,
	}
	if h.scorer != nil {
		resp.ModelID = h.scorer.Model().Metadata.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type rowsResponse struct {
	Rows     []model.AggregateRow   `json:"rows"`
	Scored   bool                   `json:"scored"`
	Warning  string                 `json:"warning,omitempty"`
	Join     geo.JoinStats          `json:"join"`
	Skipped  int                    `json:"skipped"`
	Selected int                    `json:"selected"`
	Window   ingest.Window          `json:"window"`
	Phases   []pipeline.PhaseResult `json:"phases"`
}

func (h *Handler) handleAggregates(w http.ResponseWriter, r *http.Request) {
	h.serveRows(w, r, nil, "")
}

func (h *Handler) handleRisk(w http.ResponseWriter, r *http.Request) {
	if h.scorer == nil {
		warning := "risk model unavailable"
		if h.modelErr != nil {
			warning += ": " + h.modelErr.Error()
		}
		h.serveRows(w, r, nil, warning)
		return
	}
	h.serveRows(w, r, h.scorer, "")
}

func (h *Handler) serveRows(w http.ResponseWriter, r *http.Request, scorer pipeline.Scorer, warning string) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := pipeline.Run(h.records, h.index, pipeline.Options{Window: window, Scorer: scorer})
	if err != nil {
		zap.L().Error("api: pipeline run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pipeline failed")
		return
	}

	resp := rowsResponse{
		Rows:     res.Rows,
		Scored:   res.Scored,
		Warning:  warning,
		Join:     res.Join,
		Skipped:  res.Skipped,
		Selected: res.Selected,
		Window:   window,
		Phases:   res.Phases,
	}
	if resp.Rows == nil {
		resp.Rows = []model.AggregateRow{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	aggregate.Summary
	Window ingest.Window `json:"window"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := pipeline.Run(h.records, h.index, pipeline.Options{Window: window})
	if err != nil {
		zap.L().Error("api: pipeline run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pipeline failed")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: res.Summary, Window: window})
}

// parseWindow reads the from/to query parameters.
func parseWindow(r *http.Request) (ingest.Window, error) {
	q := r.URL.Query()
	return ingest.ParseWindow(q.Get("from"), q.Get("to"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
