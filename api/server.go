// Package api provides the HTTP REST API server for InsightAgent.
//
// It exposes structured and free-text metric queries, batch evaluation,
// registry and metric listings, recent-filing feeds and a WebSocket stream
// of pipeline stage events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/insightagent/internal/config"
	"github.com/seenimoa/insightagent/internal/edgar"
	"github.com/seenimoa/insightagent/internal/pipeline"
	"github.com/seenimoa/insightagent/pkg/models"
)

// MaxBatchSize caps the number of queries accepted by POST /api/v1/batch.
const MaxBatchSize = 50

// FeedSource lists a company's recent filings. *edgar.Client implements it.
type FeedSource interface {
	RecentFilings(ctx context.Context, cik, form string, limit int) ([]edgar.FeedEntry, error)
}

// HealthChecker reports the reachability of the intent model backends.
// *llm.Router implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	orch    *pipeline.Orchestrator
	feed    FeedSource
	health  HealthChecker
	wsHub   *WSHub
	log     *slog.Logger
	version string

	hubOnce    sync.Once
	hubRunning atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithFeed enables GET /api/v1/filings/{ticker}/recent.
func WithFeed(f FeedSource) Option { return func(s *Server) { s.feed = f } }

// WithHealthChecker adds model backend status to the health endpoint.
func WithHealthChecker(h HealthChecker) Option { return func(s *Server) { s.health = h } }

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, orch *pipeline.Orchestrator, opts ...Option) *Server {
	srv := &Server{
		cfg:     cfg,
		orch:    orch,
		wsHub:   NewWSHub(),
		log:     slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router. /api/v1/ws answers 503 until StartHub has
// been called; ListenAndServe does that itself.
func (s *Server) Router() chi.Router {
	return s.router
}

// StartHub runs the WebSocket hub until ctx is done. Only the first call
// has an effect.
func (s *Server) StartHub(ctx context.Context) {
	s.hubOnce.Do(func() {
		s.hubRunning.Store(true)
		go s.wsHub.Run(ctx)
	})
}

// ListenAndServe serves addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.requestTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	s.StartHub(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) requestTimeout() time.Duration {
	if d := s.cfg.API.RequestTimeout(); d > 0 {
		return d
	}
	return 120 * time.Second
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Hijacked connections must not sit behind the timeout middleware.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))

			r.Get("/health", s.handleHealth)

			// Queries
			r.Post("/query", s.handleQuery)
			r.Post("/ask", s.handleAsk)
			r.Post("/batch", s.handleBatch)

			// Reference data
			r.Get("/registry", s.handleRegistry)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/filings/{ticker}/recent", s.handleRecentFilings)

			// Configuration
			r.Get("/config", s.handleGetConfig)
			r.Get("/config/keys", s.handleGetConfigKeys)
		})
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// QueryRequest is the body for POST /api/v1/query.
type QueryRequest struct {
	CompanyIdentifier string `json:"company_identifier"`
	MetricName        string `json:"metric_name"`
	Year              int    `json:"year"`
	FilingType        string `json:"filing_type,omitempty"`
}

// Intent converts the request into a pipeline intent.
func (q QueryRequest) Intent() models.Intent {
	return models.Intent{
		CompanyIdentifier: q.CompanyIdentifier,
		MetricName:        q.MetricName,
		Year:              q.Year,
		FilingType:        q.FilingType,
	}
}

// AskRequest is the body for POST /api/v1/ask.
type AskRequest struct {
	Query string `json:"query"`
}

// BatchItem is one entry of a batch: free text in Query, or a structured
// query in the remaining fields.
type BatchItem struct {
	Query string `json:"query,omitempty"`
	QueryRequest
}

// BatchRequest is the body for POST /api/v1/batch.
type BatchRequest struct {
	Queries []BatchItem `json:"queries"`
}

// BatchResponse summarises a batch run.
type BatchResponse struct {
	Results   []models.PipelineResult `json:"results"`
	Total     int                     `json:"total"`
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
}

// MetricInfo describes a known metric and its candidate tags.
type MetricInfo struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// CompanyInfo is one registry entry.
type CompanyInfo struct {
	Identifier string `json:"identifier"`
	CIK        string `json:"cik"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"companies":  len(s.orch.Registry().Identifiers()),
		"ws_clients": s.wsHub.ClientCount(),
	}
	if s.health != nil && r.URL.Query().Get("deep") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		providers := map[string]string{}
		for name, err := range s.health.HealthCheck(ctx) {
			if err != nil {
				providers[name] = err.Error()
				data["status"] = "degraded"
				continue
			}
			providers[name] = "ok"
		}
		data["llm"] = providers
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest, "invalid request body")
		return
	}
	in := req.Intent()
	res := s.orch.Run(r.Context(), pipeline.Request{Intent: &in})
	s.announce(res)
	writeResult(w, res)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest, "query is required")
		return
	}
	res := s.orch.Ask(r.Context(), req.Query)
	s.announce(res)
	writeResult(w, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest, "invalid request body")
		return
	}
	switch {
	case len(req.Queries) == 0:
		writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest, "queries is required")
		return
	case len(req.Queries) > MaxBatchSize:
		writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest,
			fmt.Sprintf("at most %d queries per batch", MaxBatchSize))
		return
	}

	reqs := make([]pipeline.Request, len(req.Queries))
	for i, item := range req.Queries {
		reqs[i] = item.Request()
	}
	results := pipeline.RunBatch(r.Context(), s.orch, reqs, s.cfg.Pipeline.BatchConcurrency)

	resp := BatchResponse{Results: results, Total: len(results)}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// Request converts a batch item into a pipeline request. Items with free
// text are parsed; the rest are treated as structured.
func (b BatchItem) Request() pipeline.Request {
	if b.Query != "" {
		return pipeline.Request{Query: b.Query}
	}
	in := b.Intent()
	return pipeline.Request{Intent: &in}
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	entries := s.orch.Registry().Entries()
	companies := make([]CompanyInfo, 0, len(entries))
	for id, cik := range entries {
		companies = append(companies, CompanyInfo{Identifier: id, CIK: cik})
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].Identifier < companies[j].Identifier })
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: companies})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resolver := s.orch.Resolver()
	names := resolver.Metrics()
	metrics := make([]MetricInfo, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, MetricInfo{Name: name, Tags: resolver.Resolve(name)})
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: metrics})
}

func (s *Server) handleRecentFilings(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusNotImplemented, pipeline.CategoryInternal, "filing feed not configured")
		return
	}
	cik, err := s.orch.Registry().Lookup(chi.URLParam(r, "ticker"))
	if err != nil {
		writeClassified(w, err)
		return
	}

	form := r.URL.Query().Get("form")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, pipeline.CategoryBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := s.feed.RecentFilings(r.Context(), cik, form, limit)
	if err != nil {
		s.log.Warn("recent filings feed failed", "cik", cik, "error", err)
		writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entries})
}

// announce tells WebSocket subscribers about a finished HTTP query.
func (s *Server) announce(res models.PipelineResult) {
	s.wsHub.Broadcast(WSMessage{Type: msgComplete, Data: map[string]any{
		"run_id":  res.RunID,
		"success": res.Success,
	}})
}

// ============================================================
// Helpers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind pipeline.Category, msg string) {
	writeJSON(w, status, APIResponse{
		Success:   false,
		Error:     msg,
		ErrorKind: string(kind),
	})
}

func writeClassified(w http.ResponseWriter, err error) {
	kind := pipeline.Classify(err)
	writeError(w, kind.HTTPStatus(), kind, err.Error())
}

// writeResult maps a pipeline result onto the envelope. Failed runs carry
// the result as data so callers still see the parsed intent.
func writeResult(w http.ResponseWriter, res models.PipelineResult) {
	status := http.StatusOK
	if !res.Success {
		status = pipeline.Category(res.ErrorKind).HTTPStatus()
	}
	writeJSON(w, status, APIResponse{
		Success:   res.Success,
		Data:      res,
		Error:     res.Error,
		ErrorKind: res.ErrorKind,
	})
}
