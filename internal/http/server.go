package http

import (
	"context"
	"net/http"
	"time"

	"finledger/internal/core"
	"finledger/internal/log"
	"finledger/internal/middleware/ratelimit"
	"finledger/internal/middleware/security"
	"finledger/internal/middleware/trace"
	"finledger/internal/services"
)

// ReadinessFunc reports whether the backing store is reachable.
type ReadinessFunc func(ctx context.Context) error

// Options configures NewServer. Everything is optional.
type Options struct {
	Logger             *log.Logger
	Clock              core.Clock
	RateLimitPerMinute int
	Ready              ReadinessFunc
}

type Server struct {
	http.Server
	finance *services.Finance
	clock   core.Clock
	logger  *log.Logger
	ready   ReadinessFunc

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
}

func NewServer(addr string, finance *services.Finance, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	clock := opts.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}

	s := &Server{
		finance:  finance,
		clock:    clock,
		logger:   logger,
		ready:    opts.Ready,
		detector: security.NewDetector(logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}, logger),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	s.routes(api)
	mux.Handle("/api/", s.limiter.Middleware(s.detector.ExtractClientIP)(api))

	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("POST /api/transactions/import", s.handleImportTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("PATCH /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/recurring", s.handleListRecurring)
	mux.HandleFunc("POST /api/recurring", s.handleCreateRecurring)
	mux.HandleFunc("POST /api/recurring/generate", s.handleGenerateRecurring)
	mux.HandleFunc("GET /api/recurring/{id}", s.handleGetRecurring)
	mux.HandleFunc("PATCH /api/recurring/{id}", s.handleUpdateRecurring)
	mux.HandleFunc("DELETE /api/recurring/{id}", s.handleDeleteRecurring)

	mux.HandleFunc("GET /api/budgets", s.handleListBudgets)
	mux.HandleFunc("POST /api/budgets", s.handleCreateBudget)
	mux.HandleFunc("GET /api/budgets/progress", s.handleBudgetProgress)
	mux.HandleFunc("GET /api/budgets/{id}", s.handleGetBudget)
	mux.HandleFunc("PATCH /api/budgets/{id}", s.handleUpdateBudget)
	mux.HandleFunc("DELETE /api/budgets/{id}", s.handleDeleteBudget)

	mux.HandleFunc("GET /api/notifications", s.handleListNotifications)
	mux.HandleFunc("DELETE /api/notifications", s.handleClearNotifications)
	mux.HandleFunc("POST /api/notifications/read", s.handleMarkAllNotificationsRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handleMarkNotificationRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleDeleteNotification)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/networth", s.handleNetWorth)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PATCH /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/snapshot", s.handleExportSnapshot)
	mux.HandleFunc("PUT /api/snapshot", s.handleImportSnapshot)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no such endpoint").Write(w)
	})
}

// Shutdown stops accepting requests and ends the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) today() core.Date {
	return core.Today(s.clock)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	OK(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "storage unavailable").Write(w)
			return
		}
	}
	OK(map[string]string{"status": "ready"}).Write(w)
}

type metricsResponse struct {
	HTTP            trace.Metrics             `json:"http"`
	RateLimit       ratelimit.Metrics         `json:"rateLimit"`
	Security        security.DetectionMetrics `json:"security"`
	PersistFailures int64                     `json:"persistFailures"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	OK(metricsResponse{
		HTTP:            s.tracer.GetMetrics(),
		RateLimit:       s.limiter.GetMetrics(),
		Security:        s.detector.GetMetrics(),
		PersistFailures: s.finance.PersistFailures(),
	}).Write(w)
}
