package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpmiddleware "github.com/wolfman30/mockinterview/internal/http/middleware"
	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	InterviewHandler   *interview.Handler
	ProxyHandler       http.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Candidate auth is enforced on /api and /ws when a secret is set.
	CandidateJWTSecret string
	// CreateLimiter throttles interview creation per candidate (optional).
	CreateLimiter *httpmiddleware.RateLimiter

	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Candidate-facing endpoints
	r.Group(func(candidate chi.Router) {
		if cfg.CandidateJWTSecret != "" {
			candidate.Use(httpmiddleware.CandidateJWT(cfg.CandidateJWTSecret))
		}
		if cfg.InterviewHandler != nil {
			candidate.Group(func(r chi.Router) {
				r.Use(middleware.Compress(5))
				if cfg.CreateLimiter != nil {
					r.Use(limitCreates(cfg.CreateLimiter))
				}
				r.Mount("/api/interviews", cfg.InterviewHandler.Routes())
			})
		}
		if cfg.ProxyHandler != nil {
			candidate.Handle("/ws/interview", cfg.ProxyHandler)
		}
	})

	return r
}

// limitCreates throttles the requests that create vendor conversations.
// Ending is never throttled.
func limitCreates(limiter *httpmiddleware.RateLimiter) func(http.Handler) http.Handler {
	limit := httpmiddleware.RateLimit(limiter)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/end") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
