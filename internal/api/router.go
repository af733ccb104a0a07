// Package api is the thin HTTP surface that fronts Analyze/Modify
// workflow submission: the minimal REST boundary a UI submits requests
// through and reads results back from. It owns no workflow logic of
// its own.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/repoagent/internal/config"
	"github.com/ternarybob/repoagent/pkg/workflow/analyze"
	"github.com/ternarybob/repoagent/pkg/workflow/modify"
)

// Server is the HTTP server submitting Analyze and Modify requests to
// their respective workflows and returning the terminal JSON response.
type Server struct {
	cfg      config.APIConfig
	log      arbor.ILogger
	analyzer *analyze.Workflow
	modifier *modify.Workflow
	router   chi.Router
}

// NewServer builds a Server. Either workflow may be nil if this server
// instance only ever serves the other request kind.
func NewServer(cfg config.APIConfig, log arbor.ILogger, analyzer *analyze.Workflow, modifier *modify.Workflow) *Server {
	s := &Server{cfg: cfg, log: log, analyzer: analyzer, modifier: modifier}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	timeout := time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.cfg.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/modify", s.handleModify)

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
