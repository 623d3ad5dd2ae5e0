package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/raptree/internal/config"
	"github.com/dgallion1/raptree/internal/pipeline"
	"github.com/dgallion1/raptree/internal/provider"
)

// Server is the HTTP API server for raptree.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *provider.Stats
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(orch *pipeline.Orchestrator, stats *provider.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if s.cfg.APIKey == "" {
		s.log.Warn("api key not set, authentication disabled")
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/tree", s.handleBuild)
		r.Get("/api/tree", s.handleTreeInfo)
		r.Delete("/api/tree", s.handleDeleteTree)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Get("/api/nodes", s.handleNodes)
		r.Patch("/api/nodes/{index}", s.handleUpdateNode)

		r.Post("/api/retrieve", s.handleRetrieve)
		r.Post("/api/answer", s.handleAnswer)

		r.Post("/api/snapshot", s.handlePersist)
		r.Post("/api/snapshot/restore", s.handleRestore)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.orchestrator.TreeInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"tree_loaded": err == nil,
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
