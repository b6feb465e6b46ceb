package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/dgallion1/readerd/internal/config"
	"github.com/dgallion1/readerd/internal/pipeline"
)

// Server is the HTTP API server for readerd.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	log          *slog.Logger
	cfg          config.Config
	limiter      *rate.Limiter
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		log:          log,
		cfg:          cfg,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		r.Use(RateLimit(s.limiter))

		r.Get("/api/novels", s.handleListNovels)

		r.Post("/api/sessions", s.handleCreateSession)
		r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/items", s.handleItems)
			r.Put("/current", s.handleSelectChapter)
			r.Post("/bookmark", s.handleToggleBookmark)
			r.Post("/trim-memory", s.handleTrimSession)

			r.Route("/chapters/{chapterID}", func(r chi.Router) {
				r.Get("/passage", s.handlePassage)
				r.Get("/passage/stream", s.handlePassageStream)
				r.Post("/retry", s.handleRetry)
				r.Get("/progress", s.handleGetProgress)
				r.Post("/progress", s.handleScroll)
				r.Get("/progress/stream", s.handleProgressStream)
				r.Post("/progress/increment", s.handleIncrement)
				r.Post("/progress/deplete", s.handleDeplete)
				r.Post("/read", s.handleMarkRead)
			})
		})

		r.Post("/api/trim-memory", s.handleTrimAll)
		r.Get("/api/settings", s.handleGetSettings)
		r.Put("/api/settings", s.handlePutSettings)
		r.Post("/api/css/validate", s.handleValidateCSS)
		r.Get("/api/stats/fetch", s.handleFetchStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
