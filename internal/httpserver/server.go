package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/procurehub/approvald/internal/auth"
	"github.com/procurehub/approvald/internal/config"
	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/service"
	"github.com/procurehub/approvald/internal/store"
)

type Server struct {
	cfg       config.Config
	store     store.Store
	processor *service.Processor
	minter    *service.Minter
	resolver  *service.Resolver

	// RateLimiter wraps the public action routes when non-nil.
	RateLimiter func(http.Handler) http.Handler
}

func New(cfg config.Config, st store.Store, processor *service.Processor, minter *service.Minter) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		processor: processor,
		minter:    minter,
		resolver:  service.NewResolver(st),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	// Public email-link endpoints. Always HTTP 200 with a rendered page; an
	// email client following a link must never see a bare error status.
	r.Group(func(r chi.Router) {
		if s.RateLimiter != nil {
			r.Use(s.RateLimiter)
		}
		r.Get("/action", s.handleAction)
		r.Get("/bulk-action", s.handleBulkAction)
	})

	// Internal JSON API for the submission flow and the KPI dashboard.
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
		r.Use(auth.RequireToken(s.cfg.APITokenSecret))

		r.Get("/orders/{id}", s.handleGetOrder)
		r.Post("/orders/{id}/tokens", s.handleMintTokens)
		r.Post("/bulk-tokens", s.handleMintBulkToken)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = "down"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["db"] = "up"
	respondJSON(w, http.StatusOK, status)
}

type resultView struct {
	Ok      bool
	Message string
	Order   *models.Order
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action, err := models.ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		// Rejected before any DB access.
		renderResult(w, resultView{Message: "The requested action is not recognized."})
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		renderResult(w, resultView{Message: "This link is missing its token."})
		return
	}

	res := s.processor.Process(r.Context(), token, action)
	renderResult(w, resultView{Ok: res.Ok, Message: res.Message, Order: res.Order})
}

func (s *Server) handleBulkAction(w http.ResponseWriter, r *http.Request) {
	action, err := models.ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		renderBulk(w, service.BulkResult{Message: "The requested action is not recognized."})
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		renderBulk(w, service.BulkResult{Message: "This link is missing its token."})
		return
	}

	renderBulk(w, s.processor.ProcessBulk(r.Context(), token, action))
}

func renderResult(w http.ResponseWriter, view resultView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := resultPage.Execute(w, view); err != nil {
		log.Printf("[httpserver] render result page: %v", err)
	}
}

func renderBulk(w http.ResponseWriter, res service.BulkResult) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := bulkPage.Execute(w, res); err != nil {
		log.Printf("[httpserver] render bulk page: %v", err)
	}
}
