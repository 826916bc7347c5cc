package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", s.cfg.Auth.IdentityHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.authMw.Middleware)

		v1.Post("/incidents", s.handleIngestIncident)
		v1.Get("/incidents/{incidentID}", s.handleGetIncident)
		v1.Get("/incidents/{incidentID}/candidates", s.handleListCandidates)

		v1.Get("/units", s.handleListAvailableUnits)
		v1.Post("/units", s.handleCreateUnit)
		v1.Get("/units/{unitID}", s.handleGetUnit)
		v1.Patch("/units/{unitID}/status", s.handleUpdateUnitStatus)
		v1.Get("/units/{unitID}/vehicles", s.handleListAvailableVehicles)
		v1.Post("/units/{unitID}/vehicles", s.handleRegisterVehicle)

		v1.Get("/suggestions/pending", s.handleListPendingSuggestions)
		v1.Get("/suggestions/{suggestionID}", s.handleGetSuggestion)
		v1.With(s.authMw.RequireRole(s.cfg.Auth.CoordinatorRole)).Post("/suggestions", s.handleProposeSuggestion)
		v1.Group(func(approver chi.Router) {
			approver.Use(s.authMw.RequireRole(s.cfg.Auth.ApproverRole))
			approver.Post("/suggestions/{suggestionID}/approve", s.handleApproveSuggestion)
			approver.Post("/suggestions/{suggestionID}/reject", s.handleRejectSuggestion)
		})

		v1.Get("/dispatches", s.handleListActiveDispatches)
		v1.Get("/dispatches/{dispatchID}", s.handleGetDispatch)
		v1.Patch("/dispatches/{dispatchID}/status", s.handleAdvanceDispatch)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Msg("http request")
	})
}
