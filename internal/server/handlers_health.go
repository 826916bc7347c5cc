package server

import (
	"net/http"
	"time"
)

// handleHealth godoc
// @Title Health check
// @Description Returns service health and uptime information.
// @Resource System
// @Produce json
// @Success 200 {object} HealthResponse
// @Route /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := HealthResponse{
		Status: "ok",
		Env:    s.cfg.Env,
		Store:  s.cfg.Database.Driver,
		Uptime: time.Since(s.startedAt).String(),
	}
	if s.pool != nil {
		if err := s.pool.Ping(r.Context()); err != nil {
			payload.Status = "degraded"
			s.writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}
