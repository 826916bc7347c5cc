package server

import (
	"net/http"
	"strings"

	"rescue/dispatch/internal/dispatch"
)

// handleIngestIncident godoc
// @Title Ingest incident
// @Description Stores an incident delivered by the emergency-communications feed. Re-sending a known id refreshes its description but never its dispatch state.
// @Resource Incidents
// @Accept json
// @Produce json
// @Param request body IngestIncidentRequest true "Incident payload"
// @Success 200 {object} dispatch.Incident
// @Failure 400 {object} APIError
// @Failure 500 {object} APIError
// @Route /v1/incidents [post]
func (s *Server) handleIngestIncident(w http.ResponseWriter, r *http.Request) {
	var req IngestIncidentRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	in := dispatch.NewIncident{
		ID:            req.ID,
		Title:         strings.TrimSpace(req.Title),
		EmergencyType: strings.TrimSpace(req.EmergencyType),
		Severity:      dispatch.Severity(req.Severity),
		Location:      strings.TrimSpace(req.Location),
		Description:   req.Description,
	}
	if req.ReportedAt != nil {
		in.ReportedAt = req.ReportedAt.UTC()
	}

	incident, err := s.store.UpsertIncident(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err, "failed to store incident")
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

// handleGetIncident godoc
// @Title Get incident
// @Description Returns an incident with its dispatch status and responder.
// @Resource Incidents
// @Produce json
// @Param incidentID path int true "Incident ID"
// @Success 200 {object} dispatch.Incident
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/incidents/{incidentID} [get]
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incidentID, err := parseIDParam(r, "incidentID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	incident, err := s.store.GetIncident(r.Context(), incidentID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get incident")
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

// handleListCandidates godoc
// @Title List dispatch candidates
// @Description Returns available units scored against the incident, best first. Scores include random jitter and are for display only.
// @Resource Incidents
// @Produce json
// @Param incidentID path int true "Incident ID"
// @Param type query string false "Unit type filter"
// @Param limit query int false "Maximum number of candidates"
// @Success 200 {object} CandidatesResponse
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/incidents/{incidentID}/candidates [get]
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	incidentID, err := parseIDParam(r, "incidentID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	incident, err := s.store.GetIncident(r.Context(), incidentID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get incident")
		return
	}
	candidates, err := s.directory.ListAvailableUnits(r.Context(), dispatch.UnitFilter{
		Type:       r.URL.Query().Get("type"),
		IncidentID: incidentID,
		Limit:      limit,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to list candidates")
		return
	}

	s.writeJSON(w, http.StatusOK, CandidatesResponse{Incident: incident, Candidates: orEmpty(candidates)})
}
