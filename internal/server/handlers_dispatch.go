package server

import (
	"net/http"

	"rescue/dispatch/internal/dispatch"
)

// handleListActiveDispatches godoc
// @Title List active dispatches
// @Description Returns approved dispatches that are not yet completed.
// @Resource Dispatches
// @Produce json
// @Success 200 {array} dispatch.Suggestion
// @Failure 500 {object} APIError
// @Route /v1/dispatches [get]
func (s *Server) handleListActiveDispatches(w http.ResponseWriter, r *http.Request) {
	dispatches, err := s.engine.ListActiveDispatches(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to list dispatches")
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(dispatches))
}

// handleGetDispatch godoc
// @Title Get dispatch
// @Description Returns a dispatch with its incident, unit, held vehicles and transition history.
// @Resource Dispatches
// @Produce json
// @Param dispatchID path int true "Dispatch ID"
// @Success 200 {object} dispatch.DispatchDetail
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/dispatches/{dispatchID} [get]
func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	dispatchID, err := parseIDParam(r, "dispatchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidDispatchID, err.Error())
		return
	}
	detail, err := s.engine.GetDispatch(r.Context(), dispatchID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get dispatch")
		return
	}
	detail.Vehicles = orEmpty(detail.Vehicles)
	detail.Activity = orEmpty(detail.Activity)
	s.writeJSON(w, http.StatusOK, detail)
}

// handleAdvanceDispatch godoc
// @Title Advance dispatch status
// @Description Moves a dispatch forward (en_route, arrived, completed). Completing closes the incident and frees the unit and vehicles.
// @Resource Dispatches
// @Accept json
// @Produce json
// @Param dispatchID path int true "Dispatch ID"
// @Param request body AdvanceDispatchRequest true "Status payload"
// @Success 200 {object} dispatch.Suggestion
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/dispatches/{dispatchID}/status [patch]
func (s *Server) handleAdvanceDispatch(w http.ResponseWriter, r *http.Request) {
	dispatchID, err := parseIDParam(r, "dispatchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidDispatchID, err.Error())
		return
	}
	var req AdvanceDispatchRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	suggestion, err := s.engine.Advance(r.Context(), dispatch.AdvanceInput{
		DispatchID: dispatchID,
		Status:     dispatch.SuggestionStatus(req.Status),
		Actor:      callerID(r),
		Notes:      req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to advance dispatch")
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}
