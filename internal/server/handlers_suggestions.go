package server

import (
	"net/http"

	"rescue/dispatch/internal/dispatch"
)

// handleProposeSuggestion godoc
// @Title Propose dispatch
// @Description Reserves a unit and its vehicles for an incident pending ER approval. All reservations happen in one transaction; a conflicting reservation fails with 409 and leaves nothing behind.
// @Resource Suggestions
// @Accept json
// @Produce json
// @Param request body ProposeSuggestionRequest true "Proposal payload"
// @Success 201 {object} dispatch.Suggestion
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/suggestions [post]
func (s *Server) handleProposeSuggestion(w http.ResponseWriter, r *http.Request) {
	var req ProposeSuggestionRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	suggestion, err := s.engine.Propose(r.Context(), dispatch.ProposeInput{
		IncidentID: req.IncidentID,
		UnitID:     req.UnitID,
		Vehicles:   req.Vehicles,
		ProposerID: callerID(r),
		Notes:      req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to propose dispatch")
		return
	}
	s.writeJSON(w, http.StatusCreated, suggestion)
}

// handleListPendingSuggestions godoc
// @Title List pending suggestions
// @Description Returns suggestions awaiting an ER decision, oldest first.
// @Resource Suggestions
// @Produce json
// @Success 200 {array} dispatch.Suggestion
// @Failure 500 {object} APIError
// @Route /v1/suggestions/pending [get]
func (s *Server) handleListPendingSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.engine.ListPendingSuggestions(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to list pending suggestions")
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(suggestions))
}

// handleGetSuggestion godoc
// @Title Get suggestion
// @Description Returns one suggestion in any state.
// @Resource Suggestions
// @Produce json
// @Param suggestionID path int true "Suggestion ID"
// @Success 200 {object} dispatch.Suggestion
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/suggestions/{suggestionID} [get]
func (s *Server) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	suggestionID, err := parseIDParam(r, "suggestionID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidSuggestionID, err.Error())
		return
	}
	suggestion, err := s.engine.GetSuggestion(r.Context(), suggestionID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get suggestion")
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}

// handleApproveSuggestion godoc
// @Title Approve suggestion
// @Description Turns a pending suggestion into a dispatch and notifies the unit members. Notification failures are reported in the response and do not undo the approval.
// @Resource Suggestions
// @Accept json
// @Produce json
// @Param suggestionID path int true "Suggestion ID"
// @Param request body DecisionRequest false "ER notes"
// @Success 200 {object} ApproveResponse
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/suggestions/{suggestionID}/approve [post]
func (s *Server) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	suggestionID, err := parseIDParam(r, "suggestionID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidSuggestionID, err.Error())
		return
	}
	var req DecisionRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	res, err := s.engine.Approve(r.Context(), dispatch.DecisionInput{
		SuggestionID: suggestionID,
		ApproverID:   callerID(r),
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to approve suggestion")
		return
	}
	s.writeJSON(w, http.StatusOK, mapApproveResult(res))
}

// handleRejectSuggestion godoc
// @Title Reject suggestion
// @Description Cancels a pending suggestion and releases the unit, its vehicles and the incident.
// @Resource Suggestions
// @Accept json
// @Produce json
// @Param suggestionID path int true "Suggestion ID"
// @Param request body DecisionRequest false "ER notes"
// @Success 200 {object} dispatch.Suggestion
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/suggestions/{suggestionID}/reject [post]
func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	suggestionID, err := parseIDParam(r, "suggestionID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidSuggestionID, err.Error())
		return
	}
	var req DecisionRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	suggestion, err := s.engine.Reject(r.Context(), dispatch.DecisionInput{
		SuggestionID: suggestionID,
		ApproverID:   callerID(r),
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to reject suggestion")
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}
