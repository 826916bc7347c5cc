package server

import (
	"net/http"
	"strings"

	"rescue/dispatch/internal/dispatch"
)

// handleListAvailableUnits godoc
// @Title List available units
// @Description Returns active units holding no reservation, with volunteer and available vehicle counts. With incident_id the units are scored and ranked.
// @Resource Units
// @Produce json
// @Param type query string false "Unit type filter"
// @Param incident_id query int false "Rank against this incident"
// @Param limit query int false "Maximum number of units"
// @Success 200 {array} dispatch.UnitCandidate
// @Failure 400 {object} APIError
// @Failure 500 {object} APIError
// @Route /v1/units [get]
func (s *Server) handleListAvailableUnits(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	incidentID, err := queryInt(r, "incident_id", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	units, err := s.directory.ListAvailableUnits(r.Context(), dispatch.UnitFilter{
		Type:       r.URL.Query().Get("type"),
		IncidentID: int64(incidentID),
		Limit:      limit,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to list units")
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(units))
}

// handleCreateUnit godoc
// @Title Create unit
// @Description Registers a new response unit. It starts active and available.
// @Resource Units
// @Accept json
// @Produce json
// @Param request body CreateUnitRequest true "Unit payload"
// @Success 201 {object} dispatch.Unit
// @Failure 400 {object} APIError
// @Failure 500 {object} APIError
// @Route /v1/units [post]
func (s *Server) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	unit, err := s.store.CreateUnit(r.Context(), dispatch.NewUnit{
		Name: strings.TrimSpace(req.Name),
		Type: strings.TrimSpace(req.Type),
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to create unit")
		return
	}
	s.writeJSON(w, http.StatusCreated, unit)
}

// handleGetUnit godoc
// @Title Get unit
// @Description Returns a unit with its current reservation.
// @Resource Units
// @Produce json
// @Param unitID path int true "Unit ID"
// @Success 200 {object} dispatch.Unit
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/units/{unitID} [get]
func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := parseIDParam(r, "unitID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidUnitID, err.Error())
		return
	}
	unit, err := s.store.GetUnit(r.Context(), unitID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get unit")
		return
	}
	s.writeJSON(w, http.StatusOK, unit)
}

// handleUpdateUnitStatus godoc
// @Title Update unit service status
// @Description Takes a unit in or out of service. Its reservation state is not touched.
// @Resource Units
// @Accept json
// @Produce json
// @Param unitID path int true "Unit ID"
// @Param request body UpdateUnitStatusRequest true "Status payload"
// @Success 200 {object} dispatch.Unit
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/units/{unitID}/status [patch]
func (s *Server) handleUpdateUnitStatus(w http.ResponseWriter, r *http.Request) {
	unitID, err := parseIDParam(r, "unitID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidUnitID, err.Error())
		return
	}
	var req UpdateUnitStatusRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	if err := s.store.SetUnitStatus(r.Context(), unitID, dispatch.UnitStatus(req.Status)); err != nil {
		s.writeDomainError(w, err, "failed to update unit status")
		return
	}
	unit, err := s.store.GetUnit(r.Context(), unitID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get unit")
		return
	}
	s.writeJSON(w, http.StatusOK, unit)
}

// handleListAvailableVehicles godoc
// @Title List available vehicles
// @Description Returns the unit's vehicles that are free to reserve.
// @Resource Units
// @Produce json
// @Param unitID path int true "Unit ID"
// @Success 200 {array} dispatch.Vehicle
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Route /v1/units/{unitID}/vehicles [get]
func (s *Server) handleListAvailableVehicles(w http.ResponseWriter, r *http.Request) {
	unitID, err := parseIDParam(r, "unitID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidUnitID, err.Error())
		return
	}
	vehicles, err := s.directory.ListAvailableVehicles(r.Context(), unitID)
	if err != nil {
		s.writeDomainError(w, err, "failed to list vehicles")
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(vehicles))
}

// handleRegisterVehicle godoc
// @Title Register vehicle
// @Description Adds a vehicle to the unit or updates a known one. A reserved vehicle cannot move to another unit.
// @Resource Units
// @Accept json
// @Produce json
// @Param unitID path int true "Unit ID"
// @Param request body RegisterVehicleRequest true "Vehicle payload"
// @Success 200 {object} dispatch.Vehicle
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/units/{unitID}/vehicles [post]
func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	unitID, err := parseIDParam(r, "unitID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidUnitID, err.Error())
		return
	}
	var req RegisterVehicleRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	vehicle, err := s.store.RegisterVehicle(r.Context(), dispatch.Vehicle{
		ID:     req.ID,
		UnitID: unitID,
		Name:   strings.TrimSpace(req.Name),
		Type:   strings.TrimSpace(req.Type),
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to register vehicle")
		return
	}
	s.writeJSON(w, http.StatusOK, vehicle)
}
