package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"rescue/dispatch/internal/dispatch"
)

func (s *Store) GetIncident(_ context.Context, id int64) (dispatch.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.incident(id)
}

func (s *Store) GetUnit(_ context.Context, id int64) (dispatch.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.unit(id)
}

func (s *Store) GetSuggestion(_ context.Context, id int64) (dispatch.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.suggestion(id)
}

// ListSuggestions returns suggestions in any of statuses, oldest first. No statuses means all.
func (s *Store) ListSuggestions(_ context.Context, statuses ...dispatch.SuggestionStatus) ([]dispatch.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []dispatch.Suggestion{}
	for _, sg := range s.state.suggestions {
		if len(statuses) > 0 && !slices.Contains(statuses, sg.Status) {
			continue
		}
		sg.Vehicles = slices.Clone(sg.Vehicles)
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListPendingBefore(_ context.Context, before time.Time) ([]dispatch.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []dispatch.Suggestion{}
	for _, sg := range s.state.suggestions {
		if sg.Status == dispatch.StatusPending && sg.ProposedAt.Before(before) {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListActivity(_ context.Context, suggestionID int64) ([]dispatch.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []dispatch.Activity{}
	for _, a := range s.state.activity {
		if a.SuggestionID == suggestionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListVehiclesHeldBy(_ context.Context, suggestionID int64) ([]dispatch.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.state.heldBy(suggestionID)
	if out == nil {
		out = []dispatch.Vehicle{}
	}
	return out, nil
}

// ListAvailableUnits returns active, unreserved units, optionally of one type
// (case-insensitive), with roster and free-vehicle counts.
func (s *Store) ListAvailableUnits(_ context.Context, unitType string) ([]dispatch.UnitCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	free := map[int64]int{}
	for _, v := range s.state.vehicles {
		if v.Status == dispatch.Available {
			free[v.UnitID]++
		}
	}

	out := []dispatch.UnitCandidate{}
	for _, u := range s.state.units {
		if u.Status != dispatch.UnitStatusActive || u.CurrentStatus != dispatch.Available {
			continue
		}
		if unitType != "" && !strings.EqualFold(u.Type, unitType) {
			continue
		}
		out = append(out, dispatch.UnitCandidate{
			Unit:                  u,
			VolunteerCount:        len(s.state.members[u.ID]),
			AvailableVehicleCount: free[u.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListAvailableVehicles(_ context.Context, unitID int64) ([]dispatch.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []dispatch.Vehicle{}
	for _, v := range s.state.vehicles {
		if v.UnitID == unitID && v.Status == dispatch.Available {
			out = append(out, v)
		}
	}
	sortVehicles(out)
	return out, nil
}

func (s *Store) ListMembers(_ context.Context, unitID int64) ([]dispatch.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.state.members[unitID])
	if out == nil {
		out = []dispatch.Member{}
	}
	return out, nil
}

func (s *Store) Snapshot(_ context.Context) (dispatch.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap dispatch.Snapshot
	for _, i := range s.state.incidents {
		snap.Incidents = append(snap.Incidents, i)
	}
	for _, u := range s.state.units {
		snap.Units = append(snap.Units, u)
	}
	for _, v := range s.state.vehicles {
		snap.Vehicles = append(snap.Vehicles, v)
	}
	for _, sg := range s.state.suggestions {
		sg.Vehicles = slices.Clone(sg.Vehicles)
		snap.Suggestions = append(snap.Suggestions, sg)
	}
	return snap, nil
}

// UpsertIncident inserts a new incident ready for dispatch, or refreshes the descriptive
// fields of a known one. Dispatch state is never overwritten.
func (s *Store) UpsertIncident(_ context.Context, in dispatch.NewIncident) (dispatch.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ReportedAt.IsZero() {
		in.ReportedAt = s.now()
	}
	i, ok := s.state.incidents[in.ID]
	if !ok {
		i = dispatch.Incident{
			ID:             in.ID,
			Status:         dispatch.IncidentStatusPending,
			DispatchStatus: dispatch.DispatchStatusForDispatch,
			ReportedAt:     in.ReportedAt,
		}
	}
	i.Title = in.Title
	i.EmergencyType = in.EmergencyType
	i.Severity = in.Severity
	i.Location = in.Location
	i.Description = in.Description
	s.state.incidents[i.ID] = i
	return i, nil
}

func (s *Store) CreateUnit(_ context.Context, in dispatch.NewUnit) (dispatch.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.lastUnit++
	u := dispatch.Unit{
		ID:            s.state.lastUnit,
		Name:          in.Name,
		Type:          in.Type,
		Status:        dispatch.UnitStatusActive,
		CurrentStatus: dispatch.Available,
		UpdatedAt:     s.now(),
	}
	s.state.units[u.ID] = u
	return u, nil
}

// RegisterVehicle adds an available vehicle to a unit, or renames a known one. A vehicle
// cannot move between units while it is reserved.
func (s *Store) RegisterVehicle(_ context.Context, v dispatch.Vehicle) (dispatch.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.state.unit(v.UnitID); err != nil {
		return dispatch.Vehicle{}, err
	}
	existing, ok := s.state.vehicles[v.ID]
	if !ok {
		v.Status = dispatch.Available
		v.SuggestionID, v.DispatchID = nil, nil
		s.state.vehicles[v.ID] = v
		return v, nil
	}
	if existing.UnitID != v.UnitID && existing.Status != dispatch.Available {
		return dispatch.Vehicle{}, fmt.Errorf("%w: vehicle %d is %s", dispatch.ErrVehicleUnavailable, v.ID, existing.Status)
	}
	existing.UnitID = v.UnitID
	existing.Name = v.Name
	existing.Type = v.Type
	s.state.vehicles[v.ID] = existing
	return existing, nil
}

// AddMember puts a volunteer on a unit roster.
func (s *Store) AddMember(_ context.Context, m dispatch.Member) (dispatch.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.state.unit(m.UnitID); err != nil {
		return dispatch.Member{}, err
	}
	s.state.lastMember++
	m.ID = s.state.lastMember
	s.state.members[m.UnitID] = append(s.state.members[m.UnitID], m)
	return m, nil
}

// SetUnitStatus takes a unit in or out of service.
func (s *Store) SetUnitStatus(_ context.Context, unitID int64, status dispatch.UnitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.state.unit(unitID)
	if err != nil {
		return err
	}
	u.Status = status
	u.UpdatedAt = s.now()
	s.state.units[u.ID] = u
	return nil
}
