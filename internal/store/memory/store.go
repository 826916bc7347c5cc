// Package memory is an in-process implementation of the dispatch store. Transactions are
// serialized and run against a private copy of the state that replaces the committed state
// only when the transaction succeeds.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"rescue/dispatch/internal/dispatch"
)

var (
	_ dispatch.Store    = (*Store)(nil)
	_ dispatch.Registry = (*Store)(nil)
)

type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

type state struct {
	incidents   map[int64]dispatch.Incident
	units       map[int64]dispatch.Unit
	members     map[int64][]dispatch.Member
	vehicles    map[int64]dispatch.Vehicle
	suggestions map[int64]dispatch.Suggestion
	activity    []dispatch.Activity

	lastUnit       int64
	lastMember     int64
	lastSuggestion int64
	lastActivity   int64
}

func New() *Store {
	return &Store{
		state: &state{
			incidents:   map[int64]dispatch.Incident{},
			units:       map[int64]dispatch.Unit{},
			members:     map[int64][]dispatch.Member{},
			vehicles:    map[int64]dispatch.Vehicle{},
			suggestions: map[int64]dispatch.Suggestion{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *state) clone() *state {
	c := *s
	c.incidents = cloneMap(s.incidents)
	c.units = cloneMap(s.units)
	c.vehicles = cloneMap(s.vehicles)
	c.members = make(map[int64][]dispatch.Member, len(s.members))
	for k, v := range s.members {
		c.members[k] = slices.Clone(v)
	}
	c.suggestions = make(map[int64]dispatch.Suggestion, len(s.suggestions))
	for k, v := range s.suggestions {
		v.Vehicles = slices.Clone(v.Vehicles)
		c.suggestions[k] = v
	}
	c.activity = slices.Clone(s.activity)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// InTx serializes transactions. fn works on a copy; the copy is committed only if fn
// returns nil, so a failed transaction leaves no trace.
func (s *Store) InTx(ctx context.Context, fn func(dispatch.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) SuggestionForUpdate(_ context.Context, id int64) (dispatch.Suggestion, error) {
	return t.st.suggestion(id)
}

func (t *tx) IncidentForUpdate(_ context.Context, id int64) (dispatch.Incident, error) {
	return t.st.incident(id)
}

func (t *tx) UnitForUpdate(_ context.Context, id int64) (dispatch.Unit, error) {
	return t.st.unit(id)
}

func (t *tx) VehiclesForUpdate(_ context.Context, ids []int64) ([]dispatch.Vehicle, error) {
	out := make([]dispatch.Vehicle, 0, len(ids))
	for _, id := range ids {
		if v, ok := t.st.vehicles[id]; ok {
			out = append(out, v)
		}
	}
	sortVehicles(out)
	return out, nil
}

func (t *tx) VehiclesHeldBy(_ context.Context, suggestionID int64) ([]dispatch.Vehicle, error) {
	return t.st.heldBy(suggestionID), nil
}

func (t *tx) CountLiveSuggestionsForUnit(_ context.Context, unitID int64) (int, error) {
	n := 0
	for _, s := range t.st.suggestions {
		if s.UnitID == unitID && !s.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateVehicle(_ context.Context, v dispatch.Vehicle) (dispatch.Vehicle, error) {
	if existing, ok := t.st.vehicles[v.ID]; ok {
		return existing, nil
	}
	t.st.vehicles[v.ID] = v
	return v, nil
}

func (t *tx) CreateSuggestion(_ context.Context, s dispatch.Suggestion) (dispatch.Suggestion, error) {
	t.st.lastSuggestion++
	s.ID = t.st.lastSuggestion
	s.Vehicles = slices.Clone(s.Vehicles)
	t.st.suggestions[s.ID] = s
	return s, nil
}

func (t *tx) UpdateSuggestion(_ context.Context, s dispatch.Suggestion) error {
	if _, ok := t.st.suggestions[s.ID]; !ok {
		return fmt.Errorf("%w: %d", dispatch.ErrSuggestionNotFound, s.ID)
	}
	s.Vehicles = slices.Clone(s.Vehicles)
	t.st.suggestions[s.ID] = s
	return nil
}

func (t *tx) UpdateIncident(_ context.Context, i dispatch.Incident) error {
	if _, ok := t.st.incidents[i.ID]; !ok {
		return fmt.Errorf("%w: %d", dispatch.ErrIncidentNotFound, i.ID)
	}
	t.st.incidents[i.ID] = i
	return nil
}

func (t *tx) UpdateUnit(_ context.Context, u dispatch.Unit) error {
	if _, ok := t.st.units[u.ID]; !ok {
		return fmt.Errorf("%w: %d", dispatch.ErrUnitNotFound, u.ID)
	}
	t.st.units[u.ID] = u
	return nil
}

func (t *tx) UpdateVehicle(_ context.Context, v dispatch.Vehicle) error {
	if _, ok := t.st.vehicles[v.ID]; !ok {
		return fmt.Errorf("%w: vehicle %d not found", dispatch.ErrVehicleUnavailable, v.ID)
	}
	t.st.vehicles[v.ID] = v
	return nil
}

func (t *tx) AppendActivity(_ context.Context, a dispatch.Activity) error {
	t.st.lastActivity++
	a.ID = t.st.lastActivity
	t.st.activity = append(t.st.activity, a)
	return nil
}

func (s *state) incident(id int64) (dispatch.Incident, error) {
	i, ok := s.incidents[id]
	if !ok {
		return dispatch.Incident{}, fmt.Errorf("%w: %d", dispatch.ErrIncidentNotFound, id)
	}
	return i, nil
}

func (s *state) unit(id int64) (dispatch.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return dispatch.Unit{}, fmt.Errorf("%w: %d", dispatch.ErrUnitNotFound, id)
	}
	return u, nil
}

func (s *state) suggestion(id int64) (dispatch.Suggestion, error) {
	sg, ok := s.suggestions[id]
	if !ok {
		return dispatch.Suggestion{}, fmt.Errorf("%w: %d", dispatch.ErrSuggestionNotFound, id)
	}
	sg.Vehicles = slices.Clone(sg.Vehicles)
	return sg, nil
}

func (s *state) heldBy(suggestionID int64) []dispatch.Vehicle {
	var out []dispatch.Vehicle
	for _, v := range s.vehicles {
		if (v.SuggestionID != nil && *v.SuggestionID == suggestionID) ||
			(v.DispatchID != nil && *v.DispatchID == suggestionID) {
			out = append(out, v)
		}
	}
	sortVehicles(out)
	return out
}

func sortVehicles(vs []dispatch.Vehicle) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}
