package dispatch

import "fmt"

// VerifyConsistency checks a snapshot for reservation invariants and returns one error per
// violation found. A nil result means the state is consistent.
func VerifyConsistency(snap Snapshot) []error {
	var problems []error
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	suggestions := make(map[int64]Suggestion, len(snap.Suggestions))
	liveByUnit := map[int64][]int64{}
	liveByIncident := map[int64][]int64{}
	for _, s := range snap.Suggestions {
		suggestions[s.ID] = s
		if !s.Status.Terminal() {
			liveByUnit[s.UnitID] = append(liveByUnit[s.UnitID], s.ID)
			liveByIncident[s.IncidentID] = append(liveByIncident[s.IncidentID], s.ID)
		}
	}
	units := make(map[int64]Unit, len(snap.Units))
	for _, u := range snap.Units {
		units[u.ID] = u
	}
	vehicles := make(map[int64]Vehicle, len(snap.Vehicles))
	for _, v := range snap.Vehicles {
		vehicles[v.ID] = v
	}

	for _, u := range snap.Units {
		live := liveByUnit[u.ID]
		if len(live) > 1 {
			report("unit %d is held by %d open suggestions %v", u.ID, len(live), live)
		}
		switch u.CurrentStatus {
		case Available:
			if u.CurrentDispatchID != nil {
				report("unit %d is available but references suggestion %d", u.ID, *u.CurrentDispatchID)
			}
			if len(live) > 0 {
				report("unit %d is available but open suggestion %d references it", u.ID, live[0])
			}
		case Suggested, Dispatched:
			if u.CurrentDispatchID == nil {
				report("unit %d is %s without a suggestion reference", u.ID, u.CurrentStatus)
				continue
			}
			s, ok := suggestions[*u.CurrentDispatchID]
			if !ok {
				report("unit %d references missing suggestion %d", u.ID, *u.CurrentDispatchID)
				continue
			}
			if s.UnitID != u.ID {
				report("unit %d references suggestion %d of unit %d", u.ID, s.ID, s.UnitID)
			}
			if want := availabilityFor(s.Status); want != u.CurrentStatus {
				report("unit %d is %s but suggestion %d is %s", u.ID, u.CurrentStatus, s.ID, s.Status)
			}
		default:
			report("unit %d has unknown status %q", u.ID, u.CurrentStatus)
		}
	}

	for _, v := range snap.Vehicles {
		switch v.Status {
		case Available:
			if v.SuggestionID != nil || v.DispatchID != nil {
				report("vehicle %d is available but still holds a reference", v.ID)
			}
		case Suggested:
			if v.SuggestionID == nil || v.DispatchID != nil {
				report("vehicle %d is suggested with inconsistent references", v.ID)
				continue
			}
			if s, ok := suggestions[*v.SuggestionID]; !ok || s.Status != StatusPending {
				report("vehicle %d is suggested but suggestion %d is not pending", v.ID, *v.SuggestionID)
			}
		case Dispatched:
			if v.DispatchID == nil {
				report("vehicle %d is dispatched without a dispatch reference", v.ID)
				continue
			}
			if s, ok := suggestions[*v.DispatchID]; !ok || !s.Status.Active() {
				report("vehicle %d is dispatched but suggestion %d is not active", v.ID, *v.DispatchID)
			}
		default:
			report("vehicle %d has unknown status %q", v.ID, v.Status)
		}
	}

	for _, s := range snap.Suggestions {
		if s.Status.Terminal() {
			continue
		}
		want := availabilityFor(s.Status)
		if u, ok := units[s.UnitID]; ok && !holds(u.CurrentDispatchID, s.ID) {
			report("open suggestion %d is not referenced by its unit %d", s.ID, s.UnitID)
		}
		for _, ref := range s.Vehicles {
			v, ok := vehicles[ref.ID]
			if !ok {
				report("suggestion %d lists missing vehicle %d", s.ID, ref.ID)
				continue
			}
			if v.Status != want {
				report("suggestion %d is %s but vehicle %d is %s", s.ID, s.Status, v.ID, v.Status)
			}
			if !holds(v.SuggestionID, s.ID) && !holds(v.DispatchID, s.ID) {
				report("suggestion %d lists vehicle %d which does not reference it", s.ID, v.ID)
			}
		}
	}

	for _, inc := range snap.Incidents {
		live := liveByIncident[inc.ID]
		if len(live) > 1 {
			report("incident %d has %d open suggestions %v", inc.ID, len(live), live)
		}
		if len(live) == 1 {
			if !holds(inc.DispatchID, live[0]) {
				report("incident %d does not reference its open suggestion %d", inc.ID, live[0])
			}
			if inc.DispatchStatus != DispatchStatusProcessing {
				report("incident %d has open suggestion %d but is %s", inc.ID, live[0], inc.DispatchStatus)
			}
		}
		if len(live) == 0 && inc.DispatchStatus == DispatchStatusProcessing {
			report("incident %d is processing without an open suggestion", inc.ID)
		}
	}

	return problems
}

func availabilityFor(s SuggestionStatus) Availability {
	switch {
	case s == StatusPending:
		return Suggested
	case s.Active():
		return Dispatched
	default:
		return Available
	}
}
