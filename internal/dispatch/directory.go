package dispatch

import (
	"context"
	"sort"
)

// Directory answers availability queries for the coordinator console.
type Directory struct {
	store  ReadStore
	scorer *Scorer
}

func NewDirectory(store ReadStore, scorer *Scorer) *Directory {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &Directory{store: store, scorer: scorer}
}

// ListAvailableUnits lists active units that hold no reservation. With an incident in the
// filter every candidate is scored against it and the list is ranked best first.
func (d *Directory) ListAvailableUnits(ctx context.Context, f UnitFilter) ([]UnitCandidate, error) {
	units, err := d.store.ListAvailableUnits(ctx, f.Type)
	if err != nil {
		return nil, err
	}

	if f.IncidentID != 0 {
		incident, err := d.store.GetIncident(ctx, f.IncidentID)
		if err != nil {
			return nil, err
		}
		for i := range units {
			score := d.scorer.Score(units[i], incident)
			units[i].Score = &score
		}
		sort.SliceStable(units, func(i, j int) bool {
			return units[i].Score.Value > units[j].Score.Value
		})
	}

	if f.Limit > 0 && len(units) > f.Limit {
		units = units[:f.Limit]
	}
	return units, nil
}

// ListAvailableVehicles lists the unit's vehicles that are free to reserve.
func (d *Directory) ListAvailableVehicles(ctx context.Context, unitID int64) ([]Vehicle, error) {
	if _, err := d.store.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	return d.store.ListAvailableVehicles(ctx, unitID)
}
