package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fireUnit(volunteers, vehicles int) UnitCandidate {
	return UnitCandidate{
		Unit:                  Unit{ID: 5, Type: "Fire", Status: UnitStatusActive, CurrentStatus: Available},
		VolunteerCount:        volunteers,
		AvailableVehicleCount: vehicles,
	}
}

func TestScoreCriticalFireMatch(t *testing.T) {
	incident := Incident{ID: 1, EmergencyType: "fire", Severity: SeverityCritical, DispatchStatus: DispatchStatusForDispatch}
	scorer := NewScorerWithJitter(func() float64 { return 0 })

	got := scorer.Score(fireUnit(8, 2), incident)

	assert.Equal(t, 40.0, got.TypeMatch)
	assert.Equal(t, 24.0, got.Volunteers)
	assert.Equal(t, 10.0, got.Vehicles)
	assert.Equal(t, 1.3, got.Multiplier)
	assert.GreaterOrEqual(t, got.Value, 85.0)
	assert.Equal(t, TierHigh, got.Tier)
}

func TestScoreRandomJitterStaysInRange(t *testing.T) {
	incident := Incident{EmergencyType: "fire", Severity: SeverityCritical}
	scorer := NewScorer()

	// (40 + 24 + 10) * 1.3 = 96.2, so the jittered value lands in [86.2, 100].
	for i := 0; i < 200; i++ {
		got := scorer.Score(fireUnit(8, 2), incident)
		assert.GreaterOrEqual(t, got.Value, 86.2)
		assert.LessOrEqual(t, got.Value, 100.0)
		assert.GreaterOrEqual(t, got.Jitter, -10.0)
		assert.LessOrEqual(t, got.Jitter, 10.0)
	}
}

func TestScoreCapsAndMultipliers(t *testing.T) {
	noJitter := NewScorerWithJitter(func() float64 { return 0 })

	cases := []struct {
		name     string
		unit     UnitCandidate
		incident Incident
		want     float64
	}{
		{
			name:     "volunteer and vehicle caps",
			unit:     fireUnit(20, 9),
			incident: Incident{EmergencyType: "fire", Severity: SeverityMedium},
			want:     80,
		},
		{
			name:     "cross type baseline at low severity",
			unit:     UnitCandidate{Unit: Unit{Type: "EMS"}, VolunteerCount: 2, AvailableVehicleCount: 1},
			incident: Incident{EmergencyType: "flood", Severity: SeverityLow},
			want:     (22 + 6 + 5) * 0.8,
		},
		{
			name:     "unknown emergency type",
			unit:     UnitCandidate{Unit: Unit{Type: "Rescue"}},
			incident: Incident{EmergencyType: "alien landing", Severity: SeverityHigh},
			want:     24,
		},
		{
			name:     "unknown severity uses neutral multiplier",
			unit:     UnitCandidate{Unit: Unit{Type: "Water Rescue"}},
			incident: Incident{EmergencyType: "Flood", Severity: "extreme"},
			want:     40,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := noJitter.Score(tc.unit, tc.incident)
			assert.InDelta(t, tc.want, got.Value, 0.05)
		})
	}
}

func TestScoreClampsJitterAndBounds(t *testing.T) {
	high := NewScorerWithJitter(func() float64 { return 50 })
	got := high.Score(fireUnit(20, 9), Incident{EmergencyType: "fire", Severity: SeverityCritical})
	assert.Equal(t, 10.0, got.Jitter)
	assert.Equal(t, 100.0, got.Value)

	low := NewScorerWithJitter(func() float64 { return -50 })
	got = low.Score(UnitCandidate{Unit: Unit{Type: "EMS"}}, Incident{EmergencyType: "fire", Severity: SeverityLow})
	assert.Equal(t, -10.0, got.Jitter)
	assert.GreaterOrEqual(t, got.Value, 0.0)
}

func TestTierFor(t *testing.T) {
	cases := map[float64]Tier{
		100:  TierHigh,
		85:   TierHigh,
		84.9: TierMediumHigh,
		70:   TierMediumHigh,
		55:   TierMedium,
		54.9: TierLowMedium,
		40:   TierLowMedium,
		39.9: TierLow,
		0:    TierLow,
	}
	for value, want := range cases {
		assert.Equal(t, want, TierFor(value), "score %v", value)
	}
}

func TestTypeMatchNormalizesNames(t *testing.T) {
	assert.Equal(t, 40.0, TypeMatch("Vehicular Accident", "rescue"))
	assert.Equal(t, 40.0, TypeMatch("flood", "Water-Rescue"))
	assert.Equal(t, 20.0, TypeMatch("medical", "Hazmat"))
}
