package dispatch

import (
	"math"
	"math/rand/v2"
	"strings"
)

type Tier string

const (
	TierHigh       Tier = "High"
	TierMediumHigh Tier = "Medium-High"
	TierMedium     Tier = "Medium"
	TierLowMedium  Tier = "Low-Medium"
	TierLow        Tier = "Low"
)

const (
	maxTypeMatch      = 40
	crossTypeBaseline = 20
	volunteerPoints   = 3
	maxVolunteer      = 25
	vehiclePoints     = 5
	maxVehicle        = 15
	maxJitter         = 10
)

// typeMatch scores emergency type (rows) against unit type (columns). Pairs not listed
// fall back to crossTypeBaseline.
var typeMatch = map[string]map[string]float64{
	"fire": {
		"fire": 40, "rescue": 30, "hazmat": 25, "ems": 22,
	},
	"medical": {
		"ems": 40, "medical": 40, "rescue": 30,
	},
	"rescue": {
		"rescue": 40, "water_rescue": 35, "fire": 30, "ems": 25,
	},
	"flood": {
		"water_rescue": 40, "rescue": 35, "ems": 22,
	},
	"earthquake": {
		"rescue": 40, "ems": 30, "fire": 25,
	},
	"vehicular_accident": {
		"rescue": 40, "ems": 35, "fire": 30,
	},
	"hazmat": {
		"hazmat": 40, "fire": 35, "ems": 22,
	},
}

var severityMultiplier = map[Severity]float64{
	SeverityCritical: 1.3,
	SeverityHigh:     1.2,
	SeverityMedium:   1.0,
	SeverityLow:      0.8,
}

// Score is the ranking of one unit for one incident. Only Value and Tier are meant for
// display; the remaining fields expose the breakdown.
type Score struct {
	Value      float64 `json:"value"`
	Tier       Tier    `json:"tier"`
	TypeMatch  float64 `json:"type_match"`
	Volunteers float64 `json:"volunteers"`
	Vehicles   float64 `json:"vehicles"`
	Multiplier float64 `json:"multiplier"`
	Jitter     float64 `json:"jitter"`
}

// Scorer ranks candidate units. The default jitter is random, so two calls with the same
// inputs may disagree by up to 2*maxJitter points; it stands in for proximity and traffic,
// which are not modeled.
type Scorer struct {
	jitter func() float64
}

// NewScorer returns a scorer with uniform random jitter in [-10, 10].
func NewScorer() *Scorer {
	return &Scorer{jitter: func() float64 { return rand.Float64()*2*maxJitter - maxJitter }}
}

// NewScorerWithJitter returns a scorer using fn for jitter. Values outside [-10, 10] are
// clamped.
func NewScorerWithJitter(fn func() float64) *Scorer {
	return &Scorer{jitter: fn}
}

// Score computes the weighted score of unit for incident.
func (s *Scorer) Score(unit UnitCandidate, incident Incident) Score {
	match := TypeMatch(incident.EmergencyType, unit.Type)
	volunteers := math.Min(float64(unit.VolunteerCount*volunteerPoints), maxVolunteer)
	vehicles := math.Min(float64(unit.AvailableVehicleCount*vehiclePoints), maxVehicle)

	multiplier, ok := severityMultiplier[incident.Severity]
	if !ok {
		multiplier = 1.0
	}

	var jitter float64
	if s != nil && s.jitter != nil {
		jitter = math.Max(-maxJitter, math.Min(maxJitter, s.jitter()))
	}

	value := (match+volunteers+vehicles)*multiplier + jitter
	value = math.Round(math.Max(0, math.Min(100, value))*10) / 10

	return Score{
		Value:      value,
		Tier:       TierFor(value),
		TypeMatch:  match,
		Volunteers: volunteers,
		Vehicles:   vehicles,
		Multiplier: multiplier,
		Jitter:     jitter,
	}
}

// TierFor maps a score to its recommendation band.
func TierFor(value float64) Tier {
	switch {
	case value >= 85:
		return TierHigh
	case value >= 70:
		return TierMediumHigh
	case value >= 55:
		return TierMedium
	case value >= 40:
		return TierLowMedium
	default:
		return TierLow
	}
}

// TypeMatch returns the emergency/unit type affinity, between crossTypeBaseline and
// maxTypeMatch.
func TypeMatch(emergencyType, unitType string) float64 {
	row, ok := typeMatch[normalizeType(emergencyType)]
	if !ok {
		return crossTypeBaseline
	}
	if v, ok := row[normalizeType(unitType)]; ok {
		return math.Min(v, maxTypeMatch)
	}
	return crossTypeBaseline
}

func normalizeType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(v)
}
