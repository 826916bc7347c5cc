// Package dispatch implements the reservation, approval and tracking engine that pairs
// response units and their vehicles with reported incidents.
package dispatch

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DispatchStatus mirrors the incident lifecycle from the dispatch point of view.
type DispatchStatus string

const (
	DispatchStatusForDispatch DispatchStatus = "for_dispatch"
	DispatchStatusProcessing  DispatchStatus = "processing"
	DispatchStatusClosed      DispatchStatus = "closed"
)

// IncidentStatus is the operational status shown to the emergency-response desk.
type IncidentStatus string

const (
	IncidentStatusPending    IncidentStatus = "pending"
	IncidentStatusProcessing IncidentStatus = "processing"
	IncidentStatusClosed     IncidentStatus = "closed"
)

// UnitStatus tells whether a unit is in service at all.
type UnitStatus string

const (
	UnitStatusActive   UnitStatus = "active"
	UnitStatusInactive UnitStatus = "inactive"
)

// Availability is shared by units and vehicles.
type Availability string

const (
	Available  Availability = "available"
	Suggested  Availability = "suggested"
	Dispatched Availability = "dispatched"
)

type SuggestionStatus string

const (
	StatusPending    SuggestionStatus = "pending"
	StatusDispatched SuggestionStatus = "dispatched"
	StatusEnRoute    SuggestionStatus = "en_route"
	StatusArrived    SuggestionStatus = "arrived"
	StatusCompleted  SuggestionStatus = "completed"
	StatusCancelled  SuggestionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SuggestionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the suggestion is an approved dispatch still in progress.
func (s SuggestionStatus) Active() bool {
	return s == StatusDispatched || s == StatusEnRoute || s == StatusArrived
}

type Incident struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	EmergencyType  string         `json:"emergency_type"`
	Severity       Severity       `json:"severity"`
	Location       string         `json:"location"`
	Description    string         `json:"description"`
	Status         IncidentStatus `json:"status"`
	DispatchStatus DispatchStatus `json:"dispatch_status"`
	DispatchID     *int64         `json:"dispatch_id,omitempty"`
	Responder      string         `json:"responder,omitempty"`
	ReportedAt     time.Time      `json:"reported_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// DisplayTitle is the headline used in notifications.
func (i Incident) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return i.EmergencyType
}

type Unit struct {
	ID                int64        `json:"id"`
	Name              string       `json:"name"`
	Type              string       `json:"type"`
	Status            UnitStatus   `json:"status"`
	CurrentStatus     Availability `json:"current_status"`
	CurrentDispatchID *int64       `json:"current_dispatch_id,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Member is a volunteer on a unit roster. The roster is maintained elsewhere.
type Member struct {
	ID     int64  `json:"id"`
	UnitID int64  `json:"unit_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type Vehicle struct {
	ID           int64        `json:"id"`
	UnitID       int64        `json:"unit_id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Status       Availability `json:"status"`
	SuggestionID *int64       `json:"suggestion_id,omitempty"`
	DispatchID   *int64       `json:"dispatch_id,omitempty"`
}

// Ref returns the embedded reference stored on a suggestion.
func (v Vehicle) Ref() VehicleRef {
	return VehicleRef{ID: v.ID, Name: v.Name, Type: v.Type}
}

// VehicleRef is the typed element of Suggestion.Vehicles.
type VehicleRef struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Name string `json:"name" validate:"max=120"`
	Type string `json:"type" validate:"max=60"`
}

// Suggestion is a proposed pairing of a unit and vehicles with an incident. Once approved
// it doubles as the dispatch record.
type Suggestion struct {
	ID              int64            `json:"id"`
	IncidentID      int64            `json:"incident_id"`
	UnitID          int64            `json:"unit_id"`
	Vehicles        []VehicleRef     `json:"vehicles"`
	Status          SuggestionStatus `json:"status"`
	Score           *float64         `json:"score,omitempty"`
	ProposedAt      time.Time        `json:"proposed_at"`
	StatusUpdatedAt time.Time        `json:"status_updated_at"`
	DispatchedAt    *time.Time       `json:"dispatched_at,omitempty"`
	EnRouteAt       *time.Time       `json:"en_route_at,omitempty"`
	ArrivedAt       *time.Time       `json:"arrived_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	ERNotes         string           `json:"er_notes,omitempty"`
	ProposerID      string           `json:"proposer_id"`
	ApproverID      string           `json:"approver_id,omitempty"`
}

// Activity is one committed transition of a suggestion.
type Activity struct {
	ID           int64            `json:"id"`
	SuggestionID int64            `json:"suggestion_id"`
	From         SuggestionStatus `json:"from,omitempty"`
	To           SuggestionStatus `json:"to"`
	Actor        string           `json:"actor"`
	Notes        string           `json:"notes,omitempty"`
	At           time.Time        `json:"at"`
}

// UnitCandidate is a unit as seen by the resource directory, with the aggregates the
// scorer needs.
type UnitCandidate struct {
	Unit
	VolunteerCount        int    `json:"volunteer_count"`
	AvailableVehicleCount int    `json:"available_vehicle_count"`
	Score                 *Score `json:"score,omitempty"`
}

// UnitFilter narrows ListAvailableUnits.
type UnitFilter struct {
	Type       string
	IncidentID int64
	Limit      int
}

// DispatchDetail is the dashboard projection of one suggestion.
type DispatchDetail struct {
	Suggestion Suggestion `json:"suggestion"`
	Incident   Incident   `json:"incident"`
	Unit       Unit       `json:"unit"`
	Vehicles   []Vehicle  `json:"vehicles"`
	Activity   []Activity `json:"activity"`
}

// Snapshot is a full copy of the resource state, used for consistency audits.
type Snapshot struct {
	Incidents   []Incident
	Units       []Unit
	Vehicles    []Vehicle
	Suggestions []Suggestion
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }
