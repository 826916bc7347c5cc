package dispatch

import (
	"context"
	"time"
)

// Tx is the transaction-scoped view of the resource store. Every *ForUpdate read holds the
// row until the transaction ends, so checks made on the returned values stay valid for
// the writes that follow.
//
// Callers lock in a fixed order (suggestion, incident, unit, vehicles by ascending id).
type Tx interface {
	SuggestionForUpdate(ctx context.Context, id int64) (Suggestion, error)
	IncidentForUpdate(ctx context.Context, id int64) (Incident, error)
	UnitForUpdate(ctx context.Context, id int64) (Unit, error)
	// VehiclesForUpdate returns the vehicles that exist among ids; unknown ids are omitted.
	VehiclesForUpdate(ctx context.Context, ids []int64) ([]Vehicle, error)
	// VehiclesHeldBy returns every vehicle whose suggestion or dispatch reference is id.
	VehiclesHeldBy(ctx context.Context, suggestionID int64) ([]Vehicle, error)
	// CountLiveSuggestionsForUnit counts non-terminal suggestions referencing the unit.
	CountLiveSuggestionsForUnit(ctx context.Context, unitID int64) (int, error)

	CreateVehicle(ctx context.Context, v Vehicle) (Vehicle, error)
	CreateSuggestion(ctx context.Context, s Suggestion) (Suggestion, error)
	UpdateSuggestion(ctx context.Context, s Suggestion) error
	UpdateIncident(ctx context.Context, i Incident) error
	UpdateUnit(ctx context.Context, u Unit) error
	UpdateVehicle(ctx context.Context, v Vehicle) error
	AppendActivity(ctx context.Context, a Activity) error
}

// ReadStore serves last-committed projections. It never observes an uncommitted
// transaction.
type ReadStore interface {
	GetIncident(ctx context.Context, id int64) (Incident, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	GetSuggestion(ctx context.Context, id int64) (Suggestion, error)
	ListSuggestions(ctx context.Context, statuses ...SuggestionStatus) ([]Suggestion, error)
	ListPendingBefore(ctx context.Context, before time.Time) ([]Suggestion, error)
	ListActivity(ctx context.Context, suggestionID int64) ([]Activity, error)
	ListVehiclesHeldBy(ctx context.Context, suggestionID int64) ([]Vehicle, error)

	ListAvailableUnits(ctx context.Context, unitType string) ([]UnitCandidate, error)
	ListAvailableVehicles(ctx context.Context, unitID int64) ([]Vehicle, error)
	ListMembers(ctx context.Context, unitID int64) ([]Member, error)

	Snapshot(ctx context.Context) (Snapshot, error)
}

// Store is the full contract the engine runs on.
type Store interface {
	ReadStore
	// InTx runs fn in one atomic transaction. If fn returns an error nothing it wrote is
	// kept and that error is returned.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// NewIncident carries an incident record delivered by the emergency-communications feed.
type NewIncident struct {
	ID            int64
	Title         string
	EmergencyType string
	Severity      Severity
	Location      string
	Description   string
	ReportedAt    time.Time
}

// NewUnit registers a response team.
type NewUnit struct {
	Name string
	Type string
}

// Registry is implemented by stores that accept resource records from the feed and
// registration endpoints. Writes never touch reservation fields of existing rows.
type Registry interface {
	UpsertIncident(ctx context.Context, in NewIncident) (Incident, error)
	CreateUnit(ctx context.Context, in NewUnit) (Unit, error)
	RegisterVehicle(ctx context.Context, v Vehicle) (Vehicle, error)
	AddMember(ctx context.Context, m Member) (Member, error)
	SetUnitStatus(ctx context.Context, unitID int64, status UnitStatus) error
}
