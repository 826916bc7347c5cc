package server

import (
	"time"

	"rescue/dispatch/internal/dispatch"
)

type HealthResponse struct {
	Status string `json:"status"`
	Env    string `json:"env"`
	Store  string `json:"store"`
	Uptime string `json:"uptime"`
}

// IngestIncidentRequest is one record of the emergency-communications feed. The incident id
// is assigned upstream.
type IngestIncidentRequest struct {
	ID            int64      `json:"id" validate:"required,gt=0"`
	Title         string     `json:"title" validate:"max=200"`
	EmergencyType string     `json:"emergency_type" validate:"required,max=60"`
	Severity      string     `json:"severity" validate:"required,severity"`
	Location      string     `json:"location" validate:"required,max=300"`
	Description   string     `json:"description" validate:"max=4000"`
	ReportedAt    *time.Time `json:"reported_at"`
}

type CreateUnitRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	Type string `json:"type" validate:"required,max=60"`
}

type UpdateUnitStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

type RegisterVehicleRequest struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Name string `json:"name" validate:"required,max=120"`
	Type string `json:"type" validate:"max=60"`
}

type ProposeSuggestionRequest struct {
	IncidentID int64                 `json:"incident_id" validate:"required,gt=0"`
	UnitID     int64                 `json:"unit_id" validate:"required,gt=0"`
	Vehicles   []dispatch.VehicleRef `json:"vehicles" validate:"max=50,dive"`
	Notes      string                `json:"notes" validate:"max=2000"`
}

type DecisionRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type AdvanceDispatchRequest struct {
	Status string `json:"status" validate:"required,oneof=pending dispatched en_route arrived completed cancelled"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// ApproveResponse carries the approved dispatch and what the notification fan-out
// achieved. Delivery failures never undo the approval.
type ApproveResponse struct {
	Suggestion                 dispatch.Suggestion     `json:"suggestion"`
	EmailsSent                 int                     `json:"emails_sent"`
	DashboardNotificationsSent int                     `json:"dashboard_notifications_sent"`
	Notifications              dispatch.DeliveryReport `json:"notifications"`
}

type CandidatesResponse struct {
	Incident   dispatch.Incident        `json:"incident"`
	Candidates []dispatch.UnitCandidate `json:"candidates"`
}

func mapApproveResult(res dispatch.ApproveResult) ApproveResponse {
	return ApproveResponse{
		Suggestion:                 res.Suggestion,
		EmailsSent:                 res.Notifications.EmailsSent(),
		DashboardNotificationsSent: res.Notifications.DashboardNotificationsSent(),
		Notifications:              res.Notifications,
	}
}
