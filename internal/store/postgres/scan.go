package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rescue/dispatch/internal/dispatch"
)

const (
	incidentColumns = `id, title, emergency_type, severity, location, description, status,
		dispatch_status, dispatch_id, responder, reported_at, resolved_at`

	unitColumns = `id, name, type, status, current_status, current_dispatch_id, updated_at`

	vehicleColumns = `id, unit_id, name, type, status, suggestion_id, dispatch_id`

	suggestionColumns = `id, incident_id, unit_id, vehicles, status, score, proposed_at,
		status_updated_at, dispatched_at, en_route_at, arrived_at, completed_at, notes,
		er_notes, proposer_id, approver_id`

	memberColumns = `id, unit_id, name, email, user_id`

	activityColumns = `id, suggestion_id, from_status, to_status, actor, notes, at`

	liveStatuses = `('pending', 'dispatched', 'en_route', 'arrived')`
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func scanIncident(row pgx.Row) (dispatch.Incident, error) {
	var i dispatch.Incident
	err := row.Scan(&i.ID, &i.Title, &i.EmergencyType, &i.Severity, &i.Location, &i.Description, &i.Status,
		&i.DispatchStatus, &i.DispatchID, &i.Responder, &i.ReportedAt, &i.ResolvedAt)
	return i, err
}

func scanUnit(row pgx.Row) (dispatch.Unit, error) {
	var u dispatch.Unit
	err := row.Scan(&u.ID, &u.Name, &u.Type, &u.Status, &u.CurrentStatus, &u.CurrentDispatchID, &u.UpdatedAt)
	return u, err
}

func scanVehicle(row pgx.Row) (dispatch.Vehicle, error) {
	var v dispatch.Vehicle
	err := row.Scan(&v.ID, &v.UnitID, &v.Name, &v.Type, &v.Status, &v.SuggestionID, &v.DispatchID)
	return v, err
}

func scanSuggestion(row pgx.Row) (dispatch.Suggestion, error) {
	var (
		s        dispatch.Suggestion
		vehicles []byte
	)
	err := row.Scan(&s.ID, &s.IncidentID, &s.UnitID, &vehicles, &s.Status, &s.Score, &s.ProposedAt,
		&s.StatusUpdatedAt, &s.DispatchedAt, &s.EnRouteAt, &s.ArrivedAt, &s.CompletedAt, &s.Notes,
		&s.ERNotes, &s.ProposerID, &s.ApproverID)
	if err != nil {
		return dispatch.Suggestion{}, err
	}
	s.Vehicles = []dispatch.VehicleRef{}
	if len(vehicles) > 0 {
		if err := json.Unmarshal(vehicles, &s.Vehicles); err != nil {
			return dispatch.Suggestion{}, fmt.Errorf("decode vehicles of suggestion %d: %w", s.ID, err)
		}
	}
	return s, nil
}

func scanMember(row pgx.Row) (dispatch.Member, error) {
	var m dispatch.Member
	err := row.Scan(&m.ID, &m.UnitID, &m.Name, &m.Email, &m.UserID)
	return m, err
}

func scanActivity(row pgx.Row) (dispatch.Activity, error) {
	var a dispatch.Activity
	err := row.Scan(&a.ID, &a.SuggestionID, &a.From, &a.To, &a.Actor, &a.Notes, &a.At)
	return a, err
}

// collect drains rows with scan. The result is never nil so it encodes as [].
func collect[T any](rows pgx.Rows, err error, scan func(pgx.Row) (T, error)) ([]T, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// notFound maps pgx.ErrNoRows to sentinel, annotated with id.
func notFound(err, sentinel error, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", sentinel, id)
	}
	return err
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func encodeVehicles(refs []dispatch.VehicleRef) ([]byte, error) {
	if refs == nil {
		refs = []dispatch.VehicleRef{}
	}
	return json.Marshal(refs)
}
