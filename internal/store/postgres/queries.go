package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"rescue/dispatch/internal/dispatch"
)

func (s *Store) GetIncident(ctx context.Context, id int64) (dispatch.Incident, error) {
	i, err := scanIncident(s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	return i, notFound(err, dispatch.ErrIncidentNotFound, id)
}

func (s *Store) GetUnit(ctx context.Context, id int64) (dispatch.Unit, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	return u, notFound(err, dispatch.ErrUnitNotFound, id)
}

func (s *Store) GetSuggestion(ctx context.Context, id int64) (dispatch.Suggestion, error) {
	sg, err := scanSuggestion(s.pool.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id))
	return sg, notFound(err, dispatch.ErrSuggestionNotFound, id)
}

func (s *Store) ListSuggestions(ctx context.Context, statuses ...dispatch.SuggestionStatus) ([]dispatch.Suggestion, error) {
	if len(statuses) == 0 {
		rows, err := s.pool.Query(ctx, `SELECT `+suggestionColumns+` FROM suggestions ORDER BY id`)
		return collect(rows, err, scanSuggestion)
	}
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+suggestionColumns+`
		FROM suggestions
		WHERE status = ANY($1)
		ORDER BY id
	`, names)
	return collect(rows, err, scanSuggestion)
}

func (s *Store) ListPendingBefore(ctx context.Context, before time.Time) ([]dispatch.Suggestion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+suggestionColumns+`
		FROM suggestions
		WHERE status = 'pending' AND proposed_at < $1
		ORDER BY id
	`, before)
	return collect(rows, err, scanSuggestion)
}

func (s *Store) ListActivity(ctx context.Context, suggestionID int64) ([]dispatch.Activity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+activityColumns+`
		FROM suggestion_activity
		WHERE suggestion_id = $1
		ORDER BY id
	`, suggestionID)
	return collect(rows, err, scanActivity)
}

func (s *Store) ListVehiclesHeldBy(ctx context.Context, suggestionID int64) ([]dispatch.Vehicle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE suggestion_id = $1 OR dispatch_id = $1
		ORDER BY id
	`, suggestionID)
	return collect(rows, err, scanVehicle)
}

func (s *Store) ListAvailableUnits(ctx context.Context, unitType string) ([]dispatch.UnitCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.name, u.type, u.status, u.current_status, u.current_dispatch_id, u.updated_at,
			(SELECT count(*) FROM unit_members m WHERE m.unit_id = u.id),
			(SELECT count(*) FROM vehicles v WHERE v.unit_id = u.id AND v.status = 'available')
		FROM units u
		WHERE u.status = 'active'
			AND u.current_status = 'available'
			AND ($1 = '' OR lower(u.type) = lower($1))
		ORDER BY u.id
	`, unitType)
	return collect(rows, err, func(row pgx.Row) (dispatch.UnitCandidate, error) {
		var c dispatch.UnitCandidate
		err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &c.CurrentStatus, &c.CurrentDispatchID, &c.UpdatedAt,
			&c.VolunteerCount, &c.AvailableVehicleCount)
		return c, err
	})
}

func (s *Store) ListAvailableVehicles(ctx context.Context, unitID int64) ([]dispatch.Vehicle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE unit_id = $1 AND status = 'available'
		ORDER BY id
	`, unitID)
	return collect(rows, err, scanVehicle)
}

func (s *Store) ListMembers(ctx context.Context, unitID int64) ([]dispatch.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+memberColumns+`
		FROM unit_members
		WHERE unit_id = $1
		ORDER BY id
	`, unitID)
	return collect(rows, err, scanMember)
}

// Snapshot reads every resource table inside one repeatable-read transaction so the
// tables agree with each other.
func (s *Store) Snapshot(ctx context.Context) (snap dispatch.Snapshot, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return dispatch.Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, `SELECT `+incidentColumns+` FROM incidents ORDER BY id`)
	if snap.Incidents, err = collect(rows, err, scanIncident); err != nil {
		return dispatch.Snapshot{}, fmt.Errorf("snapshot incidents: %w", err)
	}
	rows, err = tx.Query(ctx, `SELECT `+unitColumns+` FROM units ORDER BY id`)
	if snap.Units, err = collect(rows, err, scanUnit); err != nil {
		return dispatch.Snapshot{}, fmt.Errorf("snapshot units: %w", err)
	}
	rows, err = tx.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY id`)
	if snap.Vehicles, err = collect(rows, err, scanVehicle); err != nil {
		return dispatch.Snapshot{}, fmt.Errorf("snapshot vehicles: %w", err)
	}
	rows, err = tx.Query(ctx, `SELECT `+suggestionColumns+` FROM suggestions ORDER BY id`)
	if snap.Suggestions, err = collect(rows, err, scanSuggestion); err != nil {
		return dispatch.Snapshot{}, fmt.Errorf("snapshot suggestions: %w", err)
	}
	return snap, nil
}

// UpsertIncident inserts a feed record or refreshes its descriptive fields. Status and
// dispatch columns are left untouched on conflict.
func (s *Store) UpsertIncident(ctx context.Context, in dispatch.NewIncident) (dispatch.Incident, error) {
	var reportedAt *time.Time
	if !in.ReportedAt.IsZero() {
		reportedAt = &in.ReportedAt
	}
	return scanIncident(s.pool.QueryRow(ctx, `
		INSERT INTO incidents (id, title, emergency_type, severity, location, description, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			emergency_type = EXCLUDED.emergency_type,
			severity = EXCLUDED.severity,
			location = EXCLUDED.location,
			description = EXCLUDED.description
		RETURNING `+incidentColumns,
		in.ID, in.Title, in.EmergencyType, in.Severity, in.Location, in.Description, reportedAt))
}

func (s *Store) CreateUnit(ctx context.Context, in dispatch.NewUnit) (dispatch.Unit, error) {
	return scanUnit(s.pool.QueryRow(ctx, `
		INSERT INTO units (name, type)
		VALUES ($1, $2)
		RETURNING `+unitColumns,
		in.Name, in.Type))
}

// RegisterVehicle inserts a vehicle or updates a known one. Moving a reserved vehicle to
// another unit is refused.
func (s *Store) RegisterVehicle(ctx context.Context, v dispatch.Vehicle) (dispatch.Vehicle, error) {
	got, err := scanVehicle(s.pool.QueryRow(ctx, `
		INSERT INTO vehicles (id, unit_id, name, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id,
			name = EXCLUDED.name,
			type = EXCLUDED.type
		WHERE vehicles.unit_id = EXCLUDED.unit_id OR vehicles.status = 'available'
		RETURNING `+vehicleColumns,
		v.ID, v.UnitID, v.Name, v.Type))
	switch {
	case err == nil:
		return got, nil
	case errors.Is(err, pgx.ErrNoRows):
		return dispatch.Vehicle{}, fmt.Errorf("%w: vehicle %d is reserved by another unit", dispatch.ErrVehicleUnavailable, v.ID)
	}
	if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
		return dispatch.Vehicle{}, fmt.Errorf("%w: %d", dispatch.ErrUnitNotFound, v.UnitID)
	}
	return dispatch.Vehicle{}, err
}

func (s *Store) AddMember(ctx context.Context, m dispatch.Member) (dispatch.Member, error) {
	got, err := scanMember(s.pool.QueryRow(ctx, `
		INSERT INTO unit_members (unit_id, name, email, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+memberColumns,
		m.UnitID, m.Name, m.Email, m.UserID))
	if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
		return dispatch.Member{}, fmt.Errorf("%w: %d", dispatch.ErrUnitNotFound, m.UnitID)
	}
	return got, err
}

func (s *Store) SetUnitStatus(ctx context.Context, unitID int64, status dispatch.UnitStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE units SET status = $2, updated_at = now() WHERE id = $1`, unitID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", dispatch.ErrUnitNotFound, unitID)
	}
	return nil
}
