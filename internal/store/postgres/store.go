// Package postgres implements the dispatch store on PostgreSQL. Every read inside a
// transaction takes a row lock with SELECT ... FOR UPDATE so that the checks made by the
// engine hold until commit.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rescue/dispatch/internal/dispatch"
)

var (
	_ dispatch.Store    = (*Store)(nil)
	_ dispatch.Registry = (*Store)(nil)
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(dispatch.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) SuggestionForUpdate(ctx context.Context, id int64) (dispatch.Suggestion, error) {
	s, err := scanSuggestion(t.tx.QueryRow(ctx, `
		SELECT `+suggestionColumns+`
		FROM suggestions
		WHERE id = $1
		FOR UPDATE
	`, id))
	return s, notFound(err, dispatch.ErrSuggestionNotFound, id)
}

func (t *txStore) IncidentForUpdate(ctx context.Context, id int64) (dispatch.Incident, error) {
	i, err := scanIncident(t.tx.QueryRow(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents
		WHERE id = $1
		FOR UPDATE
	`, id))
	return i, notFound(err, dispatch.ErrIncidentNotFound, id)
}

func (t *txStore) UnitForUpdate(ctx context.Context, id int64) (dispatch.Unit, error) {
	u, err := scanUnit(t.tx.QueryRow(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE id = $1
		FOR UPDATE
	`, id))
	return u, notFound(err, dispatch.ErrUnitNotFound, id)
}

func (t *txStore) VehiclesForUpdate(ctx context.Context, ids []int64) ([]dispatch.Vehicle, error) {
	if len(ids) == 0 {
		return []dispatch.Vehicle{}, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	return collect(rows, err, scanVehicle)
}

func (t *txStore) VehiclesHeldBy(ctx context.Context, suggestionID int64) ([]dispatch.Vehicle, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE suggestion_id = $1 OR dispatch_id = $1
		ORDER BY id
		FOR UPDATE
	`, suggestionID)
	return collect(rows, err, scanVehicle)
}

func (t *txStore) CountLiveSuggestionsForUnit(ctx context.Context, unitID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM suggestions
		WHERE unit_id = $1 AND status IN `+liveStatuses, unitID).Scan(&n)
	return n, err
}

// CreateVehicle inserts v unless a vehicle with the same id exists, then locks and returns
// whichever row is stored. Callers must check the returned unit and status.
func (t *txStore) CreateVehicle(ctx context.Context, v dispatch.Vehicle) (dispatch.Vehicle, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO vehicles (id, unit_id, name, type, status)
		VALUES ($1, $2, $3, $4, 'available')
		ON CONFLICT (id) DO NOTHING
	`, v.ID, v.UnitID, v.Name, v.Type); err != nil {
		return dispatch.Vehicle{}, fmt.Errorf("insert vehicle %d: %w", v.ID, err)
	}
	return scanVehicle(t.tx.QueryRow(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE id = $1
		FOR UPDATE
	`, v.ID))
}

func (t *txStore) CreateSuggestion(ctx context.Context, s dispatch.Suggestion) (dispatch.Suggestion, error) {
	vehicles, err := encodeVehicles(s.Vehicles)
	if err != nil {
		return dispatch.Suggestion{}, err
	}
	created, err := scanSuggestion(t.tx.QueryRow(ctx, `
		INSERT INTO suggestions (
			incident_id, unit_id, vehicles, status, score, proposed_at, status_updated_at,
			notes, proposer_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+suggestionColumns,
		s.IncidentID, s.UnitID, vehicles, s.Status, s.Score, s.ProposedAt, s.StatusUpdatedAt,
		s.Notes, s.ProposerID))
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation {
			return dispatch.Suggestion{}, fmt.Errorf("%w: open suggestion exists (%s)", dispatch.ErrUnitUnavailable, constraint)
		}
		return dispatch.Suggestion{}, fmt.Errorf("insert suggestion: %w", err)
	}
	return created, nil
}

func (t *txStore) UpdateSuggestion(ctx context.Context, s dispatch.Suggestion) error {
	vehicles, err := encodeVehicles(s.Vehicles)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE suggestions SET
			vehicles = $2,
			status = $3,
			score = $4,
			status_updated_at = $5,
			dispatched_at = $6,
			en_route_at = $7,
			arrived_at = $8,
			completed_at = $9,
			notes = $10,
			er_notes = $11,
			approver_id = $12
		WHERE id = $1
	`, s.ID, vehicles, s.Status, s.Score, s.StatusUpdatedAt, s.DispatchedAt, s.EnRouteAt,
		s.ArrivedAt, s.CompletedAt, s.Notes, s.ERNotes, s.ApproverID)
	if err != nil {
		return fmt.Errorf("update suggestion %d: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", dispatch.ErrSuggestionNotFound, s.ID)
	}
	return nil
}

func (t *txStore) UpdateIncident(ctx context.Context, i dispatch.Incident) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE incidents SET
			status = $2,
			dispatch_status = $3,
			dispatch_id = $4,
			responder = $5,
			resolved_at = $6
		WHERE id = $1
	`, i.ID, i.Status, i.DispatchStatus, i.DispatchID, i.Responder, i.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update incident %d: %w", i.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", dispatch.ErrIncidentNotFound, i.ID)
	}
	return nil
}

func (t *txStore) UpdateUnit(ctx context.Context, u dispatch.Unit) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE units SET
			current_status = $2,
			current_dispatch_id = $3,
			updated_at = $4
		WHERE id = $1
	`, u.ID, u.CurrentStatus, u.CurrentDispatchID, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update unit %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", dispatch.ErrUnitNotFound, u.ID)
	}
	return nil
}

func (t *txStore) UpdateVehicle(ctx context.Context, v dispatch.Vehicle) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE vehicles SET
			status = $2,
			suggestion_id = $3,
			dispatch_id = $4
		WHERE id = $1
	`, v.ID, v.Status, v.SuggestionID, v.DispatchID)
	if err != nil {
		return fmt.Errorf("update vehicle %d: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: vehicle %d not found", dispatch.ErrVehicleUnavailable, v.ID)
	}
	return nil
}

func (t *txStore) AppendActivity(ctx context.Context, a dispatch.Activity) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO suggestion_activity (suggestion_id, from_status, to_status, actor, notes, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.SuggestionID, a.From, a.To, a.Actor, a.Notes, a.At)
	if err != nil {
		return fmt.Errorf("append activity for suggestion %d: %w", a.SuggestionID, err)
	}
	return nil
}
