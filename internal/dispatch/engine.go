package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SystemActor is recorded as approver when the engine itself decides a suggestion.
const SystemActor = "system"

// Options tunes engine behaviour that the source system left open.
type Options struct {
	// AllowUnknownVehicles creates an available vehicle record on first reservation of an
	// unknown id instead of rejecting it.
	AllowUnknownVehicles bool
	// StrictAdvance only allows dispatched -> en_route -> arrived -> completed one step at a time.
	StrictAdvance bool
	// PendingTTL expires pending suggestions older than this. Zero disables expiry.
	PendingTTL time.Duration
	// NotifyTimeout bounds the post-approval notification call.
	NotifyTimeout time.Duration
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Engine owns every write to suggestions and the unit/vehicle/incident fields they hold.
type Engine struct {
	store    Store
	notifier Notifier
	scorer   *Scorer
	log      zerolog.Logger
	opts     Options
}

func NewEngine(store Store, notifier Notifier, scorer *Scorer, log zerolog.Logger, opts Options) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if scorer == nil {
		scorer = NewScorer()
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		scorer:   scorer,
		log:      log.With().Str("component", "dispatch-engine").Logger(),
		opts:     opts,
	}
}

type ProposeInput struct {
	IncidentID int64
	UnitID     int64
	Vehicles   []VehicleRef
	ProposerID string
	Notes      string
}

type DecisionInput struct {
	SuggestionID int64
	ApproverID   string
	Notes        string
}

type AdvanceInput struct {
	DispatchID int64
	Status     SuggestionStatus
	Actor      string
	Notes      string
}

// ApproveResult carries the committed suggestion and the outcome of the notification
// fan-out that followed it.
type ApproveResult struct {
	Suggestion    Suggestion     `json:"suggestion"`
	Notifications DeliveryReport `json:"notifications"`
}

// Propose reserves a unit and vehicles for an incident by creating a pending suggestion.
// Every precondition is re-checked under row locks; on any failure nothing is written.
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (Suggestion, error) {
	refs := uniqueRefs(in.Vehicles)
	score := e.previewScore(ctx, in.IncidentID, in.UnitID)

	var created Suggestion
	err := e.store.InTx(ctx, func(tx Tx) error {
		incident, err := tx.IncidentForUpdate(ctx, in.IncidentID)
		if err != nil {
			return err
		}
		if incident.DispatchStatus != DispatchStatusForDispatch {
			return fmt.Errorf("%w: incident %d is %s", ErrIncidentNotDispatchable, incident.ID, incident.DispatchStatus)
		}

		unit, err := tx.UnitForUpdate(ctx, in.UnitID)
		if err != nil {
			return err
		}
		if unit.Status != UnitStatusActive {
			return fmt.Errorf("%w: unit %d is %s", ErrUnitUnavailable, unit.ID, unit.Status)
		}
		if unit.CurrentStatus != Available || unit.CurrentDispatchID != nil {
			return fmt.Errorf("%w: unit %d is %s", ErrUnitUnavailable, unit.ID, unit.CurrentStatus)
		}
		live, err := tx.CountLiveSuggestionsForUnit(ctx, unit.ID)
		if err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("%w: unit %d already holds %d open suggestion(s)", ErrUnitUnavailable, unit.ID, live)
		}

		vehicles, err := e.lockVehicles(ctx, tx, unit.ID, refs)
		if err != nil {
			return err
		}

		now := e.opts.Now()
		s := Suggestion{
			IncidentID:      incident.ID,
			UnitID:          unit.ID,
			Vehicles:        make([]VehicleRef, 0, len(vehicles)),
			Status:          StatusPending,
			ProposedAt:      now,
			StatusUpdatedAt: now,
			Notes:           strings.TrimSpace(in.Notes),
			ProposerID:      in.ProposerID,
		}
		if score != nil {
			s.Score = &score.Value
		}
		for _, v := range vehicles {
			s.Vehicles = append(s.Vehicles, v.Ref())
		}
		if s, err = tx.CreateSuggestion(ctx, s); err != nil {
			return err
		}

		unit.CurrentStatus = Suggested
		unit.CurrentDispatchID = int64Ptr(s.ID)
		unit.UpdatedAt = now
		if err := tx.UpdateUnit(ctx, unit); err != nil {
			return err
		}
		for _, v := range vehicles {
			v.Status = Suggested
			v.SuggestionID = int64Ptr(s.ID)
			v.DispatchID = nil
			if err := tx.UpdateVehicle(ctx, v); err != nil {
				return err
			}
		}
		incident.DispatchStatus = DispatchStatusProcessing
		incident.DispatchID = int64Ptr(s.ID)
		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, Activity{SuggestionID: s.ID, To: StatusPending, Actor: in.ProposerID, Notes: s.Notes, At: now}); err != nil {
			return err
		}

		created = s
		return nil
	})
	proposalsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		e.log.Debug().Err(err).Int64("incident_id", in.IncidentID).Int64("unit_id", in.UnitID).Msg("proposal rejected")
		return Suggestion{}, err
	}

	e.log.Info().
		Int64("suggestion_id", created.ID).
		Int64("incident_id", created.IncidentID).
		Int64("unit_id", created.UnitID).
		Int("vehicles", len(created.Vehicles)).
		Str("proposer_id", created.ProposerID).
		Msg("dispatch proposed")
	return created, nil
}

// lockVehicles locks the requested vehicles in id order, lazily creating unknown ones when
// allowed, and checks that each is an available vehicle of unitID.
func (e *Engine) lockVehicles(ctx context.Context, tx Tx, unitID int64, refs []VehicleRef) ([]Vehicle, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	found, err := tx.VehiclesForUpdate(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Vehicle, len(found))
	for _, v := range found {
		byID[v.ID] = v
	}

	out := make([]Vehicle, 0, len(refs))
	for _, ref := range refs {
		v, ok := byID[ref.ID]
		if !ok {
			if !e.opts.AllowUnknownVehicles {
				return nil, fmt.Errorf("%w: vehicle %d not found", ErrVehicleUnavailable, ref.ID)
			}
			v, err = tx.CreateVehicle(ctx, Vehicle{ID: ref.ID, UnitID: unitID, Name: ref.Name, Type: ref.Type, Status: Available})
			if err != nil {
				return nil, err
			}
			e.log.Info().Int64("vehicle_id", v.ID).Int64("unit_id", v.UnitID).Msg("vehicle created on first reservation")
		}
		if v.UnitID != unitID {
			return nil, fmt.Errorf("%w: vehicle %d belongs to unit %d", ErrVehicleUnavailable, v.ID, v.UnitID)
		}
		if v.Status != Available || v.SuggestionID != nil || v.DispatchID != nil {
			return nil, fmt.Errorf("%w: vehicle %d is %s", ErrVehicleUnavailable, v.ID, v.Status)
		}
		out = append(out, v)
	}
	return out, nil
}

// previewScore scores the pairing from committed state. It is informational only and
// never blocks a proposal.
func (e *Engine) previewScore(ctx context.Context, incidentID, unitID int64) *Score {
	incident, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil
	}
	unit, err := e.store.GetUnit(ctx, unitID)
	if err != nil {
		return nil
	}
	members, err := e.store.ListMembers(ctx, unitID)
	if err != nil {
		e.log.Warn().Err(err).Int64("unit_id", unitID).Msg("score preview: list members")
		return nil
	}
	vehicles, err := e.store.ListAvailableVehicles(ctx, unitID)
	if err != nil {
		e.log.Warn().Err(err).Int64("unit_id", unitID).Msg("score preview: list vehicles")
		return nil
	}
	score := e.scorer.Score(UnitCandidate{Unit: unit, VolunteerCount: len(members), AvailableVehicleCount: len(vehicles)}, incident)
	return &score
}

// Approve commits a pending suggestion as a dispatch and then notifies the unit members.
// Notification problems are reported in the result and never undo the approval.
func (e *Engine) Approve(ctx context.Context, in DecisionInput) (ApproveResult, error) {
	var (
		approved Suggestion
		incident Incident
		unit     Unit
	)
	err := e.store.InTx(ctx, func(tx Tx) error {
		s, err := tx.SuggestionForUpdate(ctx, in.SuggestionID)
		if err != nil {
			return err
		}
		if !ValidDecision(s.Status) {
			return fmt.Errorf("%w: suggestion %d is already %s", ErrInvalidStateTransition, s.ID, s.Status)
		}
		inc, err := tx.IncidentForUpdate(ctx, s.IncidentID)
		if err != nil {
			return err
		}
		u, err := tx.UnitForUpdate(ctx, s.UnitID)
		if err != nil {
			return err
		}
		vehicles, err := tx.VehiclesHeldBy(ctx, s.ID)
		if err != nil {
			return err
		}

		now := e.opts.Now()
		s.Status = StatusDispatched
		s.StatusUpdatedAt = now
		s.DispatchedAt = timePtr(now)
		s.ApproverID = in.ApproverID
		s.ERNotes = strings.TrimSpace(in.Notes)
		if err := tx.UpdateSuggestion(ctx, s); err != nil {
			return err
		}

		inc.DispatchStatus = DispatchStatusProcessing
		inc.Status = IncidentStatusProcessing
		inc.DispatchID = int64Ptr(s.ID)
		inc.Responder = u.Name
		if err := tx.UpdateIncident(ctx, inc); err != nil {
			return err
		}

		u.CurrentStatus = Dispatched
		u.CurrentDispatchID = int64Ptr(s.ID)
		u.UpdatedAt = now
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		for _, v := range vehicles {
			v.Status = Dispatched
			v.DispatchID = int64Ptr(s.ID)
			if err := tx.UpdateVehicle(ctx, v); err != nil {
				return err
			}
		}
		if err := tx.AppendActivity(ctx, Activity{SuggestionID: s.ID, From: StatusPending, To: StatusDispatched, Actor: in.ApproverID, Notes: s.ERNotes, At: now}); err != nil {
			return err
		}

		approved, incident, unit = s, inc, u
		return nil
	})
	decisionsTotal.WithLabelValues("approve", resultLabel(err)).Inc()
	if err != nil {
		e.log.Debug().Err(err).Int64("suggestion_id", in.SuggestionID).Msg("approval rejected")
		return ApproveResult{}, err
	}

	e.log.Info().
		Int64("suggestion_id", approved.ID).
		Int64("incident_id", approved.IncidentID).
		Int64("unit_id", approved.UnitID).
		Str("approver_id", approved.ApproverID).
		Str("from", string(StatusPending)).
		Str("to", string(StatusDispatched)).
		Msg("dispatch approved")

	report := e.notify(ctx, approved, incident, unit)
	return ApproveResult{Suggestion: approved, Notifications: report}, nil
}

func (e *Engine) notify(ctx context.Context, s Suggestion, incident Incident, unit Unit) DeliveryReport {
	// The dispatch is already committed; a client hanging up must not cut delivery short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
	defer cancel()

	var report DeliveryReport
	members, err := e.store.ListMembers(ctx, unit.ID)
	if err != nil {
		report.Fail("roster", "", err)
	}
	report.Merge(e.notifier.Notify(ctx, Notification{
		SuggestionID:     s.ID,
		UnitID:           unit.ID,
		UnitName:         unit.Name,
		IncidentID:       incident.ID,
		IncidentTitle:    incident.DisplayTitle(),
		IncidentLocation: incident.Location,
		Severity:         incident.Severity,
		ApproverID:       s.ApproverID,
		Members:          members,
	}))
	observeNotifications(report)

	for _, f := range report.Failures {
		e.log.Warn().
			Err(fmt.Errorf("%w: %s", ErrNotificationDeliveryFailed, f.Error)).
			Int64("suggestion_id", s.ID).
			Str("channel", f.Channel).
			Str("recipient", f.Recipient).
			Msg("notification failed")
	}
	return report
}

// Reject cancels a pending suggestion and returns the incident, unit and vehicles to the
// state they had before the proposal.
func (e *Engine) Reject(ctx context.Context, in DecisionInput) (Suggestion, error) {
	var rejected Suggestion
	err := e.store.InTx(ctx, func(tx Tx) error {
		s, err := tx.SuggestionForUpdate(ctx, in.SuggestionID)
		if err != nil {
			return err
		}
		if !ValidDecision(s.Status) {
			return fmt.Errorf("%w: suggestion %d is already %s", ErrInvalidStateTransition, s.ID, s.Status)
		}
		inc, err := tx.IncidentForUpdate(ctx, s.IncidentID)
		if err != nil {
			return err
		}
		u, err := tx.UnitForUpdate(ctx, s.UnitID)
		if err != nil {
			return err
		}
		vehicles, err := tx.VehiclesHeldBy(ctx, s.ID)
		if err != nil {
			return err
		}

		now := e.opts.Now()
		s.Status = StatusCancelled
		s.StatusUpdatedAt = now
		s.ApproverID = in.ApproverID
		s.ERNotes = strings.TrimSpace(in.Notes)
		if err := tx.UpdateSuggestion(ctx, s); err != nil {
			return err
		}

		if holds(inc.DispatchID, s.ID) {
			inc.DispatchStatus = DispatchStatusForDispatch
			inc.Status = IncidentStatusPending
			inc.DispatchID = nil
			inc.Responder = ""
			if err := tx.UpdateIncident(ctx, inc); err != nil {
				return err
			}
		}
		if holds(u.CurrentDispatchID, s.ID) {
			u.CurrentStatus = Available
			u.CurrentDispatchID = nil
			u.UpdatedAt = now
			if err := tx.UpdateUnit(ctx, u); err != nil {
				return err
			}
		}
		if err := releaseVehicles(ctx, tx, vehicles); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, Activity{SuggestionID: s.ID, From: StatusPending, To: StatusCancelled, Actor: in.ApproverID, Notes: s.ERNotes, At: now}); err != nil {
			return err
		}

		rejected = s
		return nil
	})
	decisionsTotal.WithLabelValues("reject", resultLabel(err)).Inc()
	if err != nil {
		e.log.Debug().Err(err).Int64("suggestion_id", in.SuggestionID).Msg("rejection refused")
		return Suggestion{}, err
	}

	e.log.Info().
		Int64("suggestion_id", rejected.ID).
		Int64("incident_id", rejected.IncidentID).
		Int64("unit_id", rejected.UnitID).
		Str("approver_id", rejected.ApproverID).
		Str("from", string(StatusPending)).
		Str("to", string(StatusCancelled)).
		Msg("dispatch rejected")
	return rejected, nil
}

// Advance moves an approved dispatch forward. Completing it closes the incident and frees
// the unit and every vehicle it held.
func (e *Engine) Advance(ctx context.Context, in AdvanceInput) (Suggestion, error) {
	var (
		advanced Suggestion
		from     SuggestionStatus
		unitType string
		severity Severity
	)
	err := e.store.InTx(ctx, func(tx Tx) error {
		s, err := tx.SuggestionForUpdate(ctx, in.DispatchID)
		if err != nil {
			return err
		}
		if !ValidAdvance(s.Status, in.Status, e.opts.StrictAdvance) {
			return fmt.Errorf("%w: dispatch %d cannot move from %s to %s", ErrInvalidStateTransition, s.ID, s.Status, in.Status)
		}
		inc, err := tx.IncidentForUpdate(ctx, s.IncidentID)
		if err != nil {
			return err
		}
		u, err := tx.UnitForUpdate(ctx, s.UnitID)
		if err != nil {
			return err
		}

		now := e.opts.Now()
		from = s.Status
		s.Status = in.Status
		s.StatusUpdatedAt = now
		switch in.Status {
		case StatusEnRoute:
			s.EnRouteAt = timePtr(now)
		case StatusArrived:
			s.ArrivedAt = timePtr(now)
		case StatusCompleted:
			s.CompletedAt = timePtr(now)
		}
		s.Notes = appendLog(s.Notes, now, in.Status, in.Notes)
		if err := tx.UpdateSuggestion(ctx, s); err != nil {
			return err
		}

		if in.Status == StatusCompleted {
			inc.DispatchStatus = DispatchStatusClosed
			inc.Status = IncidentStatusClosed
			inc.ResolvedAt = timePtr(now)
			if err := tx.UpdateIncident(ctx, inc); err != nil {
				return err
			}
			if holds(u.CurrentDispatchID, s.ID) {
				u.CurrentStatus = Available
				u.CurrentDispatchID = nil
				u.UpdatedAt = now
				if err := tx.UpdateUnit(ctx, u); err != nil {
					return err
				}
			}
			vehicles, err := tx.VehiclesHeldBy(ctx, s.ID)
			if err != nil {
				return err
			}
			if err := releaseVehicles(ctx, tx, vehicles); err != nil {
				return err
			}
		}
		if err := tx.AppendActivity(ctx, Activity{SuggestionID: s.ID, From: from, To: s.Status, Actor: in.Actor, Notes: strings.TrimSpace(in.Notes), At: now}); err != nil {
			return err
		}

		advanced, unitType, severity = s, u.Type, inc.Severity
		return nil
	})
	if err != nil {
		e.log.Debug().Err(err).Int64("dispatch_id", in.DispatchID).Str("to", string(in.Status)).Msg("advance rejected")
		return Suggestion{}, err
	}

	transitionsTotal.WithLabelValues(string(advanced.Status)).Inc()
	observeDurations(advanced, unitType, severity)
	e.log.Info().
		Int64("suggestion_id", advanced.ID).
		Int64("incident_id", advanced.IncidentID).
		Int64("unit_id", advanced.UnitID).
		Str("from", string(from)).
		Str("to", string(advanced.Status)).
		Msg("dispatch advanced")
	return advanced, nil
}

// ExpireStale rejects pending suggestions older than the configured TTL and returns how
// many were expired. Suggestions decided concurrently are skipped.
func (e *Engine) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if e.opts.PendingTTL <= 0 {
		return 0, nil
	}
	stale, err := e.store.ListPendingBefore(ctx, now.Add(-e.opts.PendingTTL))
	if err != nil {
		return 0, fmt.Errorf("list stale suggestions: %w", err)
	}

	expired := 0
	for _, s := range stale {
		_, err := e.Reject(ctx, DecisionInput{
			SuggestionID: s.ID,
			ApproverID:   SystemActor,
			Notes:        fmt.Sprintf("expired after %s without a decision", e.opts.PendingTTL),
		})
		if errors.Is(err, ErrInvalidStateTransition) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire suggestion %d: %w", s.ID, err)
		}
		expired++
	}
	if expired > 0 {
		e.log.Info().Int("expired", expired).Dur("ttl", e.opts.PendingTTL).Msg("stale suggestions expired")
	}
	return expired, nil
}

// StartExpirySweeper runs ExpireStale every interval until ctx is done. It does nothing
// when no TTL is configured.
func (e *Engine) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if e.opts.PendingTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.ExpireStale(ctx, e.opts.Now()); err != nil {
					e.log.Error().Err(err).Msg("expiry sweep failed")
				}
			}
		}
	}()
}

func (e *Engine) GetSuggestion(ctx context.Context, id int64) (Suggestion, error) {
	return e.store.GetSuggestion(ctx, id)
}

func (e *Engine) ListPendingSuggestions(ctx context.Context) ([]Suggestion, error) {
	return e.store.ListSuggestions(ctx, StatusPending)
}

func (e *Engine) ListActiveDispatches(ctx context.Context) ([]Suggestion, error) {
	return e.store.ListSuggestions(ctx, StatusDispatched, StatusEnRoute, StatusArrived)
}

// GetDispatch assembles the dashboard view of one suggestion.
func (e *Engine) GetDispatch(ctx context.Context, id int64) (DispatchDetail, error) {
	s, err := e.store.GetSuggestion(ctx, id)
	if err != nil {
		return DispatchDetail{}, err
	}
	incident, err := e.store.GetIncident(ctx, s.IncidentID)
	if err != nil {
		return DispatchDetail{}, err
	}
	unit, err := e.store.GetUnit(ctx, s.UnitID)
	if err != nil {
		return DispatchDetail{}, err
	}
	vehicles, err := e.store.ListVehiclesHeldBy(ctx, s.ID)
	if err != nil {
		return DispatchDetail{}, err
	}
	activity, err := e.store.ListActivity(ctx, s.ID)
	if err != nil {
		return DispatchDetail{}, err
	}
	return DispatchDetail{Suggestion: s, Incident: incident, Unit: unit, Vehicles: vehicles, Activity: activity}, nil
}

func releaseVehicles(ctx context.Context, tx Tx, vehicles []Vehicle) error {
	for _, v := range vehicles {
		v.Status = Available
		v.SuggestionID = nil
		v.DispatchID = nil
		if err := tx.UpdateVehicle(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func holds(ref *int64, id int64) bool {
	return ref != nil && *ref == id
}

// uniqueRefs drops duplicate ids and sorts by id, which is also the lock order.
func uniqueRefs(refs []VehicleRef) []VehicleRef {
	seen := make(map[int64]struct{}, len(refs))
	out := make([]VehicleRef, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func appendLog(existing string, at time.Time, status SuggestionStatus, notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return existing
	}
	line := fmt.Sprintf("[%s] %s: %s", at.Format("2006-01-02 15:04:05"), status, notes)
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}
