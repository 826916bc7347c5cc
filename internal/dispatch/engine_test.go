package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescue/dispatch/internal/dispatch"
	"rescue/dispatch/internal/store/memory"
)

type recordingNotifier struct {
	mu     sync.Mutex
	calls  []dispatch.Notification
	report dispatch.DeliveryReport
}

func (n *recordingNotifier) Notify(_ context.Context, msg dispatch.Notification) dispatch.DeliveryReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	return n.report
}

type fixture struct {
	store    *memory.Store
	engine   *dispatch.Engine
	notifier *recordingNotifier
	now      time.Time
	unit     dispatch.Unit
}

func newFixture(t *testing.T, opts dispatch.Options) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:    memory.New(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return f.now }
	}
	f.engine = dispatch.NewEngine(
		f.store,
		f.notifier,
		dispatch.NewScorerWithJitter(func() float64 { return 0 }),
		zerolog.Nop(),
		opts,
	)

	for _, id := range []int64{1, 2} {
		_, err := f.store.UpsertIncident(ctx, dispatch.NewIncident{
			ID:            id,
			Title:         "Structure fire",
			EmergencyType: "fire",
			Severity:      dispatch.SeverityCritical,
			Location:      "Main St 12",
		})
		require.NoError(t, err)
	}

	unit, err := f.store.CreateUnit(ctx, dispatch.NewUnit{Name: "Unit 5", Type: "Fire"})
	require.NoError(t, err)
	f.unit = unit
	for i := 0; i < 8; i++ {
		_, err := f.store.AddMember(ctx, dispatch.Member{UnitID: unit.ID, Name: "volunteer", Email: "vol@example.org"})
		require.NoError(t, err)
	}
	for _, id := range []int64{101, 102} {
		_, err := f.store.RegisterVehicle(ctx, dispatch.Vehicle{ID: id, UnitID: unit.ID, Name: "Engine", Type: "engine"})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) propose(t *testing.T, incidentID int64, vehicles ...int64) dispatch.Suggestion {
	t.Helper()
	s, err := f.engine.Propose(context.Background(), dispatch.ProposeInput{
		IncidentID: incidentID,
		UnitID:     f.unit.ID,
		Vehicles:   refs(vehicles...),
		ProposerID: "coordinator-1",
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	snap, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dispatch.VerifyConsistency(snap))
}

func refs(ids ...int64) []dispatch.VehicleRef {
	out := make([]dispatch.VehicleRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, dispatch.VehicleRef{ID: id})
	}
	return out
}

func TestProposeReservesUnitAndVehicles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{AllowUnknownVehicles: true})

	s := f.propose(t, 1, 101, 102)

	assert.Equal(t, dispatch.StatusPending, s.Status)
	assert.Equal(t, "coordinator-1", s.ProposerID)
	require.NotNil(t, s.Score)
	assert.InDelta(t, 96.2, *s.Score, 0.05)
	require.Len(t, s.Vehicles, 2)
	assert.Equal(t, "Engine", s.Vehicles[0].Name)

	unit, _ := f.store.GetUnit(ctx, f.unit.ID)
	assert.Equal(t, dispatch.Suggested, unit.CurrentStatus)
	require.NotNil(t, unit.CurrentDispatchID)
	assert.Equal(t, s.ID, *unit.CurrentDispatchID)

	incident, _ := f.store.GetIncident(ctx, 1)
	assert.Equal(t, dispatch.DispatchStatusProcessing, incident.DispatchStatus)
	require.NotNil(t, incident.DispatchID)
	assert.Equal(t, s.ID, *incident.DispatchID)

	held, _ := f.store.ListVehiclesHeldBy(ctx, s.ID)
	require.Len(t, held, 2)
	for _, v := range held {
		assert.Equal(t, dispatch.Suggested, v.Status)
		assert.Nil(t, v.DispatchID)
	}
	f.assertConsistent(t)
}

func TestProposeSecondIncidentSameUnitFails(t *testing.T) {
	f := newFixture(t, dispatch.Options{})
	f.propose(t, 1, 101, 102)

	_, err := f.engine.Propose(context.Background(), dispatch.ProposeInput{IncidentID: 2, UnitID: f.unit.ID, ProposerID: "coordinator-2"})
	require.ErrorIs(t, err, dispatch.ErrUnitUnavailable)

	incident, _ := f.store.GetIncident(context.Background(), 2)
	assert.Equal(t, dispatch.DispatchStatusForDispatch, incident.DispatchStatus)
	f.assertConsistent(t)
}

func TestProposePreconditionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown incident", func(t *testing.T) {
		f := newFixture(t, dispatch.Options{})
		_, err := f.engine.Propose(ctx, dispatch.ProposeInput{IncidentID: 99, UnitID: f.unit.ID})
		assert.ErrorIs(t, err, dispatch.ErrIncidentNotFound)
	})

	t.Run("unknown unit", func(t *testing.T) {
		f := newFixture(t, dispatch.Options{})
		_, err := f.engine.Propose(ctx, dispatch.ProposeInput{IncidentID: 1, UnitID: 99})
		assert.ErrorIs(t, err, dispatch.ErrUnitNotFound)
	})

	t.Run("incident already being handled", func(t *testing.T) {
		f := newFixture(t, dispatch.Options{})
		f.propose(t, 1)
		other, err := f.store.CreateUnit(ctx, dispatch.NewUnit{Name: "Unit 6", Type: "Fire"})
		require.NoError(t, err)
		_, err = f.engine.Propose(ctx, dispatch.ProposeInput{IncidentID: 1, UnitID: other.ID})
		assert.ErrorIs(t, err, dispatch.ErrIncidentNotDispatchable)
	})

	t.Run("inactive unit", func(t *testing.T) {
		f := newFixture(t, dispatch.Options{})
		require.NoError(t, f.store.SetUnitStatus(ctx, f.unit.ID, dispatch.UnitStatusInactive))
		_, err := f.engine.Propose(ctx, dispatch.ProposeInput{IncidentID: 1, UnitID: f.unit.ID})
		assert.ErrorIs(t, err, dispatch.ErrUnitUnavailable)
	})

	t.Run("vehicle of another unit", func(t *testing.T) {
		f := newFixture(t, dispatch.Options{})
		other, _ := f.store.CreateUnit(ctx, dispatch.NewUnit{Name: "Unit 6", Type: "EMS"})
		_, err := f.store.RegisterVehicle(ctx, dispatch.Vehicle{ID: 200, UnitID: other.ID})
		require.NoError(t, err)

		_, err = f.engine.Propose(ctx, dispatch.ProposeInput{IncidentID: 1, UnitID: f.unit.ID, Vehicles: refs(101, 200)})
		assert.ErrorIs(t, err, dispatch.ErrVehicleUnavailable)

		// Nothing from the failed attempt is visible.
		unit, _ := f.store.GetUnit(ctx, f.unit.ID)
		assert.Equal(t, dispatch.Available, unit.CurrentStatus)
		v, _ := f.store.ListAvailableVehicles(ctx, f.unit.ID)
		assert.Len(t, v, 2)
		pending, _ := f.engine.ListPendingSuggestions(ctx)
		assert.Empty(t, pending)
		f.assertConsistent(t)
	})

	t.Run("unknown vehicle rejected when lazy creation is off", func(t *testing.T) {
		f := newFixture(t, dispatch.Options{AllowUnknownVehicles: false})
		_, err := f.engine.Propose(ctx, dispatch.ProposeInput{IncidentID: 1, UnitID: f.unit.ID, Vehicles: refs(777)})
		assert.ErrorIs(t, err, dispatch.ErrVehicleUnavailable)
	})
}

func TestProposeCreatesUnknownVehicle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{AllowUnknownVehicles: true})

	s, err := f.engine.Propose(ctx, dispatch.ProposeInput{
		IncidentID: 1,
		UnitID:     f.unit.ID,
		Vehicles:   []dispatch.VehicleRef{{ID: 777, Name: "Tanker", Type: "tanker"}, {ID: 777}},
	})
	require.NoError(t, err)
	require.Len(t, s.Vehicles, 1)
	assert.Equal(t, "Tanker", s.Vehicles[0].Name)

	held, _ := f.store.ListVehiclesHeldBy(ctx, s.ID)
	require.Len(t, held, 1)
	assert.Equal(t, dispatch.Suggested, held[0].Status)
	assert.Equal(t, f.unit.ID, held[0].UnitID)
	f.assertConsistent(t)
}

func TestConcurrentProposalsReserveOnce(t *testing.T) {
	f := newFixture(t, dispatch.Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, incidentID := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, incidentID int64) {
			defer wg.Done()
			_, errs[i] = f.engine.Propose(context.Background(), dispatch.ProposeInput{
				IncidentID: incidentID,
				UnitID:     f.unit.ID,
				Vehicles:   refs(101, 102),
			})
		}(i, incidentID)
	}
	wg.Wait()

	ok, unavailable := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, dispatch.ErrUnitUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, unavailable)
	f.assertConsistent(t)
}

func TestRejectRestoresPreProposalState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})

	before, err := f.store.Snapshot(ctx)
	require.NoError(t, err)

	s := f.propose(t, 1, 101, 102)
	rejected, err := f.engine.Reject(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1", Notes: "closer unit available"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCancelled, rejected.Status)
	assert.Equal(t, "approver-1", rejected.ApproverID)
	assert.Equal(t, "closer unit available", rejected.ERNotes)

	after, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, before.Incidents, after.Incidents)
	assert.ElementsMatch(t, before.Vehicles, after.Vehicles)
	require.Len(t, after.Units, 1)
	assert.Equal(t, before.Units[0].CurrentStatus, after.Units[0].CurrentStatus)
	assert.Nil(t, after.Units[0].CurrentDispatchID)
	f.assertConsistent(t)

	// The unit can be proposed again right away.
	f.propose(t, 2, 101)
}

func TestApproveDispatchesAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})
	f.notifier.report.Add(dispatch.ChannelEmail, 8)
	f.notifier.report.Add(dispatch.ChannelDashboard, 1)

	s := f.propose(t, 1, 101, 102)
	f.now = f.now.Add(2 * time.Minute)

	res, err := f.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1", Notes: "go"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusDispatched, res.Suggestion.Status)
	require.NotNil(t, res.Suggestion.DispatchedAt)
	assert.Equal(t, f.now, *res.Suggestion.DispatchedAt)
	assert.Equal(t, f.now, res.Suggestion.StatusUpdatedAt)
	assert.Equal(t, 8, res.Notifications.EmailsSent())
	assert.Equal(t, 1, res.Notifications.DashboardNotificationsSent())

	require.Len(t, f.notifier.calls, 1)
	call := f.notifier.calls[0]
	assert.Equal(t, f.unit.ID, call.UnitID)
	assert.Equal(t, "Structure fire", call.IncidentTitle)
	assert.Equal(t, "Main St 12", call.IncidentLocation)
	assert.Len(t, call.Members, 8)

	incident, _ := f.store.GetIncident(ctx, 1)
	assert.Equal(t, dispatch.IncidentStatusProcessing, incident.Status)
	assert.Equal(t, dispatch.DispatchStatusProcessing, incident.DispatchStatus)
	assert.Equal(t, "Unit 5", incident.Responder)

	unit, _ := f.store.GetUnit(ctx, f.unit.ID)
	assert.Equal(t, dispatch.Dispatched, unit.CurrentStatus)

	held, _ := f.store.ListVehiclesHeldBy(ctx, s.ID)
	require.Len(t, held, 2)
	for _, v := range held {
		assert.Equal(t, dispatch.Dispatched, v.Status)
		require.NotNil(t, v.DispatchID)
		assert.Equal(t, s.ID, *v.DispatchID)
	}
	f.assertConsistent(t)
}

func TestApproveSurvivesNotificationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})
	f.notifier.report.Fail(dispatch.ChannelEmail, "vol@example.org", errors.New("smtp relay down"))

	s := f.propose(t, 1)
	res, err := f.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Notifications.EmailsSent())
	require.Len(t, res.Notifications.Failures, 1)

	got, _ := f.engine.GetSuggestion(ctx, s.ID)
	assert.Equal(t, dispatch.StatusDispatched, got.Status)
}

func TestDecisionOnDecidedSuggestionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})

	s := f.propose(t, 1, 101)
	_, err := f.engine.Reject(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1"})
	require.NoError(t, err)
	before, _ := f.store.Snapshot(ctx)

	_, err = f.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1"})
	require.ErrorIs(t, err, dispatch.ErrInvalidStateTransition)
	_, err = f.engine.Reject(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1"})
	require.ErrorIs(t, err, dispatch.ErrInvalidStateTransition)

	after, _ := f.store.Snapshot(ctx)
	assert.ElementsMatch(t, before.Incidents, after.Incidents)
	assert.ElementsMatch(t, before.Units, after.Units)
	assert.ElementsMatch(t, before.Vehicles, after.Vehicles)
	assert.ElementsMatch(t, before.Suggestions, after.Suggestions)
	assert.Empty(t, f.notifier.calls)

	_, err = f.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: 999})
	assert.ErrorIs(t, err, dispatch.ErrSuggestionNotFound)
}

func TestConcurrentDecisionsLinearize(t *testing.T) {
	f := newFixture(t, dispatch.Options{})
	s := f.propose(t, 1, 101, 102)

	var wg sync.WaitGroup
	var approveErr, rejectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = f.engine.Approve(context.Background(), dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "a"})
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = f.engine.Reject(context.Background(), dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "b"})
	}()
	wg.Wait()

	if approveErr == nil {
		assert.ErrorIs(t, rejectErr, dispatch.ErrInvalidStateTransition)
	} else {
		assert.ErrorIs(t, approveErr, dispatch.ErrInvalidStateTransition)
		assert.NoError(t, rejectErr)
	}
	f.assertConsistent(t)
}

func TestAdvanceFromPendingFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})
	s := f.propose(t, 1, 101)

	_, err := f.engine.Advance(ctx, dispatch.AdvanceInput{DispatchID: s.ID, Status: dispatch.StatusCompleted})
	require.ErrorIs(t, err, dispatch.ErrInvalidStateTransition)

	got, _ := f.engine.GetSuggestion(ctx, s.ID)
	assert.Equal(t, dispatch.StatusPending, got.Status)
	f.assertConsistent(t)
}

func TestFullResponseCycleReleasesResources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})
	s := f.propose(t, 1, 101, 102)
	_, err := f.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID, ApproverID: "approver-1"})
	require.NoError(t, err)

	steps := []struct {
		to    dispatch.SuggestionStatus
		notes string
	}{
		{dispatch.StatusEnRoute, "leaving station"},
		{dispatch.StatusArrived, ""},
		{dispatch.StatusCompleted, "fire out"},
	}
	for _, step := range steps {
		f.now = f.now.Add(10 * time.Minute)
		got, err := f.engine.Advance(ctx, dispatch.AdvanceInput{DispatchID: s.ID, Status: step.to, Actor: "crew", Notes: step.notes})
		require.NoError(t, err)
		assert.Equal(t, step.to, got.Status)
		f.assertConsistent(t)
	}

	done, err := f.engine.GetSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCompleted, done.Status)
	require.NotNil(t, done.EnRouteAt)
	require.NotNil(t, done.ArrivedAt)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "[2026-03-01 08:10:00] en_route: leaving station\n[2026-03-01 08:30:00] completed: fire out", done.Notes)

	incident, _ := f.store.GetIncident(ctx, 1)
	assert.Equal(t, dispatch.DispatchStatusClosed, incident.DispatchStatus)
	assert.Equal(t, dispatch.IncidentStatusClosed, incident.Status)
	require.NotNil(t, incident.ResolvedAt)

	unit, _ := f.store.GetUnit(ctx, f.unit.ID)
	assert.Equal(t, dispatch.Available, unit.CurrentStatus)
	assert.Nil(t, unit.CurrentDispatchID)

	free, _ := f.store.ListAvailableVehicles(ctx, f.unit.ID)
	assert.Len(t, free, 2)

	// Completed suggestions never move again.
	_, err = f.engine.Advance(ctx, dispatch.AdvanceInput{DispatchID: s.ID, Status: dispatch.StatusCompleted})
	assert.ErrorIs(t, err, dispatch.ErrInvalidStateTransition)

	detail, err := f.engine.GetDispatch(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, detail.Activity, 5)
	assert.Equal(t, dispatch.StatusPending, detail.Activity[0].To)
	assert.Equal(t, dispatch.StatusCompleted, detail.Activity[4].To)
	assert.Empty(t, detail.Vehicles)
}

func TestAdvanceSkipToCompleted(t *testing.T) {
	ctx := context.Background()

	lenient := newFixture(t, dispatch.Options{})
	s := lenient.propose(t, 1, 101)
	_, err := lenient.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID})
	require.NoError(t, err)
	_, err = lenient.engine.Advance(ctx, dispatch.AdvanceInput{DispatchID: s.ID, Status: dispatch.StatusCompleted})
	require.NoError(t, err)
	lenient.assertConsistent(t)

	strict := newFixture(t, dispatch.Options{StrictAdvance: true})
	s = strict.propose(t, 1, 101)
	_, err = strict.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID})
	require.NoError(t, err)
	_, err = strict.engine.Advance(ctx, dispatch.AdvanceInput{DispatchID: s.ID, Status: dispatch.StatusCompleted})
	require.ErrorIs(t, err, dispatch.ErrInvalidStateTransition)
	_, err = strict.engine.Advance(ctx, dispatch.AdvanceInput{DispatchID: s.ID, Status: dispatch.StatusEnRoute})
	require.NoError(t, err)
}

func TestActiveDispatchListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{})
	s := f.propose(t, 1)

	pending, err := f.engine.ListPendingSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	active, err := f.engine.ListActiveDispatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.engine.Approve(ctx, dispatch.DecisionInput{SuggestionID: s.ID})
	require.NoError(t, err)

	pending, _ = f.engine.ListPendingSuggestions(ctx)
	assert.Empty(t, pending)
	active, _ = f.engine.ListActiveDispatches(ctx)
	require.Len(t, active, 1)
	assert.Equal(t, s.ID, active[0].ID)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Options{PendingTTL: time.Hour})

	s := f.propose(t, 1, 101)

	n, err := f.engine.ExpireStale(ctx, f.now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.engine.ExpireStale(ctx, f.now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.engine.GetSuggestion(ctx, s.ID)
	assert.Equal(t, dispatch.StatusCancelled, got.Status)
	assert.Equal(t, dispatch.SystemActor, got.ApproverID)
	assert.Contains(t, got.ERNotes, "expired after 1h0m0s")
	f.assertConsistent(t)
}

func TestExpireStaleDisabledWithoutTTL(t *testing.T) {
	f := newFixture(t, dispatch.Options{})
	f.propose(t, 1)

	n, err := f.engine.ExpireStale(context.Background(), f.now.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
