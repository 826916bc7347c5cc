package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescue/dispatch/internal/dispatch"
)

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	unit, err := s.CreateUnit(ctx, dispatch.NewUnit{Name: "Alpha", Type: "Fire"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx dispatch.Tx) error {
		u, err := tx.UnitForUpdate(ctx, unit.ID)
		if err != nil {
			return err
		}
		u.CurrentStatus = dispatch.Suggested
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		if _, err := tx.CreateSuggestion(ctx, dispatch.Suggestion{UnitID: unit.ID, Status: dispatch.StatusPending}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Available, got.CurrentStatus)

	all, err := s.ListSuggestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUncommittedWritesAreInvisibleToReads(t *testing.T) {
	ctx := context.Background()
	s := New()
	unit, err := s.CreateUnit(ctx, dispatch.NewUnit{Name: "Alpha", Type: "Fire"})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx dispatch.Tx) error {
		u, _ := tx.UnitForUpdate(ctx, unit.ID)
		u.CurrentStatus = dispatch.Dispatched
		require.NoError(t, tx.UpdateUnit(ctx, u))
		// The committed state is still the original one.
		assert.Equal(t, dispatch.Available, s.state.units[unit.ID].CurrentStatus)
		return nil
	})
	require.NoError(t, err)

	got, _ := s.GetUnit(ctx, unit.ID)
	assert.Equal(t, dispatch.Dispatched, got.CurrentStatus)
}

func TestUpsertIncidentKeepsDispatchState(t *testing.T) {
	ctx := context.Background()
	s := New()

	inc, err := s.UpsertIncident(ctx, dispatch.NewIncident{ID: 42, EmergencyType: "fire", Severity: dispatch.SeverityHigh})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DispatchStatusForDispatch, inc.DispatchStatus)
	assert.Equal(t, dispatch.IncidentStatusPending, inc.Status)

	require.NoError(t, s.InTx(ctx, func(tx dispatch.Tx) error {
		i, _ := tx.IncidentForUpdate(ctx, 42)
		i.DispatchStatus = dispatch.DispatchStatusProcessing
		return tx.UpdateIncident(ctx, i)
	}))

	inc, err = s.UpsertIncident(ctx, dispatch.NewIncident{ID: 42, EmergencyType: "fire", Severity: dispatch.SeverityCritical, Title: "Warehouse"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DispatchStatusProcessing, inc.DispatchStatus)
	assert.Equal(t, dispatch.SeverityCritical, inc.Severity)
	assert.Equal(t, "Warehouse", inc.Title)
}

func TestListAvailableUnitsCountsAndFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	fire, _ := s.CreateUnit(ctx, dispatch.NewUnit{Name: "Alpha", Type: "Fire"})
	ems, _ := s.CreateUnit(ctx, dispatch.NewUnit{Name: "Bravo", Type: "EMS"})
	off, _ := s.CreateUnit(ctx, dispatch.NewUnit{Name: "Charlie", Type: "Fire"})
	require.NoError(t, s.SetUnitStatus(ctx, off.ID, dispatch.UnitStatusInactive))

	for i := 0; i < 3; i++ {
		_, err := s.AddMember(ctx, dispatch.Member{UnitID: fire.ID, Name: "vol"})
		require.NoError(t, err)
	}
	_, err := s.RegisterVehicle(ctx, dispatch.Vehicle{ID: 10, UnitID: fire.ID, Name: "Engine 10"})
	require.NoError(t, err)
	_, err = s.RegisterVehicle(ctx, dispatch.Vehicle{ID: 11, UnitID: ems.ID, Name: "Ambulance 11"})
	require.NoError(t, err)

	all, err := s.ListAvailableUnits(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, fire.ID, all[0].ID)
	assert.Equal(t, 3, all[0].VolunteerCount)
	assert.Equal(t, 1, all[0].AvailableVehicleCount)

	onlyFire, err := s.ListAvailableUnits(ctx, "fire")
	require.NoError(t, err)
	require.Len(t, onlyFire, 1)
	assert.Equal(t, fire.ID, onlyFire[0].ID)
}

func TestRegisterVehicleRequiresUnit(t *testing.T) {
	_, err := New().RegisterVehicle(context.Background(), dispatch.Vehicle{ID: 1, UnitID: 99})
	assert.ErrorIs(t, err, dispatch.ErrUnitNotFound)
}

func TestNotFoundErrors(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetIncident(ctx, 1)
	assert.ErrorIs(t, err, dispatch.ErrIncidentNotFound)
	_, err = s.GetUnit(ctx, 1)
	assert.ErrorIs(t, err, dispatch.ErrUnitNotFound)
	_, err = s.GetSuggestion(ctx, 1)
	assert.ErrorIs(t, err, dispatch.ErrSuggestionNotFound)
}
