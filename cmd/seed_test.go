package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescue/dispatch/internal/dispatch"
	"rescue/dispatch/internal/store/memory"
)

const sampleSeed = `{
  "incidents": [
    {"id": 1, "title": "Structure fire", "emergency_type": "fire", "severity": "critical", "location": "Main St 12"},
    {"id": 2, "emergency_type": "flood", "severity": "medium", "location": "River Rd 1", "reported_at": "2026-03-01T08:00:00Z"}
  ],
  "units": [
    {
      "name": "Unit 5", "type": "fire",
      "members": [{"name": "Ana", "email": "ana@example.org", "user_id": "u-ana"}, {"name": "Ben"}],
      "vehicles": [{"id": 101, "name": "Engine 1", "type": "engine"}, {"id": 102, "name": "Tanker", "type": "tanker"}]
    },
    {"name": "Reserve", "type": "rescue", "inactive": true}
  ]
}`

func TestSeedLoadsEveryRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	counts, err := seed(ctx, store, strings.NewReader(sampleSeed))
	require.NoError(t, err)
	assert.Equal(t, seedCounts{Incidents: 2, Units: 2, Members: 2, Vehicles: 2}, counts)

	incident, err := store.GetIncident(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, dispatch.DispatchStatusForDispatch, incident.DispatchStatus)
	assert.Equal(t, 2026, incident.ReportedAt.Year())

	units, err := store.ListAvailableUnits(ctx, "")
	require.NoError(t, err)
	require.Len(t, units, 1, "inactive units are not offered")
	assert.Equal(t, "Unit 5", units[0].Name)
	assert.Equal(t, 2, units[0].VolunteerCount)
	assert.Equal(t, 2, units[0].AvailableVehicleCount)
}

func TestSeedRejectsInvalidData(t *testing.T) {
	store := memory.New()

	_, err := seed(context.Background(), store, strings.NewReader(`{"incidents": [{"id": 1, "emergency_type": "fire", "severity": "extreme", "location": "x"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid seed data")

	_, err = seed(context.Background(), store, strings.NewReader(`{"stations": []}`))
	require.Error(t, err)
}
