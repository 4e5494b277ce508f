package service_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
	"github.com/yswin-stack/campusride/pkg/geo"
	"github.com/yswin-stack/campusride/pkg/logging"
)

// nearLoc sits a few hundred meters from the suburb fixture, a cheap
// detour on the way to campus.
var nearLoc = model.Location{Lat: 49.8320, Lng: -97.1390}

// legSec mirrors the haversine provider's per-leg math at 30 km/h.
func legSec(a, b model.Location) int {
	return int(math.Round(geo.HaversineKm(a, b) * 1.3 / 30.0 * 3600))
}

func legMeters(a, b model.Location) int {
	return int(math.Round(geo.HaversineKm(a, b) * 1.3 * 1000))
}

func newRouting(c *core, provider service.RoutingProvider) *service.RoutingEngine {
	return service.NewRoutingEngine(
		provider, service.NewHaversineProvider(1.3, 30),
		c.store, c.store, c.params, 120, 5, logging.NewNop(),
	)
}

// seedSouthZone installs the default test zone plus the 08:30 morning
// window used by most routing tests.
func (c *core) seedSouthZone(maxRiders int) {
	c.store.PutZone(model.ServiceZone{
		ID:               "z-south",
		Name:             "South residential",
		Campus:           campusLoc,
		MaxDetourSeconds: 240,
		MaxRidersPerTrip: 4,
		Active:           true,
	})
	c.store.PutWindow(model.TimeWindow{
		ID:               "w-0830",
		ZoneID:           "z-south",
		Kind:             model.WindowMorning,
		CampusTargetTime: "08:30",
		StartPickupTime:  "07:45",
		MaxRiders:        maxRiders,
		Active:           true,
	})
}

func wcand(riderID, windowID string, pickup model.Location) service.WindowCandidate {
	return service.WindowCandidate{
		RiderID:      riderID,
		ServiceDate:  testDate,
		TimeWindowID: windowID,
		Pickup:       pickup,
	}
}

// hookedProvider runs a callback before delegating Directions, standing in
// for a concurrent writer racing the confirm path.
type hookedProvider struct {
	service.RoutingProvider
	onDirections func()
}

func (p *hookedProvider) Directions(ctx context.Context, stops []model.Location) (*model.Route, error) {
	if p.onDirections != nil {
		p.onDirections()
	}
	return p.RoutingProvider.Directions(ctx, stops)
}

type failingProvider struct{ err error }

func (p *failingProvider) Matrix(context.Context, []model.Location, []model.Location) (*model.DistanceMatrix, error) {
	return nil, p.err
}

func (p *failingProvider) Directions(context.Context, []model.Location) (*model.Route, error) {
	return nil, p.err
}

func TestCanAddRiderToWindow_AnchorDirectRun(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)
	require.True(t, d.Accepted)
	assert.Equal(t, 0, d.InsertionIndex)
	assert.Equal(t, 0, d.ExtraSeconds)
	assert.Equal(t, "07:45", d.EstimatedPickup)

	departure, err := model.ParseClock("07:45")
	require.NoError(t, err)
	direct := legSec(suburbLoc, campusLoc)
	assert.Equal(t, model.FormatClock(departure+int(math.Round(float64(direct)/60))), d.EstimatedArrival)
}

func TestCanAddRiderToWindow_AnchorMissesTarget(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)

	// Departure equals the campus target, so even the five-minute
	// tolerance cannot absorb the direct run.
	c.store.PutWindow(model.TimeWindow{
		ID:               "w-hopeless",
		ZoneID:           "z-south",
		Kind:             model.WindowMorning,
		CampusTargetTime: "07:45",
		StartPickupTime:  "07:45",
		MaxRiders:        3,
		Active:           true,
	})
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R1", "w-hopeless", suburbLoc))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, service.CodeCannotMeetTargetTime, d.ReasonCode)
}

func TestCanAddRiderToWindow_SecondRiderDetour(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	_, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R2", "w-0830", nearLoc))
	require.NoError(t, err)
	require.True(t, d.Accepted)

	// Insertion always lands after the anchor; the one candidate position
	// here is index 1, and the detour triangle prices the extra seconds.
	assert.Equal(t, 1, d.InsertionIndex)
	toNew := legSec(suburbLoc, nearLoc)
	fromNew := legSec(nearLoc, campusLoc)
	direct := legSec(suburbLoc, campusLoc)
	wantExtra := toNew + fromNew - direct
	assert.Equal(t, wantExtra, d.ExtraSeconds)
	assert.Greater(t, d.ExtraSeconds, 0)
	assert.LessOrEqual(t, d.ExtraSeconds, 240)

	departure, err := model.ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, model.FormatClock(departure+int(math.Round(float64(toNew)/60))), d.EstimatedPickup)
	assert.Equal(t, model.FormatClock(departure+int(math.Round(float64(direct+wantExtra)/60))), d.EstimatedArrival)
}

func TestCanAddRiderToWindow_WindowFullOffersAlternatives(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	c.store.PutWindow(model.TimeWindow{
		ID: "w-0900", ZoneID: "z-south", Kind: model.WindowMorning,
		CampusTargetTime: "09:00", StartPickupTime: "08:15", MaxRiders: 2, Active: true,
	})
	c.store.PutWindow(model.TimeWindow{
		ID: "w-0930", ZoneID: "z-south", Kind: model.WindowMorning,
		CampusTargetTime: "09:30", StartPickupTime: "08:45", MaxRiders: 1, Active: true,
	})
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	riders := []struct {
		id     string
		pickup model.Location
	}{
		{"R1", suburbLoc},
		{"R2", nearLoc},
		{"R3", model.Location{Lat: 49.8280, Lng: -97.1410}},
	}
	for _, r := range riders {
		a, d, err := eng.CreateWindowAssignment(ctx, wcand(r.id, "w-0830", r.pickup))
		require.NoError(t, err)
		require.True(t, d.Accepted, "rider %s rejected: %s", r.id, d.ReasonCode)
		require.NotNil(t, a)
	}

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R4", "w-0830", nearLoc))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, service.CodeWindowFull, d.ReasonCode)

	require.Len(t, d.Alternatives, 2)
	assert.Equal(t, service.AlternativeWindow{TimeWindowID: "w-0900", CampusTargetTime: "09:00", SeatsLeft: 2}, d.Alternatives[0])
	assert.Equal(t, service.AlternativeWindow{TimeWindowID: "w-0930", CampusTargetTime: "09:30", SeatsLeft: 1}, d.Alternatives[1])
}

func TestCanAddRiderToWindow_TripFull(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.store.PutZone(model.ServiceZone{
		ID: "z-solo", Name: "Solo trips", Campus: campusLoc,
		MaxDetourSeconds: 240, MaxRidersPerTrip: 1, Active: true,
	})
	c.store.PutWindow(model.TimeWindow{
		ID: "w-solo", ZoneID: "z-solo", Kind: model.WindowEvening,
		CampusTargetTime: "17:30", StartPickupTime: "16:45", MaxRiders: 5, Active: true,
	})
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	_, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-solo", suburbLoc))
	require.NoError(t, err)

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R2", "w-solo", nearLoc))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, service.CodeTripFull, d.ReasonCode)
	assert.Empty(t, d.Alternatives)
}

func TestCanAddRiderToWindow_TooFarFromAnchor(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	anchorCap := 1000.0
	c.store.PutZone(model.ServiceZone{
		ID: "z-tight", Name: "Tight cluster", Campus: campusLoc,
		MaxDetourSeconds: 240, MaxRidersPerTrip: 4, MaxAnchorDistanceM: &anchorCap, Active: true,
	})
	c.store.PutWindow(model.TimeWindow{
		ID: "w-tight", ZoneID: "z-tight", Kind: model.WindowMorning,
		CampusTargetTime: "08:30", StartPickupTime: "07:45", MaxRiders: 4, Active: true,
	})
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	_, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-tight", suburbLoc))
	require.NoError(t, err)

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R2", "w-tight", farNorthLoc))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, service.CodeTooFarFromAnchor, d.ReasonCode)
}

func TestCanAddRiderToWindow_DetourTooLarge(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	_, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)

	d, err := eng.CanAddRiderToWindow(ctx, wcand("R2", "w-0830", farNorthLoc))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, service.CodeDetourTooLarge, d.ReasonCode)
}

func TestCreateWindowAssignment_PersistsPlan(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	a1, d1, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)
	require.True(t, d1.Accepted)
	assert.Equal(t, model.AssignmentConfirmed, a1.Status)
	assert.Equal(t, "R1", a1.RiderID)
	assert.Equal(t, "w-0830", a1.TimeWindowID)
	assert.Equal(t, "07:45", a1.EstimatedPickup)

	plan, err := c.store.GetPlan(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID}, plan.OrderedAssignmentIDs)
	assert.Equal(t, a1.ID, plan.AnchorAssignmentID)
	assert.Equal(t, "07:45", plan.PlannedDeparture)
	assert.Equal(t, legSec(suburbLoc, campusLoc), plan.BaseDurationSeconds)
	assert.Equal(t, legMeters(suburbLoc, campusLoc), plan.TotalDistanceMeters)

	a2, d2, err := eng.CreateWindowAssignment(ctx, wcand("R2", "w-0830", nearLoc))
	require.NoError(t, err)
	require.True(t, d2.Accepted)

	plan, err = c.store.GetPlan(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, a2.ID}, plan.OrderedAssignmentIDs)
	assert.Equal(t, a1.ID, plan.AnchorAssignmentID)
	assert.Equal(t, legSec(suburbLoc, nearLoc)+legSec(nearLoc, campusLoc), plan.BaseDurationSeconds)
	assert.Equal(t, legMeters(suburbLoc, nearLoc)+legMeters(nearLoc, campusLoc), plan.TotalDistanceMeters)

	n, err := c.store.CountConfirmed(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreateWindowAssignment_DuplicateRider(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	_, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)

	_, _, err = eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", nearLoc))
	require.ErrorIs(t, err, service.ErrRiderConflict)
}

func TestCreateWindowAssignment_PlanChangedUnderneath(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(5)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	a1, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)

	// A competing writer lands between the decision and the plan write.
	racer := &model.WindowAssignment{
		ID: "a-racer", RiderID: "R-racer", TimeWindowID: "w-0830",
		ServiceDate: testDate, Pickup: nearLoc, Status: model.AssignmentConfirmed,
	}
	racedEng := newRouting(c, &hookedProvider{
		RoutingProvider: service.NewHaversineProvider(1.3, 30),
		onDirections: func() {
			change := service.PlanChange{
				TimeWindowID:        "w-0830",
				ServiceDate:         testDate,
				Snapshot:            []string{a1.ID},
				NewOrder:            []string{a1.ID, racer.ID},
				AnchorID:            a1.ID,
				BaseDurationSeconds: legSec(suburbLoc, nearLoc) + legSec(nearLoc, campusLoc),
			}
			if err := c.store.ApplyInsertion(context.Background(), change, racer); err != nil {
				t.Errorf("racing insertion: %v", err)
			}
		},
	})

	_, _, err = racedEng.CreateWindowAssignment(ctx, wcand("R2", "w-0830", nearLoc))
	require.ErrorIs(t, err, service.ErrPlanChangedRetry)

	n, err := c.store.CountConfirmed(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the anchor and the racer should hold seats")
}

func TestCreateWindowAssignment_DirectionsFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)

	// The confirm path requires exact routing: no haversine fallback.
	eng := newRouting(c, &failingDirectionsProvider{
		RoutingProvider: service.NewHaversineProvider(1.3, 30),
		err:             service.ErrProviderTimeout.Msgf("directions down"),
	})

	_, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.ErrorIs(t, err, service.ErrProviderTimeout)

	n, err := c.store.CountConfirmed(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type failingDirectionsProvider struct {
	service.RoutingProvider
	err error
}

func (p *failingDirectionsProvider) Directions(context.Context, []model.Location) (*model.Route, error) {
	return nil, p.err
}

func TestCancelWindowAssignment_PromotesNextAnchor(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	a1, _, err := eng.CreateWindowAssignment(ctx, wcand("R1", "w-0830", suburbLoc))
	require.NoError(t, err)
	a2, _, err := eng.CreateWindowAssignment(ctx, wcand("R2", "w-0830", nearLoc))
	require.NoError(t, err)

	require.NoError(t, eng.CancelWindowAssignment(ctx, a1.ID))

	plan, err := c.store.GetPlan(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID}, plan.OrderedAssignmentIDs)
	assert.Equal(t, a2.ID, plan.AnchorAssignmentID)
	assert.Equal(t, legSec(nearLoc, campusLoc), plan.BaseDurationSeconds)

	got, err := c.store.GetAssignment(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCancelled, got.Status)

	// Cancelling again is a no-op.
	require.NoError(t, eng.CancelWindowAssignment(ctx, a1.ID))

	// Removing the last rider empties the plan entirely.
	require.NoError(t, eng.CancelWindowAssignment(ctx, a2.ID))
	plan, err = c.store.GetPlan(ctx, "w-0830", testDate)
	require.NoError(t, err)
	assert.Empty(t, plan.OrderedAssignmentIDs)
	assert.Empty(t, plan.AnchorAssignmentID)
	assert.Equal(t, 0, plan.BaseDurationSeconds)

	// The window is bookable again from scratch.
	d, err := eng.CanAddRiderToWindow(ctx, wcand("R3", "w-0830", suburbLoc))
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, 0, d.InsertionIndex)
}

func TestCancelWindowAssignment_UnknownAssignment(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	err := eng.CancelWindowAssignment(ctx, "a-missing")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestCanAddRiderToWindow_FallbackOnProviderOutage(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)

	t.Run("external failures degrade to estimates", func(t *testing.T) {
		eng := newRouting(c, &failingProvider{err: service.ErrProviderTimeout.Msgf("matrix down")})
		d, err := eng.CanAddRiderToWindow(ctx, wcand("R1", "w-0830", suburbLoc))
		require.NoError(t, err)
		assert.True(t, d.Accepted)

		departure, err := model.ParseClock("07:45")
		require.NoError(t, err)
		direct := legSec(suburbLoc, campusLoc)
		assert.Equal(t, model.FormatClock(departure+int(math.Round(float64(direct)/60))), d.EstimatedArrival)
	})

	t.Run("other failures surface", func(t *testing.T) {
		eng := newRouting(c, &failingProvider{err: errors.New("wires crossed")})
		d, err := eng.CanAddRiderToWindow(ctx, wcand("R1", "w-0830", suburbLoc))
		require.Error(t, err)
		assert.Nil(t, d)
	})
}

func TestCanAddRiderToWindow_UnknownOrInactiveWindow(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.seedSouthZone(3)
	c.store.PutWindow(model.TimeWindow{
		ID: "w-retired", ZoneID: "z-south", Kind: model.WindowMorning,
		CampusTargetTime: "10:00", StartPickupTime: "09:15", MaxRiders: 3, Active: false,
	})
	eng := newRouting(c, service.NewHaversineProvider(1.3, 30))

	_, err := eng.CanAddRiderToWindow(ctx, wcand("R1", "w-missing", suburbLoc))
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = eng.CanAddRiderToWindow(ctx, wcand("R1", "w-retired", suburbLoc))
	require.ErrorIs(t, err, service.ErrNotFound)
}
