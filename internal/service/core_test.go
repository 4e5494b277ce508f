package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/repository/memory"
	"github.com/yswin-stack/campusride/internal/service"
	"github.com/yswin-stack/campusride/pkg/logging"
)

// testDate is a Tuesday, so the weekday traffic multiplier is 1.0 and
// hand-computed travel estimates stay simple.
const testDate = "2025-11-18"

// Fixture coordinates around the default campus anchor. The suburb is a
// ~2.5 km straight-line hop from campus; farNorth is across the city and
// reliably blows every detour and feasibility budget.
var (
	campusLoc   = model.Location{Lat: 49.8075, Lng: -97.1325}
	suburbLoc   = model.Location{Lat: 49.8300, Lng: -97.1400}
	farNorthLoc = model.Location{Lat: 49.9500, Lng: -97.2500}
)

// core wires the whole scheduling stack over the in-memory store, the same
// shape cmd/server assembles over Postgres and Redis. The manual clock
// starts at 06:00 on the test date.
type core struct {
	store    *memory.Store
	cache    *memory.Cache
	clock    *service.ManualClock
	params   service.ScheduleParams
	travel   *service.TravelTimeModel
	behavior *service.RiderBehaviorModel
	catalog  *service.SlotCatalog
	state    *service.ScheduleState
	registry *service.PremiumRegistry
	planner  *service.CapacityPlanner
	feas     *service.FeasibilityEngine
	holds    *service.HoldManager
	avail    *service.AvailabilityService
}

func newCore(t *testing.T, mut func(*service.ScheduleParams)) *core {
	t.Helper()

	params := service.DefaultScheduleParams()
	if mut != nil {
		mut(&params)
	}

	logger := logging.NewNop()
	c := &core{
		store:  memory.NewStore(),
		cache:  memory.NewCache(),
		clock:  service.NewManualClock(time.Date(2025, 11, 18, 6, 0, 0, 0, params.Loc)),
		params: params,
	}
	c.travel = service.NewTravelTimeModel(service.TravelConfig{})
	c.behavior = service.NewRiderBehaviorModel(c.store, 0)
	c.catalog = service.NewSlotCatalog(c.store, c.cache, params, logger)
	c.state = service.NewScheduleState(c.store, c.store, params)
	c.registry = service.NewPremiumRegistry(params.MaxPremiumSubscribers)
	c.planner = service.NewCapacityPlanner(c.catalog, c.registry, params, logger)
	c.feas = service.NewFeasibilityEngine(c.travel, c.behavior, c.state, c.catalog, params, logger)
	c.holds = service.NewHoldManager(
		c.store, c.store, c.catalog, c.feas, c.planner, c.travel, c.state,
		c.cache, params, c.clock, service.NewLogNotifier(logger), logger,
	)
	c.avail = service.NewAvailabilityService(c.catalog, c.feas, c.travel, c.state, c.cache, params, logger)
	return c
}

// initDate seeds the full slot grid for a service date.
func (c *core) initDate(t *testing.T, date string) {
	t.Helper()
	if _, err := c.catalog.InitializeSlotsForDate(context.Background(), date); err != nil {
		t.Fatalf("InitializeSlotsForDate(%s): %v", date, err)
	}
}

// slot fetches a slot by ID and fails the test when it is missing.
func (c *core) slot(t *testing.T, slotID string) *model.TimeSlot {
	t.Helper()
	s, err := c.catalog.GetSlotByID(context.Background(), slotID)
	if err != nil {
		t.Fatalf("GetSlotByID(%s): %v", slotID, err)
	}
	return s
}

// reserve takes one seat directly through the catalog.
func (c *core) reserve(t *testing.T, slotID string, premium bool) {
	t.Helper()
	ok, err := c.catalog.ReserveSlotCapacity(context.Background(), slotID, premium)
	if err != nil {
		t.Fatalf("ReserveSlotCapacity(%s): %v", slotID, err)
	}
	if !ok {
		t.Fatalf("ReserveSlotCapacity(%s): no seat", slotID)
	}
}

// holdReq builds a home→campus hold request from the suburb fixture.
func holdReq(riderID string, plan model.PlanType) service.HoldRequest {
	return service.HoldRequest{
		RiderID:     riderID,
		PlanType:    plan,
		Origin:      suburbLoc,
		Destination: campusLoc,
	}
}

// seedRide drops a scheduled ride straight into the store, bypassing the
// hold flow, for schedule and feasibility fixtures.
func (c *core) seedRide(t *testing.T, id, riderID string, plan model.PlanType, arrivalStart, arrivalEnd string, origin model.Location) model.ScheduledRide {
	t.Helper()
	hhmm := arrivalStart[:2] + arrivalStart[3:]
	ride := model.ScheduledRide{
		ID:           id,
		RiderID:      riderID,
		Date:         testDate,
		SlotID:       testDate + "_home_to_campus_" + hhmm,
		PlanType:     plan,
		Direction:    model.DirectionHomeToCampus,
		Origin:       origin,
		Destination:  campusLoc,
		ArrivalStart: arrivalStart,
		ArrivalEnd:   arrivalEnd,
		Status:       model.RideScheduled,
		CreatedAt:    c.clock.Now(),
		UpdatedAt:    c.clock.Now(),
	}
	c.store.PutRide(ride)
	return ride
}
