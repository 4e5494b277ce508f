package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

func TestCreateHold_TakesSeatForFiveMinutes(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_0830"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)

	assert.NotEmpty(t, hold.ID)
	assert.Equal(t, slotID, hold.SlotID)
	assert.Equal(t, "R1", hold.RiderID)
	assert.Equal(t, model.PlanPremium, hold.PlanType)
	assert.Equal(t, model.HoldActive, hold.Status)
	assert.True(t, hold.ExpiresAt.Equal(c.clock.Now().Add(c.params.HoldExpiry)),
		"hold expires one HoldExpiry after creation")

	assert.Equal(t, 1, c.slot(t, slotID).UsedPremium, "the hold consumes the seat immediately")
}

func TestConfirmHold_SchedulesRideWithDerivedPickup(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_0830"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)

	ride, err := c.holds.ConfirmHold(ctx, hold.ID)
	require.NoError(t, err)

	// Pickup is back-computed so pickup + worst-case travel hits the
	// deadline (window end minus the five-minute early margin).
	deadline := c.params.Deadline(8*60 + 35)
	tc := model.TimeContext{Date: testDate, Minutes: 8*60 + 30, Weekday: time.Tuesday, Weather: model.WeatherClear}
	p95 := c.travel.Estimate(suburbLoc, campusLoc, tc).P95Minutes
	wantPickup := deadline - int(math.Round(p95))

	assert.Equal(t, model.FormatClock(wantPickup), ride.PickupTime)
	assert.Equal(t, model.FormatClock(wantPickup-5), ride.PickupWindowStart)
	assert.Equal(t, model.FormatClock(wantPickup+5), ride.PickupWindowEnd)
	assert.Equal(t, "08:30", ride.PredictedArrival)
	assert.Equal(t, "08:30", ride.ArrivalStart)
	assert.Equal(t, model.DirectionHomeToCampus, ride.Direction)
	assert.Equal(t, model.RideScheduled, ride.Status)
	assert.Equal(t, hold.ID, ride.HoldID)

	confirmed, err := c.holds.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedRideID)
	assert.Equal(t, ride.ID, *confirmed.ConfirmedRideID)

	assert.Equal(t, 1, c.slot(t, slotID).UsedPremium, "confirmation keeps the same seat")
}

func TestCreateHold_RiderConflict(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	hold, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_0830", holdReq("R1", model.PlanPremium))
	require.NoError(t, err)
	ride, err := c.holds.ConfirmHold(ctx, hold.ID)
	require.NoError(t, err)

	// 08:40 is inside the 30-minute conflict buffer around 08:30.
	_, err = c.holds.CreateHold(ctx, testDate+"_home_to_campus_0840", holdReq("R1", model.PlanPremium))
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRiderConflict))

	var svcErr *service.Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, ride.ID, svcErr.Details["conflicting_ride_id"])

	// Outside the buffer the same rider books freely.
	_, err = c.holds.CreateHold(ctx, testDate+"_home_to_campus_1100", holdReq("R1", model.PlanPremium))
	assert.NoError(t, err)
}

func TestCreateHold_ReplacesExistingHold(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	firstSlot := testDate + "_home_to_campus_0830"
	first, err := c.holds.CreateHold(ctx, firstSlot, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)

	secondSlot := testDate + "_home_to_campus_1100"
	second, err := c.holds.CreateHold(ctx, secondSlot, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := c.holds.GetHold(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldCancelled, old.Status, "the older hold is auto-cancelled")
	assert.Equal(t, 0, c.slot(t, firstSlot).UsedPremium, "its seat is released")
	assert.Equal(t, 1, c.slot(t, secondSlot).UsedPremium)
}

func TestCreateHold_GateRejections(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	_, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_0830", holdReq("R1", model.PlanStandard))
	assert.True(t, errors.Is(err, service.ErrPeakClosed))

	fragileID := testDate + "_home_to_campus_1100"
	require.NoError(t, c.catalog.SetSlotFragility(ctx, fragileID, true))
	_, err = c.holds.CreateHold(ctx, fragileID, holdReq("R1", model.PlanOffPeak))
	assert.True(t, errors.Is(err, service.ErrFragileSlot))

	// Premium tier full.
	slotID := testDate + "_home_to_campus_0835"
	_, err = c.holds.CreateHold(ctx, slotID, holdReq("P1", model.PlanPremium))
	require.NoError(t, err)
	_, err = c.holds.CreateHold(ctx, slotID, holdReq("P2", model.PlanPremium))
	require.NoError(t, err)
	_, err = c.holds.CreateHold(ctx, slotID, holdReq("P3", model.PlanPremium))
	assert.True(t, errors.Is(err, service.ErrNoCapacity))
}

func TestCreateHold_InfeasibleSlot(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	// The 07:00 window closes before the driver can reach anyone.
	_, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_0700", holdReq("R1", model.PlanPremium))
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrCandidateLate))

	// A rejected attempt must not leak a seat.
	assert.Equal(t, 0, c.slot(t, testDate+"_home_to_campus_0700").UsedPremium)
}

func TestCreateHold_SystemCaps(t *testing.T) {
	t.Run("daily cap checked before hourly", func(t *testing.T) {
		c := newCore(t, func(p *service.ScheduleParams) {
			p.MaxRidesPerDay = 1
			p.MaxRidesPerHour = 1
		})
		ctx := context.Background()
		c.initDate(t, testDate)
		c.reserve(t, testDate+"_home_to_campus_1100", false)

		_, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_1300", holdReq("R1", model.PlanPremium))
		require.Error(t, err)
		assert.True(t, errors.Is(err, service.ErrDailyCapExceeded))
	})

	t.Run("hourly cap", func(t *testing.T) {
		c := newCore(t, func(p *service.ScheduleParams) {
			p.MaxRidesPerHour = 1
		})
		ctx := context.Background()
		c.initDate(t, testDate)
		c.reserve(t, testDate+"_home_to_campus_1300", false)

		_, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_1330", holdReq("R1", model.PlanPremium))
		require.Error(t, err)
		assert.True(t, errors.Is(err, service.ErrHourlyCapExceeded))

		// The next hour is open.
		_, err = c.holds.CreateHold(ctx, testDate+"_home_to_campus_1430", holdReq("R1", model.PlanPremium))
		assert.NoError(t, err)
	})
}

func TestConfirmHold_Expired(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_0830"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)

	c.clock.Advance(c.params.HoldExpiry + time.Second)

	_, err = c.holds.ConfirmHold(ctx, hold.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrExpired))

	// The seat stays consumed until the sweep reclaims it.
	assert.Equal(t, 1, c.slot(t, slotID).UsedPremium)
}

func TestExpireHolds_SweepIsIdempotent(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotA := testDate + "_home_to_campus_0830"
	slotB := testDate + "_home_to_campus_1100"
	holdA, err := c.holds.CreateHold(ctx, slotA, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)
	_, err = c.holds.CreateHold(ctx, slotB, holdReq("R2", model.PlanStandard))
	require.NoError(t, err)

	c.clock.Advance(c.params.HoldExpiry + time.Second)

	// A hold created after the advance is not yet due.
	fresh, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_1300", holdReq("R3", model.PlanStandard))
	require.NoError(t, err)

	n, err := c.holds.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expired, err := c.holds.GetHold(ctx, holdA.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldExpired, expired.Status)
	assert.Equal(t, 0, c.slot(t, slotA).UsedPremium, "sweep releases the seat")
	assert.Equal(t, 0, c.slot(t, slotB).UsedNonPremium)

	live, err := c.holds.GetHold(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldActive, live.Status)

	// Re-running the sweep finds nothing new.
	n, err = c.holds.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelHold(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_0830"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)

	got, err := c.holds.CancelHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldCancelled, got.Status)
	assert.Equal(t, 0, c.slot(t, slotID).UsedPremium)

	// Cancelling again is a harmless no-op.
	got, err = c.holds.CancelHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldCancelled, got.Status)

	// A confirmed hold is locked in; its ride carries the cancellation.
	hold2, err := c.holds.CreateHold(ctx, slotID, holdReq("R2", model.PlanPremium))
	require.NoError(t, err)
	_, err = c.holds.ConfirmHold(ctx, hold2.ID)
	require.NoError(t, err)
	_, err = c.holds.CancelHold(ctx, hold2.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrWrongStatus))
}

func TestCancelScheduledRide_RestoresSeat(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_0830"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanPremium))
	require.NoError(t, err)
	ride, err := c.holds.ConfirmHold(ctx, hold.ID)
	require.NoError(t, err)

	require.NoError(t, c.holds.CancelScheduledRide(ctx, ride.ID, false))

	got, err := c.holds.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RideCancelledByRider, got.Status)
	assert.Equal(t, 0, c.slot(t, slotID).UsedPremium)

	// Cancelling twice is a no-op.
	assert.NoError(t, c.holds.CancelScheduledRide(ctx, ride.ID, false))

	// The freed seat is immediately bookable by someone else.
	_, err = c.holds.CreateHold(ctx, slotID, holdReq("R2", model.PlanPremium))
	assert.NoError(t, err)
}

func TestCancelScheduledRide_ByAdmin(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	hold, err := c.holds.CreateHold(ctx, testDate+"_home_to_campus_1100", holdReq("R1", model.PlanStandard))
	require.NoError(t, err)
	ride, err := c.holds.ConfirmHold(ctx, hold.ID)
	require.NoError(t, err)

	require.NoError(t, c.holds.CancelScheduledRide(ctx, ride.ID, true))
	got, err := c.holds.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RideCancelledByAdmin, got.Status)
}

func TestCompleteRide_FoldsRiderHistory(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1100"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanStandard))
	require.NoError(t, err)
	ride, err := c.holds.ConfirmHold(ctx, hold.ID)
	require.NoError(t, err)

	require.NoError(t, c.holds.CompleteRide(ctx, ride.ID, 3.5))

	got, err := c.holds.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RideCompleted, got.Status)
	assert.Equal(t, 0, c.slot(t, slotID).UsedNonPremium)

	stats, err := c.store.GetRiderStats(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalBookings)
	assert.Equal(t, 1, stats.CompletedRides)
	assert.Zero(t, stats.NoShows)
	assert.InDelta(t, 3.5, stats.DelaySumMin, 1e-9)
	assert.InDelta(t, 12.25, stats.DelaySumSqMin, 1e-9)

	// Completing a completed ride is a state error.
	err = c.holds.CompleteRide(ctx, ride.ID, 1.0)
	assert.True(t, errors.Is(err, service.ErrWrongStatus))

	// Cancelling a completed ride is too.
	err = c.holds.CancelScheduledRide(ctx, ride.ID, false)
	assert.True(t, errors.Is(err, service.ErrWrongStatus))
}

func TestMarkNoShow_CountsAgainstReliability(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1100"
	hold, err := c.holds.CreateHold(ctx, slotID, holdReq("R1", model.PlanStandard))
	require.NoError(t, err)
	ride, err := c.holds.ConfirmHold(ctx, hold.ID)
	require.NoError(t, err)

	require.NoError(t, c.holds.MarkNoShow(ctx, ride.ID))

	got, err := c.holds.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RideNoShow, got.Status)
	assert.Equal(t, 0, c.slot(t, slotID).UsedNonPremium)

	stats, err := c.store.GetRiderStats(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalBookings)
	assert.Equal(t, 1, stats.NoShows)
	assert.Zero(t, stats.CompletedRides)
}

func TestCreateHold_Validation(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1100"

	req := holdReq("", model.PlanStandard)
	_, err := c.holds.CreateHold(ctx, slotID, req)
	assert.Error(t, err, "rider id is required")

	req = holdReq("R1", model.PlanType("vip"))
	_, err = c.holds.CreateHold(ctx, slotID, req)
	assert.Error(t, err, "unknown plan type")

	req = holdReq("R1", model.PlanStandard)
	req.Origin = model.Location{Lat: 120, Lng: 0}
	_, err = c.holds.CreateHold(ctx, slotID, req)
	assert.Error(t, err, "origin outside WGS-84")

	_, err = c.holds.CreateHold(ctx, testDate+"_home_to_campus_9999", holdReq("R1", model.PlanStandard))
	assert.True(t, errors.Is(err, service.ErrNotFound), "unknown slot")
}
