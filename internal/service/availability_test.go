package service_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// availQuery builds a home→campus availability query from the suburb fixture.
func availQuery(plan model.PlanType, desired string) service.AvailabilityQuery {
	return service.AvailabilityQuery{
		Date:           testDate,
		Origin:         suburbLoc,
		Destination:    campusLoc,
		PlanType:       plan,
		DesiredArrival: desired,
	}
}

func riskRank(r service.RiskLevel) int {
	switch r {
	case service.RiskLow:
		return 0
	case service.RiskMedium:
		return 1
	default:
		return 2
	}
}

func TestGetAvailableArrivalWindows_PremiumDesiredArrival(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	windows, err := c.avail.GetAvailableArrivalWindows(ctx, availQuery(model.PlanPremium, "08:30"))
	require.NoError(t, err)
	require.Len(t, windows, c.params.MaxResults)

	// Closest to the desired arrival first; the 5-minute ties on either
	// side break by start time.
	assert.Equal(t, "08:30", windows[0].ArrivalStart)
	assert.Equal(t, "08:25", windows[1].ArrivalStart)
	assert.Equal(t, "08:35", windows[2].ArrivalStart)
	assert.Equal(t, testDate+"_home_to_campus_0830", windows[0].SlotID)

	// The advertised pickup must match what confirming a hold would write:
	// deadline minus the worst-case travel estimate at the slot start.
	tc := model.TimeContext{Date: testDate, Minutes: 8*60 + 30, Weekday: time.Tuesday, Weather: model.WeatherClear}
	p95 := c.travel.Estimate(suburbLoc, campusLoc, tc).P95Minutes
	wantPickup := model.FormatClock(c.params.Deadline(8*60+35) - int(math.Round(p95)))
	assert.Equal(t, wantPickup, windows[0].EstimatedPickup)

	for _, w := range windows {
		assert.NotEmpty(t, w.Risk, "window %s has no risk grade", w.SlotID)
		_, err := model.ParseClock(w.EstimatedPickup)
		assert.NoError(t, err, "window %s pickup %q", w.SlotID, w.EstimatedPickup)
	}
}

func TestGetAvailableArrivalWindows_StandardShutOutOfPeak(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	// Every slot within ±90 minutes of 08:30 is either a peak slot closed
	// to standard riders or, for the 10:00 edge, unreachable in time.
	windows, err := c.avail.GetAvailableArrivalWindows(ctx, availQuery(model.PlanStandard, "08:30"))
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestGetAvailableArrivalWindows_StandardDayWide(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	windows, err := c.avail.GetAvailableArrivalWindows(ctx, availQuery(model.PlanStandard, ""))
	require.NoError(t, err)
	require.Len(t, windows, c.params.MaxResults)

	// Without a desired arrival the sort is risk first, then start time.
	// On an empty day the earliest off-peak slots carry hours of buffer.
	assert.Equal(t, "06:00", windows[0].ArrivalStart)

	prevRank, prevStart := -1, -1
	for _, w := range windows {
		start, err := model.ParseClock(w.ArrivalStart)
		require.NoError(t, err)
		assert.False(t, c.params.InPeak(start), "standard rider offered peak slot %s", w.SlotID)

		rank := riskRank(w.Risk)
		if rank == prevRank {
			assert.Greater(t, start, prevStart, "equal-risk windows out of order at %s", w.SlotID)
		} else {
			assert.Greater(t, rank, prevRank, "risk order violated at %s", w.SlotID)
		}
		prevRank, prevStart = rank, start
	}
}

func TestGetAvailableArrivalWindows_CacheServesStaleUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	q := availQuery(model.PlanPremium, "08:30")
	first, err := c.avail.GetAvailableArrivalWindows(ctx, q)
	require.NoError(t, err)
	require.Equal(t, "08:30", first[0].ArrivalStart)
	assert.Equal(t, 1, c.cache.Len())

	// Fill the 08:30 premium seats behind the catalog's back so the cache
	// is never invalidated.
	slotID := testDate + "_home_to_campus_0830"
	for i := 0; i < c.params.SlotMaxPremium; i++ {
		ok, err := c.store.Reserve(ctx, slotID, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	second, err := c.avail.GetAvailableArrivalWindows(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "08:30", second[0].ArrivalStart, "cached result should still lead with the full slot")

	c.cache.InvalidateDate(ctx, testDate)

	third, err := c.avail.GetAvailableArrivalWindows(ctx, q)
	require.NoError(t, err)
	require.NotEmpty(t, third)
	assert.Equal(t, "08:25", third[0].ArrivalStart)
	for _, w := range third {
		assert.NotEqual(t, slotID, w.SlotID, "full slot offered after invalidation")
	}
	assert.Equal(t, 1, c.cache.Len())
}

func TestGetAvailableWindowsForRider_DropsNearbyOwnRides(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)
	c.seedRide(t, "ride-own", "R1", model.PlanStandard, "11:00", "11:05", suburbLoc)

	q := availQuery(model.PlanPremium, "11:30")
	plain, err := c.avail.GetAvailableArrivalWindows(ctx, q)
	require.NoError(t, err)
	require.Len(t, plain, c.params.MaxResults)
	assert.Equal(t, "11:30", plain[0].ArrivalStart)

	filtered, err := c.avail.GetAvailableWindowsForRider(ctx, "R1", q)
	require.NoError(t, err)
	require.Len(t, filtered, 5)

	// A window exactly ConflictBufferMinutes from the rider's 11:00 ride
	// survives; anything closer is dropped.
	assert.Equal(t, "11:30", filtered[0].ArrivalStart)
	for _, w := range filtered {
		start, err := model.ParseClock(w.ArrivalStart)
		require.NoError(t, err)
		gap := start - 11*60
		if gap < 0 {
			gap = -gap
		}
		assert.GreaterOrEqual(t, gap, c.params.ConflictBufferMinutes, "window %s too close to own ride", w.ArrivalStart)
	}

	// A rider without rides that day sees the unfiltered list.
	other, err := c.avail.GetAvailableWindowsForRider(ctx, "R2", q)
	require.NoError(t, err)
	assert.Equal(t, plain, other)
}

func TestGetAvailableArrivalWindows_DirectionInference(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	t.Run("neither endpoint near campus", func(t *testing.T) {
		q := service.AvailabilityQuery{
			Date:        testDate,
			Origin:      farNorthLoc,
			Destination: model.Location{Lat: 49.9500, Lng: -97.1000},
			PlanType:    model.PlanStandard,
		}
		windows, err := c.avail.GetAvailableArrivalWindows(ctx, q)
		require.NoError(t, err)
		assert.Nil(t, windows)
	})

	t.Run("campus origin means campus_to_home", func(t *testing.T) {
		q := service.AvailabilityQuery{
			Date:        testDate,
			Origin:      campusLoc,
			Destination: suburbLoc,
			PlanType:    model.PlanStandard,
		}
		windows, err := c.avail.GetAvailableArrivalWindows(ctx, q)
		require.NoError(t, err)
		require.Len(t, windows, c.params.MaxResults)
		for _, w := range windows {
			assert.True(t, strings.Contains(w.SlotID, string(model.DirectionCampusToHome)), "slot %s", w.SlotID)
		}
	})
}

func TestGetAvailableArrivalWindows_BadDesiredArrival(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	_, err := c.avail.GetAvailableArrivalWindows(ctx, availQuery(model.PlanPremium, "25:77"))
	require.Error(t, err)
}
