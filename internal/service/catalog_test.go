package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

func TestInitializeSlotsForDate_BuildsFullGrid(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()

	n, err := c.catalog.InitializeSlotsForDate(ctx, testDate)
	require.NoError(t, err)
	// 06:00–22:00 in 5-minute windows, two directions.
	assert.Equal(t, 384, n)

	slots, err := c.catalog.GetSlotsForDate(ctx, testDate, model.DirectionHomeToCampus)
	require.NoError(t, err)
	require.Len(t, slots, 192)

	first := slots[0]
	assert.Equal(t, testDate+"_home_to_campus_0600", first.ID)
	assert.Equal(t, "06:00", first.ArrivalStart)
	assert.Equal(t, "06:05", first.ArrivalEnd)
	assert.Equal(t, model.SlotOffPeak, first.Type)
	assert.Equal(t, 2, first.MaxPremium)
	assert.Equal(t, 2, first.MaxNonPremium)

	last := slots[len(slots)-1]
	assert.Equal(t, "21:55", last.ArrivalStart)
	assert.Equal(t, "22:00", last.ArrivalEnd)
}

func TestInitializeSlotsForDate_PeakSlotsOpenWithZeroNonPremium(t *testing.T) {
	c := newCore(t, nil)
	c.initDate(t, testDate)

	peak := c.slot(t, testDate+"_home_to_campus_0830")
	assert.Equal(t, model.SlotPeak, peak.Type)
	assert.Equal(t, 2, peak.MaxPremium)
	assert.Equal(t, 0, peak.MaxNonPremium)

	// Peak boundaries: 07:00 is peak, 06:55 and 10:00 are not.
	assert.Equal(t, model.SlotPeak, c.slot(t, testDate+"_home_to_campus_0700").Type)
	assert.Equal(t, model.SlotOffPeak, c.slot(t, testDate+"_home_to_campus_0655").Type)
	assert.Equal(t, model.SlotOffPeak, c.slot(t, testDate+"_home_to_campus_1000").Type)
	assert.Equal(t, model.SlotPeak, c.slot(t, testDate+"_home_to_campus_1500").Type)
	assert.Equal(t, model.SlotOffPeak, c.slot(t, testDate+"_home_to_campus_1800").Type)
}

func TestInitializeSlotsForDate_RepeatKeepsCounters(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1100"
	c.reserve(t, slotID, true)

	n, err := c.catalog.InitializeSlotsForDate(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, 384, n)

	// The second pass must not reset the reserved seat.
	assert.Equal(t, 1, c.slot(t, slotID).UsedPremium)
}

func TestInitializeSlotsForDate_RejectsBadDate(t *testing.T) {
	c := newCore(t, nil)

	_, err := c.catalog.InitializeSlotsForDate(context.Background(), "18-11-2025")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotFound))
}

func TestReserveSlotCapacity_TierIsolation(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1200"

	// Premium tier fills independently of the non-premium tier.
	for i := 0; i < 2; i++ {
		ok, err := c.catalog.ReserveSlotCapacity(ctx, slotID, true)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.catalog.ReserveSlotCapacity(ctx, slotID, true)
	require.NoError(t, err)
	assert.False(t, ok, "third premium seat should not exist")

	ok, err = c.catalog.ReserveSlotCapacity(ctx, slotID, false)
	require.NoError(t, err)
	assert.True(t, ok, "non-premium tier should be untouched")

	require.NoError(t, c.catalog.ReleaseSlotCapacity(ctx, slotID, true))
	ok, err = c.catalog.ReserveSlotCapacity(ctx, slotID, true)
	require.NoError(t, err)
	assert.True(t, ok, "released premium seat should be reusable")
}

func TestUpdateSlotMaxNonPremium_FloorsAtUsed(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1300"
	c.reserve(t, slotID, false)

	// Lowering below the used count clamps to the used count.
	require.NoError(t, c.catalog.UpdateSlotMaxNonPremium(ctx, slotID, 0))
	assert.Equal(t, 1, c.slot(t, slotID).MaxNonPremium)

	// Negative input behaves as zero (and still floors at used).
	require.NoError(t, c.catalog.UpdateSlotMaxNonPremium(ctx, slotID, -4))
	assert.Equal(t, 1, c.slot(t, slotID).MaxNonPremium)

	require.NoError(t, c.catalog.UpdateSlotMaxNonPremium(ctx, slotID, 5))
	assert.Equal(t, 5, c.slot(t, slotID).MaxNonPremium)
}

func TestSetSlotFragility_BlocksNonPremium(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	slotID := testDate + "_home_to_campus_1400"
	require.NoError(t, c.catalog.SetSlotFragility(ctx, slotID, true))

	s := c.slot(t, slotID)
	assert.True(t, s.Fragile)
	assert.False(t, s.HasAvailability(model.PlanStandard))
	assert.True(t, s.HasAvailability(model.PlanPremium))

	require.NoError(t, c.catalog.SetSlotFragility(ctx, slotID, false))
	assert.True(t, c.slot(t, slotID).HasAvailability(model.PlanStandard))
}

func TestCatalogMutations_InvalidateAvailabilityCache(t *testing.T) {
	c := newCore(t, nil)
	ctx := context.Background()
	c.initDate(t, testDate)

	seed := func() {
		c.cache.SetWindows(ctx, "avail:"+testDate+":premium:x", []service.ArrivalWindow{{SlotID: "w"}})
		require.Equal(t, 1, c.cache.Len())
	}

	seed()
	c.reserve(t, testDate+"_home_to_campus_1500", true)
	assert.Equal(t, 0, c.cache.Len(), "reserve should drop cached searches")

	seed()
	require.NoError(t, c.catalog.SetSlotFragility(ctx, testDate+"_home_to_campus_1405", true))
	assert.Equal(t, 0, c.cache.Len(), "fragility change should drop cached searches")

	seed()
	require.NoError(t, c.catalog.UpdateSlotMaxNonPremium(ctx, testDate+"_home_to_campus_1410", 1))
	assert.Equal(t, 0, c.cache.Len(), "cap change should drop cached searches")

	// Other dates stay cached.
	c.cache.SetWindows(ctx, "avail:2025-11-19:premium:x", []service.ArrivalWindow{{SlotID: "w"}})
	require.NoError(t, c.catalog.ReleaseSlotCapacity(ctx, testDate+"_home_to_campus_1500", true))
	assert.Equal(t, 1, c.cache.Len())
}

func TestGetSlotByID_UnknownSlot(t *testing.T) {
	c := newCore(t, nil)
	c.initDate(t, testDate)

	_, err := c.catalog.GetSlotByID(context.Background(), testDate+"_home_to_campus_9999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotFound))
}
