package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// SlotCatalog maintains the canonical time-slot set per service date and
// fronts all capacity counter mutations. Counter changes are linearizable
// per slot; the store guarantees no lost update when two holds race for
// the last seat.
type SlotCatalog struct {
	store  SlotStore
	cache  AvailabilityCache // optional
	params ScheduleParams
	logger *zap.SugaredLogger
}

func NewSlotCatalog(store SlotStore, cache AvailabilityCache, params ScheduleParams, logger *zap.SugaredLogger) *SlotCatalog {
	return &SlotCatalog{
		store:  store,
		cache:  cache,
		params: params,
		logger: logger.Named("slots"),
	}
}

// InitializeSlotsForDate generates the base slot grid for a date: one slot
// per arrival window per configured direction. Peak slots open with zero
// non-Premium seats. Existing rows are left untouched, so the call is safe
// to repeat.
func (c *SlotCatalog) InitializeSlotsForDate(ctx context.Context, date string) (int, error) {
	if _, err := model.ParseDate(date); err != nil {
		return 0, ErrNotFound.Msgf("invalid service date %q", date).Wrap(err)
	}

	step := c.params.SlotWindowMinutes
	var slots []model.TimeSlot
	for _, dir := range c.params.Directions {
		for start := c.params.ServiceDay.Start; start < c.params.ServiceDay.End; start += step {
			slotType := c.params.SlotTypeFor(start)
			maxNonPremium := c.params.SlotMaxNonPremium
			if slotType == model.SlotPeak {
				maxNonPremium = 0
			}
			slots = append(slots, model.TimeSlot{
				ID:            model.SlotIDFor(date, dir, start),
				Date:          date,
				Direction:     dir,
				Type:          slotType,
				ArrivalStart:  model.FormatClock(start),
				ArrivalEnd:    model.FormatClock(start + step),
				MaxPremium:    c.params.SlotMaxPremium,
				MaxNonPremium: maxNonPremium,
			})
		}
	}

	if err := c.store.InsertSlots(ctx, slots); err != nil {
		return 0, fmt.Errorf("slots: initialize %s: %w", date, err)
	}
	c.invalidate(ctx, date)
	c.logger.Infow("slot grid initialized", "date", date, "slots", len(slots))
	return len(slots), nil
}

// GetSlotsForDate returns the date's slots, optionally filtered by
// direction, ordered by arrival start.
func (c *SlotCatalog) GetSlotsForDate(ctx context.Context, date string, direction model.Direction) ([]model.TimeSlot, error) {
	return c.store.ListSlots(ctx, date, direction)
}

// GetSlotByID returns one slot or ErrNotFound.
func (c *SlotCatalog) GetSlotByID(ctx context.Context, slotID string) (*model.TimeSlot, error) {
	return c.store.GetSlot(ctx, slotID)
}

// ReserveSlotCapacity takes one seat in the slot's tier. A false return
// means the seat was gone, not an error.
func (c *SlotCatalog) ReserveSlotCapacity(ctx context.Context, slotID string, premium bool) (bool, error) {
	ok, err := c.store.Reserve(ctx, slotID, premium)
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.ReservationConflicts.Inc()
		return false, nil
	}
	c.invalidate(ctx, slotDate(slotID))
	return true, nil
}

// ReleaseSlotCapacity gives one seat back, never dropping below zero.
func (c *SlotCatalog) ReleaseSlotCapacity(ctx context.Context, slotID string, premium bool) error {
	if err := c.store.Release(ctx, slotID, premium); err != nil {
		return err
	}
	c.invalidate(ctx, slotDate(slotID))
	return nil
}

// SetSlotFragility toggles the Premium-only flag on a slot.
func (c *SlotCatalog) SetSlotFragility(ctx context.Context, slotID string, fragile bool) error {
	if err := c.store.SetFragile(ctx, slotID, fragile); err != nil {
		return err
	}
	c.invalidate(ctx, slotDate(slotID))
	c.logger.Infow("slot fragility updated", "slot", slotID, "fragile", fragile)
	return nil
}

// UpdateSlotMaxNonPremium applies an admin cap. The store floors the cap
// at the current used count; holds already taken are never auto-released.
func (c *SlotCatalog) UpdateSlotMaxNonPremium(ctx context.Context, slotID string, max int) error {
	if max < 0 {
		max = 0
	}
	applied, err := c.store.SetMaxNonPremium(ctx, slotID, max)
	if err != nil {
		return err
	}
	if applied != max {
		c.logger.Warnw("non-premium cap floored at used count", "slot", slotID, "requested", max, "applied", applied)
	}
	c.invalidate(ctx, slotDate(slotID))
	return nil
}

func (c *SlotCatalog) invalidate(ctx context.Context, date string) {
	if c.cache != nil && date != "" {
		c.cache.InvalidateDate(ctx, date)
	}
}

// slotDate extracts the service date prefix from a slot id.
func slotDate(slotID string) string {
	if i := strings.IndexByte(slotID, '_'); i > 0 {
		return slotID[:i]
	}
	return ""
}
