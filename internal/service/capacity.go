package service

import (
	"context"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
)

// PremiumRegistry tracks the process-wide Premium subscriber count. The
// counter is monotone and capped; increments use CAS so concurrent
// sign-ups never overshoot.
type PremiumRegistry struct {
	count atomic.Int64
	cap   int64
}

func NewPremiumRegistry(cap int) *PremiumRegistry {
	return &PremiumRegistry{cap: int64(cap)}
}

// Seed sets the starting count, e.g. from persisted subscriber rows.
func (r *PremiumRegistry) Seed(n int) {
	if int64(n) > r.cap {
		n = int(r.cap)
	}
	r.count.Store(int64(n))
}

func (r *PremiumRegistry) Count() int { return int(r.count.Load()) }

func (r *PremiumRegistry) CanAdd() bool { return r.count.Load() < r.cap }

// Add claims one subscriber seat. Returns false when the cap is reached.
func (r *PremiumRegistry) Add() bool {
	for {
		cur := r.count.Load()
		if cur >= r.cap {
			return false
		}
		if r.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// HourCapacity is one hour's non-Premium budget within a day plan.
type HourCapacity struct {
	Hour       int `json:"hour"`
	NonPremium int `json:"non_premium"`
	Used       int `json:"used"`
}

// DailyCapacity is the computed capacity envelope for one service date.
type DailyCapacity struct {
	Date               string         `json:"date"`
	PremiumCapacity    int            `json:"premium_capacity"`
	NonPremiumCapacity int            `json:"non_premium_capacity"`
	UsedPremium        int            `json:"used_premium"`
	UsedNonPremium     int            `json:"used_non_premium"`
	Hourly             []HourCapacity `json:"hourly"`
}

// CapacityPlanner derives daily Premium/non-Premium envelopes from the
// subscriber count and the hour/day ride caps, and rebalances non-Premium
// seats across off-peak slots.
type CapacityPlanner struct {
	catalog  *SlotCatalog
	registry *PremiumRegistry
	params   ScheduleParams
	logger   *zap.SugaredLogger
}

func NewCapacityPlanner(catalog *SlotCatalog, registry *PremiumRegistry, params ScheduleParams, logger *zap.SugaredLogger) *CapacityPlanner {
	return &CapacityPlanner{
		catalog:  catalog,
		registry: registry,
		params:   params,
		logger:   logger.Named("capacity"),
	}
}

// ComputeDailyCapacity returns the date's envelope: Premium capacity is
// pinned to the subscriber count; non-Premium capacity is allocated per
// hour under MaxRidesPerHour, with the whole day bounded by MaxRidesPerDay
// minus Premium reservations.
func (p *CapacityPlanner) ComputeDailyCapacity(ctx context.Context, date string) (*DailyCapacity, error) {
	slots, err := p.catalog.GetSlotsForDate(ctx, date, "")
	if err != nil {
		return nil, err
	}

	usedPremium, usedNonPremium := 0, 0
	usedByHour := make(map[int]int)
	for _, s := range slots {
		usedPremium += s.UsedPremium
		usedNonPremium += s.UsedNonPremium
		start, _ := model.ParseClock(s.ArrivalStart)
		usedByHour[start/60] += s.UsedPremium + s.UsedNonPremium
	}

	dc := &DailyCapacity{
		Date:            date,
		PremiumCapacity: p.registry.Count(),
		UsedPremium:     usedPremium,
		UsedNonPremium:  usedNonPremium,
	}

	remaining := p.params.MaxRidesPerDay - usedPremium
	if remaining < 0 {
		remaining = 0
	}
	for h := p.params.ServiceDay.Start / 60; h < (p.params.ServiceDay.End+59)/60; h++ {
		alloc := p.params.MaxRidesPerHour
		if alloc > remaining {
			alloc = remaining
		}
		remaining -= alloc
		dc.NonPremiumCapacity += alloc
		dc.Hourly = append(dc.Hourly, HourCapacity{Hour: h, NonPremium: alloc, Used: usedByHour[h]})
	}
	return dc, nil
}

// CheckHourlyCapacity verifies the driver-throughput cap for the hour
// containing the given wall-clock minute.
func (p *CapacityPlanner) CheckHourlyCapacity(ctx context.Context, date string, minutes int) error {
	slots, err := p.catalog.GetSlotsForDate(ctx, date, "")
	if err != nil {
		return err
	}
	hour := minutes / 60
	used := 0
	for _, s := range slots {
		start, _ := model.ParseClock(s.ArrivalStart)
		if start/60 == hour {
			used += s.UsedPremium + s.UsedNonPremium
		}
	}
	if used >= p.params.MaxRidesPerHour {
		return ErrHourlyCapExceeded.Msgf("hour %02d on %s already has %d rides", hour, date, used)
	}
	return nil
}

// CheckDailyCapacity verifies the whole-day ride cap.
func (p *CapacityPlanner) CheckDailyCapacity(ctx context.Context, date string) error {
	slots, err := p.catalog.GetSlotsForDate(ctx, date, "")
	if err != nil {
		return err
	}
	used := 0
	for _, s := range slots {
		used += s.UsedPremium + s.UsedNonPremium
	}
	if used >= p.params.MaxRidesPerDay {
		return ErrDailyCapExceeded.Msgf("%s already has %d rides", date, used)
	}
	return nil
}

// CanAddPremiumRide reports whether the caps leave room for one more
// Premium ride at the given wall-clock minute.
func (p *CapacityPlanner) CanAddPremiumRide(ctx context.Context, date string, minutes int) (bool, error) {
	return p.canAddRide(ctx, date, minutes)
}

// CanAddNonPremiumRide reports whether the caps leave room for one more
// non-Premium ride at the given wall-clock minute.
func (p *CapacityPlanner) CanAddNonPremiumRide(ctx context.Context, date string, minutes int) (bool, error) {
	return p.canAddRide(ctx, date, minutes)
}

func (p *CapacityPlanner) canAddRide(ctx context.Context, date string, minutes int) (bool, error) {
	if err := p.CheckHourlyCapacity(ctx, date, minutes); err != nil {
		if CodeOf(err) == CodeHourlyCapExceeded {
			return false, nil
		}
		return false, err
	}
	if err := p.CheckDailyCapacity(ctx, date); err != nil {
		if CodeOf(err) == CodeDailyCapExceeded {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AutoBalanceNonPremiumCapacity resizes maxNonPremium across the date's
// off-peak slots to fit the day budget, hour by hour, giving seats to the
// least utilized slots first. Existing reservations are never evicted:
// each slot keeps at least its used count.
func (p *CapacityPlanner) AutoBalanceNonPremiumCapacity(ctx context.Context, date string) (int, error) {
	slots, err := p.catalog.GetSlotsForDate(ctx, date, "")
	if err != nil {
		return 0, err
	}

	usedPremium := 0
	byHour := make(map[int][]model.TimeSlot)
	for _, s := range slots {
		usedPremium += s.UsedPremium
		if s.Type != model.SlotOffPeak || s.Fragile {
			continue
		}
		start, _ := model.ParseClock(s.ArrivalStart)
		byHour[start/60] = append(byHour[start/60], s)
	}

	remainingDay := p.params.MaxRidesPerDay - usedPremium
	if remainingDay < 0 {
		remainingDay = 0
	}

	hours := make([]int, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	changed := 0
	for _, h := range hours {
		group := byHour[h]
		sort.Slice(group, func(i, j int) bool {
			ui, uj := utilization(group[i]), utilization(group[j])
			if ui != uj {
				return ui < uj
			}
			return group[i].ArrivalStart < group[j].ArrivalStart
		})

		hourAlloc := p.params.MaxRidesPerHour
		if hourAlloc > remainingDay {
			hourAlloc = remainingDay
		}

		// Reservations already made are untouchable.
		newMax := make([]int, len(group))
		for i, s := range group {
			newMax[i] = s.UsedNonPremium
			hourAlloc -= s.UsedNonPremium
		}
		// Hand out the rest one seat at a time, least utilized first.
		for hourAlloc > 0 {
			gave := false
			for i := range group {
				if hourAlloc == 0 {
					break
				}
				if newMax[i] < p.params.SlotMaxNonPremium {
					newMax[i]++
					hourAlloc--
					gave = true
				}
			}
			if !gave {
				break
			}
		}

		for i, s := range group {
			remainingDay -= newMax[i]
			if newMax[i] == s.MaxNonPremium {
				continue
			}
			if err := p.catalog.UpdateSlotMaxNonPremium(ctx, s.ID, newMax[i]); err != nil {
				return changed, err
			}
			changed++
		}
		if remainingDay < 0 {
			remainingDay = 0
		}
	}

	p.logger.Infow("non-premium capacity rebalanced", "date", date, "slots_changed", changed)
	return changed, nil
}

func utilization(s model.TimeSlot) float64 {
	if s.MaxNonPremium == 0 {
		if s.UsedNonPremium > 0 {
			return 1.0
		}
		return 0.0
	}
	return float64(s.UsedNonPremium) / float64(s.MaxNonPremium)
}
