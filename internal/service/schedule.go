package service

import (
	"context"
	"sort"

	"github.com/yswin-stack/campusride/internal/model"
)

// Block is a named stretch of the service day. Feasibility simulation is
// scoped to the block containing the candidate slot.
type Block struct {
	Name  string      `json:"name"`
	Range MinuteRange `json:"range"`
}

// DaySchedule is an immutable snapshot of one date: occupying rides sorted
// by arrival window (ties broken by rider id) plus the active holds.
type DaySchedule struct {
	Date  string
	Rides []model.ScheduledRide
	Holds []model.SlotHold
}

// ScheduleState loads ride and hold snapshots per date. It never mutates
// rides; the hold manager and the cancellation paths own transitions.
type ScheduleState struct {
	rides  RideStore
	holds  HoldStore
	params ScheduleParams
}

func NewScheduleState(rides RideStore, holds HoldStore, params ScheduleParams) *ScheduleState {
	return &ScheduleState{rides: rides, holds: holds, params: params}
}

// Blocks returns the day partition: pre-dawn, morning peak, mid-day,
// evening peak, evening. Peak blocks follow the configured peak windows.
func (s *ScheduleState) Blocks() []Block {
	am, pm := s.params.PeakMorning, s.params.PeakEvening
	return []Block{
		{Name: "pre_dawn", Range: MinuteRange{Start: 0, End: am.Start}},
		{Name: "morning_peak", Range: am},
		{Name: "mid_day", Range: MinuteRange{Start: am.End, End: pm.Start}},
		{Name: "evening_peak", Range: pm},
		{Name: "evening", Range: MinuteRange{Start: pm.End, End: 24 * 60}},
	}
}

// BlockForTime returns the block enclosing a wall-clock minute.
func (s *ScheduleState) BlockForTime(minutes int) Block {
	for _, b := range s.Blocks() {
		if b.Range.Contains(minutes) {
			return b
		}
	}
	// minutes outside [0,1440) only happens on caller bugs; pin to evening.
	blocks := s.Blocks()
	return blocks[len(blocks)-1]
}

// LoadDay snapshots the date. Only rides still occupying capacity are
// included.
func (s *ScheduleState) LoadDay(ctx context.Context, date string) (*DaySchedule, error) {
	all, err := s.rides.ListRides(ctx, date)
	if err != nil {
		return nil, err
	}
	rides := make([]model.ScheduledRide, 0, len(all))
	for _, r := range all {
		if r.Status.Occupying() {
			rides = append(rides, r)
		}
	}
	sortRides(rides)

	holds, err := s.holds.ListActiveHolds(ctx, date)
	if err != nil {
		return nil, err
	}
	return &DaySchedule{Date: date, Rides: rides, Holds: holds}, nil
}

// RidesInBlock filters a snapshot to rides whose arrival window starts
// inside the block.
func (s *ScheduleState) RidesInBlock(day *DaySchedule, block Block) []model.ScheduledRide {
	out := make([]model.ScheduledRide, 0, len(day.Rides))
	for _, r := range day.Rides {
		start, err := model.ParseClock(r.ArrivalStart)
		if err != nil {
			continue
		}
		if block.Range.Contains(start) {
			out = append(out, r)
		}
	}
	return out
}

// GetRidesInTimeBlock loads the date and filters to the block in one call.
func (s *ScheduleState) GetRidesInTimeBlock(ctx context.Context, date string, block Block) ([]model.ScheduledRide, error) {
	day, err := s.LoadDay(ctx, date)
	if err != nil {
		return nil, err
	}
	return s.RidesInBlock(day, block), nil
}

// GetActiveHoldsForDate returns the date's active holds.
func (s *ScheduleState) GetActiveHoldsForDate(ctx context.Context, date string) ([]model.SlotHold, error) {
	return s.holds.ListActiveHolds(ctx, date)
}

// FindConflictingRides returns the rider's rides on the date whose arrival
// start is within the conflict buffer of the candidate start.
func (s *ScheduleState) FindConflictingRides(ctx context.Context, riderID, date string, startMinutes int) ([]model.ScheduledRide, error) {
	day, err := s.LoadDay(ctx, date)
	if err != nil {
		return nil, err
	}
	var out []model.ScheduledRide
	for _, r := range day.Rides {
		if r.RiderID != riderID {
			continue
		}
		start, err := model.ParseClock(r.ArrivalStart)
		if err != nil {
			continue
		}
		if abs(start-startMinutes) < s.params.ConflictBufferMinutes {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortRides(rides []model.ScheduledRide) {
	sort.Slice(rides, func(i, j int) bool {
		if rides[i].ArrivalStart != rides[j].ArrivalStart {
			return rides[i].ArrivalStart < rides[j].ArrivalStart
		}
		return rides[i].RiderID < rides[j].RiderID
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
