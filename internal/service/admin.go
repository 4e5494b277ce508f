package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
)

// BlockStats summarizes slot usage across one block of the day.
type BlockStats struct {
	Block          string  `json:"block"`
	Slots          int     `json:"slots"`
	UsedPremium    int     `json:"used_premium"`
	MaxPremium     int     `json:"max_premium"`
	UsedNonPremium int     `json:"used_non_premium"`
	MaxNonPremium  int     `json:"max_non_premium"`
	FragileSlots   int     `json:"fragile_slots"`
	Utilization    float64 `json:"utilization"`
}

// AdminCapacityView is the operator's day dashboard.
type AdminCapacityView struct {
	Date           string                   `json:"date"`
	Summary        *DailyCapacity           `json:"summary"`
	ScheduledRides int                      `json:"scheduled_rides"`
	ActiveHolds    int                      `json:"active_holds"`
	PeakBlocks     []BlockStats             `json:"peak_blocks"`
	OffPeakBlocks  []BlockStats             `json:"off_peak_blocks"`
	LastSimulation *model.SimulationSummary `json:"last_simulation,omitempty"`
}

// AdminService assembles operator views over the planner, schedule and
// simulation history.
type AdminService struct {
	catalog *SlotCatalog
	planner *CapacityPlanner
	state   *ScheduleState
	jobs    JobStore
	params  ScheduleParams
	logger  *zap.SugaredLogger
}

func NewAdminService(
	catalog *SlotCatalog,
	planner *CapacityPlanner,
	state *ScheduleState,
	jobs JobStore,
	params ScheduleParams,
	logger *zap.SugaredLogger,
) *AdminService {
	return &AdminService{
		catalog: catalog,
		planner: planner,
		state:   state,
		jobs:    jobs,
		params:  params,
		logger:  logger.Named("admin"),
	}
}

// GetAdminCapacityView returns the date's capacity envelope, per-block
// usage and the latest completed simulation, if any.
func (s *AdminService) GetAdminCapacityView(ctx context.Context, date string) (*AdminCapacityView, error) {
	summary, err := s.planner.ComputeDailyCapacity(ctx, date)
	if err != nil {
		return nil, err
	}
	day, err := s.state.LoadDay(ctx, date)
	if err != nil {
		return nil, err
	}
	slots, err := s.catalog.GetSlotsForDate(ctx, date, "")
	if err != nil {
		return nil, err
	}

	view := &AdminCapacityView{
		Date:           date,
		Summary:        summary,
		ScheduledRides: len(day.Rides),
		ActiveHolds:    len(day.Holds),
	}
	for _, block := range s.state.Blocks() {
		stats := blockStats(block, slots)
		if stats.Slots == 0 {
			continue
		}
		if s.params.InPeak(block.Range.Start) {
			view.PeakBlocks = append(view.PeakBlocks, stats)
		} else {
			view.OffPeakBlocks = append(view.OffPeakBlocks, stats)
		}
	}

	job, err := s.jobs.LatestCompletedJob(ctx, date)
	if err != nil {
		s.logger.Warnw("latest simulation lookup failed", "date", date, "error", err)
	} else if job != nil {
		view.LastSimulation = job.Summary
	}
	return view, nil
}

func blockStats(block Block, slots []model.TimeSlot) BlockStats {
	stats := BlockStats{Block: block.Name}
	for _, s := range slots {
		start, err := model.ParseClock(s.ArrivalStart)
		if err != nil || !block.Range.Contains(start) {
			continue
		}
		stats.Slots++
		stats.UsedPremium += s.UsedPremium
		stats.MaxPremium += s.MaxPremium
		stats.UsedNonPremium += s.UsedNonPremium
		stats.MaxNonPremium += s.MaxNonPremium
		if s.Fragile {
			stats.FragileSlots++
		}
	}
	if capTotal := stats.MaxPremium + stats.MaxNonPremium; capTotal > 0 {
		stats.Utilization = round3(float64(stats.UsedPremium+stats.UsedNonPremium) / float64(capTotal))
	}
	return stats
}
