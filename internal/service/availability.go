package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/geo"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// AvailabilityQuery asks which arrival windows a rider could book.
type AvailabilityQuery struct {
	Date           string         `json:"date"`
	Origin         model.Location `json:"origin"`
	Destination    model.Location `json:"destination"`
	PlanType       model.PlanType `json:"plan_type"`
	DesiredArrival string         `json:"desired_arrival,omitempty"` // HH:MM
}

// ArrivalWindow is one bookable slot in an availability response.
type ArrivalWindow struct {
	SlotID          string    `json:"slot_id"`
	ArrivalStart    string    `json:"arrival_start"`
	ArrivalEnd      string    `json:"arrival_end"`
	Risk            RiskLevel `json:"risk"`
	EstimatedPickup string    `json:"estimated_pickup"`
}

// AvailabilityService answers the pre-validated slot search: every window
// it returns passed capacity gates and the full feasibility simulation, so
// a hold on it should normally succeed.
type AvailabilityService struct {
	catalog     *SlotCatalog
	feasibility *FeasibilityEngine
	travel      *TravelTimeModel
	state       *ScheduleState
	cache       AvailabilityCache
	params      ScheduleParams
	logger      *zap.SugaredLogger
}

func NewAvailabilityService(
	catalog *SlotCatalog,
	feasibility *FeasibilityEngine,
	travel *TravelTimeModel,
	state *ScheduleState,
	cache AvailabilityCache,
	params ScheduleParams,
	logger *zap.SugaredLogger,
) *AvailabilityService {
	return &AvailabilityService{
		catalog:     catalog,
		feasibility: feasibility,
		travel:      travel,
		state:       state,
		cache:       cache,
		params:      params,
		logger:      logger.Named("availability"),
	}
}

// GetAvailableArrivalWindows returns the best bookable windows for the
// query, at most MaxResults, sorted by closeness to the desired arrival
// and then by risk.
func (s *AvailabilityService) GetAvailableArrivalWindows(ctx context.Context, q AvailabilityQuery) ([]ArrivalWindow, error) {
	key := s.cacheKey(q)
	if s.cache != nil {
		if windows, ok := s.cache.GetWindows(ctx, key); ok {
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			return windows, nil
		}
		metrics.CacheRequests.WithLabelValues("miss").Inc()
	}

	direction, ok := s.inferDirection(q.Origin, q.Destination)
	if !ok {
		s.logger.Debugw("neither endpoint near campus, no windows", "date", q.Date)
		return nil, nil
	}

	slots, err := s.catalog.GetSlotsForDate(ctx, q.Date, direction)
	if err != nil {
		return nil, err
	}

	desired := -1
	if q.DesiredArrival != "" {
		if desired, err = model.ParseClock(q.DesiredArrival); err != nil {
			return nil, Internal(err)
		}
	}

	candidates := make([]model.TimeSlot, 0, len(slots))
	starts := make(map[string]int, len(slots))
	for _, slot := range slots {
		start, err := model.ParseClock(slot.ArrivalStart)
		if err != nil {
			continue
		}
		if !q.PlanType.IsPremium() && slot.Type == model.SlotPeak {
			continue
		}
		if desired >= 0 && abs(start-desired) > s.params.DesiredWindowMinutes {
			continue
		}
		if !slot.HasAvailability(q.PlanType) {
			continue
		}
		candidates = append(candidates, slot)
		starts[slot.ID] = start
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results, err := s.feasibility.BatchFeasibilityCheck(ctx, FeasibilityRequest{
		PlanType:    q.PlanType,
		Origin:      q.Origin,
		Destination: q.Destination,
		Date:        q.Date,
	}, candidates)
	if err != nil {
		return nil, err
	}

	weekday := weekdayOf(q.Date)
	windows := make([]ArrivalWindow, 0, len(candidates))
	for _, slot := range candidates {
		res, ok := results[slot.ID]
		if !ok || !res.Feasible {
			continue
		}
		windows = append(windows, ArrivalWindow{
			SlotID:          slot.ID,
			ArrivalStart:    slot.ArrivalStart,
			ArrivalEnd:      slot.ArrivalEnd,
			Risk:            res.Risk,
			EstimatedPickup: s.estimatedPickup(q, slot, starts[slot.ID], weekday),
		})
	}

	s.sortWindows(windows, starts, desired)
	if len(windows) > s.params.MaxResults {
		windows = windows[:s.params.MaxResults]
	}

	if s.cache != nil {
		s.cache.SetWindows(ctx, key, windows)
	}
	return windows, nil
}

// GetAvailableWindowsForRider additionally drops windows colliding with
// the rider's own scheduled rides.
func (s *AvailabilityService) GetAvailableWindowsForRider(ctx context.Context, riderID string, q AvailabilityQuery) ([]ArrivalWindow, error) {
	windows, err := s.GetAvailableArrivalWindows(ctx, q)
	if err != nil || len(windows) == 0 {
		return windows, err
	}

	day, err := s.state.LoadDay(ctx, q.Date)
	if err != nil {
		return nil, err
	}
	var riderStarts []int
	for _, r := range day.Rides {
		if r.RiderID != riderID {
			continue
		}
		if start, err := model.ParseClock(r.ArrivalStart); err == nil {
			riderStarts = append(riderStarts, start)
		}
	}
	if len(riderStarts) == 0 {
		return windows, nil
	}

	kept := windows[:0]
	for _, w := range windows {
		start, err := model.ParseClock(w.ArrivalStart)
		if err != nil {
			continue
		}
		conflict := false
		for _, rs := range riderStarts {
			if abs(start-rs) < s.params.ConflictBufferMinutes {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, w)
		}
	}
	return kept, nil
}

// inferDirection derives travel direction from which endpoint sits on
// campus.
func (s *AvailabilityService) inferDirection(origin, destination model.Location) (model.Direction, bool) {
	if geo.HaversineKm(destination, s.params.Campus) <= s.params.CampusRadiusKm {
		return model.DirectionHomeToCampus, true
	}
	if geo.HaversineKm(origin, s.params.Campus) <= s.params.CampusRadiusKm {
		return model.DirectionCampusToHome, true
	}
	return "", false
}

// estimatedPickup backs off from the deadline by the worst-case travel
// time, matching the pickup the confirm path will write.
func (s *AvailabilityService) estimatedPickup(q AvailabilityQuery, slot model.TimeSlot, startMin int, weekday time.Weekday) string {
	endMin, err := model.ParseClock(slot.ArrivalEnd)
	if err != nil {
		return ""
	}
	tc := model.TimeContext{Date: q.Date, Minutes: startMin, Weekday: weekday, Weather: model.WeatherClear}
	p95 := s.travel.Estimate(q.Origin, q.Destination, tc).P95Minutes
	pickup := s.params.Deadline(endMin) - roundMinutes(p95)
	if pickup < 0 {
		pickup = 0
	}
	return model.FormatClock(pickup)
}

func (s *AvailabilityService) sortWindows(windows []ArrivalWindow, starts map[string]int, desired int) {
	sort.Slice(windows, func(i, j int) bool {
		si, sj := starts[windows[i].SlotID], starts[windows[j].SlotID]
		if desired >= 0 {
			di, dj := abs(si-desired), abs(sj-desired)
			if di != dj {
				return di < dj
			}
		}
		if ri, rj := windows[i].Risk.rank(), windows[j].Risk.rank(); ri != rj {
			return ri < rj
		}
		return si < sj
	})
}

func (s *AvailabilityService) cacheKey(q AvailabilityQuery) string {
	return fmt.Sprintf("avail:%s:%s:%.4f,%.4f:%.4f,%.4f:%s",
		q.Date, q.PlanType, q.Origin.Lat, q.Origin.Lng,
		q.Destination.Lat, q.Destination.Lng, q.DesiredArrival)
}
