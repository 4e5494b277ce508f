package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// HoldRequest is a rider claiming a seat in a slot.
type HoldRequest struct {
	RiderID     string         `json:"rider_id"`
	PlanType    model.PlanType `json:"plan_type"`
	Origin      model.Location `json:"origin"`
	Destination model.Location `json:"destination"`
}

func (r HoldRequest) validate() error {
	if r.RiderID == "" {
		return ErrNotFound.Msgf("rider id is required")
	}
	switch r.PlanType {
	case model.PlanPremium, model.PlanStandard, model.PlanOffPeak:
	default:
		return Internal(errors.New("unknown plan type " + string(r.PlanType)))
	}
	if !r.Origin.Valid() || !r.Destination.Valid() {
		return Internal(errors.New("origin or destination outside WGS-84 bounds"))
	}
	return nil
}

// HoldManager drives the hold lifecycle: a hold bridges slot selection and
// confirmed booking, consuming a seat for its five-minute lifetime. Every
// transition against a slot runs as one store transaction; the manager
// layers feasibility, conflict checks, notifications and cache
// invalidation around them.
type HoldManager struct {
	holds       HoldStore
	rides       RideStore
	catalog     *SlotCatalog
	feasibility *FeasibilityEngine
	capacity    *CapacityPlanner
	travel      *TravelTimeModel
	state       *ScheduleState
	cache       AvailabilityCache
	params      ScheduleParams
	clock       Clock
	notifier    Notifier
	logger      *zap.SugaredLogger
}

func NewHoldManager(
	holds HoldStore,
	rides RideStore,
	catalog *SlotCatalog,
	feasibility *FeasibilityEngine,
	capacity *CapacityPlanner,
	travel *TravelTimeModel,
	state *ScheduleState,
	cache AvailabilityCache,
	params ScheduleParams,
	clock Clock,
	notifier Notifier,
	logger *zap.SugaredLogger,
) *HoldManager {
	return &HoldManager{
		holds:       holds,
		rides:       rides,
		catalog:     catalog,
		feasibility: feasibility,
		capacity:    capacity,
		travel:      travel,
		state:       state,
		cache:       cache,
		params:      params,
		clock:       clock,
		notifier:    notifier,
		logger:      logger.Named("holds"),
	}
}

// CreateHold reserves a seat for the rider. Any existing active hold of
// the same rider is cancelled first; the reservation itself is one
// transaction in the store, so a lost race comes back as NO_CAPACITY or
// DUP_ACTIVE_HOLD rather than a stuck counter.
func (m *HoldManager) CreateHold(ctx context.Context, slotID string, req HoldRequest) (*model.SlotHold, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	slot, err := m.catalog.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	startMin, err := model.ParseClock(slot.ArrivalStart)
	if err != nil {
		return nil, Internal(err)
	}
	conflicts, err := m.state.FindConflictingRides(ctx, req.RiderID, slot.Date, startMin)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, ErrRiderConflict.Msgf("rider already has a ride near %s", slot.ArrivalStart).
			With("conflicting_ride_id", conflicts[0].ID)
	}

	if existing, err := m.holds.GetActiveHoldForRider(ctx, req.RiderID); err != nil {
		return nil, err
	} else if existing != nil {
		if _, err := m.CancelHold(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	if err := m.checkSystemCaps(ctx, slot.Date, startMin); err != nil {
		return nil, err
	}

	result, err := m.feasibility.CanInsertRideIntoSlot(ctx, FeasibilityRequest{
		RiderID:     req.RiderID,
		PlanType:    req.PlanType,
		Origin:      req.Origin,
		Destination: req.Destination,
		Date:        slot.Date,
	}, slot)
	if err != nil {
		return nil, err
	}
	if !result.Feasible {
		return nil, errorForCode(result.ReasonCode, result.Reason)
	}

	now := m.clock.Now()
	hold := &model.SlotHold{
		ID:          uuid.NewString(),
		SlotID:      slot.ID,
		RiderID:     req.RiderID,
		PlanType:    req.PlanType,
		Origin:      req.Origin,
		Destination: req.Destination,
		Status:      model.HoldActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.params.HoldExpiry),
	}
	if err := m.holds.CreateHold(ctx, hold); err != nil {
		return nil, err
	}

	metrics.HoldTransitions.WithLabelValues("created").Inc()
	m.invalidate(ctx, slot.Date)
	m.notifier.Notify(ctx, "hold.created", hold)
	m.logger.Infow("hold created",
		"hold_id", hold.ID, "slot_id", slot.ID, "rider_id", req.RiderID, "plan", req.PlanType)
	return hold, nil
}

// ConfirmHold turns an active, unexpired hold into a scheduled ride. The
// pickup is set so the worst-case run still arrives by the deadline; the
// seat moves from held to booked without touching the counter.
func (m *HoldManager) ConfirmHold(ctx context.Context, holdID string) (*model.ScheduledRide, error) {
	hold, err := m.holds.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if hold.Status != model.HoldActive {
		return nil, ErrWrongStatus.Msgf("hold %s is %s", holdID, hold.Status)
	}
	if hold.Expired(now) {
		return nil, ErrExpired.Msgf("hold %s expired at %s", holdID, hold.ExpiresAt.Format("15:04:05"))
	}

	slot, err := m.catalog.GetSlotByID(ctx, hold.SlotID)
	if err != nil {
		return nil, err
	}
	ride, err := m.buildRide(ctx, hold, slot, now)
	if err != nil {
		return nil, err
	}

	if err := m.holds.ConfirmHold(ctx, holdID, ride, now); err != nil {
		return nil, err
	}

	metrics.HoldTransitions.WithLabelValues("confirmed").Inc()
	m.invalidate(ctx, slot.Date)
	m.notifier.Notify(ctx, "ride.scheduled", ride)
	m.logger.Infow("hold confirmed",
		"hold_id", holdID, "ride_id", ride.ID, "slot_id", slot.ID, "pickup", ride.PickupTime)
	return ride, nil
}

// CancelHold releases the seat of an active hold. Cancelling a hold that
// already expired or was cancelled is a no-op; a confirmed hold cannot be
// cancelled, its ride can.
func (m *HoldManager) CancelHold(ctx context.Context, holdID string) (*model.SlotHold, error) {
	hold, err := m.holds.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	released, err := m.holds.CancelHold(ctx, holdID, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if released {
		metrics.HoldTransitions.WithLabelValues("cancelled").Inc()
		m.invalidate(ctx, slotDate(hold.SlotID))
		m.notifier.Notify(ctx, "hold.cancelled", map[string]string{"hold_id": holdID})
		m.logger.Infow("hold cancelled", "hold_id", holdID, "slot_id", hold.SlotID)
	}
	return m.holds.GetHold(ctx, holdID)
}

// ExpireHolds sweeps every active hold past its expiry, releasing seats.
// Runs from the periodic job; single-hold failures stay in the store.
func (m *HoldManager) ExpireHolds(ctx context.Context) (int, error) {
	expired, err := m.holds.ExpireDue(ctx, m.clock.Now())
	if err != nil && len(expired) == 0 {
		return 0, err
	}
	dates := make(map[string]struct{})
	for i := range expired {
		h := &expired[i]
		metrics.HoldTransitions.WithLabelValues("expired").Inc()
		dates[slotDate(h.SlotID)] = struct{}{}
		m.notifier.Notify(ctx, "hold.expired", map[string]string{"hold_id": h.ID, "rider_id": h.RiderID})
	}
	for date := range dates {
		m.invalidate(ctx, date)
	}
	if len(expired) > 0 {
		m.logger.Infow("expired holds", "count", len(expired))
	}
	return len(expired), err
}

// GetHold loads one hold.
func (m *HoldManager) GetHold(ctx context.Context, holdID string) (*model.SlotHold, error) {
	return m.holds.GetHold(ctx, holdID)
}

// ─── Ride transitions ───────────────────────────────────────

// CancelScheduledRide releases the ride's seat and marks it cancelled.
// Cancelling an already-cancelled ride is a no-op.
func (m *HoldManager) CancelScheduledRide(ctx context.Context, rideID string, byAdmin bool) error {
	ride, err := m.rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	switch ride.Status {
	case model.RideScheduled:
	case model.RideCancelledByRider, model.RideCancelledByAdmin:
		return nil
	default:
		return ErrWrongStatus.Msgf("ride %s is %s", rideID, ride.Status)
	}
	if err := m.rides.CancelRide(ctx, rideID, byAdmin, m.clock.Now()); err != nil {
		return err
	}
	m.invalidate(ctx, ride.Date)
	m.notifier.Notify(ctx, "ride.cancelled", map[string]any{"ride_id": rideID, "by_admin": byAdmin})
	m.logger.Infow("ride cancelled", "ride_id", rideID, "by_admin", byAdmin)
	return nil
}

// CompleteRide marks the ride completed and folds the observed ready
// delay into the rider's history.
func (m *HoldManager) CompleteRide(ctx context.Context, rideID string, observedDelayMinutes float64) error {
	ride, err := m.rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != model.RideScheduled {
		return ErrWrongStatus.Msgf("ride %s is %s", rideID, ride.Status)
	}
	if err := m.rides.CompleteRide(ctx, rideID, observedDelayMinutes, m.clock.Now()); err != nil {
		return err
	}
	m.invalidate(ctx, ride.Date)
	m.notifier.Notify(ctx, "ride.completed", map[string]any{"ride_id": rideID})
	return nil
}

// MarkNoShow records a no-show, releasing the seat and counting against
// the rider's reliability.
func (m *HoldManager) MarkNoShow(ctx context.Context, rideID string) error {
	ride, err := m.rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != model.RideScheduled {
		return ErrWrongStatus.Msgf("ride %s is %s", rideID, ride.Status)
	}
	if err := m.rides.MarkNoShow(ctx, rideID, m.clock.Now()); err != nil {
		return err
	}
	m.invalidate(ctx, ride.Date)
	m.notifier.Notify(ctx, "ride.no_show", map[string]any{"ride_id": rideID, "rider_id": ride.RiderID})
	return nil
}

// GetRide loads one scheduled ride.
func (m *HoldManager) GetRide(ctx context.Context, rideID string) (*model.ScheduledRide, error) {
	return m.rides.GetRide(ctx, rideID)
}

// ─── Internals ──────────────────────────────────────────────

// buildRide derives the ride's pickup so that pickup + p95 travel lands
// exactly on the deadline (window end minus the early margin).
func (m *HoldManager) buildRide(ctx context.Context, hold *model.SlotHold, slot *model.TimeSlot, now time.Time) (*model.ScheduledRide, error) {
	startMin, err := model.ParseClock(slot.ArrivalStart)
	if err != nil {
		return nil, Internal(err)
	}
	endMin, err := model.ParseClock(slot.ArrivalEnd)
	if err != nil {
		return nil, Internal(err)
	}
	deadline := m.params.Deadline(endMin)

	tc := model.TimeContext{
		Date:    slot.Date,
		Minutes: startMin,
		Weekday: weekdayOf(slot.Date),
		Weather: model.WeatherClear,
	}
	p95 := m.travel.Estimate(hold.Origin, hold.Destination, tc).P95Minutes
	pickupMin := deadline - roundMinutes(p95)
	if pickupMin < 0 {
		pickupMin = 0
	}

	return &model.ScheduledRide{
		ID:                uuid.NewString(),
		RiderID:           hold.RiderID,
		Date:              slot.Date,
		SlotID:            slot.ID,
		PlanType:          hold.PlanType,
		Direction:         slot.Direction,
		Origin:            hold.Origin,
		Destination:       hold.Destination,
		ArrivalStart:      slot.ArrivalStart,
		ArrivalEnd:        slot.ArrivalEnd,
		PickupTime:        model.FormatClock(pickupMin),
		PickupWindowStart: model.FormatClock(maxInt(pickupMin-m.params.SlotWindowMinutes, 0)),
		PickupWindowEnd:   model.FormatClock(pickupMin + m.params.SlotWindowMinutes),
		PredictedArrival:  model.FormatClock(deadline),
		Status:            model.RideScheduled,
		HoldID:            hold.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (m *HoldManager) checkSystemCaps(ctx context.Context, date string, minutes int) error {
	if m.capacity == nil {
		return nil
	}
	if err := m.capacity.CheckDailyCapacity(ctx, date); err != nil {
		return err
	}
	return m.capacity.CheckHourlyCapacity(ctx, date, minutes)
}

func (m *HoldManager) invalidate(ctx context.Context, date string) {
	if m.cache != nil && date != "" {
		m.cache.InvalidateDate(ctx, date)
	}
}

// errorForCode maps a feasibility rejection back onto its sentinel.
func errorForCode(code, msg string) error {
	for _, sentinel := range []*Error{
		ErrNoCapacity, ErrPeakClosed, ErrFragileSlot, ErrWindowFull, ErrTripFull,
		ErrHourlyCapExceeded, ErrDailyCapExceeded,
		ErrCandidateLate, ErrWouldDelayPremium, ErrWouldDelayOther,
		ErrDetourTooLarge, ErrTooFarFromAnchor, ErrCannotMeetTargetTime,
		ErrNotFound, ErrWrongStatus, ErrExpired, ErrDupActiveHold,
		ErrRiderConflict, ErrPlanChangedRetry,
		ErrProviderTimeout, ErrProviderError,
	} {
		if sentinel.Code == code {
			return sentinel.Msgf("%s", msg)
		}
	}
	return Internal(errors.New(msg))
}

func roundMinutes(v float64) int { return int(math.Round(v)) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
