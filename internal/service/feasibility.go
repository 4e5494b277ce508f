package service

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// RiskLevel grades how much buffer a feasible ride has left.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// rank orders risk for sorting (low first).
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// ImpactLevel grades what a candidate insertion does to an existing ride.
type ImpactLevel string

const (
	ImpactPositive ImpactLevel = "positive"
	ImpactNeutral  ImpactLevel = "neutral"
	ImpactNegative ImpactLevel = "negative"
	ImpactCritical ImpactLevel = "critical"
)

// FeasibilityRequest describes a candidate ride.
type FeasibilityRequest struct {
	RiderID     string         `json:"rider_id"`
	PlanType    model.PlanType `json:"plan_type"`
	Origin      model.Location `json:"origin"`
	Destination model.Location `json:"destination"`
	Date        string         `json:"date"`
}

// FeasibilityResult is the tagged outcome of a feasibility check. When
// Feasible is false, ReasonCode holds the closed-enum rejection code.
type FeasibilityResult struct {
	Feasible         bool      `json:"feasible"`
	ReasonCode       string    `json:"reason_code,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	PredictedArrival string    `json:"predicted_arrival,omitempty"`
	BufferMinutes    float64   `json:"buffer_minutes"`
	Risk             RiskLevel `json:"risk"`
}

// RideImpact reports how a candidate insertion moves one existing ride's
// buffer.
type RideImpact struct {
	RideID        string         `json:"ride_id"`
	RiderID       string         `json:"rider_id"`
	PlanType      model.PlanType `json:"plan_type"`
	CurrentBuffer float64        `json:"current_buffer"`
	NewBuffer     float64        `json:"new_buffer"`
	Impact        ImpactLevel    `json:"impact"`
}

// FeasibilityEngine decides whether a candidate ride can join a slot
// without breaking the arrive-five-minutes-early guarantee for anyone in
// the same block. The check chains worst-case (p95) travel and readiness
// through the block's rides on a monotonic clock starting at the driver
// base: the driver never waits, and an early arrival never rewinds time.
type FeasibilityEngine struct {
	travel   *TravelTimeModel
	behavior *RiderBehaviorModel
	state    *ScheduleState
	catalog  *SlotCatalog
	params   ScheduleParams
	logger   *zap.SugaredLogger
}

func NewFeasibilityEngine(
	travel *TravelTimeModel,
	behavior *RiderBehaviorModel,
	state *ScheduleState,
	catalog *SlotCatalog,
	params ScheduleParams,
	logger *zap.SugaredLogger,
) *FeasibilityEngine {
	return &FeasibilityEngine{
		travel:   travel,
		behavior: behavior,
		state:    state,
		catalog:  catalog,
		params:   params,
		logger:   logger.Named("feasibility"),
	}
}

// QuickFeasibilityCheck runs only the capacity and peak/fragile gates.
func (e *FeasibilityEngine) QuickFeasibilityCheck(ctx context.Context, slotID string, plan model.PlanType) error {
	slot, err := e.catalog.GetSlotByID(ctx, slotID)
	if err != nil {
		return err
	}
	return slotGate(slot, plan)
}

// CanInsertRideIntoSlot runs the gates and the full block simulation.
func (e *FeasibilityEngine) CanInsertRideIntoSlot(ctx context.Context, req FeasibilityRequest, slot *model.TimeSlot) (FeasibilityResult, error) {
	if gateErr := slotGate(slot, req.PlanType); gateErr != nil {
		res := infeasible(CodeOf(gateErr), gateErr.Error())
		metrics.FeasibilityChecks.WithLabelValues(res.ReasonCode).Inc()
		return res, nil
	}

	startMin, err := model.ParseClock(slot.ArrivalStart)
	if err != nil {
		return FeasibilityResult{}, Internal(err)
	}
	block := e.state.BlockForTime(startMin)
	existing, err := e.state.GetRidesInTimeBlock(ctx, req.Date, block)
	if err != nil {
		return FeasibilityResult{}, err
	}

	res := e.decide(ctx, req, slot, block, existing)
	label := res.ReasonCode
	if res.Feasible {
		label = "feasible"
	}
	metrics.FeasibilityChecks.WithLabelValues(label).Inc()
	return res, nil
}

// BatchFeasibilityCheck evaluates one candidate against many slots of the
// same date, loading the day snapshot once.
func (e *FeasibilityEngine) BatchFeasibilityCheck(ctx context.Context, req FeasibilityRequest, slots []model.TimeSlot) (map[string]FeasibilityResult, error) {
	day, err := e.state.LoadDay(ctx, req.Date)
	if err != nil {
		return nil, err
	}

	out := make(map[string]FeasibilityResult, len(slots))
	blockRides := make(map[string][]model.ScheduledRide)
	for i := range slots {
		slot := &slots[i]
		if gateErr := slotGate(slot, req.PlanType); gateErr != nil {
			out[slot.ID] = infeasible(CodeOf(gateErr), gateErr.Error())
			continue
		}
		startMin, err := model.ParseClock(slot.ArrivalStart)
		if err != nil {
			out[slot.ID] = infeasible(CodeInternal, "bad arrival window")
			continue
		}
		block := e.state.BlockForTime(startMin)
		rides, ok := blockRides[block.Name]
		if !ok {
			rides = e.state.RidesInBlock(day, block)
			blockRides[block.Name] = rides
		}
		out[slot.ID] = e.decide(ctx, req, slot, block, rides)
	}
	return out, nil
}

// AnalyzeRideImpact compares every existing ride's buffer before and after
// the candidate insertion.
func (e *FeasibilityEngine) AnalyzeRideImpact(ctx context.Context, req FeasibilityRequest, slot *model.TimeSlot) ([]RideImpact, error) {
	startMin, err := model.ParseClock(slot.ArrivalStart)
	if err != nil {
		return nil, Internal(err)
	}
	block := e.state.BlockForTime(startMin)
	existing, err := e.state.GetRidesInTimeBlock(ctx, req.Date, block)
	if err != nil {
		return nil, err
	}

	weekday := weekdayOf(req.Date)
	base := e.simulateBlock(ctx, block, req.Date, weekday, buildSimRides(existing, nil, slot, req))
	baseline := make(map[string]float64, len(base))
	for _, o := range base {
		baseline[o.ride.id] = o.buffer
	}

	withCandidate := e.simulateBlock(ctx, block, req.Date, weekday, buildSimRides(existing, &req, slot, req))

	var impacts []RideImpact
	for _, o := range withCandidate {
		if o.ride.candidate {
			continue
		}
		cur := baseline[o.ride.id]
		impacts = append(impacts, RideImpact{
			RideID:        o.ride.id,
			RiderID:       o.ride.riderID,
			PlanType:      o.ride.plan,
			CurrentBuffer: round1(cur),
			NewBuffer:     round1(o.buffer),
			Impact:        classifyImpact(cur, o.buffer),
		})
	}
	return impacts, nil
}

// decide runs the block simulation with the candidate appended and applies
// the priority order: existing Premium first, then the candidate, then
// everyone else.
func (e *FeasibilityEngine) decide(ctx context.Context, req FeasibilityRequest, slot *model.TimeSlot, block Block, existing []model.ScheduledRide) FeasibilityResult {
	weekday := weekdayOf(req.Date)
	outcomes := e.simulateBlock(ctx, block, req.Date, weekday, buildSimRides(existing, &req, slot, req))

	var candidate *simOutcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.ride.candidate {
			candidate = o
			continue
		}
		if o.ride.plan.IsPremium() && o.buffer < 0 {
			return infeasible(CodeWouldDelayPremium, "insertion would make a Premium ride late")
		}
	}
	if candidate == nil {
		return infeasible(CodeInternal, "candidate missing from simulation")
	}
	if candidate.buffer < 0 {
		return infeasible(CodeCandidateLate, "candidate cannot arrive five minutes before the window closes")
	}
	for i := range outcomes {
		o := &outcomes[i]
		if !o.ride.candidate && o.buffer < 0 {
			return infeasible(CodeWouldDelayOther, "insertion would make another ride late")
		}
	}

	return FeasibilityResult{
		Feasible:         true,
		PredictedArrival: model.FormatClock(int(math.Round(candidate.arrival))),
		BufferMinutes:    round1(candidate.buffer),
		Risk:             riskForBuffer(candidate.buffer),
	}
}

type simRide struct {
	id        string
	riderID   string
	slotID    string
	plan      model.PlanType
	origin    model.Location
	dest      model.Location
	startMin  int
	endMin    int
	candidate bool
}

type simOutcome struct {
	ride     simRide
	arrival  float64 // minutes past midnight
	deadline float64
	buffer   float64
}

// simulateBlock chains the block's rides on a monotonic clock from the
// driver base, using p95 travel and p95 readiness at every hop.
func (e *FeasibilityEngine) simulateBlock(ctx context.Context, block Block, date string, weekday time.Weekday, rides []simRide) []simOutcome {
	sort.Slice(rides, func(i, j int) bool {
		if rides[i].startMin != rides[j].startMin {
			return rides[i].startMin < rides[j].startMin
		}
		return rides[i].riderID < rides[j].riderID
	})

	clock := float64(block.Range.Start)
	pos := e.params.DriverBase
	outcomes := make([]simOutcome, 0, len(rides))

	for _, r := range rides {
		tc := model.TimeContext{Date: date, Minutes: int(clock), Weekday: weekday, Weather: model.WeatherClear}
		clock += e.travel.Estimate(pos, r.origin, tc).P95Minutes

		tc = tc.At(int(clock))
		clock += e.behavior.Profile(ctx, r.riderID, tc).P95ReadyDelay

		tc = tc.At(int(clock))
		clock += e.travel.Estimate(r.origin, r.dest, tc).P95Minutes

		deadline := float64(e.params.Deadline(r.endMin))
		outcomes = append(outcomes, simOutcome{
			ride:     r,
			arrival:  clock,
			deadline: deadline,
			buffer:   deadline - clock,
		})
		pos = r.dest
	}
	return outcomes
}

// buildSimRides converts stored rides, optionally appending the candidate
// with the slot's arrival window.
func buildSimRides(existing []model.ScheduledRide, candidate *FeasibilityRequest, slot *model.TimeSlot, req FeasibilityRequest) []simRide {
	rides := make([]simRide, 0, len(existing)+1)
	for _, r := range existing {
		start, err1 := model.ParseClock(r.ArrivalStart)
		end, err2 := model.ParseClock(r.ArrivalEnd)
		if err1 != nil || err2 != nil {
			continue
		}
		rides = append(rides, simRide{
			id:       r.ID,
			riderID:  r.RiderID,
			slotID:   r.SlotID,
			plan:     r.PlanType,
			origin:   r.Origin,
			dest:     r.Destination,
			startMin: start,
			endMin:   end,
		})
	}
	if candidate != nil {
		start, _ := model.ParseClock(slot.ArrivalStart)
		end, _ := model.ParseClock(slot.ArrivalEnd)
		rides = append(rides, simRide{
			id:        "candidate",
			riderID:   req.RiderID,
			slotID:    slot.ID,
			plan:      req.PlanType,
			origin:    req.Origin,
			dest:      req.Destination,
			startMin:  start,
			endMin:    end,
			candidate: true,
		})
	}
	return rides
}

// slotGate applies the capacity and tier gates, peak before fragile so
// non-Premium requests on peak slots always see PEAK_CLOSED.
func slotGate(slot *model.TimeSlot, plan model.PlanType) *Error {
	if plan.IsPremium() {
		if slot.UsedPremium >= slot.MaxPremium {
			return ErrNoCapacity.Msgf("slot %s has no Premium seats", slot.ID)
		}
		return nil
	}
	if slot.Type == model.SlotPeak {
		return ErrPeakClosed.Msgf("slot %s is peak-only", slot.ID)
	}
	if slot.Fragile {
		return ErrFragileSlot.Msgf("slot %s is reserved for Premium", slot.ID)
	}
	if slot.UsedNonPremium >= slot.MaxNonPremium {
		return ErrNoCapacity.Msgf("slot %s has no seats", slot.ID)
	}
	return nil
}

func infeasible(code, reason string) FeasibilityResult {
	return FeasibilityResult{Feasible: false, ReasonCode: code, Reason: reason, Risk: RiskHigh}
}

func riskForBuffer(buffer float64) RiskLevel {
	switch {
	case buffer >= 10:
		return RiskLow
	case buffer >= 5:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func classifyImpact(current, next float64) ImpactLevel {
	switch {
	case next < 0:
		return ImpactCritical
	case next-current < -1:
		return ImpactNegative
	case next-current > 1:
		return ImpactPositive
	default:
		return ImpactNeutral
	}
}

func weekdayOf(date string) time.Weekday {
	d, err := model.ParseDate(date)
	if err != nil {
		return time.Monday
	}
	return d.Weekday()
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
