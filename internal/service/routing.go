package service

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/geo"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// WindowCandidate is a rider asking to join a shared time window.
type WindowCandidate struct {
	RiderID      string         `json:"rider_id"`
	ServiceDate  string         `json:"service_date"`
	TimeWindowID string         `json:"time_window_id"`
	Pickup       model.Location `json:"pickup"`
}

// AlternativeWindow is offered when the requested window cannot take the
// rider.
type AlternativeWindow struct {
	TimeWindowID     string `json:"time_window_id"`
	CampusTargetTime string `json:"campus_target_time"`
	SeatsLeft        int    `json:"seats_left"`
}

// WindowDecision is the outcome of canAddRiderToWindow. The plan snapshot
// is threaded through to the confirming write, which re-verifies it under
// the plan row lock.
type WindowDecision struct {
	Accepted         bool                `json:"accepted"`
	ReasonCode       string              `json:"reason_code,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	InsertionIndex   int                 `json:"insertion_index"`
	ExtraSeconds     int                 `json:"extra_seconds"`
	EstimatedPickup  string              `json:"estimated_pickup,omitempty"`
	EstimatedArrival string              `json:"estimated_arrival,omitempty"`
	Alternatives     []AlternativeWindow `json:"alternatives,omitempty"`

	planSnapshot    []string
	stops           []model.Location
	newTotalSeconds int
}

// RoutingEngine manages the ordered multi-stop route plan of each
// (time window, service date): anchor model, best-insertion detour search,
// and the persisted polyline. Insertion decisions are computed without
// locks; the write path re-verifies the plan snapshot under the row lock
// and rejects with PLAN_CHANGED_RETRY when a concurrent change won.
type RoutingEngine struct {
	provider         RoutingProvider
	fallback         RoutingProvider
	windows          WindowStore
	plans            PlanStore
	params           ScheduleParams
	defaultDetourSec int
	toleranceMinutes int
	logger           *zap.SugaredLogger
}

func NewRoutingEngine(
	provider RoutingProvider,
	fallback RoutingProvider,
	windows WindowStore,
	plans PlanStore,
	params ScheduleParams,
	defaultDetourSec int,
	toleranceMinutes int,
	logger *zap.SugaredLogger,
) *RoutingEngine {
	if defaultDetourSec <= 0 {
		defaultDetourSec = 120
	}
	return &RoutingEngine{
		provider:         provider,
		fallback:         fallback,
		windows:          windows,
		plans:            plans,
		params:           params,
		defaultDetourSec: defaultDetourSec,
		toleranceMinutes: toleranceMinutes,
		logger:           logger.Named("routing"),
	}
}

// CanAddRiderToWindow decides whether the pickup fits the window's route
// within the detour budget. Capacity and feasibility rejections come back
// as a rejected decision with alternatives; missing reference data is an
// error.
func (e *RoutingEngine) CanAddRiderToWindow(ctx context.Context, cand WindowCandidate) (*WindowDecision, error) {
	window, zone, err := e.loadWindow(ctx, cand.TimeWindowID)
	if err != nil {
		return nil, err
	}

	confirmed, err := e.plans.CountConfirmed(ctx, window.ID, cand.ServiceDate)
	if err != nil {
		return nil, err
	}
	if confirmed >= window.MaxRiders {
		return e.rejected(ctx, window, cand.ServiceDate, CodeWindowFull, "window has no seats left"), nil
	}

	plan, err := e.plans.GetOrCreatePlan(ctx, window.ID, cand.ServiceDate, window.StartPickupTime)
	if err != nil {
		return nil, err
	}

	departure, err := model.ParseClock(plan.PlannedDeparture)
	if err != nil {
		return nil, Internal(err)
	}
	target, err := model.ParseClock(window.CampusTargetTime)
	if err != nil {
		return nil, Internal(err)
	}
	deadlineSec := target*60 + e.toleranceMinutes*60

	// Empty plan: the candidate becomes the anchor and feasibility reduces
	// to the direct run arriving by the target.
	if len(plan.OrderedAssignmentIDs) == 0 {
		route, err := e.matrixSafe(ctx, []model.Location{cand.Pickup}, []model.Location{zone.Campus})
		if err != nil {
			return nil, err
		}
		direct := route.Leg(0, 0).DurationSeconds
		if departure*60+direct > deadlineSec {
			return e.rejected(ctx, window, cand.ServiceDate, CodeCannotMeetTargetTime,
				"direct route misses the campus target"), nil
		}
		return &WindowDecision{
			Accepted:         true,
			InsertionIndex:   0,
			EstimatedPickup:  plan.PlannedDeparture,
			EstimatedArrival: clockAfter(departure, direct),
			planSnapshot:     nil,
			newTotalSeconds:  direct,
		}, nil
	}

	if len(plan.OrderedAssignmentIDs) >= zone.MaxRidersPerTrip {
		return e.rejected(ctx, window, cand.ServiceDate, CodeTripFull, "trip is at rider capacity"), nil
	}

	stops, err := e.stopLocations(ctx, plan.OrderedAssignmentIDs)
	if err != nil {
		return nil, err
	}

	if zone.MaxAnchorDistanceM != nil {
		if d := geo.HaversineM(cand.Pickup, stops[0]); d > *zone.MaxAnchorDistanceM {
			return e.rejected(ctx, window, cand.ServiceDate, CodeTooFarFromAnchor,
				"pickup is too far from the anchor rider"), nil
		}
	}

	maxDetour := zone.MaxDetourSeconds
	if maxDetour <= 0 {
		maxDetour = e.defaultDetourSec
	}

	best, err := e.bestInsertion(ctx, stops, cand.Pickup, zone.Campus, maxDetour)
	if err != nil {
		return nil, err
	}
	if best == nil {
		return e.rejected(ctx, window, cand.ServiceDate, CodeDetourTooLarge,
			"every insertion exceeds the detour budget"), nil
	}

	newTotal := plan.BaseDurationSeconds + best.extraSec
	if departure*60+newTotal > deadlineSec {
		return e.rejected(ctx, window, cand.ServiceDate, CodeCannotMeetTargetTime,
			"detour would miss the campus target"), nil
	}

	return &WindowDecision{
		Accepted:         true,
		InsertionIndex:   best.index,
		ExtraSeconds:     best.extraSec,
		EstimatedPickup:  clockAfter(departure, best.cumulativeSec),
		EstimatedArrival: clockAfter(departure, newTotal),
		planSnapshot:     append([]string(nil), plan.OrderedAssignmentIDs...),
		stops:            stops,
		newTotalSeconds:  newTotal,
	}, nil
}

// CreateWindowAssignment runs the insertion decision and commits it: the
// full multi-stop route is recomputed with the exact provider, then the
// assignment and rewritten plan land in one transaction that re-verifies
// the decision snapshot.
func (e *RoutingEngine) CreateWindowAssignment(ctx context.Context, cand WindowCandidate) (*model.WindowAssignment, *WindowDecision, error) {
	decision, err := e.CanAddRiderToWindow(ctx, cand)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Accepted {
		return nil, decision, nil
	}

	window, zone, err := e.loadWindow(ctx, cand.TimeWindowID)
	if err != nil {
		return nil, nil, err
	}

	newOrderStops := insertLocation(decision.stops, decision.InsertionIndex, cand.Pickup)
	// Final confirm needs exact routing, so provider failures surface here
	// instead of degrading to the estimator.
	route, err := e.provider.Directions(ctx, append(newOrderStops, zone.Campus))
	if err != nil {
		return nil, nil, err
	}

	assignment := &model.WindowAssignment{
		ID:               uuid.NewString(),
		RiderID:          cand.RiderID,
		TimeWindowID:     window.ID,
		ServiceDate:      cand.ServiceDate,
		Pickup:           cand.Pickup,
		Status:           model.AssignmentConfirmed,
		EstimatedPickup:  decision.EstimatedPickup,
		EstimatedArrival: decision.EstimatedArrival,
	}

	newOrder := insertString(decision.planSnapshot, decision.InsertionIndex, assignment.ID)
	change := PlanChange{
		TimeWindowID:        window.ID,
		ServiceDate:         cand.ServiceDate,
		Snapshot:            decision.planSnapshot,
		NewOrder:            newOrder,
		AnchorID:            newOrder[0],
		Polyline:            route.Polyline,
		BaseDurationSeconds: route.DurationSeconds,
		TotalDistanceMeters: route.DistanceMeters,
	}
	if err := e.plans.ApplyInsertion(ctx, change, assignment); err != nil {
		if errors.Is(err, ErrPlanChangedRetry) {
			e.logger.Infow("plan changed under decision, rejecting with retry",
				"window_id", window.ID, "date", cand.ServiceDate)
		}
		return nil, nil, err
	}

	e.logger.Infow("window assignment created",
		"assignment_id", assignment.ID,
		"window_id", window.ID,
		"date", cand.ServiceDate,
		"index", decision.InsertionIndex,
		"extra_seconds", decision.ExtraSeconds)
	return assignment, decision, nil
}

// CancelWindowAssignment removes the rider from the plan, promoting the
// next stop to anchor when the anchor leaves. A concurrent plan change is
// retried once with a fresh snapshot.
func (e *RoutingEngine) CancelWindowAssignment(ctx context.Context, assignmentID string) error {
	a, err := e.plans.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.Status == model.AssignmentCancelled {
		return nil
	}

	for attempt := 0; ; attempt++ {
		err := e.removeOnce(ctx, a)
		if err == nil {
			e.logger.Infow("window assignment cancelled",
				"assignment_id", assignmentID, "window_id", a.TimeWindowID, "date", a.ServiceDate)
			return nil
		}
		if errors.Is(err, ErrPlanChangedRetry) && attempt == 0 {
			continue
		}
		return err
	}
}

func (e *RoutingEngine) removeOnce(ctx context.Context, a *model.WindowAssignment) error {
	_, zone, err := e.loadWindow(ctx, a.TimeWindowID)
	if err != nil {
		return err
	}
	plan, err := e.plans.GetPlan(ctx, a.TimeWindowID, a.ServiceDate)
	if err != nil {
		return err
	}

	newOrder := removeString(plan.OrderedAssignmentIDs, a.ID)
	change := PlanChange{
		TimeWindowID: a.TimeWindowID,
		ServiceDate:  a.ServiceDate,
		Snapshot:     plan.OrderedAssignmentIDs,
		NewOrder:     newOrder,
	}
	if len(newOrder) > 0 {
		change.AnchorID = newOrder[0]
		stops, err := e.stopLocations(ctx, newOrder)
		if err != nil {
			return err
		}
		route, err := e.directionsSafe(ctx, append(stops, zone.Campus))
		if err != nil {
			return err
		}
		change.Polyline = route.Polyline
		change.BaseDurationSeconds = route.DurationSeconds
		change.TotalDistanceMeters = route.DistanceMeters
	}
	return e.plans.ApplyRemoval(ctx, change, a.ID)
}

// ─── Insertion search ───────────────────────────────────────

type insertion struct {
	index         int
	extraSec      int
	cumulativeSec int
}

// bestInsertion evaluates every position after the anchor with a single
// matrix call: origins are the stops plus the new pickup, destinations the
// onward stops, the campus terminal and the new pickup.
func (e *RoutingEngine) bestInsertion(ctx context.Context, stops []model.Location, pickup, campus model.Location, maxDetourSec int) (*insertion, error) {
	n := len(stops)
	origins := append(append([]model.Location(nil), stops...), pickup)
	destinations := make([]model.Location, 0, n+1)
	destinations = append(destinations, stops[1:]...)
	destinations = append(destinations, campus, pickup)

	matrix, err := e.matrixSafe(ctx, origins, destinations)
	if err != nil {
		return nil, err
	}

	// Row i is stops[i] (row n the new pickup); column j<n-1 is stops[j+1],
	// column n-1 the campus, column n the new pickup.
	direct := func(i int) int { return matrix.Leg(i-1, i-1).DurationSeconds }
	toNew := func(i int) int { return matrix.Leg(i-1, n).DurationSeconds }
	fromNew := func(i int) int { return matrix.Leg(n, i-1).DurationSeconds }

	var best *insertion
	cum := 0
	for i := 1; i <= n; i++ {
		extra := toNew(i) + fromNew(i) - direct(i)
		if extra <= maxDetourSec && (best == nil || extra < best.extraSec) {
			best = &insertion{index: i, extraSec: extra, cumulativeSec: cum + toNew(i)}
		}
		cum += direct(i)
	}
	return best, nil
}

// ─── Provider access with estimator fallback ────────────────

// matrixSafe degrades to the haversine estimator on provider failure;
// advisory decisions prefer a rough answer over an outage.
func (e *RoutingEngine) matrixSafe(ctx context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error) {
	m, err := e.provider.Matrix(ctx, origins, destinations)
	if err == nil {
		return m, nil
	}
	if KindOf(err) != KindExternal {
		return nil, err
	}
	e.logger.Warnw("matrix failed, using haversine estimates", "error", err)
	metrics.ProviderRequests.WithLabelValues("matrix", "fallback").Inc()
	return e.fallback.Matrix(ctx, origins, destinations)
}

func (e *RoutingEngine) directionsSafe(ctx context.Context, stops []model.Location) (*model.Route, error) {
	r, err := e.provider.Directions(ctx, stops)
	if err == nil {
		return r, nil
	}
	if KindOf(err) != KindExternal {
		return nil, err
	}
	e.logger.Warnw("directions failed, using haversine estimates", "error", err)
	metrics.ProviderRequests.WithLabelValues("directions", "fallback").Inc()
	return e.fallback.Directions(ctx, stops)
}

// ─── Helpers ────────────────────────────────────────────────

func (e *RoutingEngine) loadWindow(ctx context.Context, windowID string) (*model.TimeWindow, *model.ServiceZone, error) {
	window, err := e.windows.GetWindow(ctx, windowID)
	if err != nil {
		return nil, nil, err
	}
	if window == nil || !window.Active {
		return nil, nil, ErrNotFound.Msgf("time window %s not found", windowID)
	}
	zone, err := e.windows.GetZone(ctx, window.ZoneID)
	if err != nil {
		return nil, nil, err
	}
	if zone == nil || !zone.Active {
		return nil, nil, ErrNotFound.Msgf("service zone %s not found", window.ZoneID)
	}
	return window, zone, nil
}

func (e *RoutingEngine) stopLocations(ctx context.Context, orderedIDs []string) ([]model.Location, error) {
	stops := make([]model.Location, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		a, err := e.plans.GetAssignment(ctx, id)
		if err != nil {
			return nil, err
		}
		stops = append(stops, a.Pickup)
	}
	return stops, nil
}

// rejected builds a rejection carrying up to three same-kind alternatives
// with seats. The alternatives search is best-effort.
func (e *RoutingEngine) rejected(ctx context.Context, window *model.TimeWindow, date, code, reason string) *WindowDecision {
	d := &WindowDecision{ReasonCode: code, Reason: reason}
	others, err := e.windows.ListWindows(ctx, window.Kind)
	if err != nil {
		e.logger.Warnw("alternatives lookup failed", "error", err)
		return d
	}
	for _, w := range others {
		if w.ID == window.ID || !w.Active {
			continue
		}
		confirmed, err := e.plans.CountConfirmed(ctx, w.ID, date)
		if err != nil || confirmed >= w.MaxRiders {
			continue
		}
		d.Alternatives = append(d.Alternatives, AlternativeWindow{
			TimeWindowID:     w.ID,
			CampusTargetTime: w.CampusTargetTime,
			SeatsLeft:        w.MaxRiders - confirmed,
		})
		if len(d.Alternatives) == 3 {
			break
		}
	}
	return d
}

func clockAfter(departureMinutes, offsetSeconds int) string {
	return model.FormatClock(departureMinutes + int(math.Round(float64(offsetSeconds)/60)))
}

func insertLocation(stops []model.Location, index int, loc model.Location) []model.Location {
	out := make([]model.Location, 0, len(stops)+1)
	out = append(out, stops[:index]...)
	out = append(out, loc)
	out = append(out, stops[index:]...)
	return out
}

func insertString(ids []string, index int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}

func removeString(ids []string, id string) []string {
	var out []string
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
