// Package memory provides a mutex-serialized, map-backed implementation of
// every store interface. It mirrors the transactional semantics of the
// PostgreSQL repositories closely enough that the service-layer tests run
// against it unchanged.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// Store implements the slot, hold, ride, plan, window, job and stats
// stores over in-process maps. All methods take the one lock, which makes
// every operation atomic exactly like a single-row-locked transaction.
type Store struct {
	mu          sync.Mutex
	slots       map[string]*model.TimeSlot
	holds       map[string]*model.SlotHold
	rides       map[string]*model.ScheduledRide
	plans       map[string]*model.RoutePlan
	assignments map[string]*model.WindowAssignment
	windows     map[string]*model.TimeWindow
	zones       map[string]*model.ServiceZone
	jobs        map[string]*model.SimulationJob
	stats       map[string]*model.RiderStats
}

var (
	_ service.SlotStore   = (*Store)(nil)
	_ service.HoldStore   = (*Store)(nil)
	_ service.RideStore   = (*Store)(nil)
	_ service.PlanStore   = (*Store)(nil)
	_ service.WindowStore = (*Store)(nil)
	_ service.JobStore    = (*Store)(nil)
	_ service.StatsStore  = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		slots:       make(map[string]*model.TimeSlot),
		holds:       make(map[string]*model.SlotHold),
		rides:       make(map[string]*model.ScheduledRide),
		plans:       make(map[string]*model.RoutePlan),
		assignments: make(map[string]*model.WindowAssignment),
		windows:     make(map[string]*model.TimeWindow),
		zones:       make(map[string]*model.ServiceZone),
		jobs:        make(map[string]*model.SimulationJob),
		stats:       make(map[string]*model.RiderStats),
	}
}

// ─── SlotStore ──────────────────────────────────────────────

func (s *Store) InsertSlots(_ context.Context, slots []model.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range slots {
		if _, ok := s.slots[slots[i].ID]; ok {
			continue
		}
		cp := slots[i]
		s.slots[cp.ID] = &cp
	}
	return nil
}

func (s *Store) GetSlot(_ context.Context, slotID string) (*model.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	cp := *slot
	return &cp, nil
}

func (s *Store) ListSlots(_ context.Context, date string, direction model.Direction) ([]model.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TimeSlot
	for _, slot := range s.slots {
		if slot.Date != date {
			continue
		}
		if direction != "" && slot.Direction != direction {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArrivalStart != out[j].ArrivalStart {
			return out[i].ArrivalStart < out[j].ArrivalStart
		}
		return out[i].Direction < out[j].Direction
	})
	return out, nil
}

func (s *Store) Reserve(_ context.Context, slotID string, premium bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return false, service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	if !seatFree(slot, premium) {
		return false, nil
	}
	takeSeat(slot, premium)
	return true, nil
}

func (s *Store) Release(_ context.Context, slotID string, premium bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	releaseSeat(slot, premium)
	return nil
}

func (s *Store) SetFragile(_ context.Context, slotID string, fragile bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	slot.Fragile = fragile
	return nil
}

func (s *Store) SetMaxNonPremium(_ context.Context, slotID string, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return 0, service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	if max < slot.UsedNonPremium {
		max = slot.UsedNonPremium
	}
	slot.MaxNonPremium = max
	return max, nil
}

// ─── HoldStore ──────────────────────────────────────────────

func (s *Store) CreateHold(_ context.Context, hold *model.SlotHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[hold.SlotID]
	if !ok {
		return service.ErrNotFound.Msgf("slot %s not found", hold.SlotID)
	}
	if !seatFree(slot, hold.PlanType.IsPremium()) {
		tier := "non-premium"
		if hold.PlanType.IsPremium() {
			tier = "premium"
		}
		return service.ErrNoCapacity.Msgf("slot %s has no %s seats left", hold.SlotID, tier)
	}
	for _, h := range s.holds {
		if h.RiderID == hold.RiderID && h.Status == model.HoldActive {
			return service.ErrDupActiveHold.Msgf("rider %s already has an active hold", hold.RiderID)
		}
	}

	takeSeat(slot, hold.PlanType.IsPremium())
	cp := *hold
	cp.Status = model.HoldActive
	s.holds[cp.ID] = &cp
	hold.Status = model.HoldActive
	return nil
}

func (s *Store) GetHold(_ context.Context, holdID string) (*model.SlotHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("hold %s not found", holdID)
	}
	return copyHold(h), nil
}

func (s *Store) GetActiveHoldForRider(_ context.Context, riderID string) (*model.SlotHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holds {
		if h.RiderID == riderID && h.Status == model.HoldActive {
			return copyHold(h), nil
		}
	}
	return nil, nil
}

func (s *Store) ConfirmHold(_ context.Context, holdID string, ride *model.ScheduledRide, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok {
		return service.ErrNotFound.Msgf("hold %s not found", holdID)
	}
	if h.Status != model.HoldActive {
		return service.ErrWrongStatus.Msgf("hold %s is %s, not active", holdID, h.Status)
	}
	if !h.ExpiresAt.After(now) {
		return service.ErrExpired.Msgf("hold %s expired at %s", holdID, h.ExpiresAt.Format(time.RFC3339))
	}

	cp := *ride
	s.rides[cp.ID] = &cp
	h.Status = model.HoldConfirmed
	rideID := ride.ID
	h.ConfirmedRideID = &rideID
	return nil
}

func (s *Store) CancelHold(_ context.Context, holdID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeHoldLocked(holdID, model.HoldCancelled)
}

func (s *Store) closeHoldLocked(holdID string, to model.HoldStatus) (bool, error) {
	h, ok := s.holds[holdID]
	if !ok {
		return false, service.ErrNotFound.Msgf("hold %s not found", holdID)
	}
	switch h.Status {
	case model.HoldConfirmed:
		return false, service.ErrWrongStatus.Msgf("hold %s is confirmed; cancel the ride instead", holdID)
	case model.HoldCancelled, model.HoldExpired:
		return false, nil
	}
	h.Status = to
	if slot, ok := s.slots[h.SlotID]; ok {
		releaseSeat(slot, h.PlanType.IsPremium())
	}
	return true, nil
}

func (s *Store) ExpireDue(_ context.Context, now time.Time) ([]model.SlotHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []model.SlotHold
	for _, h := range s.holds {
		if h.Status != model.HoldActive || h.ExpiresAt.After(now) {
			continue
		}
		if _, err := s.closeHoldLocked(h.ID, model.HoldExpired); err != nil {
			continue
		}
		expired = append(expired, *copyHold(h))
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (s *Store) ListActiveHolds(_ context.Context, date string) ([]model.SlotHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.SlotHold
	for _, h := range s.holds {
		if h.Status != model.HoldActive {
			continue
		}
		slot, ok := s.slots[h.SlotID]
		if !ok || slot.Date != date {
			continue
		}
		out = append(out, *copyHold(h))
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := s.slots[out[i].SlotID], s.slots[out[j].SlotID]
		if si.ArrivalStart != sj.ArrivalStart {
			return si.ArrivalStart < sj.ArrivalStart
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ─── RideStore ──────────────────────────────────────────────

// PutRide seeds a ride directly, bypassing the hold flow. Test helper.
func (s *Store) PutRide(ride model.ScheduledRide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ride
	s.rides[cp.ID] = &cp
}

func (s *Store) GetRide(_ context.Context, rideID string) (*model.ScheduledRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("ride %s not found", rideID)
	}
	cp := *ride
	return &cp, nil
}

func (s *Store) ListRides(_ context.Context, date string) ([]model.ScheduledRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ScheduledRide
	for _, ride := range s.rides {
		if ride.Date == date {
			out = append(out, *ride)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArrivalStart != out[j].ArrivalStart {
			return out[i].ArrivalStart < out[j].ArrivalStart
		}
		return out[i].RiderID < out[j].RiderID
	})
	return out, nil
}

func (s *Store) CancelRide(_ context.Context, rideID string, byAdmin bool, now time.Time) error {
	to := model.RideCancelledByRider
	if byAdmin {
		to = model.RideCancelledByAdmin
	}
	return s.closeRide(rideID, to, now, nil)
}

func (s *Store) CompleteRide(_ context.Context, rideID string, delayMinutes float64, now time.Time) error {
	return s.closeRide(rideID, model.RideCompleted, now, &outcome{delay: delayMinutes})
}

func (s *Store) MarkNoShow(_ context.Context, rideID string, now time.Time) error {
	return s.closeRide(rideID, model.RideNoShow, now, &outcome{noShow: true})
}

type outcome struct {
	delay  float64
	noShow bool
}

func (s *Store) closeRide(rideID string, to model.RideStatus, now time.Time, oc *outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ride, ok := s.rides[rideID]
	if !ok {
		return service.ErrNotFound.Msgf("ride %s not found", rideID)
	}
	if !ride.Status.Occupying() {
		return service.ErrWrongStatus.Msgf("ride %s is already %s", rideID, ride.Status)
	}
	ride.Status = to
	ride.UpdatedAt = now
	if slot, ok := s.slots[ride.SlotID]; ok {
		releaseSeat(slot, ride.PlanType.IsPremium())
	}
	if oc != nil {
		s.recordOutcomeLocked(ride.RiderID, oc.delay, oc.noShow)
	}
	return nil
}

// ─── PlanStore ──────────────────────────────────────────────

func planKey(windowID, date string) string { return windowID + "|" + date }

func (s *Store) GetOrCreatePlan(_ context.Context, windowID, date, plannedDeparture string) (*model.RoutePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := planKey(windowID, date)
	if p, ok := s.plans[key]; ok {
		return copyPlan(p), nil
	}
	p := &model.RoutePlan{
		ID:               key,
		TimeWindowID:     windowID,
		ServiceDate:      date,
		PlannedDeparture: plannedDeparture,
		UpdatedAt:        time.Now(),
	}
	s.plans[key] = p
	return copyPlan(p), nil
}

func (s *Store) GetPlan(_ context.Context, windowID, date string) (*model.RoutePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planKey(windowID, date)]
	if !ok {
		return nil, service.ErrNotFound.Msgf("no plan for window %s on %s", windowID, date)
	}
	return copyPlan(p), nil
}

func (s *Store) ApplyInsertion(_ context.Context, change service.PlanChange, a *model.WindowAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planKey(change.TimeWindowID, change.ServiceDate)]
	if !ok {
		return service.ErrNotFound.Msgf("no plan for window %s on %s", change.TimeWindowID, change.ServiceDate)
	}
	if !equalOrder(p.OrderedAssignmentIDs, change.Snapshot) {
		return service.ErrPlanChangedRetry.Msgf("plan for window %s on %s changed underneath the computation",
			change.TimeWindowID, change.ServiceDate)
	}
	for _, other := range s.assignments {
		if other.RiderID == a.RiderID && other.TimeWindowID == a.TimeWindowID &&
			other.ServiceDate == a.ServiceDate && other.Status == model.AssignmentConfirmed {
			return service.ErrRiderConflict.Msgf("rider %s already has an assignment in window %s on %s",
				a.RiderID, a.TimeWindowID, a.ServiceDate)
		}
	}

	cp := *a
	s.assignments[cp.ID] = &cp
	s.writePlanLocked(p, change)
	return nil
}

func (s *Store) ApplyRemoval(_ context.Context, change service.PlanChange, assignmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planKey(change.TimeWindowID, change.ServiceDate)]
	if !ok {
		return service.ErrNotFound.Msgf("no plan for window %s on %s", change.TimeWindowID, change.ServiceDate)
	}
	if !equalOrder(p.OrderedAssignmentIDs, change.Snapshot) {
		return service.ErrPlanChangedRetry.Msgf("plan for window %s on %s changed underneath the computation",
			change.TimeWindowID, change.ServiceDate)
	}
	a, ok := s.assignments[assignmentID]
	if !ok || a.Status != model.AssignmentConfirmed {
		return service.ErrWrongStatus.Msgf("assignment %s is not confirmed", assignmentID)
	}
	a.Status = model.AssignmentCancelled
	s.writePlanLocked(p, change)
	return nil
}

func (s *Store) writePlanLocked(p *model.RoutePlan, change service.PlanChange) {
	p.OrderedAssignmentIDs = append([]string(nil), change.NewOrder...)
	p.AnchorAssignmentID = change.AnchorID
	p.Polyline = append([]byte(nil), change.Polyline...)
	p.BaseDurationSeconds = change.BaseDurationSeconds
	p.TotalDistanceMeters = change.TotalDistanceMeters
	p.UpdatedAt = time.Now()
}

func (s *Store) GetAssignment(_ context.Context, assignmentID string) (*model.WindowAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("assignment %s not found", assignmentID)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAssignments(_ context.Context, windowID, date string, status model.AssignmentStatus) ([]model.WindowAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WindowAssignment
	for _, a := range s.assignments {
		if a.TimeWindowID != windowID || a.ServiceDate != date {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountConfirmed(_ context.Context, windowID, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assignments {
		if a.TimeWindowID == windowID && a.ServiceDate == date && a.Status == model.AssignmentConfirmed {
			n++
		}
	}
	return n, nil
}

// ─── WindowStore ────────────────────────────────────────────

// PutWindow seeds reference data. Test helper.
func (s *Store) PutWindow(w model.TimeWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := w
	s.windows[cp.ID] = &cp
}

// PutZone seeds reference data. Test helper.
func (s *Store) PutZone(z model.ServiceZone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := z
	s.zones[cp.ID] = &cp
}

func (s *Store) GetWindow(_ context.Context, windowID string) (*model.TimeWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("time window %s not found", windowID)
	}
	cp := *w
	return &cp, nil
}

func (s *Store) GetZone(_ context.Context, zoneID string) (*model.ServiceZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[zoneID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("service zone %s not found", zoneID)
	}
	cp := *z
	return &cp, nil
}

func (s *Store) ListWindows(_ context.Context, kind model.WindowKind) ([]model.TimeWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TimeWindow
	for _, w := range s.windows {
		if w.Kind == kind && w.Active {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampusTargetTime < out[j].CampusTargetTime })
	return out, nil
}

// ─── JobStore ───────────────────────────────────────────────

func (s *Store) CreateJob(_ context.Context, job *model.SimulationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[cp.ID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*model.SimulationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, service.ErrNotFound.Msgf("simulation job %s not found", jobID)
	}
	return copyJob(j), nil
}

func (s *Store) MarkJobRunning(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return service.ErrNotFound.Msgf("simulation job %s not found", jobID)
	}
	if j.Status != model.JobPending {
		return service.ErrWrongStatus.Msgf("job %s is not pending", jobID)
	}
	j.Status = model.JobRunning
	j.StartedAt = &at
	return nil
}

func (s *Store) MarkJobCompleted(_ context.Context, jobID string, summary *model.SimulationSummary, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return service.ErrNotFound.Msgf("simulation job %s not found", jobID)
	}
	if j.Status != model.JobRunning {
		return service.ErrWrongStatus.Msgf("job %s is not running", jobID)
	}
	j.Status = model.JobCompleted
	if summary != nil {
		cp := *summary
		j.Summary = &cp
	}
	j.CompletedAt = &at
	return nil
}

func (s *Store) MarkJobFailed(_ context.Context, jobID string, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return service.ErrNotFound.Msgf("simulation job %s not found", jobID)
	}
	if j.Status != model.JobPending && j.Status != model.JobRunning {
		return service.ErrWrongStatus.Msgf("job %s is already terminal", jobID)
	}
	j.Status = model.JobFailed
	j.Error = errMsg
	j.CompletedAt = &at
	return nil
}

func (s *Store) LatestCompletedJob(_ context.Context, date string) (*model.SimulationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.SimulationJob
	for _, j := range s.jobs {
		if j.Date != date || j.Status != model.JobCompleted {
			continue
		}
		if latest == nil || (j.CompletedAt != nil && latest.CompletedAt != nil && j.CompletedAt.After(*latest.CompletedAt)) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyJob(latest), nil
}

// ─── StatsStore ─────────────────────────────────────────────

func (s *Store) GetRiderStats(_ context.Context, riderID string) (*model.RiderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[riderID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *Store) RecordRideOutcome(_ context.Context, riderID string, delayMinutes float64, noShow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordOutcomeLocked(riderID, delayMinutes, noShow)
	return nil
}

func (s *Store) recordOutcomeLocked(riderID string, delayMinutes float64, noShow bool) {
	st, ok := s.stats[riderID]
	if !ok {
		st = &model.RiderStats{RiderID: riderID}
		s.stats[riderID] = st
	}
	st.TotalBookings++
	if noShow {
		st.NoShows++
		return
	}
	st.CompletedRides++
	st.DelaySumMin += delayMinutes
	st.DelaySumSqMin += delayMinutes * delayMinutes
}

// ─── Copy helpers ───────────────────────────────────────────

func copyHold(h *model.SlotHold) *model.SlotHold {
	cp := *h
	if h.ConfirmedRideID != nil {
		id := *h.ConfirmedRideID
		cp.ConfirmedRideID = &id
	}
	return &cp
}

func copyPlan(p *model.RoutePlan) *model.RoutePlan {
	cp := *p
	cp.OrderedAssignmentIDs = append([]string(nil), p.OrderedAssignmentIDs...)
	cp.Polyline = append([]byte(nil), p.Polyline...)
	return &cp
}

func copyJob(j *model.SimulationJob) *model.SimulationJob {
	cp := *j
	if j.Summary != nil {
		sum := *j.Summary
		cp.Summary = &sum
	}
	if j.StartedAt != nil {
		at := *j.StartedAt
		cp.StartedAt = &at
	}
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func seatFree(s *model.TimeSlot, premium bool) bool {
	if premium {
		return s.UsedPremium < s.MaxPremium
	}
	return s.Type == model.SlotOffPeak && !s.Fragile && s.UsedNonPremium < s.MaxNonPremium
}

func takeSeat(s *model.TimeSlot, premium bool) {
	if premium {
		s.UsedPremium++
	} else {
		s.UsedNonPremium++
	}
}

func releaseSeat(s *model.TimeSlot, premium bool) {
	if premium {
		if s.UsedPremium > 0 {
			s.UsedPremium--
		}
	} else {
		if s.UsedNonPremium > 0 {
			s.UsedNonPremium--
		}
	}
}

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─── AvailabilityCache ──────────────────────────────────────

// Cache is an in-process availability cache with the same key layout as
// the Redis implementation.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]service.ArrivalWindow
	byDate  map[string][]string
}

var _ service.AvailabilityCache = (*Cache)(nil)

// NewCache creates an empty in-memory availability cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string][]service.ArrivalWindow),
		byDate:  make(map[string][]string),
	}
}

func (c *Cache) GetWindows(_ context.Context, key string) ([]service.ArrivalWindow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	windows, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]service.ArrivalWindow(nil), windows...), true
}

func (c *Cache) SetWindows(_ context.Context, key string, windows []service.ArrivalWindow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]service.ArrivalWindow(nil), windows...)
	if date := cacheDate(key); date != "" {
		c.byDate[date] = append(c.byDate[date], key)
	}
}

func (c *Cache) InvalidateDate(_ context.Context, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.byDate[date] {
		delete(c.entries, key)
	}
	delete(c.byDate, date)
}

// Len reports the number of cached entries. Test helper.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cacheDate(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "avail" {
		return ""
	}
	return parts[1]
}
