package service

import (
	"context"
	"time"

	"github.com/yswin-stack/campusride/internal/model"
)

// Store interfaces are defined here, on the consumer side. The pgx
// implementations live in internal/repository; an in-memory implementation
// backs the tests. Methods that mutate coupled state (slot counters plus a
// hold or ride row) are single transactions in every implementation.

// SlotStore owns slot_capacity rows.
type SlotStore interface {
	// InsertSlots adds missing slots, leaving existing rows untouched.
	InsertSlots(ctx context.Context, slots []model.TimeSlot) error
	GetSlot(ctx context.Context, slotID string) (*model.TimeSlot, error)
	// ListSlots returns the date's slots ordered by arrival start. An empty
	// direction matches all directions.
	ListSlots(ctx context.Context, date string, direction model.Direction) ([]model.TimeSlot, error)
	// Reserve atomically increments the tier counter if below its max.
	// Returns false (not an error) when the seat is gone.
	Reserve(ctx context.Context, slotID string, premium bool) (bool, error)
	// Release atomically decrements the tier counter, never below zero.
	Release(ctx context.Context, slotID string, premium bool) error
	SetFragile(ctx context.Context, slotID string, fragile bool) error
	// SetMaxNonPremium applies the admin cap, floored at the current used
	// count. Returns the value actually applied.
	SetMaxNonPremium(ctx context.Context, slotID string, max int) (int, error)
}

// HoldStore owns slot_holds rows and their coupled capacity transitions.
type HoldStore interface {
	// CreateHold locks the slot row, re-checks availability, increments the
	// tier counter and inserts the hold in one transaction. Fails with
	// ErrNoCapacity when the seat is gone and ErrDupActiveHold when the
	// rider already has an active hold.
	CreateHold(ctx context.Context, hold *model.SlotHold) error
	GetHold(ctx context.Context, holdID string) (*model.SlotHold, error)
	// GetActiveHoldForRider returns (nil, nil) when the rider has none.
	GetActiveHoldForRider(ctx context.Context, riderID string) (*model.SlotHold, error)
	// ConfirmHold locks the hold, verifies it is active and unexpired,
	// inserts the ride and marks the hold confirmed in one transaction.
	ConfirmHold(ctx context.Context, holdID string, ride *model.ScheduledRide, now time.Time) error
	// CancelHold releases capacity iff the hold was still active. Returns
	// whether a release happened; cancelling an already terminal hold is a
	// no-op except for confirmed holds, which fail with ErrWrongStatus.
	CancelHold(ctx context.Context, holdID string, now time.Time) (bool, error)
	// ExpireDue terminates every active hold past its expiry and returns
	// the holds it expired. Failures on individual holds do not abort the
	// batch.
	ExpireDue(ctx context.Context, now time.Time) ([]model.SlotHold, error)
	ListActiveHolds(ctx context.Context, date string) ([]model.SlotHold, error)
}

// RideStore owns scheduled_rides rows and their terminal transitions.
type RideStore interface {
	GetRide(ctx context.Context, rideID string) (*model.ScheduledRide, error)
	ListRides(ctx context.Context, date string) ([]model.ScheduledRide, error)
	// CancelRide releases the slot seat and marks the ride cancelled.
	CancelRide(ctx context.Context, rideID string, byAdmin bool, now time.Time) error
	// CompleteRide releases the seat and folds the observed ready delay
	// into the rider's history.
	CompleteRide(ctx context.Context, rideID string, delayMinutes float64, now time.Time) error
	// MarkNoShow releases the seat and counts the no-show.
	MarkNoShow(ctx context.Context, rideID string, now time.Time) error
}

// PlanChange carries the recomputed route written alongside an insertion
// or removal. Snapshot is the ordered-ID list the decision was computed
// against; the store rejects the change with ErrPlanChangedRetry when the
// stored plan no longer matches it.
type PlanChange struct {
	TimeWindowID        string
	ServiceDate         string
	Snapshot            []string
	NewOrder            []string
	AnchorID            string
	Polyline            []byte
	BaseDurationSeconds int
	TotalDistanceMeters int
}

// PlanStore owns route_plans and window_assignments rows.
type PlanStore interface {
	// GetOrCreatePlan returns the plan for (window, date), creating an
	// empty one with the given departure when absent.
	GetOrCreatePlan(ctx context.Context, windowID, date, plannedDeparture string) (*model.RoutePlan, error)
	GetPlan(ctx context.Context, windowID, date string) (*model.RoutePlan, error)
	// ApplyInsertion inserts the assignment and rewrites the plan under the
	// plan row lock. The assignment is unique per (rider, window, date).
	ApplyInsertion(ctx context.Context, change PlanChange, a *model.WindowAssignment) error
	// ApplyRemoval marks the assignment cancelled and rewrites the plan
	// under the plan row lock.
	ApplyRemoval(ctx context.Context, change PlanChange, assignmentID string) error
	GetAssignment(ctx context.Context, assignmentID string) (*model.WindowAssignment, error)
	ListAssignments(ctx context.Context, windowID, date string, status model.AssignmentStatus) ([]model.WindowAssignment, error)
	CountConfirmed(ctx context.Context, windowID, date string) (int, error)
}

// WindowStore reads collaborator-owned zone and window reference data.
type WindowStore interface {
	GetWindow(ctx context.Context, windowID string) (*model.TimeWindow, error)
	GetZone(ctx context.Context, zoneID string) (*model.ServiceZone, error)
	// ListWindows returns active windows of a kind, for alternatives.
	ListWindows(ctx context.Context, kind model.WindowKind) ([]model.TimeWindow, error)
}

// JobStore owns simulation_jobs rows.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.SimulationJob) error
	GetJob(ctx context.Context, jobID string) (*model.SimulationJob, error)
	MarkJobRunning(ctx context.Context, jobID string, at time.Time) error
	MarkJobCompleted(ctx context.Context, jobID string, summary *model.SimulationSummary, at time.Time) error
	MarkJobFailed(ctx context.Context, jobID string, errMsg string, at time.Time) error
	// LatestCompletedJob returns (nil, nil) when the date has none.
	LatestCompletedJob(ctx context.Context, date string) (*model.SimulationJob, error)
}

// StatsStore owns rider_stats aggregates. Updates are append-only.
type StatsStore interface {
	// GetRiderStats returns (nil, nil) for riders with no history.
	GetRiderStats(ctx context.Context, riderID string) (*model.RiderStats, error)
	RecordRideOutcome(ctx context.Context, riderID string, delayMinutes float64, noShow bool) error
}

// AvailabilityCache is the short-TTL fast path in front of availability
// search. Implementations must treat errors as misses.
type AvailabilityCache interface {
	GetWindows(ctx context.Context, key string) ([]ArrivalWindow, bool)
	SetWindows(ctx context.Context, key string, windows []ArrivalWindow)
	// InvalidateDate drops every cached result for a service date.
	InvalidateDate(ctx context.Context, date string)
}
