// Package model contains domain models for the campus ride scheduling core.
// Persisted structs map one-to-one onto PostgreSQL rows; the repository
// package owns the SQL.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type PlanType string

const (
	PlanPremium  PlanType = "premium"
	PlanStandard PlanType = "standard"
	PlanOffPeak  PlanType = "off_peak"
)

// IsPremium reports whether the plan gets the Premium capacity tier.
// Standard and off-peak plans share the non-Premium tier.
func (p PlanType) IsPremium() bool { return p == PlanPremium }

type Direction string

const (
	DirectionHomeToCampus Direction = "home_to_campus"
	DirectionCampusToHome Direction = "campus_to_home"
	DirectionHomeToWork   Direction = "home_to_work"
	DirectionWorkToHome   Direction = "work_to_home"
	DirectionOther        Direction = "other"
)

type SlotType string

const (
	SlotPeak    SlotType = "peak"
	SlotOffPeak SlotType = "off_peak"
)

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConfirmed HoldStatus = "confirmed"
	HoldCancelled HoldStatus = "cancelled"
	HoldExpired   HoldStatus = "expired"
)

type RideStatus string

const (
	RideScheduled        RideStatus = "scheduled"
	RideCompleted        RideStatus = "completed"
	RideCancelledByRider RideStatus = "cancelled_by_rider"
	RideCancelledByAdmin RideStatus = "cancelled_by_admin"
	RideNoShow           RideStatus = "no_show"
)

// Occupying returns true when the ride still consumes slot capacity.
// Every terminal transition (completed, cancelled, no-show) releases it.
func (s RideStatus) Occupying() bool { return s == RideScheduled }

type AssignmentStatus string

const (
	AssignmentConfirmed  AssignmentStatus = "confirmed"
	AssignmentWaitlisted AssignmentStatus = "waitlisted"
	AssignmentRejected   AssignmentStatus = "rejected"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

type Weather string

const (
	WeatherClear Weather = "clear"
	WeatherRain  Weather = "rain"
	WeatherSnow  Weather = "snow"
	WeatherStorm Weather = "storm"
)

type WindowKind string

const (
	WindowMorning WindowKind = "morning"
	WindowEvening WindowKind = "evening"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point (EPSG:4326).
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside WGS-84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// TimeContext carries the traffic-relevant facts of a moment on a service day.
type TimeContext struct {
	Date    string       `json:"date"`    // YYYY-MM-DD
	Minutes int          `json:"minutes"` // minutes past local midnight
	Weekday time.Weekday `json:"weekday"`
	Weather Weather      `json:"weather"`
}

// Hour returns the hour-of-day component, in [0,24).
func (c TimeContext) Hour() int { return (c.Minutes / 60) % 24 }

// At returns the context shifted to a different wall clock on the same day.
func (c TimeContext) At(minutes int) TimeContext {
	c.Minutes = minutes
	return c
}

// ─── Domain Models ──────────────────────────────────────────

// TimeSlot maps to the `slot_capacity` table. One row per 5-minute arrival
// window per direction per service day. Counters are mutated only through
// the slot store's conditional operations.
type TimeSlot struct {
	ID             string    `json:"id"` // <date>_<direction>_<HHMM>
	Date           string    `json:"date"`
	Direction      Direction `json:"direction"`
	Type           SlotType  `json:"type"`
	ArrivalStart   string    `json:"arrival_start"` // HH:MM, inclusive
	ArrivalEnd     string    `json:"arrival_end"`   // HH:MM, exclusive
	MaxPremium     int       `json:"max_premium"`
	UsedPremium    int       `json:"used_premium"`
	MaxNonPremium  int       `json:"max_non_premium"`
	UsedNonPremium int       `json:"used_non_premium"`
	Fragile        bool      `json:"fragile"`
}

// HasAvailability reports whether one more rider of the given plan fits.
// Fragile slots accept Premium riders only; non-Premium riders never enter
// peak slots.
func (s *TimeSlot) HasAvailability(plan PlanType) bool {
	if plan.IsPremium() {
		return s.UsedPremium < s.MaxPremium
	}
	if s.Type == SlotPeak || s.Fragile {
		return false
	}
	return s.UsedNonPremium < s.MaxNonPremium
}

// SlotHold maps to the `slot_holds` table. At most one active hold per
// rider exists at any time.
type SlotHold struct {
	ID              string     `json:"id"`
	SlotID          string     `json:"slot_id"`
	RiderID         string     `json:"rider_id"`
	PlanType        PlanType   `json:"plan_type"`
	Origin          Location   `json:"origin"`
	Destination     Location   `json:"destination"`
	Status          HoldStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ConfirmedRideID *string    `json:"confirmed_ride_id,omitempty"`
}

// Expired reports whether the hold's reservation window has passed.
func (h *SlotHold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// ScheduledRide maps to the `scheduled_rides` table.
type ScheduledRide struct {
	ID                string     `json:"id"`
	RiderID           string     `json:"rider_id"`
	Date              string     `json:"date"`
	SlotID            string     `json:"slot_id"`
	PlanType          PlanType   `json:"plan_type"`
	Direction         Direction  `json:"direction"`
	Origin            Location   `json:"origin"`
	Destination       Location   `json:"destination"`
	ArrivalStart      string     `json:"arrival_start"`
	ArrivalEnd        string     `json:"arrival_end"`
	PickupTime        string     `json:"pickup_time"`
	PickupWindowStart string     `json:"pickup_window_start"`
	PickupWindowEnd   string     `json:"pickup_window_end"`
	PredictedArrival  string     `json:"predicted_arrival"`
	Status            RideStatus `json:"status"`
	HoldID            string     `json:"hold_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ServiceZone is collaborator-owned reference data, read-only for the core.
type ServiceZone struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Campus             Location `json:"campus"`
	MaxDetourSeconds   int      `json:"max_detour_seconds"`
	MaxRidersPerTrip   int      `json:"max_riders_per_trip"`
	MaxAnchorDistanceM *float64 `json:"max_anchor_distance_m,omitempty"`
	Active             bool     `json:"active"`
}

// TimeWindow is collaborator-owned reference data, read-only for the core.
type TimeWindow struct {
	ID               string     `json:"id"`
	ZoneID           string     `json:"zone_id"`
	Kind             WindowKind `json:"kind"`
	CampusTargetTime string     `json:"campus_target_time"` // HH:MM
	StartPickupTime  string     `json:"start_pickup_time"`  // HH:MM
	MaxRiders        int        `json:"max_riders"`
	Active           bool       `json:"active"`
}

// WindowAssignment maps to the `window_assignments` table. It is the
// shared-route analog of a ScheduledRide.
type WindowAssignment struct {
	ID               string           `json:"id"`
	RiderID          string           `json:"rider_id"`
	TimeWindowID     string           `json:"time_window_id"`
	ServiceDate      string           `json:"service_date"`
	Pickup           Location         `json:"pickup"`
	Status           AssignmentStatus `json:"status"`
	EstimatedPickup  string           `json:"estimated_pickup"`  // HH:MM
	EstimatedArrival string           `json:"estimated_arrival"` // HH:MM
	CreatedAt        time.Time        `json:"created_at"`
}

// RoutePlan maps to the `route_plans` table. One row per (time window,
// service date). The anchor assignment pins the first stop; ordered IDs
// give the stop sequence before the campus terminal.
type RoutePlan struct {
	ID                   string    `json:"id"`
	TimeWindowID         string    `json:"time_window_id"`
	ServiceDate          string    `json:"service_date"`
	PlannedDeparture     string    `json:"planned_departure"` // HH:MM
	OrderedAssignmentIDs []string  `json:"ordered_assignment_ids"`
	AnchorAssignmentID   string    `json:"anchor_assignment_id"`
	Polyline             []byte    `json:"polyline,omitempty"`
	BaseDurationSeconds  int       `json:"base_duration_seconds"`
	TotalDistanceMeters  int       `json:"total_distance_meters"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// RiderStats maps to the `rider_stats` table. Aggregates are append-only:
// counters only grow and sums only accumulate, so concurrent ride outcomes
// can be folded in without read-modify-write races.
type RiderStats struct {
	RiderID        string  `json:"rider_id"`
	TotalBookings  int     `json:"total_bookings"`
	CompletedRides int     `json:"completed_rides"`
	NoShows        int     `json:"no_shows"`
	DelaySumMin    float64 `json:"delay_sum_min"`
	DelaySumSqMin  float64 `json:"delay_sum_sq_min"`
}

// SimulationJob maps to the `simulation_jobs` table.
type SimulationJob struct {
	ID          string             `json:"id"`
	Date        string             `json:"date"`
	Scenario    string             `json:"scenario"`
	Runs        int                `json:"runs"`
	Status      JobStatus          `json:"status"`
	Summary     *SimulationSummary `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// ─── Routing value types ────────────────────────────────────

// RouteLeg is one origin→destination measurement from a routing provider.
type RouteLeg struct {
	DurationSeconds int `json:"duration_seconds"`
	DistanceMeters  int `json:"distance_meters"`
}

// DistanceMatrix holds provider travel estimates for every origin×destination pair.
type DistanceMatrix struct {
	Origins      []Location   `json:"origins"`
	Destinations []Location   `json:"destinations"`
	Rows         [][]RouteLeg `json:"rows"` // Rows[i][j] = Origins[i] → Destinations[j]
}

// Leg returns the measurement for origin index i and destination index j.
func (m *DistanceMatrix) Leg(i, j int) RouteLeg { return m.Rows[i][j] }

// Route is a full multi-stop route from a routing provider.
type Route struct {
	DurationSeconds int    `json:"duration_seconds"`
	DistanceMeters  int    `json:"distance_meters"`
	Polyline        []byte `json:"polyline,omitempty"`
}

// ─── Simulation results ─────────────────────────────────────

// SlotSuggestion proposes a reduced non-Premium cap for a slot that ran
// late in more than 10% of simulation runs.
type SlotSuggestion struct {
	SlotID              string  `json:"slot_id"`
	LateRate            float64 `json:"late_rate"`
	CurrentNonPremium   int     `json:"current_non_premium"`
	SuggestedNonPremium int     `json:"suggested_non_premium"`
}

// SimulationSummary is the persisted aggregate of a Monte Carlo batch.
type SimulationSummary struct {
	Runs                 int              `json:"runs"`
	Seed                 int64            `json:"seed"`
	RidesPerRun          int              `json:"rides_per_run"`
	PremiumOnTimeMean    float64          `json:"premium_on_time_mean"`
	PremiumOnTimeP5      float64          `json:"premium_on_time_p5"`
	PremiumOnTimeMin     float64          `json:"premium_on_time_min"`
	NonPremiumOnTimeMean float64          `json:"non_premium_on_time_mean"`
	NonPremiumOnTimeP5   float64          `json:"non_premium_on_time_p5"`
	NonPremiumOnTimeMin  float64          `json:"non_premium_on_time_min"`
	MaxLatenessMinutes   float64          `json:"max_lateness_minutes"`
	MeanMaxLateness      float64          `json:"mean_max_lateness"`
	SlotSuggestions      []SlotSuggestion `json:"slot_suggestions,omitempty"`
	Recommendations      []string         `json:"recommendations,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
	ElapsedMillis        int64            `json:"elapsed_millis"`
}
