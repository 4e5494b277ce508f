package service

import (
	"fmt"
	"time"

	"github.com/yswin-stack/campusride/config"
	"github.com/yswin-stack/campusride/internal/model"
)

// ScheduleParams is the immutable scheduling configuration handed to every
// core component at construction. No component reads process-wide state.
type ScheduleParams struct {
	Loc *time.Location

	PeakMorning MinuteRange
	PeakEvening MinuteRange
	ServiceDay  MinuteRange

	SlotWindowMinutes int
	SlotMaxPremium    int
	SlotMaxNonPremium int
	Directions        []model.Direction

	ArriveEarlyMinutes    int
	HoldExpiry            time.Duration
	ConflictBufferMinutes int
	DesiredWindowMinutes  int
	MaxResults            int

	MaxPremiumSubscribers int
	MaxRidersPerRide      int
	MaxRidesPerHour       int
	MaxRidesPerDay        int

	PremiumOnTimeTarget    float64
	NonPremiumOnTimeTarget float64

	DriverBase     model.Location
	Campus         model.Location
	CampusRadiusKm float64
}

// DefaultScheduleParams returns the stock campus profile. Callers override
// individual fields from configuration.
func DefaultScheduleParams() ScheduleParams {
	return ScheduleParams{
		Loc:         time.UTC,
		PeakMorning: MinuteRange{Start: 7 * 60, End: 10 * 60},
		PeakEvening: MinuteRange{Start: 15 * 60, End: 18 * 60},
		ServiceDay:  MinuteRange{Start: 6 * 60, End: 22 * 60},

		SlotWindowMinutes: 5,
		SlotMaxPremium:    2,
		SlotMaxNonPremium: 2,
		Directions: []model.Direction{
			model.DirectionHomeToCampus,
			model.DirectionCampusToHome,
		},

		ArriveEarlyMinutes:    5,
		HoldExpiry:            5 * time.Minute,
		ConflictBufferMinutes: 30,
		DesiredWindowMinutes:  90,
		MaxResults:            10,

		MaxPremiumSubscribers: 20,
		MaxRidersPerRide:      2,
		MaxRidesPerHour:       3,
		MaxRidesPerDay:        40,

		PremiumOnTimeTarget:    0.99,
		NonPremiumOnTimeTarget: 0.95,

		DriverBase:     model.Location{Lat: 49.8844, Lng: -97.1470},
		Campus:         model.Location{Lat: 49.8075, Lng: -97.1325},
		CampusRadiusKm: 2.0,
	}
}

// ParamsFromConfig builds schedule parameters from configuration, falling
// back to the stock profile for anything left unset.
func ParamsFromConfig(sc config.ScheduleConfig) (ScheduleParams, error) {
	p := DefaultScheduleParams()

	loc, err := sc.Location()
	if err != nil {
		return p, err
	}
	p.Loc = loc

	ranges := []struct {
		dst        *MinuteRange
		start, end string
	}{
		{&p.PeakMorning, sc.PeakMorningStart, sc.PeakMorningEnd},
		{&p.PeakEvening, sc.PeakEveningStart, sc.PeakEveningEnd},
		{&p.ServiceDay, sc.ServiceDayStart, sc.ServiceDayEnd},
	}
	for _, r := range ranges {
		start, err := model.ParseClock(r.start)
		if err != nil {
			return p, fmt.Errorf("config: parse %q: %w", r.start, err)
		}
		end, err := model.ParseClock(r.end)
		if err != nil {
			return p, fmt.Errorf("config: parse %q: %w", r.end, err)
		}
		*r.dst = MinuteRange{Start: start, End: end}
	}

	if sc.SlotWindowMinutes > 0 {
		p.SlotWindowMinutes = sc.SlotWindowMinutes
	}
	if sc.SlotMaxPremium > 0 {
		p.SlotMaxPremium = sc.SlotMaxPremium
	}
	if sc.SlotMaxNonPremium >= 0 {
		p.SlotMaxNonPremium = sc.SlotMaxNonPremium
	}
	if dirs := sc.Directions(); len(dirs) > 0 {
		p.Directions = p.Directions[:0]
		for _, d := range dirs {
			p.Directions = append(p.Directions, model.Direction(d))
		}
	}

	if sc.ArriveEarlyMinutes > 0 {
		p.ArriveEarlyMinutes = sc.ArriveEarlyMinutes
	}
	if sc.HoldExpiryMinutes > 0 {
		p.HoldExpiry = time.Duration(sc.HoldExpiryMinutes) * time.Minute
	}
	if sc.ConflictBufferMinutes > 0 {
		p.ConflictBufferMinutes = sc.ConflictBufferMinutes
	}
	if sc.DesiredWindowMinutes > 0 {
		p.DesiredWindowMinutes = sc.DesiredWindowMinutes
	}
	if sc.MaxResults > 0 {
		p.MaxResults = sc.MaxResults
	}

	if sc.MaxPremiumSubscribers > 0 {
		p.MaxPremiumSubscribers = sc.MaxPremiumSubscribers
	}
	if sc.MaxRidersPerRide > 0 {
		p.MaxRidersPerRide = sc.MaxRidersPerRide
	}
	if sc.MaxRidesPerHour > 0 {
		p.MaxRidesPerHour = sc.MaxRidesPerHour
	}
	if sc.MaxRidesPerDay > 0 {
		p.MaxRidesPerDay = sc.MaxRidesPerDay
	}

	if sc.PremiumOnTimeTarget > 0 {
		p.PremiumOnTimeTarget = sc.PremiumOnTimeTarget
	}
	if sc.NonPremiumTarget > 0 {
		p.NonPremiumOnTimeTarget = sc.NonPremiumTarget
	}

	if sc.DriverBaseLat != 0 || sc.DriverBaseLng != 0 {
		p.DriverBase = model.Location{Lat: sc.DriverBaseLat, Lng: sc.DriverBaseLng}
	}
	if sc.CampusLat != 0 || sc.CampusLng != 0 {
		p.Campus = model.Location{Lat: sc.CampusLat, Lng: sc.CampusLng}
	}
	if sc.CampusRadiusKm > 0 {
		p.CampusRadiusKm = sc.CampusRadiusKm
	}
	return p, nil
}

// InPeak reports whether a wall-clock minute falls in a peak window.
func (p ScheduleParams) InPeak(minutes int) bool {
	return p.PeakMorning.Contains(minutes) || p.PeakEvening.Contains(minutes)
}

// SlotTypeFor derives the slot type from the arrival-window start.
func (p ScheduleParams) SlotTypeFor(startMinutes int) model.SlotType {
	if p.InPeak(startMinutes) {
		return model.SlotPeak
	}
	return model.SlotOffPeak
}

// Deadline returns the latest acceptable arrival for a slot: the window
// end minus the arrive-early margin.
func (p ScheduleParams) Deadline(arrivalEndMinutes int) int {
	return arrivalEndMinutes - p.ArriveEarlyMinutes
}
