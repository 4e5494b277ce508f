package service

import (
	"math"
	"math/rand"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/geo"
)

// VarianceLevel scales sampling spread in simulations.
type VarianceLevel string

const (
	VarianceLow    VarianceLevel = "low"
	VarianceNormal VarianceLevel = "normal"
	VarianceHigh   VarianceLevel = "high"
)

// Factor returns the std-deviation multiplier for the level. Unknown
// levels fall back to normal.
func (v VarianceLevel) Factor() float64 {
	switch v {
	case VarianceLow:
		return 0.7
	case VarianceHigh:
		return 1.5
	default:
		return 1.0
	}
}

// MinuteRange is a half-open [Start, End) window in minutes past midnight.
type MinuteRange struct {
	Start int
	End   int
}

// Contains reports whether m falls inside the window.
func (r MinuteRange) Contains(m int) bool { return m >= r.Start && m < r.End }

// TravelEstimate is the deterministic output of the travel model.
type TravelEstimate struct {
	DistanceKm        float64 `json:"distance_km"`
	TrafficMultiplier float64 `json:"traffic_multiplier"`
	MeanMinutes       float64 `json:"mean_minutes"`
	StdMinutes        float64 `json:"std_minutes"`
	P95Minutes        float64 `json:"p95_minutes"`
}

// TravelConfig parameterizes the travel model. Zero values are replaced
// by DefaultTravelConfig in NewTravelTimeModel.
type TravelConfig struct {
	BaseSpeedKmph    float64
	RoadFactor       float64
	SafetyMultiplier float64

	// HourMultipliers index by hour of day; commute peaks sit well above 1.
	HourMultipliers [24]float64
	// WeekdayMultipliers index by time.Weekday (Sunday = 0).
	WeekdayMultipliers [7]float64
	WeatherMultipliers map[model.Weather]float64

	// Corridors are heavy-traffic rectangles; trips touching one during a
	// peak window pay CorridorOverlay on top of the multiplier product.
	Corridors       []geo.Rect
	CorridorOverlay float64
	PeakWindows     []MinuteRange
}

// DefaultTravelConfig returns the tuned city profile: commute peaks at
// 07:00–10:00 and 15:00–18:00, quiet weekends, winter weather penalties.
func DefaultTravelConfig() TravelConfig {
	return TravelConfig{
		BaseSpeedKmph:    28.0,
		RoadFactor:       1.3,
		SafetyMultiplier: 1.3,
		HourMultipliers: [24]float64{
			0.85, 0.85, 0.85, 0.85, 0.85, 0.90, // 00-05
			1.10, 1.45, 1.50, 1.35, // 06-09
			1.10, 1.10, 1.15, 1.10, 1.15, // 10-14
			1.40, 1.50, 1.45, // 15-17
			1.20, 1.05, 0.95, 0.90, 0.85, 0.85, // 18-23
		},
		WeekdayMultipliers: [7]float64{0.80, 1.05, 1.00, 1.00, 1.05, 1.10, 0.85},
		WeatherMultipliers: map[model.Weather]float64{
			model.WeatherClear: 1.0,
			model.WeatherRain:  1.2,
			model.WeatherSnow:  1.5,
			model.WeatherStorm: 1.8,
		},
		// Downtown core, both sides of the river crossings.
		Corridors: []geo.Rect{
			{MinLat: 49.875, MinLng: -97.155, MaxLat: 49.910, MaxLng: -97.115},
		},
		CorridorOverlay: 0.3,
		PeakWindows: []MinuteRange{
			{Start: 7 * 60, End: 10 * 60},
			{Start: 15 * 60, End: 18 * 60},
		},
	}
}

// TravelTimeModel estimates door-to-door driving time between coordinates
// for a given time context. Purely functional: no I/O, no clock.
type TravelTimeModel struct {
	cfg TravelConfig
}

// NewTravelTimeModel fills zero config fields from DefaultTravelConfig.
func NewTravelTimeModel(cfg TravelConfig) *TravelTimeModel {
	def := DefaultTravelConfig()
	if cfg.BaseSpeedKmph <= 0 {
		cfg.BaseSpeedKmph = def.BaseSpeedKmph
	}
	if cfg.RoadFactor <= 0 {
		cfg.RoadFactor = def.RoadFactor
	}
	if cfg.SafetyMultiplier <= 0 {
		cfg.SafetyMultiplier = def.SafetyMultiplier
	}
	if cfg.HourMultipliers == ([24]float64{}) {
		cfg.HourMultipliers = def.HourMultipliers
	}
	if cfg.WeekdayMultipliers == ([7]float64{}) {
		cfg.WeekdayMultipliers = def.WeekdayMultipliers
	}
	if cfg.WeatherMultipliers == nil {
		cfg.WeatherMultipliers = def.WeatherMultipliers
	}
	if cfg.Corridors == nil {
		cfg.Corridors = def.Corridors
	}
	if cfg.CorridorOverlay == 0 {
		cfg.CorridorOverlay = def.CorridorOverlay
	}
	if cfg.PeakWindows == nil {
		cfg.PeakWindows = def.PeakWindows
	}
	return &TravelTimeModel{cfg: cfg}
}

// TrafficMultiplier combines the hour, weekday and weather tables, plus
// the corridor overlay when either endpoint sits in a heavy-traffic
// rectangle during a peak window.
func (m *TravelTimeModel) TrafficMultiplier(a, b model.Location, tc model.TimeContext) float64 {
	mult := m.cfg.HourMultipliers[tc.Hour()] * m.cfg.WeekdayMultipliers[int(tc.Weekday)%7]
	if w, ok := m.cfg.WeatherMultipliers[tc.Weather]; ok {
		mult *= w
	}
	if m.inPeak(tc.Minutes) && m.touchesCorridor(a, b) {
		mult += m.cfg.CorridorOverlay
	}
	return mult
}

// Estimate returns the deterministic travel statistics for one leg.
func (m *TravelTimeModel) Estimate(a, b model.Location, tc model.TimeContext) TravelEstimate {
	distKm := geo.HaversineKm(a, b) * m.cfg.RoadFactor
	mult := m.TrafficMultiplier(a, b, tc)

	speed := m.cfg.BaseSpeedKmph / mult
	mean := distKm / speed * 60.0

	std := mean * 0.15
	if mult > 1.2 {
		std *= 1.3
	}

	return TravelEstimate{
		DistanceKm:        distKm,
		TrafficMultiplier: mult,
		MeanMinutes:       mean,
		StdMinutes:        std,
		P95Minutes:        mean * m.cfg.SafetyMultiplier,
	}
}

// Sample draws one travel time in minutes around the deterministic mean.
// Results are clamped to [0.6·mean, 2.0·mean] so a single draw can never
// be absurd.
func (m *TravelTimeModel) Sample(rng *rand.Rand, a, b model.Location, tc model.TimeContext, level VarianceLevel) float64 {
	est := m.Estimate(a, b, tc)
	if est.MeanMinutes == 0 {
		return 0
	}
	v := est.MeanMinutes + est.StdMinutes*level.Factor()*boxMuller(rng)
	return clamp(v, 0.6*est.MeanMinutes, 2.0*est.MeanMinutes)
}

func (m *TravelTimeModel) inPeak(minutes int) bool {
	for _, w := range m.cfg.PeakWindows {
		if w.Contains(minutes) {
			return true
		}
	}
	return false
}

func (m *TravelTimeModel) touchesCorridor(a, b model.Location) bool {
	for _, r := range m.cfg.Corridors {
		if r.Contains(a) || r.Contains(b) {
			return true
		}
	}
	return false
}

// boxMuller returns a standard normal draw from two uniforms.
func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
