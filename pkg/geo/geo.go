// Package geo provides geographic utility functions for the scheduling core.
//
// All distance calculations use the Haversine formula on WGS-84 coordinates.
// Road distances and travel times are estimated elsewhere; this package only
// deals in great-circle geometry.
package geo

import (
	"math"

	"github.com/yswin-stack/campusride/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// EarthRadiusM is the mean radius of Earth in meters.
	EarthRadiusM = 6_371_000.0
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLng*sinLng

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.Location) float64 {
	return HaversineKm(a, b) * 1000.0
}

// ─── Route Calculations ─────────────────────────────────────

// RouteDistanceKm returns the total distance of an ordered route in kilometers.
//
// Complexity: O(S) where S = number of stops.
func RouteDistanceKm(route []model.Location) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += HaversineKm(route[i], route[i+1])
	}
	return total
}

// RouteDistanceM returns the total distance of an ordered route in meters.
func RouteDistanceM(route []model.Location) float64 {
	return RouteDistanceKm(route) * 1000.0
}

// ─── Route Manipulation ────────────────────────────────────

// InsertStop returns a new route with the given stop inserted at the specified
// index. The original route is NOT modified.
//
// Complexity: O(S)
func InsertStop(route []model.Location, index int, stop model.Location) []model.Location {
	newRoute := make([]model.Location, 0, len(route)+1)
	newRoute = append(newRoute, route[:index]...)
	newRoute = append(newRoute, stop)
	newRoute = append(newRoute, route[index:]...)
	return newRoute
}

// ─── Regions ────────────────────────────────────────────────

// Rect is an axis-aligned lat/lng bounding box. Used for marking
// heavy-traffic corridors.
type Rect struct {
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MinLng float64 `json:"min_lng" mapstructure:"min_lng"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
	MaxLng float64 `json:"max_lng" mapstructure:"max_lng"`
}

// Contains reports whether p lies inside the box (borders inclusive).
func (r Rect) Contains(p model.Location) bool {
	return p.Lat >= r.MinLat && p.Lat <= r.MaxLat &&
		p.Lng >= r.MinLng && p.Lng <= r.MaxLng
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
