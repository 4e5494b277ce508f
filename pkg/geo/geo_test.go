package geo

import (
	"math"
	"testing"

	"github.com/yswin-stack/campusride/internal/model"
)

func TestHaversineKm_SamePoint(t *testing.T) {
	loc := model.Location{Lat: 49.8075, Lng: -97.1366}
	got := HaversineKm(loc, loc)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// University campus to downtown (~10 km)
	campus := model.Location{Lat: 49.8075, Lng: -97.1366}
	downtown := model.Location{Lat: 49.8951, Lng: -97.1384}
	got := HaversineKm(campus, downtown)
	wantMin, wantMax := 8.0, 12.0
	if got < wantMin || got > wantMax {
		t.Errorf("HaversineKm(campus→downtown) = %.2f km, want between %.1f and %.1f", got, wantMin, wantMax)
	}
}

func TestRouteDistanceKm(t *testing.T) {
	route := []model.Location{
		{Lat: 49.8951, Lng: -97.1384},
		{Lat: 49.8500, Lng: -97.1400},
		{Lat: 49.8075, Lng: -97.1366},
	}
	got := RouteDistanceKm(route)
	if got <= 0 {
		t.Errorf("RouteDistanceKm = %v, want positive", got)
	}
	direct := HaversineKm(route[0], route[2])
	if got < direct {
		t.Errorf("RouteDistanceKm = %v, want >= direct %v", got, direct)
	}
}

func TestInsertStop(t *testing.T) {
	route := []model.Location{
		{Lat: 1, Lng: 1},
		{Lat: 2, Lng: 2},
	}
	stop := model.Location{Lat: 1.5, Lng: 1.5}
	got := InsertStop(route, 1, stop)
	if len(got) != 3 {
		t.Errorf("InsertStop: len = %d, want 3", len(got))
	}
	if got[1] != stop {
		t.Errorf("InsertStop: inserted at wrong position")
	}
	if len(route) != 2 {
		t.Errorf("InsertStop: modified the original route")
	}
}

func TestHaversineM(t *testing.T) {
	a := model.Location{Lat: 0, Lng: 0}
	b := model.Location{Lat: 0.001, Lng: 0}
	km := HaversineKm(a, b)
	m := HaversineM(a, b)
	if math.Abs(m-km*1000) > 0.01 {
		t.Errorf("HaversineM = %v, want HaversineKm*1000 = %v", m, km*1000)
	}
}

func TestRectContains(t *testing.T) {
	r := Rect{MinLat: 49.88, MinLng: -97.15, MaxLat: 49.91, MaxLng: -97.12}
	if !r.Contains(model.Location{Lat: 49.8951, Lng: -97.1384}) {
		t.Errorf("Rect.Contains(inside point) = false, want true")
	}
	if r.Contains(model.Location{Lat: 49.8075, Lng: -97.1366}) {
		t.Errorf("Rect.Contains(outside point) = true, want false")
	}
	if !r.Contains(model.Location{Lat: 49.88, Lng: -97.15}) {
		t.Errorf("Rect.Contains(border point) = false, want true")
	}
}
