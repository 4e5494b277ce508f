package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// WindowRepository reads service_zones and time_windows. Both tables are
// collaborator-owned reference data; the core never writes them.
type WindowRepository struct {
	pool *pgxpool.Pool
}

// NewWindowRepository creates a window repository backed by the given PG pool.
func NewWindowRepository(pool *pgxpool.Pool) *WindowRepository {
	return &WindowRepository{pool: pool}
}

// GetWindow fetches one time window by ID.
func (r *WindowRepository) GetWindow(ctx context.Context, windowID string) (*model.TimeWindow, error) {
	w := &model.TimeWindow{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, zone_id, kind, campus_target_time, start_pickup_time, max_riders, active
		FROM time_windows WHERE id = $1
	`, windowID).Scan(&w.ID, &w.ZoneID, &w.Kind, &w.CampusTargetTime, &w.StartPickupTime, &w.MaxRiders, &w.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("time window %s not found", windowID)
	}
	if err != nil {
		return nil, fmt.Errorf("windows: get %s: %w", windowID, err)
	}
	return w, nil
}

// GetZone fetches one service zone by ID.
func (r *WindowRepository) GetZone(ctx context.Context, zoneID string) (*model.ServiceZone, error) {
	z := &model.ServiceZone{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, campus_lat, campus_lng,
			max_detour_seconds, max_riders_per_trip, max_anchor_distance_m, active
		FROM service_zones WHERE id = $1
	`, zoneID).Scan(&z.ID, &z.Name, &z.Campus.Lat, &z.Campus.Lng,
		&z.MaxDetourSeconds, &z.MaxRidersPerTrip, &z.MaxAnchorDistanceM, &z.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("service zone %s not found", zoneID)
	}
	if err != nil {
		return nil, fmt.Errorf("windows: get zone %s: %w", zoneID, err)
	}
	return z, nil
}

// ListWindows returns active windows of the given kind, ordered by target
// time so alternatives come out in day order.
func (r *WindowRepository) ListWindows(ctx context.Context, kind model.WindowKind) ([]model.TimeWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, zone_id, kind, campus_target_time, start_pickup_time, max_riders, active
		FROM time_windows
		WHERE kind = $1 AND active
		ORDER BY campus_target_time
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("windows: list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []model.TimeWindow
	for rows.Next() {
		w := model.TimeWindow{}
		if err := rows.Scan(&w.ID, &w.ZoneID, &w.Kind, &w.CampusTargetTime, &w.StartPickupTime, &w.MaxRiders, &w.Active); err != nil {
			return nil, fmt.Errorf("windows: scan: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
