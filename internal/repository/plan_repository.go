package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// PlanRepository owns route_plans and window_assignments. Plan rewrites use
// optimistic concurrency: the routing engine computes against a snapshot of
// the stop order, and the write is accepted only if the stored order still
// matches that snapshot under the plan row lock.
type PlanRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository creates a plan repository backed by the given PG pool.
func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

const planColumns = `
	id, time_window_id, service_date, planned_departure,
	ordered_assignment_ids, anchor_assignment_id, polyline,
	base_duration_seconds, total_distance_meters, updated_at`

func scanPlan(row pgx.Row) (*model.RoutePlan, error) {
	p := &model.RoutePlan{}
	err := row.Scan(
		&p.ID, &p.TimeWindowID, &p.ServiceDate, &p.PlannedDeparture,
		&p.OrderedAssignmentIDs, &p.AnchorAssignmentID, &p.Polyline,
		&p.BaseDurationSeconds, &p.TotalDistanceMeters, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetOrCreatePlan returns the plan for (window, date), creating an empty
// one when absent. Concurrent creators race on the unique key and both end
// up reading the same row.
func (r *PlanRepository) GetOrCreatePlan(ctx context.Context, windowID, date, plannedDeparture string) (*model.RoutePlan, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO route_plans (
			id, time_window_id, service_date, planned_departure,
			ordered_assignment_ids, anchor_assignment_id,
			base_duration_seconds, total_distance_meters, updated_at
		) VALUES ($1, $2, $3, $4, '{}', '', 0, 0, now())
		ON CONFLICT (time_window_id, service_date) DO NOTHING
	`, uuid.New().String(), windowID, date, plannedDeparture)
	if err != nil {
		return nil, fmt.Errorf("plans: create %s/%s: %w", windowID, date, err)
	}
	return r.GetPlan(ctx, windowID, date)
}

// GetPlan fetches the plan for (window, date).
func (r *PlanRepository) GetPlan(ctx context.Context, windowID, date string) (*model.RoutePlan, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+planColumns+` FROM route_plans WHERE time_window_id = $1 AND service_date = $2
	`, windowID, date)
	p, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("no plan for window %s on %s", windowID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("plans: get %s/%s: %w", windowID, date, err)
	}
	return p, nil
}

// ApplyInsertion inserts the assignment and rewrites the plan atomically.
// The stored stop order must still equal the snapshot the routing engine
// computed against; otherwise the caller gets ErrPlanChangedRetry and is
// expected to recompute.
func (r *PlanRepository) ApplyInsertion(ctx context.Context, change service.PlanChange, a *model.WindowAssignment) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("plans: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.verifySnapshotTx(ctx, tx, change); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO window_assignments (
			id, user_id, time_window_id, service_date,
			pickup_lat, pickup_lng, status,
			estimated_pickup, estimated_arrival, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.RiderID, a.TimeWindowID, a.ServiceDate,
		a.Pickup.Lat, a.Pickup.Lng, a.Status,
		a.EstimatedPickup, a.EstimatedArrival, a.CreatedAt)
	if isUniqueViolation(err) {
		return service.ErrRiderConflict.Msgf("rider %s already has an assignment in window %s on %s",
			a.RiderID, a.TimeWindowID, a.ServiceDate)
	}
	if err != nil {
		return fmt.Errorf("plans: insert assignment %s: %w", a.ID, err)
	}

	if err := r.writePlanTx(ctx, tx, change); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("plans: commit insertion %s: %w", a.ID, err)
	}
	return nil
}

// ApplyRemoval marks the assignment cancelled and rewrites the plan
// atomically, under the same snapshot check as insertions.
func (r *PlanRepository) ApplyRemoval(ctx context.Context, change service.PlanChange, assignmentID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("plans: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.verifySnapshotTx(ctx, tx, change); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE window_assignments SET status = 'cancelled' WHERE id = $1 AND status = 'confirmed'
	`, assignmentID)
	if err != nil {
		return fmt.Errorf("plans: cancel assignment %s: %w", assignmentID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrWrongStatus.Msgf("assignment %s is not confirmed", assignmentID)
	}

	if err := r.writePlanTx(ctx, tx, change); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("plans: commit removal %s: %w", assignmentID, err)
	}
	return nil
}

// verifySnapshotTx locks the plan row and compares its stop order against
// the snapshot the change was computed from.
func (r *PlanRepository) verifySnapshotTx(ctx context.Context, tx pgx.Tx, change service.PlanChange) error {
	var stored []string
	err := tx.QueryRow(ctx, `
		SELECT ordered_assignment_ids FROM route_plans
		WHERE time_window_id = $1 AND service_date = $2
		FOR UPDATE
	`, change.TimeWindowID, change.ServiceDate).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound.Msgf("no plan for window %s on %s", change.TimeWindowID, change.ServiceDate)
	}
	if err != nil {
		return fmt.Errorf("plans: lock %s/%s: %w", change.TimeWindowID, change.ServiceDate, err)
	}

	if !equalOrder(stored, change.Snapshot) {
		return service.ErrPlanChangedRetry.Msgf("plan for window %s on %s changed underneath the computation",
			change.TimeWindowID, change.ServiceDate)
	}
	return nil
}

func (r *PlanRepository) writePlanTx(ctx context.Context, tx pgx.Tx, change service.PlanChange) error {
	_, err := tx.Exec(ctx, `
		UPDATE route_plans SET
			ordered_assignment_ids = $3,
			anchor_assignment_id   = $4,
			polyline               = $5,
			base_duration_seconds  = $6,
			total_distance_meters  = $7,
			updated_at             = now()
		WHERE time_window_id = $1 AND service_date = $2
	`, change.TimeWindowID, change.ServiceDate,
		change.NewOrder, change.AnchorID, change.Polyline,
		change.BaseDurationSeconds, change.TotalDistanceMeters)
	if err != nil {
		return fmt.Errorf("plans: rewrite %s/%s: %w", change.TimeWindowID, change.ServiceDate, err)
	}
	return nil
}

// GetAssignment fetches one assignment by ID.
func (r *PlanRepository) GetAssignment(ctx context.Context, assignmentID string) (*model.WindowAssignment, error) {
	a := &model.WindowAssignment{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, time_window_id, service_date,
			pickup_lat, pickup_lng, status,
			estimated_pickup, estimated_arrival, created_at
		FROM window_assignments WHERE id = $1
	`, assignmentID).Scan(
		&a.ID, &a.RiderID, &a.TimeWindowID, &a.ServiceDate,
		&a.Pickup.Lat, &a.Pickup.Lng, &a.Status,
		&a.EstimatedPickup, &a.EstimatedArrival, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("assignment %s not found", assignmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("plans: get assignment %s: %w", assignmentID, err)
	}
	return a, nil
}

// ListAssignments returns the window's assignments on a date. An empty
// status matches all statuses.
func (r *PlanRepository) ListAssignments(ctx context.Context, windowID, date string, status model.AssignmentStatus) ([]model.WindowAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, time_window_id, service_date,
			pickup_lat, pickup_lng, status,
			estimated_pickup, estimated_arrival, created_at
		FROM window_assignments
		WHERE time_window_id = $1 AND service_date = $2 AND ($3 = '' OR status = $3)
		ORDER BY created_at
	`, windowID, date, string(status))
	if err != nil {
		return nil, fmt.Errorf("plans: list assignments %s/%s: %w", windowID, date, err)
	}
	defer rows.Close()

	var out []model.WindowAssignment
	for rows.Next() {
		a := model.WindowAssignment{}
		if err := rows.Scan(
			&a.ID, &a.RiderID, &a.TimeWindowID, &a.ServiceDate,
			&a.Pickup.Lat, &a.Pickup.Lng, &a.Status,
			&a.EstimatedPickup, &a.EstimatedArrival, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("plans: scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountConfirmed returns the number of confirmed riders in the window.
func (r *PlanRepository) CountConfirmed(ctx context.Context, windowID, date string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM window_assignments
		WHERE time_window_id = $1 AND service_date = $2 AND status = 'confirmed'
	`, windowID, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("plans: count confirmed %s/%s: %w", windowID, date, err)
	}
	return n, nil
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
