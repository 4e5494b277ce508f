package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// RideRepository owns scheduled_rides. Terminal transitions release the
// slot seat and fold the outcome into rider_stats in one transaction.
type RideRepository struct {
	pool *pgxpool.Pool
}

// NewRideRepository creates a ride repository backed by the given PG pool.
func NewRideRepository(pool *pgxpool.Pool) *RideRepository {
	return &RideRepository{pool: pool}
}

const rideColumns = `
	id, user_id, service_date, slot_id, plan_type, direction,
	pickup_lat, pickup_lng, drop_lat, drop_lng,
	arrival_window_start, arrival_window_end,
	pickup_time, pickup_window_start, pickup_window_end,
	predicted_arrival, status, hold_id, created_at, updated_at`

func scanRide(row pgx.Row) (*model.ScheduledRide, error) {
	ride := &model.ScheduledRide{}
	err := row.Scan(
		&ride.ID, &ride.RiderID, &ride.Date, &ride.SlotID, &ride.PlanType, &ride.Direction,
		&ride.Origin.Lat, &ride.Origin.Lng, &ride.Destination.Lat, &ride.Destination.Lng,
		&ride.ArrivalStart, &ride.ArrivalEnd,
		&ride.PickupTime, &ride.PickupWindowStart, &ride.PickupWindowEnd,
		&ride.PredictedArrival, &ride.Status, &ride.HoldID, &ride.CreatedAt, &ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// GetRide fetches one ride by ID.
func (r *RideRepository) GetRide(ctx context.Context, rideID string) (*model.ScheduledRide, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+rideColumns+` FROM scheduled_rides WHERE id = $1`, rideID)
	ride, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("ride %s not found", rideID)
	}
	if err != nil {
		return nil, fmt.Errorf("rides: get %s: %w", rideID, err)
	}
	return ride, nil
}

// ListRides returns all rides on a service date, ordered the way the
// schedule simulator consumes them.
func (r *RideRepository) ListRides(ctx context.Context, date string) ([]model.ScheduledRide, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+rideColumns+` FROM scheduled_rides
		WHERE service_date = $1
		ORDER BY arrival_window_start, user_id
	`, date)
	if err != nil {
		return nil, fmt.Errorf("rides: list %s: %w", date, err)
	}
	defer rows.Close()

	var out []model.ScheduledRide
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("rides: scan: %w", err)
		}
		out = append(out, *ride)
	}
	return out, rows.Err()
}

// CancelRide moves a scheduled ride to cancelled and frees its seat.
func (r *RideRepository) CancelRide(ctx context.Context, rideID string, byAdmin bool, now time.Time) error {
	status := model.RideCancelledByRider
	if byAdmin {
		status = model.RideCancelledByAdmin
	}
	return r.closeRide(ctx, rideID, status, now, nil)
}

// CompleteRide moves a scheduled ride to completed, frees its seat, and
// folds the observed ready delay into the rider's history.
func (r *RideRepository) CompleteRide(ctx context.Context, rideID string, delayMinutes float64, now time.Time) error {
	return r.closeRide(ctx, rideID, model.RideCompleted, now, &rideOutcome{delayMinutes: delayMinutes})
}

// MarkNoShow moves a scheduled ride to no_show, frees its seat, and counts
// the miss against the rider's history.
func (r *RideRepository) MarkNoShow(ctx context.Context, rideID string, now time.Time) error {
	return r.closeRide(ctx, rideID, model.RideNoShow, now, &rideOutcome{noShow: true})
}

type rideOutcome struct {
	delayMinutes float64
	noShow       bool
}

func (r *RideRepository) closeRide(ctx context.Context, rideID string, to model.RideStatus, now time.Time, outcome *rideOutcome) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("rides: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status model.RideStatus
	var slotID, riderID string
	var planType model.PlanType
	err = tx.QueryRow(ctx, `
		SELECT status, slot_id, user_id, plan_type FROM scheduled_rides WHERE id = $1 FOR UPDATE
	`, rideID).Scan(&status, &slotID, &riderID, &planType)
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound.Msgf("ride %s not found", rideID)
	}
	if err != nil {
		return fmt.Errorf("rides: lock %s: %w", rideID, err)
	}

	if !status.Occupying() {
		return service.ErrWrongStatus.Msgf("ride %s is already %s", rideID, status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE scheduled_rides SET status = $2, updated_at = $3 WHERE id = $1
	`, rideID, to, now)
	if err != nil {
		return fmt.Errorf("rides: close %s: %w", rideID, err)
	}

	if err := releaseSeatTx(ctx, tx, slotID, planType.IsPremium()); err != nil {
		return err
	}

	if outcome != nil {
		if err := upsertRiderOutcomeTx(ctx, tx, riderID, outcome.delayMinutes, outcome.noShow); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rides: commit close %s: %w", rideID, err)
	}
	return nil
}

// upsertRiderOutcomeTx folds one completed or missed ride into rider_stats.
// Counters only grow and sums only accumulate, so concurrent outcomes
// commute regardless of commit order.
func upsertRiderOutcomeTx(ctx context.Context, tx pgx.Tx, riderID string, delayMinutes float64, noShow bool) error {
	completed, noShows := 1, 0
	delay := delayMinutes
	if noShow {
		completed, noShows = 0, 1
		delay = 0
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO rider_stats (rider_id, total_bookings, completed_rides, no_shows, delay_sum_min, delay_sum_sq_min)
		VALUES ($1, 1, $2, $3, $4, $5)
		ON CONFLICT (rider_id) DO UPDATE SET
			total_bookings   = rider_stats.total_bookings + 1,
			completed_rides  = rider_stats.completed_rides + $2,
			no_shows         = rider_stats.no_shows + $3,
			delay_sum_min    = rider_stats.delay_sum_min + $4,
			delay_sum_sq_min = rider_stats.delay_sum_sq_min + $5
	`, riderID, completed, noShows, delay, delay*delay)
	if err != nil {
		return fmt.Errorf("stats: record outcome for %s: %w", riderID, err)
	}
	return nil
}
