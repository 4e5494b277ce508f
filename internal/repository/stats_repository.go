package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yswin-stack/campusride/internal/model"
)

// StatsRepository owns rider_stats aggregates.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a stats repository backed by the given PG pool.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// GetRiderStats returns the rider's aggregates, or (nil, nil) for riders
// with no recorded history.
func (r *StatsRepository) GetRiderStats(ctx context.Context, riderID string) (*model.RiderStats, error) {
	s := &model.RiderStats{}
	err := r.pool.QueryRow(ctx, `
		SELECT rider_id, total_bookings, completed_rides, no_shows, delay_sum_min, delay_sum_sq_min
		FROM rider_stats WHERE rider_id = $1
	`, riderID).Scan(&s.RiderID, &s.TotalBookings, &s.CompletedRides, &s.NoShows, &s.DelaySumMin, &s.DelaySumSqMin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stats: get %s: %w", riderID, err)
	}
	return s, nil
}

// RecordRideOutcome folds one ride outcome into the rider's aggregates.
func (r *StatsRepository) RecordRideOutcome(ctx context.Context, riderID string, delayMinutes float64, noShow bool) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("stats: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertRiderOutcomeTx(ctx, tx, riderID, delayMinutes, noShow); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("stats: commit outcome for %s: %w", riderID, err)
	}
	return nil
}
