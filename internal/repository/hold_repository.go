// Package repository provides PostgreSQL-backed persistence for slots,
// holds, rides, route plans, and simulation jobs. Every multi-step write
// runs in a transaction that locks the contended row first (slot or plan),
// so capacity counters and plan orderings stay consistent under concurrent
// requests without any in-process locking.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// HoldRepository owns slot_holds and the capacity-coupled transitions on
// it. A hold and its seat move together: creating a hold increments the
// slot counter in the same transaction, and every terminal transition
// except confirmation decrements it.
type HoldRepository struct {
	pool *pgxpool.Pool
}

// NewHoldRepository creates a hold repository backed by the given PG pool.
func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{pool: pool}
}

const holdColumns = `
	hold_id, slot_id, rider_id, plan_type,
	origin_lat, origin_lng, destination_lat, destination_lng,
	created_at, expires_at, status, confirmed_ride_id`

func scanHold(row pgx.Row) (*model.SlotHold, error) {
	h := &model.SlotHold{}
	err := row.Scan(
		&h.ID, &h.SlotID, &h.RiderID, &h.PlanType,
		&h.Origin.Lat, &h.Origin.Lng, &h.Destination.Lat, &h.Destination.Lng,
		&h.CreatedAt, &h.ExpiresAt, &h.Status, &h.ConfirmedRideID,
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// CreateHold reserves a seat and records the hold atomically. The slot row
// is locked before the availability re-check so the decision made by the
// feasibility layer cannot be invalidated between check and increment.
func (r *HoldRepository) CreateHold(ctx context.Context, hold *model.SlotHold) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("holds: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		slotType       model.SlotType
		fragile        bool
		maxPremium     int
		usedPremium    int
		maxNonPremium  int
		usedNonPremium int
	)
	err = tx.QueryRow(ctx, `
		SELECT slot_type, fragile, max_premium, used_premium, max_non_premium, used_non_premium
		FROM slot_capacity
		WHERE slot_id = $1
		FOR UPDATE
	`, hold.SlotID).Scan(&slotType, &fragile, &maxPremium, &usedPremium, &maxNonPremium, &usedNonPremium)
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound.Msgf("slot %s not found", hold.SlotID)
	}
	if err != nil {
		return fmt.Errorf("holds: lock slot %s: %w", hold.SlotID, err)
	}

	if hold.PlanType.IsPremium() {
		if usedPremium >= maxPremium {
			return service.ErrNoCapacity.Msgf("slot %s has no premium seats left", hold.SlotID)
		}
		_, err = tx.Exec(ctx, `UPDATE slot_capacity SET used_premium = used_premium + 1 WHERE slot_id = $1`, hold.SlotID)
	} else {
		if slotType != model.SlotOffPeak || fragile || usedNonPremium >= maxNonPremium {
			return service.ErrNoCapacity.Msgf("slot %s has no non-premium seats left", hold.SlotID)
		}
		_, err = tx.Exec(ctx, `UPDATE slot_capacity SET used_non_premium = used_non_premium + 1 WHERE slot_id = $1`, hold.SlotID)
	}
	if err != nil {
		return fmt.Errorf("holds: reserve seat in %s: %w", hold.SlotID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO slot_holds (
			hold_id, slot_id, rider_id, plan_type,
			origin_lat, origin_lng, destination_lat, destination_lng,
			created_at, expires_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'active')
	`, hold.ID, hold.SlotID, hold.RiderID, hold.PlanType,
		hold.Origin.Lat, hold.Origin.Lng, hold.Destination.Lat, hold.Destination.Lng,
		hold.CreatedAt, hold.ExpiresAt)
	if isUniqueViolation(err) {
		// Partial unique index on (rider_id) WHERE status = 'active'.
		return service.ErrDupActiveHold.Msgf("rider %s already has an active hold", hold.RiderID)
	}
	if err != nil {
		return fmt.Errorf("holds: insert %s: %w", hold.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("holds: commit create %s: %w", hold.ID, err)
	}
	hold.Status = model.HoldActive
	return nil
}

// GetHold fetches one hold by ID.
func (r *HoldRepository) GetHold(ctx context.Context, holdID string) (*model.SlotHold, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+holdColumns+` FROM slot_holds WHERE hold_id = $1`, holdID)
	h, err := scanHold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("hold %s not found", holdID)
	}
	if err != nil {
		return nil, fmt.Errorf("holds: get %s: %w", holdID, err)
	}
	return h, nil
}

// GetActiveHoldForRider returns the rider's active hold, or nil when the
// rider has none. The partial unique index guarantees at most one row.
func (r *HoldRepository) GetActiveHoldForRider(ctx context.Context, riderID string) (*model.SlotHold, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+holdColumns+` FROM slot_holds WHERE rider_id = $1 AND status = 'active'
	`, riderID)
	h, err := scanHold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("holds: active hold for rider %s: %w", riderID, err)
	}
	return h, nil
}

// ConfirmHold flips an active, unexpired hold to confirmed and inserts the
// scheduled ride in the same transaction. The seat stays taken; it only
// changes owner from the hold to the ride.
func (r *HoldRepository) ConfirmHold(ctx context.Context, holdID string, ride *model.ScheduledRide, now time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("holds: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status model.HoldStatus
	var expiresAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT status, expires_at FROM slot_holds WHERE hold_id = $1 FOR UPDATE
	`, holdID).Scan(&status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound.Msgf("hold %s not found", holdID)
	}
	if err != nil {
		return fmt.Errorf("holds: lock %s: %w", holdID, err)
	}

	if status != model.HoldActive {
		return service.ErrWrongStatus.Msgf("hold %s is %s, not active", holdID, status)
	}
	if !expiresAt.After(now) {
		return service.ErrExpired.Msgf("hold %s expired at %s", holdID, expiresAt.Format(time.RFC3339))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO scheduled_rides (
			id, user_id, service_date, slot_id, plan_type, direction,
			pickup_lat, pickup_lng, drop_lat, drop_lng,
			arrival_window_start, arrival_window_end,
			pickup_time, pickup_window_start, pickup_window_end,
			predicted_arrival, status, hold_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, 'scheduled', $17, $18, $18)
	`, ride.ID, ride.RiderID, ride.Date, ride.SlotID, ride.PlanType, ride.Direction,
		ride.Origin.Lat, ride.Origin.Lng, ride.Destination.Lat, ride.Destination.Lng,
		ride.ArrivalStart, ride.ArrivalEnd,
		ride.PickupTime, ride.PickupWindowStart, ride.PickupWindowEnd,
		ride.PredictedArrival, holdID, now)
	if err != nil {
		return fmt.Errorf("holds: insert ride for %s: %w", holdID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE slot_holds SET status = 'confirmed', confirmed_ride_id = $2 WHERE hold_id = $1
	`, holdID, ride.ID)
	if err != nil {
		return fmt.Errorf("holds: confirm %s: %w", holdID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("holds: commit confirm %s: %w", holdID, err)
	}
	return nil
}

// CancelHold moves an active hold to cancelled and frees its seat. It
// reports whether a seat was actually released: cancelling an already
// expired or cancelled hold is a no-op, cancelling a confirmed one is an
// error because the seat now belongs to a ride.
func (r *HoldRepository) CancelHold(ctx context.Context, holdID string, now time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("holds: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	released, err := r.closeHoldTx(ctx, tx, holdID, model.HoldCancelled)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("holds: commit cancel %s: %w", holdID, err)
	}
	return released, nil
}

// closeHoldTx transitions a hold to the given terminal status inside tx,
// releasing the seat when the hold was still active.
func (r *HoldRepository) closeHoldTx(ctx context.Context, tx pgx.Tx, holdID string, to model.HoldStatus) (bool, error) {
	var status model.HoldStatus
	var slotID string
	var planType model.PlanType
	err := tx.QueryRow(ctx, `
		SELECT status, slot_id, plan_type FROM slot_holds WHERE hold_id = $1 FOR UPDATE
	`, holdID).Scan(&status, &slotID, &planType)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, service.ErrNotFound.Msgf("hold %s not found", holdID)
	}
	if err != nil {
		return false, fmt.Errorf("holds: lock %s: %w", holdID, err)
	}

	switch status {
	case model.HoldConfirmed:
		return false, service.ErrWrongStatus.Msgf("hold %s is confirmed; cancel the ride instead", holdID)
	case model.HoldCancelled, model.HoldExpired:
		return false, nil
	}

	_, err = tx.Exec(ctx, `UPDATE slot_holds SET status = $2 WHERE hold_id = $1`, holdID, to)
	if err != nil {
		return false, fmt.Errorf("holds: close %s: %w", holdID, err)
	}
	if err := releaseSeatTx(ctx, tx, slotID, planType.IsPremium()); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireDue expires every active hold whose deadline has passed, freeing
// the seats. Each hold is its own transaction so one bad row cannot wedge
// the sweep; failures are folded together and reported at the end.
func (r *HoldRepository) ExpireDue(ctx context.Context, now time.Time) ([]model.SlotHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+holdColumns+` FROM slot_holds WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("holds: list due: %w", err)
	}

	var due []model.SlotHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("holds: scan due: %w", err)
		}
		due = append(due, *h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("holds: list due: %w", err)
	}

	var expired []model.SlotHold
	var errs error
	for i := range due {
		h := due[i]
		if err := r.expireOne(ctx, h.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", h.ID, err))
			continue
		}
		h.Status = model.HoldExpired
		expired = append(expired, h)
	}
	return expired, errs
}

func (r *HoldRepository) expireOne(ctx context.Context, holdID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("holds: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// A confirm or cancel may have won the race since the scan; closeHoldTx
	// re-checks under the row lock and no-ops on anything non-active.
	if _, err := r.closeHoldTx(ctx, tx, holdID, model.HoldExpired); err != nil {
		if service.CodeOf(err) == service.CodeWrongStatus {
			return nil
		}
		return err
	}
	return tx.Commit(ctx)
}

// ListActiveHolds returns the active holds whose slot falls on the date.
func (r *HoldRepository) ListActiveHolds(ctx context.Context, date string) ([]model.SlotHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.hold_id, h.slot_id, h.rider_id, h.plan_type,
			h.origin_lat, h.origin_lng, h.destination_lat, h.destination_lng,
			h.created_at, h.expires_at, h.status, h.confirmed_ride_id
		FROM slot_holds h
		JOIN slot_capacity s ON s.slot_id = h.slot_id
		WHERE s.date = $1 AND h.status = 'active'
		ORDER BY s.arrival_start
	`, date)
	if err != nil {
		return nil, fmt.Errorf("holds: list active %s: %w", date, err)
	}
	defer rows.Close()

	var out []model.SlotHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("holds: scan: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// releaseSeatTx decrements a slot counter inside an existing transaction.
func releaseSeatTx(ctx context.Context, tx pgx.Tx, slotID string, premium bool) error {
	column := "used_non_premium"
	if premium {
		column = "used_premium"
	}
	query := fmt.Sprintf(`UPDATE slot_capacity SET %s = GREATEST(0, %s - 1) WHERE slot_id = $1`, column, column)
	if _, err := tx.Exec(ctx, query, slotID); err != nil {
		return fmt.Errorf("slots: release %s: %w", slotID, err)
	}
	return nil
}
