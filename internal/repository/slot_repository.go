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

// SlotRepository owns the slot_capacity table. Counter updates are single
// conditional UPDATE statements, so two holds racing for the last seat
// serialize on the row and the loser sees zero affected rows.
type SlotRepository struct {
	pool *pgxpool.Pool
}

// NewSlotRepository creates a slot repository backed by the given PG pool.
func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

const slotColumns = `
	slot_id, date, direction, slot_type, arrival_start, arrival_end,
	max_premium, used_premium, max_non_premium, used_non_premium, fragile`

func scanSlot(row pgx.Row) (*model.TimeSlot, error) {
	s := &model.TimeSlot{}
	err := row.Scan(
		&s.ID, &s.Date, &s.Direction, &s.Type, &s.ArrivalStart, &s.ArrivalEnd,
		&s.MaxPremium, &s.UsedPremium, &s.MaxNonPremium, &s.UsedNonPremium, &s.Fragile,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// InsertSlots adds the given slots, skipping any slot_id that already
// exists. Re-running the daily generation never resets counters.
func (r *SlotRepository) InsertSlots(ctx context.Context, slots []model.TimeSlot) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("slots: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range slots {
		s := &slots[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO slot_capacity (
				slot_id, date, direction, slot_type, arrival_start, arrival_end,
				max_premium, used_premium, max_non_premium, used_non_premium, fragile
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, 0, $9)
			ON CONFLICT (slot_id) DO NOTHING
		`, s.ID, s.Date, s.Direction, s.Type, s.ArrivalStart, s.ArrivalEnd,
			s.MaxPremium, s.MaxNonPremium, s.Fragile)
		if err != nil {
			return fmt.Errorf("slots: insert %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("slots: commit insert: %w", err)
	}
	return nil
}

// GetSlot fetches one slot by ID.
func (r *SlotRepository) GetSlot(ctx context.Context, slotID string) (*model.TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+slotColumns+` FROM slot_capacity WHERE slot_id = $1`, slotID)
	s, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	if err != nil {
		return nil, fmt.Errorf("slots: get %s: %w", slotID, err)
	}
	return s, nil
}

// ListSlots returns the date's slots ordered by arrival window. An empty
// direction matches all directions.
func (r *SlotRepository) ListSlots(ctx context.Context, date string, direction model.Direction) ([]model.TimeSlot, error) {
	query := `SELECT` + slotColumns + `
		FROM slot_capacity
		WHERE date = $1 AND ($2 = '' OR direction = $2)
		ORDER BY arrival_start, direction`

	rows, err := r.pool.Query(ctx, query, date, string(direction))
	if err != nil {
		return nil, fmt.Errorf("slots: list %s: %w", date, err)
	}
	defer rows.Close()

	var out []model.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("slots: scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Reserve takes one seat in the slot's tier. The WHERE clause carries the
// whole availability predicate, so the increment and the check are one
// atomic statement; zero affected rows means the seat was gone.
func (r *SlotRepository) Reserve(ctx context.Context, slotID string, premium bool) (bool, error) {
	query := `
		UPDATE slot_capacity
		SET used_premium = used_premium + 1
		WHERE slot_id = $1 AND used_premium < max_premium`
	if !premium {
		query = `
		UPDATE slot_capacity
		SET used_non_premium = used_non_premium + 1
		WHERE slot_id = $1
		  AND used_non_premium < max_non_premium
		  AND slot_type = 'off_peak'
		  AND NOT fragile`
	}

	tag, err := r.pool.Exec(ctx, query, slotID)
	if err != nil {
		return false, fmt.Errorf("slots: reserve %s: %w", slotID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Zero rows is either "full" or "no such slot"; only the latter is an error.
	if _, err := r.GetSlot(ctx, slotID); err != nil {
		return false, err
	}
	return false, nil
}

// Release gives one seat back. GREATEST keeps the counter at zero when a
// release races a sweep that already freed the seat.
func (r *SlotRepository) Release(ctx context.Context, slotID string, premium bool) error {
	column := "used_non_premium"
	if premium {
		column = "used_premium"
	}
	query := fmt.Sprintf(`
		UPDATE slot_capacity
		SET %s = GREATEST(0, %s - 1)
		WHERE slot_id = $1
	`, column, column)

	tag, err := r.pool.Exec(ctx, query, slotID)
	if err != nil {
		return fmt.Errorf("slots: release %s: %w", slotID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	return nil
}

// SetFragile toggles the Premium-only flag.
func (r *SlotRepository) SetFragile(ctx context.Context, slotID string, fragile bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slot_capacity SET fragile = $2 WHERE slot_id = $1
	`, slotID, fragile)
	if err != nil {
		return fmt.Errorf("slots: set fragile %s: %w", slotID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	return nil
}

// SetMaxNonPremium applies the admin cap, floored at the current used
// count so the `used <= max` invariant survives admin shrinks.
func (r *SlotRepository) SetMaxNonPremium(ctx context.Context, slotID string, max int) (int, error) {
	var applied int
	err := r.pool.QueryRow(ctx, `
		UPDATE slot_capacity
		SET max_non_premium = GREATEST($2, used_non_premium)
		WHERE slot_id = $1
		RETURNING max_non_premium
	`, slotID, max).Scan(&applied)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, service.ErrNotFound.Msgf("slot %s not found", slotID)
	}
	if err != nil {
		return 0, fmt.Errorf("slots: set max non-premium %s: %w", slotID, err)
	}
	return applied, nil
}
