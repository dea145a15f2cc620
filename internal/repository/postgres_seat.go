package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/teatrolive/reservation-engine/internal/domain"
)

type PostgresSeatRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSeatRepository(db *pgxpool.Pool) *PostgresSeatRepository {
	return &PostgresSeatRepository{
		db: db,
	}
}

// CheckAvailability is the advisory variant used by the intake gateway. It
// runs against the pool without locks, so its answer can be stale by the time
// the create command executes.
func (p *PostgresSeatRepository) CheckAvailability(
	ctx context.Context,
	functionID int,
	seatIDs []int) (*domain.AvailabilityResult, error) {

	return checkAvailability(ctx, p.db, functionID, seatIDs)
}

// checkAvailability reports which of the requested seats cannot be sold for
// the function: stored status is not available, or an active reservation item
// already references the (function, seat) pair. Seat ids that do not exist
// are reported as unavailable rather than as an error.
func checkAvailability(
	ctx context.Context,
	q Querier,
	functionID int,
	seatIDs []int) (*domain.AvailabilityResult, error) {

	if functionID < 1 || len(seatIDs) == 0 {
		return nil, fmt.Errorf("%w: availability check needs a function and at least one seat", domain.ErrInvalidCommand)
	}

	query := `
		SELECT
			s.id,
			s.status,
			EXISTS (
				SELECT 1 FROM reservation_items ri
				WHERE ri.seat_id = s.id
				AND ri.function_id = $1
				AND ri.status IN ('pending', 'confirmed')
			) AS held
		FROM seats s
		WHERE s.id = ANY($2)
	`

	rows, err := q.Query(ctx, query, functionID, seatIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type seatState struct {
		status domain.SeatStatus
		held   bool
	}

	seen := make(map[int]seatState, len(seatIDs))

	for rows.Next() {
		var id int
		var state seatState

		err = rows.Scan(&id, &state.status, &state.held)
		if err != nil {
			return nil, err
		}

		seen[id] = state
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	unavailable := make([]int, 0)
	for _, seatID := range seatIDs {
		state, ok := seen[seatID]
		if !ok || state.status != domain.SeatAvailable || state.held {
			unavailable = append(unavailable, seatID)
		}
	}

	return &domain.AvailabilityResult{
		Available:        len(unavailable) == 0,
		UnavailableSeats: unavailable,
	}, nil
}

// lockSeats takes row-level locks on the target seats for the lifetime of the
// transaction. This, not the availability check, is what prevents two
// concurrent create transactions from both observing a seat as free.
func lockSeats(ctx context.Context, tx pgx.Tx, seatIDs []int) error {
	rows, err := tx.Query(ctx, `SELECT id FROM seats WHERE id = ANY($1) ORDER BY id FOR UPDATE`, seatIDs)
	if err != nil {
		return err
	}
	rows.Close()

	return rows.Err()
}

// seatPrices resolves the current price of each seat for the function from
// its section. Seats whose section is not scheduled against the function have
// no price and are returned separately so the caller can reject them.
func seatPrices(
	ctx context.Context,
	tx pgx.Tx,
	functionID int,
	seatIDs []int) (prices map[int]decimal.Decimal, unpriced []int, err error) {

	query := `
		SELECT s.id, fs.price
		FROM seats s
		JOIN function_sections fs
			ON fs.section_id = s.section_id AND fs.function_id = $1
		WHERE s.id = ANY($2)
	`

	rows, err := tx.Query(ctx, query, functionID, seatIDs)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	prices = make(map[int]decimal.Decimal, len(seatIDs))

	for rows.Next() {
		var seatID int
		var price decimal.Decimal

		err = rows.Scan(&seatID, &price)
		if err != nil {
			return nil, nil, err
		}

		prices[seatID] = price
	}

	if err = rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, seatID := range seatIDs {
		if _, ok := prices[seatID]; !ok {
			unpriced = append(unpriced, seatID)
		}
	}

	return prices, unpriced, nil
}
