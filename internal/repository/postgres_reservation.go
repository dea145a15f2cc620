package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/teatrolive/reservation-engine/internal/domain"
)

type PostgresReservationRepository struct {
	db *pgxpool.Pool
}

func NewPostgresReservationRepository(db *pgxpool.Pool) *PostgresReservationRepository {
	return &PostgresReservationRepository{
		db: db,
	}
}

func (p *PostgresReservationRepository) CreatePending(
	ctx context.Context,
	req domain.NewReservationRequest) (*domain.Reservation, error) {

	if req.FunctionID < 1 || len(req.SeatIDs) == 0 || req.TemporaryID == "" {
		return nil, domain.ErrInvalidCommand
	}

	var reservationID int

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		if err := lockSeats(ctx, tx, req.SeatIDs); err != nil {
			return err
		}

		availability, err := checkAvailability(ctx, tx, req.FunctionID, req.SeatIDs)
		if err != nil {
			return err
		}
		if !availability.Available {
			return &domain.SeatsUnavailableError{SeatIDs: availability.UnavailableSeats}
		}

		prices, unpriced, err := seatPrices(ctx, tx, req.FunctionID, req.SeatIDs)
		if err != nil {
			return err
		}
		if len(unpriced) > 0 {
			return &domain.SeatsUnavailableError{SeatIDs: unpriced}
		}

		total := decimal.Zero
		for _, seatID := range req.SeatIDs {
			total = total.Add(prices[seatID])
		}

		query := `
			INSERT INTO reservations
				(temporary_id, user_id, customer_name, customer_dni, contact_email, total_amount, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			RETURNING id
		`

		err = tx.QueryRow(
			ctx,
			query,
			req.TemporaryID,
			req.UserID,
			req.CustomerName,
			req.CustomerDNI,
			req.ContactEmail,
			total).Scan(&reservationID)

		if err != nil {
			return err
		}

		itemRows := make([][]any, 0, len(req.SeatIDs))
		for _, seatID := range req.SeatIDs {
			itemRows = append(itemRows, []any{
				reservationID,
				req.FunctionID,
				seatID,
				prices[seatID],
				string(domain.ReservationPending),
			})
		}

		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"reservation_items"},
			[]string{"reservation_id", "function_id", "seat_id", "price", "status"},
			pgx.CopyFromRows(itemRows),
		)
		if err != nil {
			// The partial unique index on active (function_id, seat_id) pairs
			// is the hard backstop; losing the race here means another
			// transaction took a seat between our lock and insert.
			if isUniqueViolation(err) {
				return &domain.SeatsUnavailableError{SeatIDs: req.SeatIDs}
			}
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE seats SET status = 'reserved' WHERE id = ANY($1)`, req.SeatIDs)
		if err != nil {
			return err
		}

		return adjustSectionCounters(ctx, tx, req.FunctionID, req.SeatIDs, -1)
	})

	if err != nil {
		return nil, err
	}

	return p.GetByID(ctx, reservationID)
}

func (p *PostgresReservationRepository) Confirm(
	ctx context.Context,
	reservationID int,
	holdLimit time.Duration) (*domain.Reservation, error) {

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		status, age, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}

		if status != domain.ReservationPending {
			return &domain.InvalidTransitionError{ReservationID: reservationID, Current: status}
		}

		if age >= holdLimit {
			return domain.ErrHoldExpired
		}

		return updateStatus(ctx, tx, reservationID, domain.ReservationConfirmed, "confirmed by customer")
	})

	if err != nil {
		return nil, err
	}

	return p.GetByID(ctx, reservationID)
}

func (p *PostgresReservationRepository) Cancel(
	ctx context.Context,
	reservationID int,
	reason string) (*domain.Reservation, error) {

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		status, _, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}

		if status != domain.ReservationPending && status != domain.ReservationConfirmed {
			return &domain.InvalidTransitionError{ReservationID: reservationID, Current: status}
		}

		if err := updateStatus(ctx, tx, reservationID, domain.ReservationCanceled, reason); err != nil {
			return err
		}

		return releaseSeats(ctx, tx, reservationID)
	})

	if err != nil {
		return nil, err
	}

	return p.GetByID(ctx, reservationID)
}

func (p *PostgresReservationRepository) Expire(
	ctx context.Context,
	reservationID int,
	reason string) (*domain.Reservation, error) {

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		status, _, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}

		// The reservation may have been confirmed or canceled between the
		// expiry trigger and now; the caller drops the expire as a no-op.
		if status != domain.ReservationPending {
			return &domain.InvalidTransitionError{ReservationID: reservationID, Current: status}
		}

		if err := updateStatus(ctx, tx, reservationID, domain.ReservationFailed, reason); err != nil {
			return err
		}

		return releaseSeats(ctx, tx, reservationID)
	})

	if err != nil {
		return nil, err
	}

	return p.GetByID(ctx, reservationID)
}

// lockReservation reads the reservation's status and age under a row lock so
// the precondition cannot change before the transition commits.
func lockReservation(
	ctx context.Context,
	tx pgx.Tx,
	reservationID int) (domain.ReservationStatus, time.Duration, error) {

	query := `
		SELECT status, EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - created_at))::bigint
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`

	var status domain.ReservationStatus
	var ageSeconds int64

	err := tx.QueryRow(ctx, query, reservationID).Scan(&status, &ageSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, domain.ErrRecordNotFound
		}
		return "", 0, err
	}

	return status, time.Duration(ageSeconds) * time.Second, nil
}

// updateStatus moves the reservation and all of its items to newStatus in
// lock-step.
func updateStatus(
	ctx context.Context,
	tx pgx.Tx,
	reservationID int,
	newStatus domain.ReservationStatus,
	reason string) error {

	query := `
		UPDATE reservations
		SET status = $1, update_reason = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	_, err := tx.Exec(ctx, query, newStatus, reason, reservationID)
	if err != nil {
		return err
	}

	query = `
		UPDATE reservation_items
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE reservation_id = $2
	`

	_, err = tx.Exec(ctx, query, newStatus, reservationID)

	return err
}

// releaseSeats puts every seat referenced by the reservation's items back to
// available and restores the per-function-section availability counters.
func releaseSeats(ctx context.Context, tx pgx.Tx, reservationID int) error {
	query := `
		SELECT ri.function_id, ri.seat_id
		FROM reservation_items ri
		WHERE ri.reservation_id = $1
	`

	rows, err := tx.Query(ctx, query, reservationID)
	if err != nil {
		return err
	}
	defer rows.Close()

	seatsByFunction := make(map[int][]int)

	for rows.Next() {
		var functionID, seatID int

		err = rows.Scan(&functionID, &seatID)
		if err != nil {
			return err
		}

		seatsByFunction[functionID] = append(seatsByFunction[functionID], seatID)
	}

	if err = rows.Err(); err != nil {
		return err
	}

	for functionID, seatIDs := range seatsByFunction {
		_, err = tx.Exec(ctx, `UPDATE seats SET status = 'available' WHERE id = ANY($1)`, seatIDs)
		if err != nil {
			return err
		}

		if err = adjustSectionCounters(ctx, tx, functionID, seatIDs, 1); err != nil {
			return err
		}
	}

	return nil
}

// adjustSectionCounters applies delta per seat to the available_seats counter
// of each affected (function, section) pair in a single statement.
func adjustSectionCounters(ctx context.Context, tx pgx.Tx, functionID int, seatIDs []int, delta int) error {
	query := `
		UPDATE function_sections fs
		SET available_seats = fs.available_seats + sub.cnt * $3
		FROM (
			SELECT s.section_id, COUNT(*) AS cnt
			FROM seats s
			WHERE s.id = ANY($1)
			GROUP BY s.section_id
		) sub
		WHERE fs.section_id = sub.section_id AND fs.function_id = $2
	`

	_, err := tx.Exec(ctx, query, seatIDs, functionID, delta)

	return err
}

func (p *PostgresReservationRepository) GetByID(ctx context.Context, reservationID int) (*domain.Reservation, error) {
	query := `
		SELECT
			id, temporary_id, user_id, customer_name, customer_dni, contact_email,
			total_amount, status, update_reason, created_at, updated_at
		FROM reservations
		WHERE id = $1
	`

	reservation, err := scanReservation(p.db.QueryRow(ctx, query, reservationID))
	if err != nil {
		return nil, err
	}

	items, err := p.retrieveItems(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	reservation.Items = items

	return reservation, nil
}

func (p *PostgresReservationRepository) FindByTemporaryID(
	ctx context.Context,
	temporaryID string) (*domain.Reservation, error) {

	query := `
		SELECT
			id, temporary_id, user_id, customer_name, customer_dni, contact_email,
			total_amount, status, update_reason, created_at, updated_at
		FROM reservations
		WHERE temporary_id = $1
	`

	return scanReservation(p.db.QueryRow(ctx, query, temporaryID))
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var reservation domain.Reservation

	err := row.Scan(
		&reservation.ID,
		&reservation.TemporaryID,
		&reservation.UserID,
		&reservation.CustomerName,
		&reservation.CustomerDNI,
		&reservation.ContactEmail,
		&reservation.TotalAmount,
		&reservation.Status,
		&reservation.UpdateReason,
		&reservation.CreatedAt,
		&reservation.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}

	return &reservation, nil
}

func (p *PostgresReservationRepository) retrieveItems(
	ctx context.Context,
	reservationID int) ([]domain.ReservationItem, error) {

	query := `
		SELECT
			ri.id, ri.reservation_id, ri.function_id, ri.seat_id, ri.price, ri.status,
			ri.created_at, ri.updated_at,
			s.seat_row, s.seat_number, sec.name
		FROM reservation_items ri
		JOIN seats s ON ri.seat_id = s.id
		JOIN sections sec ON s.section_id = sec.id
		WHERE ri.reservation_id = $1
		ORDER BY sec.id, s.seat_row, s.seat_number
	`

	rows, err := p.db.Query(ctx, query, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReservationItem, 0)

	for rows.Next() {
		var item domain.ReservationItem

		err = rows.Scan(
			&item.ID,
			&item.ReservationID,
			&item.FunctionID,
			&item.SeatID,
			&item.Price,
			&item.Status,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.SeatRow,
			&item.SeatNumber,
			&item.SectionName,
		)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (p *PostgresReservationRepository) FindExpired(
	ctx context.Context,
	holdLimit time.Duration) ([]int, error) {

	query := `
		SELECT id
		FROM reservations
		WHERE status = 'pending'
		AND EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - created_at)) > $1
		ORDER BY created_at
	`

	rows, err := p.db.Query(ctx, query, int64(holdLimit.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)

	for rows.Next() {
		var id int

		err = rows.Scan(&id)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func (p *PostgresReservationRepository) HoldStatus(
	ctx context.Context,
	reservationID int,
	holdLimit time.Duration) (*domain.HoldTimer, error) {

	query := `
		SELECT EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - created_at))::bigint
		FROM reservations
		WHERE id = $1 AND status = 'pending'
	`

	var elapsed int64

	err := p.db.QueryRow(ctx, query, reservationID).Scan(&elapsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}

	limit := int(holdLimit.Seconds())
	remaining := limit - int(elapsed)

	return &domain.HoldTimer{
		ReservationID:  reservationID,
		SecondsElapsed: int(elapsed),
		TimeLimit:      limit,
		TimeRemaining:  remaining,
		Expired:        remaining <= 0,
	}, nil
}

func (p *PostgresReservationRepository) RecordFailedAttempt(
	ctx context.Context,
	attempt domain.FailedAttempt) error {

	details, err := json.Marshal(map[string]any{
		"unavailableSeats": attempt.UnavailableSeats,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reservation_attempts (temporary_id, status, reason, details)
		VALUES ($1, 'failed', $2, $3)
	`

	_, err = p.db.Exec(ctx, query, attempt.TemporaryID, attempt.Reason, details)

	return err
}

func (p *PostgresReservationRepository) FindFailedAttempt(
	ctx context.Context,
	temporaryID string) (*domain.FailedAttempt, error) {

	query := `
		SELECT temporary_id, reason, details, created_at
		FROM reservation_attempts
		WHERE temporary_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var attempt domain.FailedAttempt
	var details []byte

	err := p.db.QueryRow(ctx, query, temporaryID).Scan(
		&attempt.TemporaryID,
		&attempt.Reason,
		&details,
		&attempt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}

	var parsed struct {
		UnavailableSeats []int `json:"unavailableSeats"`
	}
	if err := json.Unmarshal(details, &parsed); err == nil {
		attempt.UnavailableSeats = parsed.UnavailableSeats
	}

	return &attempt, nil
}
