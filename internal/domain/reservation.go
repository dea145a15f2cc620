package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCanceled  ReservationStatus = "canceled"
	ReservationFailed    ReservationStatus = "failed"
)

// Terminal reports whether no further transition is allowed from the status.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationConfirmed || s == ReservationCanceled || s == ReservationFailed
}

// Active reports whether a reservation in this status still holds its seats.
func (s ReservationStatus) Active() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// Reservation is the ledger record. It is the single source of truth for the
// state of a hold; its items mirror the parent status in lock-step.
type Reservation struct {
	ID           int
	TemporaryID  string
	UserID       *int
	CustomerName string
	CustomerDNI  string
	ContactEmail string
	TotalAmount  decimal.Decimal
	Status       ReservationStatus
	UpdateReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Items        []ReservationItem
}

// ReservationItem binds one seat of one function to a reservation. Price is
// captured at booking time so later price changes never alter a sold ticket.
type ReservationItem struct {
	ID            int
	ReservationID int
	FunctionID    int
	SeatID        int
	Price         decimal.Decimal
	Status        ReservationStatus
	SeatRow       string
	SeatNumber    int
	SectionName   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewReservationRequest carries the validated input of a create command.
type NewReservationRequest struct {
	TemporaryID  string
	UserID       *int
	CustomerName string
	CustomerDNI  string
	ContactEmail string
	FunctionID   int
	SeatIDs      []int
}

// FailedAttempt records a create command that was rejected before a ledger row
// existed, so the status-lookup path can report the outcome to the caller.
type FailedAttempt struct {
	TemporaryID      string
	Reason           string
	UnavailableSeats []int
	CreatedAt        time.Time
}

// HoldTimer describes how much of the hold limit a pending reservation has
// used up.
type HoldTimer struct {
	ReservationID  int
	SecondsElapsed int
	TimeLimit      int
	TimeRemaining  int
	Expired        bool
}

type ReservationRepository interface {
	// CreatePending executes the whole create transaction: seat row locks,
	// authoritative availability check, price capture, ledger inserts, seat
	// status flips and counter decrements. A SeatsUnavailableError aborts the
	// transaction without leaving any ledger row behind.
	CreatePending(ctx context.Context, req NewReservationRequest) (*Reservation, error)

	// Confirm moves a pending reservation and its items to confirmed. Returns
	// ErrHoldExpired when the reservation is older than holdLimit.
	Confirm(ctx context.Context, reservationID int, holdLimit time.Duration) (*Reservation, error)

	// Cancel moves a pending or confirmed reservation to canceled and releases
	// its seats back to the inventory.
	Cancel(ctx context.Context, reservationID int, reason string) (*Reservation, error)

	// Expire moves a still-pending reservation to failed and releases its
	// seats. A reservation that is no longer pending yields an
	// InvalidTransitionError so callers can treat the race as a no-op.
	Expire(ctx context.Context, reservationID int, reason string) (*Reservation, error)

	GetByID(ctx context.Context, reservationID int) (*Reservation, error)
	FindByTemporaryID(ctx context.Context, temporaryID string) (*Reservation, error)

	// FindExpired returns ids of pending reservations older than holdLimit.
	FindExpired(ctx context.Context, holdLimit time.Duration) ([]int, error)

	// HoldStatus reports the remaining hold time of a pending reservation, or
	// ErrRecordNotFound when the reservation is missing or not pending.
	HoldStatus(ctx context.Context, reservationID int, holdLimit time.Duration) (*HoldTimer, error)

	RecordFailedAttempt(ctx context.Context, attempt FailedAttempt) error
	FindFailedAttempt(ctx context.Context, temporaryID string) (*FailedAttempt, error)
}
