package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type SeatStatus string

const (
	SeatAvailable   SeatStatus = "available"
	SeatReserved    SeatStatus = "reserved"
	SeatUnavailable SeatStatus = "unavailable"
)

// Seat belongs to exactly one section. Row and Number are display-only; the
// status is mutated only inside a reservation-command transaction.
type Seat struct {
	ID        int
	SectionID int
	Row       string
	Number    int
	Status    SeatStatus
}

// FunctionSection carries the price and the denormalized available-seat
// counter for one section scheduled against one function. The counter must be
// adjusted atomically alongside every seat-status change for that function.
type FunctionSection struct {
	FunctionID     int
	SectionID      int
	Price          decimal.Decimal
	AvailableSeats int
}

// AvailabilityResult is the outcome of an availability check. UnavailableSeats
// lists the seat ids that block the request, in input order.
type AvailabilityResult struct {
	Available        bool
	UnavailableSeats []int
}

type SeatRepository interface {
	// CheckAvailability runs the advisory availability check against the pool,
	// outside any transaction. It exists to short-circuit obviously-doomed
	// requests before they enter the queue and is never authoritative; the
	// authoritative check runs inside the create transaction with the seat
	// rows locked.
	CheckAvailability(ctx context.Context, functionID int, seatIDs []int) (*AvailabilityResult, error)
}
