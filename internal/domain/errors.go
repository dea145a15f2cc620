package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrSeatsUnavailable  = errors.New("seat(s) are no longer available")
	ErrInvalidTransition = errors.New("reservation status does not allow this transition")
	ErrHoldExpired       = errors.New("reservation hold has expired")
	ErrInvalidCommand    = errors.New("invalid command payload")
)

// SeatsUnavailableError reports which seats blocked a create command. It
// unwraps to ErrSeatsUnavailable so callers can match with errors.Is.
type SeatsUnavailableError struct {
	SeatIDs []int
}

func (e *SeatsUnavailableError) Error() string {
	return fmt.Sprintf("seat(s) %v are no longer available", e.SeatIDs)
}

func (e *SeatsUnavailableError) Unwrap() error {
	return ErrSeatsUnavailable
}

// InvalidTransitionError carries the status a reservation actually had when a
// command's precondition failed. Commands are idempotent at the
// state-transition level, so callers treat this as a no-op, not a failure.
type InvalidTransitionError struct {
	ReservationID int
	Current       ReservationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reservation %d is %s, transition not allowed", e.ReservationID, e.Current)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
