// Package workflow implements the reservation state machine: the command
// processor executing the four transitions and the sweeper that expires stale
// holds. All seat and ledger mutations happen inside repository transactions;
// the processor owns orchestration and post-commit side effects.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teatrolive/reservation-engine/internal/domain"
	"github.com/teatrolive/reservation-engine/internal/mailer"
)

const (
	// DefaultHoldLimit is how long a pending reservation keeps its seats
	// before it can no longer be confirmed.
	DefaultHoldLimit = 600 * time.Second

	functionsCachePattern    = "functions:*"
	reservationsCachePattern = "reservations:*"

	confirmationTemplate = "reservation_confirmed.tmpl"
)

type OutcomeCode string

const (
	OutcomeCreated   OutcomeCode = "created"
	OutcomeConflict  OutcomeCode = "conflict"
	OutcomeConfirmed OutcomeCode = "confirmed"
	OutcomeCanceled  OutcomeCode = "canceled"
	OutcomeExpired   OutcomeCode = "expired"
	OutcomeNoOp      OutcomeCode = "noop"
)

// Outcome reports what a command did. A redelivered or raced command whose
// precondition no longer holds resolves to OutcomeNoOp with the state the
// reservation actually has, never to an error.
type Outcome struct {
	Code             OutcomeCode
	Reservation      *domain.Reservation
	CurrentStatus    domain.ReservationStatus
	TemporaryID      string
	UnavailableSeats []int
}

type Processor struct {
	reservations domain.ReservationRepository
	cache        domain.Cache
	mailer       mailer.Mailer
	logger       *slog.Logger
	holdLimit    time.Duration
}

func NewProcessor(
	reservations domain.ReservationRepository,
	cache domain.Cache,
	mailSender mailer.Mailer,
	logger *slog.Logger,
	holdLimit time.Duration) *Processor {

	if holdLimit <= 0 {
		holdLimit = DefaultHoldLimit
	}

	return &Processor{
		reservations: reservations,
		cache:        cache,
		mailer:       mailSender,
		logger:       logger,
		holdLimit:    holdLimit,
	}
}

// CreateReservation executes a create command. Seat conflicts are not errors:
// they are recorded as a failed attempt for the status-lookup path and the
// message is considered handled. A redelivered create whose temporary id is
// already materialized resolves to the existing reservation.
func (p *Processor) CreateReservation(ctx context.Context, cmd domain.CreateReservationCommand) (*Outcome, error) {
	existing, err := p.reservations.FindByTemporaryID(ctx, cmd.TemporaryID)
	if err == nil {
		p.logger.Info("create command redelivered for materialized reservation",
			"temporary_id", cmd.TemporaryID, "reservation_id", existing.ID)

		return &Outcome{Code: OutcomeNoOp, Reservation: existing, CurrentStatus: existing.Status, TemporaryID: cmd.TemporaryID}, nil
	}
	if !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}

	reservation, err := p.reservations.CreatePending(ctx, domain.NewReservationRequest{
		TemporaryID:  cmd.TemporaryID,
		UserID:       cmd.UserID,
		CustomerName: cmd.CustomerName,
		CustomerDNI:  cmd.CustomerDNI,
		ContactEmail: cmd.ContactEmail,
		FunctionID:   cmd.FunctionID,
		SeatIDs:      cmd.SeatIDs,
	})

	var unavailable *domain.SeatsUnavailableError
	if errors.As(err, &unavailable) {
		p.logger.Info("create command rejected, seats unavailable",
			"temporary_id", cmd.TemporaryID, "function_id", cmd.FunctionID, "seat_ids", unavailable.SeatIDs)

		attempt := domain.FailedAttempt{
			TemporaryID:      cmd.TemporaryID,
			Reason:           "seats no longer available",
			UnavailableSeats: unavailable.SeatIDs,
		}
		if recordErr := p.reservations.RecordFailedAttempt(ctx, attempt); recordErr != nil {
			p.logger.Error("failed to record reservation attempt", "temporary_id", cmd.TemporaryID, "error", recordErr)
		}

		return &Outcome{Code: OutcomeConflict, TemporaryID: cmd.TemporaryID, UnavailableSeats: unavailable.SeatIDs}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create reservation %s: %w", cmd.TemporaryID, err)
	}

	p.invalidate(ctx, functionsCachePattern)

	p.logger.Info("reservation created",
		"reservation_id", reservation.ID, "temporary_id", cmd.TemporaryID, "total_amount", reservation.TotalAmount)

	return &Outcome{Code: OutcomeCreated, Reservation: reservation, TemporaryID: cmd.TemporaryID}, nil
}

// ConfirmReservation executes a confirm command. Confirming a hold that has
// outlived the hold limit is refused and converted into an expire; confirming
// a reservation that already left pending is a no-op reporting its state.
func (p *Processor) ConfirmReservation(ctx context.Context, reservationID int) (*Outcome, error) {
	reservation, err := p.reservations.Confirm(ctx, reservationID, p.holdLimit)

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrHoldExpired):
		p.logger.Info("confirm refused for expired hold", "reservation_id", reservationID)
		return p.ExpireReservation(ctx, reservationID, "reservation hold expired")
	default:
		if outcome := noOpOutcome(err); outcome != nil {
			p.logger.Info("confirm command dropped as no-op",
				"reservation_id", reservationID, "current_status", outcome.CurrentStatus)
			return outcome, nil
		}
		return nil, fmt.Errorf("confirm reservation %d: %w", reservationID, err)
	}

	p.invalidate(ctx, reservationsCachePattern)
	p.sendConfirmationEmail(reservation)

	p.logger.Info("reservation confirmed", "reservation_id", reservationID)

	return &Outcome{Code: OutcomeConfirmed, Reservation: reservation}, nil
}

// CancelReservation executes a cancel command, releasing the seats of a
// pending or confirmed reservation.
func (p *Processor) CancelReservation(ctx context.Context, reservationID int, reason string) (*Outcome, error) {
	if reason == "" {
		reason = "canceled by customer"
	}

	reservation, err := p.reservations.Cancel(ctx, reservationID, reason)
	if err != nil {
		if outcome := noOpOutcome(err); outcome != nil {
			p.logger.Info("cancel command dropped as no-op",
				"reservation_id", reservationID, "current_status", outcome.CurrentStatus)
			return outcome, nil
		}
		return nil, fmt.Errorf("cancel reservation %d: %w", reservationID, err)
	}

	p.invalidate(ctx, reservationsCachePattern)
	p.invalidate(ctx, functionsCachePattern)

	p.logger.Info("reservation canceled", "reservation_id", reservationID, "reason", reason)

	return &Outcome{Code: OutcomeCanceled, Reservation: reservation}, nil
}

// ExpireReservation executes an expire command. Losing the race against a
// confirm or cancel is expected and resolves to a no-op.
func (p *Processor) ExpireReservation(ctx context.Context, reservationID int, reason string) (*Outcome, error) {
	if reason == "" {
		reason = "reservation hold expired"
	}

	reservation, err := p.reservations.Expire(ctx, reservationID, reason)
	if err != nil {
		if outcome := noOpOutcome(err); outcome != nil {
			p.logger.Info("expire command dropped as no-op",
				"reservation_id", reservationID, "current_status", outcome.CurrentStatus)
			return outcome, nil
		}
		return nil, fmt.Errorf("expire reservation %d: %w", reservationID, err)
	}

	p.invalidate(ctx, reservationsCachePattern)
	p.invalidate(ctx, functionsCachePattern)

	p.logger.Info("reservation expired", "reservation_id", reservationID, "reason", reason)

	return &Outcome{Code: OutcomeExpired, Reservation: reservation}, nil
}

func noOpOutcome(err error) *Outcome {
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		return &Outcome{Code: OutcomeNoOp, CurrentStatus: invalid.Current}
	}
	return nil
}

// invalidate is fire-and-forget: entries carry a TTL, so a lost invalidation
// only delays freshness.
func (p *Processor) invalidate(ctx context.Context, pattern string) {
	if err := p.cache.InvalidatePattern(ctx, pattern); err != nil {
		p.logger.Error("cache invalidation failed", "pattern", pattern, "error", err)
	}
}

func (p *Processor) sendConfirmationEmail(reservation *domain.Reservation) {
	if p.mailer == nil || reservation == nil {
		return
	}

	data := map[string]any{
		"customerName":  reservation.CustomerName,
		"reservationID": reservation.ID,
		"totalAmount":   reservation.TotalAmount.StringFixed(2),
		"seatCount":     len(reservation.Items),
	}

	if err := p.mailer.Send(reservation.ContactEmail, confirmationTemplate, data); err != nil {
		p.logger.Error("failed to send confirmation email",
			"reservation_id", reservation.ID, "error", err)
	}
}
