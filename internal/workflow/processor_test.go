package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teatrolive/reservation-engine/internal/domain"
	"github.com/teatrolive/reservation-engine/internal/mailer"
	"github.com/teatrolive/reservation-engine/internal/mocks"
)

type processorFixture struct {
	processor *Processor
	repo      *mocks.MockReservationRepo
	cache     *mocks.MockCache
	mailer    *mailer.MockMailer
}

func newProcessorFixture() *processorFixture {
	repo := new(mocks.MockReservationRepo)
	cache := mocks.NewMockCache()
	mockMailer := mailer.NewMockMailer()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &processorFixture{
		processor: NewProcessor(repo, cache, mockMailer, logger, 600*time.Second),
		repo:      repo,
		cache:     cache,
		mailer:    mockMailer,
	}
}

func createCommand() domain.CreateReservationCommand {
	return domain.CreateReservationCommand{
		TemporaryID:  "temp-abc",
		CustomerName: "Maria Lopez",
		CustomerDNI:  "12345678",
		ContactEmail: "maria@example.com",
		FunctionID:   3,
		SeatIDs:      []int{10, 11},
	}
}

func TestProcessorCreateReservation(t *testing.T) {
	t.Run("successful create invalidates the listings cache", func(t *testing.T) {
		f := newProcessorFixture()
		cmd := createCommand()

		reservation := &domain.Reservation{
			ID:          21,
			TemporaryID: cmd.TemporaryID,
			Status:      domain.ReservationPending,
			TotalAmount: decimal.RequireFromString("35.50"),
		}

		f.repo.On("FindByTemporaryID", mock.Anything, cmd.TemporaryID).Return(nil, domain.ErrRecordNotFound)
		f.repo.On("CreatePending", mock.Anything, mock.MatchedBy(func(req domain.NewReservationRequest) bool {
			return req.TemporaryID == cmd.TemporaryID && len(req.SeatIDs) == 2
		})).Return(reservation, nil)

		outcome, err := f.processor.CreateReservation(context.Background(), cmd)

		require.NoError(t, err)
		require.Equal(t, OutcomeCreated, outcome.Code)
		require.Equal(t, 21, outcome.Reservation.ID)
		require.Contains(t, f.cache.InvalidatedPatterns, "functions:*")

		f.repo.AssertExpectations(t)
	})

	t.Run("seat conflict records a failed attempt and resolves the message", func(t *testing.T) {
		f := newProcessorFixture()
		cmd := createCommand()

		f.repo.On("FindByTemporaryID", mock.Anything, cmd.TemporaryID).Return(nil, domain.ErrRecordNotFound)
		f.repo.On("CreatePending", mock.Anything, mock.Anything).Return(nil, &domain.SeatsUnavailableError{SeatIDs: []int{11}})
		f.repo.On("RecordFailedAttempt", mock.Anything, mock.MatchedBy(func(attempt domain.FailedAttempt) bool {
			return attempt.TemporaryID == cmd.TemporaryID && len(attempt.UnavailableSeats) == 1
		})).Return(nil)

		outcome, err := f.processor.CreateReservation(context.Background(), cmd)

		require.NoError(t, err, "a conflict is a handled outcome, not a processing failure")
		require.Equal(t, OutcomeConflict, outcome.Code)
		require.Equal(t, []int{11}, outcome.UnavailableSeats)
		require.Empty(t, f.cache.InvalidatedPatterns)

		f.repo.AssertExpectations(t)
	})

	t.Run("redelivered create resolves to the existing reservation", func(t *testing.T) {
		f := newProcessorFixture()
		cmd := createCommand()

		existing := &domain.Reservation{ID: 21, TemporaryID: cmd.TemporaryID, Status: domain.ReservationConfirmed}
		f.repo.On("FindByTemporaryID", mock.Anything, cmd.TemporaryID).Return(existing, nil)

		outcome, err := f.processor.CreateReservation(context.Background(), cmd)

		require.NoError(t, err)
		require.Equal(t, OutcomeNoOp, outcome.Code)
		require.Equal(t, domain.ReservationConfirmed, outcome.CurrentStatus)

		f.repo.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
	})

	t.Run("store failure propagates for retry", func(t *testing.T) {
		f := newProcessorFixture()
		cmd := createCommand()

		f.repo.On("FindByTemporaryID", mock.Anything, cmd.TemporaryID).Return(nil, domain.ErrRecordNotFound)
		f.repo.On("CreatePending", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		outcome, err := f.processor.CreateReservation(context.Background(), cmd)

		require.Error(t, err)
		require.Nil(t, outcome)
	})
}

func TestProcessorConfirmReservation(t *testing.T) {
	t.Run("successful confirm sends the confirmation email", func(t *testing.T) {
		f := newProcessorFixture()

		reservation := &domain.Reservation{
			ID:           21,
			CustomerName: "Maria Lopez",
			ContactEmail: "maria@example.com",
			TotalAmount:  decimal.RequireFromString("35.50"),
			Status:       domain.ReservationConfirmed,
		}

		f.repo.On("Confirm", mock.Anything, 21, 600*time.Second).Return(reservation, nil)

		outcome, err := f.processor.ConfirmReservation(context.Background(), 21)

		require.NoError(t, err)
		require.Equal(t, OutcomeConfirmed, outcome.Code)
		require.Contains(t, f.cache.InvalidatedPatterns, "reservations:*")

		sent := f.mailer.SentEmails()
		require.Len(t, sent, 1)
		require.Equal(t, "maria@example.com", sent[0].Recipient)
		require.Equal(t, "reservation_confirmed.tmpl", sent[0].TemplateFile)
	})

	t.Run("expired hold is converted into an expire", func(t *testing.T) {
		f := newProcessorFixture()

		expired := &domain.Reservation{ID: 21, Status: domain.ReservationFailed}

		f.repo.On("Confirm", mock.Anything, 21, 600*time.Second).Return(nil, domain.ErrHoldExpired)
		f.repo.On("Expire", mock.Anything, 21, "reservation hold expired").Return(expired, nil)

		outcome, err := f.processor.ConfirmReservation(context.Background(), 21)

		require.NoError(t, err)
		require.Equal(t, OutcomeExpired, outcome.Code)
		require.Empty(t, f.mailer.SentEmails())

		f.repo.AssertExpectations(t)
	})

	t.Run("redelivered confirm is a no-op", func(t *testing.T) {
		f := newProcessorFixture()

		f.repo.On("Confirm", mock.Anything, 21, 600*time.Second).Return(nil, &domain.InvalidTransitionError{
			ReservationID: 21,
			Current:       domain.ReservationConfirmed,
		})

		outcome, err := f.processor.ConfirmReservation(context.Background(), 21)

		require.NoError(t, err)
		require.Equal(t, OutcomeNoOp, outcome.Code)
		require.Equal(t, domain.ReservationConfirmed, outcome.CurrentStatus)
		require.Empty(t, f.mailer.SentEmails())
	})

	t.Run("email failure does not fail the command", func(t *testing.T) {
		f := newProcessorFixture()

		reservation := &domain.Reservation{ID: 21, ContactEmail: "maria@example.com", Status: domain.ReservationConfirmed}

		f.repo.On("Confirm", mock.Anything, 21, 600*time.Second).Return(reservation, nil)
		f.processor.mailer = failingMailer{}

		outcome, err := f.processor.ConfirmReservation(context.Background(), 21)

		require.NoError(t, err)
		require.Equal(t, OutcomeConfirmed, outcome.Code)
	})
}

func TestProcessorCancelReservation(t *testing.T) {
	f := newProcessorFixture()

	reservation := &domain.Reservation{ID: 30, Status: domain.ReservationCanceled}

	f.repo.On("Cancel", mock.Anything, 30, "change of plans").Return(reservation, nil)

	outcome, err := f.processor.CancelReservation(context.Background(), 30, "change of plans")

	require.NoError(t, err)
	require.Equal(t, OutcomeCanceled, outcome.Code)
	require.Contains(t, f.cache.InvalidatedPatterns, "reservations:*")
	require.Contains(t, f.cache.InvalidatedPatterns, "functions:*")
}

func TestProcessorExpireReservation(t *testing.T) {
	t.Run("losing the race against a confirm is a no-op", func(t *testing.T) {
		f := newProcessorFixture()

		f.repo.On("Expire", mock.Anything, 40, "reservation hold expired").Return(nil, &domain.InvalidTransitionError{
			ReservationID: 40,
			Current:       domain.ReservationConfirmed,
		})

		outcome, err := f.processor.ExpireReservation(context.Background(), 40, "")

		require.NoError(t, err)
		require.Equal(t, OutcomeNoOp, outcome.Code)
		require.Empty(t, f.cache.InvalidatedPatterns)
	})

	t.Run("expire releases seats and invalidates both cache families", func(t *testing.T) {
		f := newProcessorFixture()

		reservation := &domain.Reservation{ID: 40, Status: domain.ReservationFailed}
		f.repo.On("Expire", mock.Anything, 40, "reservation expired automatically").Return(reservation, nil)

		outcome, err := f.processor.ExpireReservation(context.Background(), 40, "reservation expired automatically")

		require.NoError(t, err)
		require.Equal(t, OutcomeExpired, outcome.Code)
		require.Contains(t, f.cache.InvalidatedPatterns, "reservations:*")
		require.Contains(t, f.cache.InvalidatedPatterns, "functions:*")
	})
}

type failingMailer struct{}

func (failingMailer) Send(recipient, templateFile string, data any) error {
	return errors.New("smtp unreachable")
}
