package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/teatrolive/reservation-engine/internal/domain"
)

type MockReservationRepo struct {
	mock.Mock
	domain.ReservationRepository
}

func (m *MockReservationRepo) CreatePending(ctx context.Context, req domain.NewReservationRequest) (*domain.Reservation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockReservationRepo) Confirm(ctx context.Context, reservationID int, holdLimit time.Duration) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID, holdLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockReservationRepo) Cancel(ctx context.Context, reservationID int, reason string) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockReservationRepo) Expire(ctx context.Context, reservationID int, reason string) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockReservationRepo) GetByID(ctx context.Context, reservationID int) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockReservationRepo) FindByTemporaryID(ctx context.Context, temporaryID string) (*domain.Reservation, error) {
	args := m.Called(ctx, temporaryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockReservationRepo) FindExpired(ctx context.Context, holdLimit time.Duration) ([]int, error) {
	args := m.Called(ctx, holdLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockReservationRepo) HoldStatus(ctx context.Context, reservationID int, holdLimit time.Duration) (*domain.HoldTimer, error) {
	args := m.Called(ctx, reservationID, holdLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HoldTimer), args.Error(1)
}

func (m *MockReservationRepo) RecordFailedAttempt(ctx context.Context, attempt domain.FailedAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockReservationRepo) FindFailedAttempt(ctx context.Context, temporaryID string) (*domain.FailedAttempt, error) {
	args := m.Called(ctx, temporaryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FailedAttempt), args.Error(1)
}
