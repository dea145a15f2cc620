package mocks

import (
	"context"

	"github.com/teatrolive/reservation-engine/internal/domain"
)

type MockSeatRepo struct {
	CheckAvailabilityFunc func(ctx context.Context, functionID int, seatIDs []int) (*domain.AvailabilityResult, error)
}

func (m *MockSeatRepo) CheckAvailability(ctx context.Context, functionID int, seatIDs []int) (*domain.AvailabilityResult, error) {
	return m.CheckAvailabilityFunc(ctx, functionID, seatIDs)
}
