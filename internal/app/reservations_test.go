package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/teatrolive/reservation-engine/api"
	"github.com/teatrolive/reservation-engine/internal/domain"
	"github.com/teatrolive/reservation-engine/internal/mocks"
)

type ReservationsTestSuite struct {
	suite.Suite
	app             *application
	reservationRepo *mocks.MockReservationRepo
	publisher       *mocks.MockPublisher
	cache           *mocks.MockCache
}

func (s *ReservationsTestSuite) SetupTest() {
	s.reservationRepo = new(mocks.MockReservationRepo)
	s.publisher = &mocks.MockPublisher{}
	s.cache = mocks.NewMockCache()
	s.app = newTestApplication(func(a *application) {
		a.reservationRepo = s.reservationRepo
		a.publisher = s.publisher
		a.cache = s.cache
	})
}

func TestReservationsSuite(t *testing.T) {
	suite.Run(t, new(ReservationsTestSuite))
}

func validCreateRequest() api.CreateReservationRequest {
	return api.CreateReservationRequest{
		CustomerName: "Maria Lopez",
		CustomerDni:  "12345678",
		ContactEmail: "maria@example.com",
		FunctionId:   3,
		SeatIds:      []int{10, 11},
	}
}

func (s *ReservationsTestSuite) serve(w http.ResponseWriter, r *http.Request) {
	s.app.routes().ServeHTTP(w, r)
}

func (s *ReservationsTestSuite) TestCreateReservationHandler() {
	tests := []struct {
		name           string
		mutate         func(*api.CreateReservationRequest)
		setup          func()
		wantStatus     int
		wantErrMessage string
	}{
		{
			name:           "missing customer name",
			mutate:         func(req *api.CreateReservationRequest) { req.CustomerName = "" },
			wantStatus:     http.StatusUnprocessableEntity,
			wantErrMessage: "is required",
		},
		{
			name:           "invalid dni",
			mutate:         func(req *api.CreateReservationRequest) { req.CustomerDni = "abc" },
			wantStatus:     http.StatusUnprocessableEntity,
			wantErrMessage: "must be a valid identity document number of 7 to 9 digits",
		},
		{
			name:           "empty seat list",
			mutate:         func(req *api.CreateReservationRequest) { req.SeatIds = nil },
			wantStatus:     http.StatusUnprocessableEntity,
			wantErrMessage: "is required",
		},
		{
			name: "seats already taken",
			setup: func() {
				s.app.seatRepo = &mocks.MockSeatRepo{
					CheckAvailabilityFunc: func(ctx context.Context, functionID int, seatIDs []int) (*domain.AvailabilityResult, error) {
						return &domain.AvailabilityResult{Available: false, UnavailableSeats: []int{11}}, nil
					},
				}
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "advisory check failure does not block intake",
			setup: func() {
				s.app.seatRepo = &mocks.MockSeatRepo{
					CheckAvailabilityFunc: func(ctx context.Context, functionID int, seatIDs []int) (*domain.AvailabilityResult, error) {
						return nil, fmt.Errorf("connection refused")
					},
				}
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "successful intake",
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()

			input := validCreateRequest()
			if tt.mutate != nil {
				tt.mutate(&input)
			}
			if tt.setup != nil {
				tt.setup()
			}

			w, r := executeRequest(s.T(), http.MethodPost, "/reservations", input)
			s.serve(w, r)

			s.Equal(tt.wantStatus, w.Code)

			if tt.wantStatus != http.StatusAccepted {
				s.Empty(s.publisher.Published(), "no command should be queued on rejection")

				checkErrorResponse(s.T(), w, struct {
					wantStatus     int
					wantErrMessage string
				}{tt.wantStatus, tt.wantErrMessage})
				return
			}

			var resp api.CreateReservationResponse
			s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
			s.True(strings.HasPrefix(resp.TemporaryReservationId, "temp-"))
			s.True(strings.HasPrefix(resp.Ticket.Code, "TKT-"))
			s.Equal("processing", resp.Ticket.Status)

			published := s.publisher.Published()
			s.Require().Len(published, 1)
			s.Equal(domain.CommandCreateReservation, published[0].Envelope.Type)
			s.Equal(resp.TemporaryReservationId, published[0].GroupKey)

			cmd, err := published[0].Envelope.CreatePayload()
			s.Require().NoError(err)
			s.Equal(resp.TemporaryReservationId, cmd.TemporaryID)
			s.Equal(input.SeatIds, cmd.SeatIDs)

			_, err = s.cache.Get(r.Context(), "processing:reservation:"+resp.TemporaryReservationId)
			s.NoError(err, "processing marker should be set")
		})
	}
}

func (s *ReservationsTestSuite) TestGetReservationStatusHandler() {
	createdAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		temporaryId  string
		setupMock    func()
		wantStatus   int
		wantResponse *api.ReservationStatusResponse
	}{
		{
			name:        "materialized reservation",
			temporaryId: "temp-abc",
			setupMock: func() {
				s.reservationRepo.On("FindByTemporaryID", mock.Anything, "temp-abc").Return(&domain.Reservation{
					ID:        42,
					Status:    domain.ReservationPending,
					CreatedAt: createdAt,
				}, nil)
			},
			wantStatus: http.StatusOK,
			wantResponse: &api.ReservationStatusResponse{
				Status:        "pending",
				Message:       "Reservation status retrieved",
				ReservationId: ptr(42),
				CreatedAt:     ptr(createdAt),
			},
		},
		{
			name:        "rejected for unavailable seats",
			temporaryId: "temp-rejected",
			setupMock: func() {
				s.reservationRepo.On("FindByTemporaryID", mock.Anything, "temp-rejected").Return(nil, domain.ErrRecordNotFound)
				s.reservationRepo.On("FindFailedAttempt", mock.Anything, "temp-rejected").Return(&domain.FailedAttempt{
					TemporaryID:      "temp-rejected",
					Reason:           "seats no longer available",
					UnavailableSeats: []int{7},
				}, nil)
			},
			wantStatus: http.StatusOK,
			wantResponse: &api.ReservationStatusResponse{
				Status:           "failed",
				Message:          "seats no longer available",
				UnavailableSeats: []int{7},
			},
		},
		{
			name:        "still processing",
			temporaryId: "temp-inflight",
			setupMock: func() {
				s.reservationRepo.On("FindByTemporaryID", mock.Anything, "temp-inflight").Return(nil, domain.ErrRecordNotFound)
				s.reservationRepo.On("FindFailedAttempt", mock.Anything, "temp-inflight").Return(nil, domain.ErrRecordNotFound)
				s.cache.Set(s.T().Context(), "processing:reservation:temp-inflight", []byte("1"), time.Minute)
			},
			wantStatus: http.StatusAccepted,
			wantResponse: &api.ReservationStatusResponse{
				Status:  "processing",
				Message: "The reservation is still being processed",
			},
		},
		{
			name:        "unknown temporary id",
			temporaryId: "temp-gone",
			setupMock: func() {
				s.reservationRepo.On("FindByTemporaryID", mock.Anything, "temp-gone").Return(nil, domain.ErrRecordNotFound)
				s.reservationRepo.On("FindFailedAttempt", mock.Anything, "temp-gone").Return(nil, domain.ErrRecordNotFound)
			},
			wantStatus: http.StatusNotFound,
			wantResponse: &api.ReservationStatusResponse{
				Status:  "not_found",
				Message: "Reservation not found or expired",
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()

			defer s.reservationRepo.AssertExpectations(s.T())

			if tt.setupMock != nil {
				tt.setupMock()
			}

			w, r := executeRequest(s.T(), http.MethodGet, "/reservations/status/"+tt.temporaryId, nil)
			s.serve(w, r)

			s.Equal(tt.wantStatus, w.Code)

			var response api.ReservationStatusResponse
			s.Require().NoError(json.NewDecoder(w.Body).Decode(&response))

			diff := cmp.Diff(tt.wantResponse, &response)
			s.Empty(diff, "Response mismatch (-want +got):\n%s", diff)
		})
	}
}

func (s *ReservationsTestSuite) TestGetReservationHandler() {
	reservation := &domain.Reservation{
		ID:           5,
		TemporaryID:  "temp-xyz",
		CustomerName: "Maria Lopez",
		CustomerDNI:  "12345678",
		ContactEmail: "maria@example.com",
		TotalAmount:  decimal.RequireFromString("35.50"),
		Status:       domain.ReservationPending,
		CreatedAt:    time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		Items: []domain.ReservationItem{
			{SeatID: 10, FunctionID: 3, SectionName: "Platea", SeatRow: "B", SeatNumber: 4, Price: decimal.RequireFromString("17.75")},
			{SeatID: 11, FunctionID: 3, SectionName: "Platea", SeatRow: "B", SeatNumber: 5, Price: decimal.RequireFromString("17.75")},
		},
	}

	s.Run("invalid id", func() {
		s.SetupTest()

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/abc", nil)
		s.serve(w, r)

		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("not found", func() {
		s.SetupTest()
		s.reservationRepo.On("GetByID", mock.Anything, 99).Return(nil, domain.ErrRecordNotFound)

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/99", nil)
		s.serve(w, r)

		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("pending reservation with hold timer", func() {
		s.SetupTest()
		s.reservationRepo.On("GetByID", mock.Anything, 5).Return(reservation, nil)
		s.reservationRepo.On("HoldStatus", mock.Anything, 5, 600*time.Second).Return(&domain.HoldTimer{
			ReservationID:  5,
			SecondsElapsed: 120,
			TimeLimit:      600,
			TimeRemaining:  480,
		}, nil)

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/5", nil)
		s.serve(w, r)

		s.Equal(http.StatusOK, w.Code)

		var response api.ReservationResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&response))

		s.Equal(5, response.Reservation.Id)
		s.Equal("35.50", response.Reservation.TotalAmount)
		s.Len(response.Reservation.Seats, 2)
		s.Require().NotNil(response.TimeLimit)
		s.Equal(480, response.TimeLimit.TimeRemaining)

		_, err := s.cache.Get(r.Context(), "reservations:id=5")
		s.NoError(err, "reservation should be cached after first read")
	})

	s.Run("cached reservation skips the repository", func() {
		s.SetupTest()

		cached, err := json.Marshal(api.Reservation{Id: 6, Status: "confirmed", TotalAmount: "20.00"})
		s.Require().NoError(err)
		s.cache.Set(s.T().Context(), "reservations:id=6", cached, time.Minute)

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/6", nil)
		s.serve(w, r)

		s.Equal(http.StatusOK, w.Code)

		var response api.ReservationResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&response))
		s.Equal(6, response.Reservation.Id)
		s.Nil(response.TimeLimit)

		s.reservationRepo.AssertNotCalled(s.T(), "GetByID", mock.Anything, 6)
	})
}

func (s *ReservationsTestSuite) TestConfirmReservationHandler() {
	tests := []struct {
		name            string
		reservationId   int
		setupMock       func()
		wantStatus      int
		wantCommandType domain.CommandType
	}{
		{
			name:          "not found",
			reservationId: 99,
			setupMock: func() {
				s.reservationRepo.On("GetByID", mock.Anything, 99).Return(nil, domain.ErrRecordNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:          "already confirmed",
			reservationId: 7,
			setupMock: func() {
				s.reservationRepo.On("GetByID", mock.Anything, 7).Return(&domain.Reservation{
					ID: 7, Status: domain.ReservationConfirmed,
				}, nil)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:          "expired hold queues expire command",
			reservationId: 8,
			setupMock: func() {
				s.reservationRepo.On("GetByID", mock.Anything, 8).Return(&domain.Reservation{
					ID: 8, Status: domain.ReservationPending,
				}, nil)
				s.reservationRepo.On("HoldStatus", mock.Anything, 8, 600*time.Second).Return(&domain.HoldTimer{
					ReservationID: 8, SecondsElapsed: 700, TimeLimit: 600, Expired: true,
				}, nil)
			},
			wantStatus:      http.StatusBadRequest,
			wantCommandType: domain.CommandExpireReservation,
		},
		{
			name:          "pending hold queues confirm command",
			reservationId: 9,
			setupMock: func() {
				s.reservationRepo.On("GetByID", mock.Anything, 9).Return(&domain.Reservation{
					ID: 9, Status: domain.ReservationPending,
				}, nil)
				s.reservationRepo.On("HoldStatus", mock.Anything, 9, 600*time.Second).Return(&domain.HoldTimer{
					ReservationID: 9, SecondsElapsed: 30, TimeLimit: 600, TimeRemaining: 570,
				}, nil)
			},
			wantStatus:      http.StatusAccepted,
			wantCommandType: domain.CommandConfirmReservation,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()

			defer s.reservationRepo.AssertExpectations(s.T())

			if tt.setupMock != nil {
				tt.setupMock()
			}

			w, r := executeRequest(s.T(), http.MethodPost, fmt.Sprintf("/reservations/%d/confirm", tt.reservationId), nil)
			s.serve(w, r)

			s.Equal(tt.wantStatus, w.Code)

			published := s.publisher.Published()
			if tt.wantCommandType == "" {
				s.Empty(published)
				return
			}

			s.Require().Len(published, 1)
			s.Equal(tt.wantCommandType, published[0].Envelope.Type)
			s.Equal(fmt.Sprintf("%d", tt.reservationId), published[0].GroupKey)

			if tt.wantStatus == http.StatusAccepted {
				var resp api.CommandAcceptedResponse
				s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
				s.Equal("confirming", resp.Status)
				s.Equal(tt.reservationId, resp.ReservationId)
			}
		})
	}
}

func (s *ReservationsTestSuite) TestCancelReservationHandler() {
	s.Run("canceling a failed reservation is rejected", func() {
		s.SetupTest()
		s.reservationRepo.On("GetByID", mock.Anything, 4).Return(&domain.Reservation{
			ID: 4, Status: domain.ReservationFailed,
		}, nil)

		w, r := executeRequest(s.T(), http.MethodPost, "/reservations/4/cancel", nil)
		s.serve(w, r)

		s.Equal(http.StatusBadRequest, w.Code)
		s.Empty(s.publisher.Published())
	})

	s.Run("cancel with reason queues the command", func() {
		s.SetupTest()
		s.reservationRepo.On("GetByID", mock.Anything, 5).Return(&domain.Reservation{
			ID: 5, Status: domain.ReservationConfirmed,
		}, nil)

		w, r := executeRequest(s.T(), http.MethodPost, "/reservations/5/cancel", api.CancelReservationRequest{
			Reason: "change of plans",
		})
		s.serve(w, r)

		s.Equal(http.StatusAccepted, w.Code)

		published := s.publisher.Published()
		s.Require().Len(published, 1)
		s.Equal(domain.CommandCancelReservation, published[0].Envelope.Type)

		cmd, err := published[0].Envelope.RefPayload()
		s.Require().NoError(err)
		s.Equal(5, cmd.ReservationID)
		s.Equal("change of plans", cmd.Reason)
	})

	s.Run("cancel without body uses the default reason", func() {
		s.SetupTest()
		s.reservationRepo.On("GetByID", mock.Anything, 6).Return(&domain.Reservation{
			ID: 6, Status: domain.ReservationPending,
		}, nil)

		w, r := executeRequest(s.T(), http.MethodPost, "/reservations/6/cancel", nil)
		s.serve(w, r)

		s.Equal(http.StatusAccepted, w.Code)

		published := s.publisher.Published()
		s.Require().Len(published, 1)

		cmd, err := published[0].Envelope.RefPayload()
		s.Require().NoError(err)
		s.Equal("canceled by customer", cmd.Reason)
	})
}

func (s *ReservationsTestSuite) TestCheckReservationTimeHandler() {
	s.Run("missing or non-pending reservation", func() {
		s.SetupTest()
		s.reservationRepo.On("HoldStatus", mock.Anything, 3, 600*time.Second).Return(nil, domain.ErrRecordNotFound)

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/3/time", nil)
		s.serve(w, r)

		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("fresh hold reports remaining time", func() {
		s.SetupTest()
		s.reservationRepo.On("HoldStatus", mock.Anything, 4, 600*time.Second).Return(&domain.HoldTimer{
			ReservationID: 4, SecondsElapsed: 60, TimeLimit: 600, TimeRemaining: 540,
		}, nil)

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/4/time", nil)
		s.serve(w, r)

		s.Equal(http.StatusOK, w.Code)

		var resp api.TimeLimitResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Equal(540, resp.Data.TimeRemaining)
		s.False(resp.Data.IsExpired)
		s.Empty(s.publisher.Published())
	})

	s.Run("expired hold queues the expire command", func() {
		s.SetupTest()
		s.reservationRepo.On("HoldStatus", mock.Anything, 5, 600*time.Second).Return(&domain.HoldTimer{
			ReservationID: 5, SecondsElapsed: 700, TimeLimit: 600, Expired: true,
		}, nil)

		w, r := executeRequest(s.T(), http.MethodGet, "/reservations/5/time", nil)
		s.serve(w, r)

		s.Equal(http.StatusOK, w.Code)

		published := s.publisher.Published()
		s.Require().Len(published, 1)
		s.Equal(domain.CommandExpireReservation, published[0].Envelope.Type)
		s.Equal("5", published[0].GroupKey)
	})
}
