package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/teatrolive/reservation-engine/api"
	"github.com/teatrolive/reservation-engine/internal/cache"
	"github.com/teatrolive/reservation-engine/internal/domain"
)

const (
	// processingMarkerTTL bounds how long a queued create command may stay
	// invisible: the status lookup reports "processing" while the marker
	// lives and "not_found" after it lapses without a ledger row.
	processingMarkerTTL = 5 * time.Minute

	reservationCacheTTL = time.Minute
)

// CreateReservationHandler accepts a reservation request, runs an advisory
// availability check and queues the create command. The authoritative check
// happens later inside the processor's transaction, so a 202 here is a promise
// of processing, not of seats.
func (app *application) CreateReservationHandler(w http.ResponseWriter, r *http.Request) {
	var input api.CreateReservationRequest

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	availability, err := app.seatRepo.CheckAvailability(r.Context(), input.FunctionId, input.SeatIds)
	if err != nil {
		// Advisory only. The create transaction re-checks with row locks.
		app.logger.Error("preliminary availability check failed", "error", err)
	} else if !availability.Available {
		app.seatsConflictResponse(w, r, availability.UnavailableSeats)
		return
	}

	temporaryID := "temp-" + uuid.NewString()

	command := domain.CreateReservationCommand{
		TemporaryID:  temporaryID,
		UserID:       input.UserId,
		CustomerName: input.CustomerName,
		CustomerDNI:  input.CustomerDni,
		ContactEmail: input.ContactEmail,
		FunctionID:   input.FunctionId,
		SeatIDs:      input.SeatIds,
	}

	err = app.publishCommand(r, domain.CommandCreateReservation, command, temporaryID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.markProcessing(r, temporaryID)

	resp := api.CreateReservationResponse{
		Message:                "Reservation request queued for processing",
		TemporaryReservationId: temporaryID,
		Ticket: api.Ticket{
			Code:      generateTicketCode(temporaryID),
			Status:    "processing",
			ExpiresIn: "10 minutes after confirmation",
		},
	}

	err = app.writeJSON(w, http.StatusAccepted, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// GetReservationStatusHandler resolves a temporary id to the fate of its
// create command: a materialized reservation, a recorded rejection, still in
// flight, or unknown.
func (app *application) GetReservationStatusHandler(w http.ResponseWriter, r *http.Request) {
	temporaryID := chi.URLParam(r, "temporaryId")
	if temporaryID == "" {
		app.badRequestResponse(w, r, errors.New("temporary reservation id is required"))
		return
	}

	reservation, err := app.reservationRepo.FindByTemporaryID(r.Context(), temporaryID)
	if err == nil {
		resp := api.ReservationStatusResponse{
			Status:        string(reservation.Status),
			Message:       "Reservation status retrieved",
			ReservationId: &reservation.ID,
			CreatedAt:     &reservation.CreatedAt,
		}
		app.writeJSON(w, http.StatusOK, resp, nil)
		return
	}
	if !errors.Is(err, domain.ErrRecordNotFound) {
		app.serverErrorResponse(w, r, err)
		return
	}

	attempt, err := app.reservationRepo.FindFailedAttempt(r.Context(), temporaryID)
	if err == nil {
		resp := api.ReservationStatusResponse{
			Status:           "failed",
			Message:          attempt.Reason,
			UnavailableSeats: attempt.UnavailableSeats,
		}
		app.writeJSON(w, http.StatusOK, resp, nil)
		return
	}
	if !errors.Is(err, domain.ErrRecordNotFound) {
		app.serverErrorResponse(w, r, err)
		return
	}

	if app.isProcessing(r, temporaryID) {
		resp := api.ReservationStatusResponse{
			Status:  "processing",
			Message: "The reservation is still being processed",
		}
		app.writeJSON(w, http.StatusAccepted, resp, nil)
		return
	}

	resp := api.ReservationStatusResponse{
		Status:  "not_found",
		Message: "Reservation not found or expired",
	}
	app.writeJSON(w, http.StatusNotFound, resp, nil)
}

// GetReservationHandler serves the reservation details through the cache.
// The hold timer of a pending reservation is computed fresh on every request.
func (app *application) GetReservationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "reservationId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	cacheKey := fmt.Sprintf("reservations:id=%d", id)

	payload, err := cache.Aside(r.Context(), app.cache, app.logger, cacheKey, reservationCacheTTL, func(ctx context.Context) ([]byte, error) {
		reservation, err := app.reservationRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(toApiReservation(reservation))
	})
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	var reservation api.Reservation
	if err := json.Unmarshal(payload, &reservation); err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	resp := api.ReservationResponse{Reservation: reservation}

	if reservation.Status == string(domain.ReservationPending) {
		timer, err := app.reservationRepo.HoldStatus(r.Context(), id, app.config.hold.limit)
		if err == nil {
			resp.TimeLimit = toApiTimeLimit(timer)
		} else if !errors.Is(err, domain.ErrRecordNotFound) {
			app.serverErrorResponse(w, r, err)
			return
		}
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// ConfirmReservationHandler queues a confirm command for a pending
// reservation. An already-expired hold is converted into an expire command
// right away instead of bouncing through the queue.
func (app *application) ConfirmReservationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "reservationId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	reservation, err := app.reservationRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	if reservation.Status != domain.ReservationPending {
		app.badRequestResponse(w, r, fmt.Errorf("cannot confirm a reservation in status %s", reservation.Status))
		return
	}

	timer, err := app.reservationRepo.HoldStatus(r.Context(), id, app.config.hold.limit)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		app.serverErrorResponse(w, r, err)
		return
	}

	if timer != nil && timer.Expired {
		expireErr := app.publishCommand(r, domain.CommandExpireReservation, domain.ReservationRefCommand{
			ReservationID: id,
			Reason:        "reservation hold expired",
		}, strconv.Itoa(id))
		if expireErr != nil {
			app.logger.Error("failed to queue expire command", "reservation_id", id, "error", expireErr)
		}

		app.badRequestResponse(w, r, errors.New("the reservation hold has expired and cannot be confirmed"))
		return
	}

	err = app.publishCommand(r, domain.CommandConfirmReservation, domain.ReservationRefCommand{
		ReservationID: id,
	}, strconv.Itoa(id))
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	resp := api.CommandAcceptedResponse{
		Message:       "Confirmation request queued",
		ReservationId: id,
		Status:        "confirming",
	}

	err = app.writeJSON(w, http.StatusAccepted, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// CancelReservationHandler queues a cancel command for a pending or confirmed
// reservation. The request body is optional.
func (app *application) CancelReservationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "reservationId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var input api.CancelReservationRequest

	if r.ContentLength > 0 {
		err = app.readJSON(w, r, &input)
		if err != nil {
			app.badRequestResponse(w, r, err)
			return
		}

		err = app.validator.Struct(input)
		if err != nil {
			app.failedValidationResponse(w, r, err)
			return
		}
	}

	reservation, err := app.reservationRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			app.notFoundResponse(w, r)
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	if !reservation.Status.Active() {
		app.badRequestResponse(w, r, fmt.Errorf("cannot cancel a reservation in status %s", reservation.Status))
		return
	}

	reason := input.Reason
	if reason == "" {
		reason = "canceled by customer"
	}

	err = app.publishCommand(r, domain.CommandCancelReservation, domain.ReservationRefCommand{
		ReservationID: id,
		Reason:        reason,
	}, strconv.Itoa(id))
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	resp := api.CommandAcceptedResponse{
		Message:       "Cancellation request queued",
		ReservationId: id,
		Status:        "canceling",
	}

	err = app.writeJSON(w, http.StatusAccepted, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// CheckReservationTimeHandler reports how much of the hold limit a pending
// reservation has left. Discovering an expired hold queues the expire command
// as a side effect, so polling this endpoint also moves the workflow along.
func (app *application) CheckReservationTimeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "reservationId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	timer, err := app.reservationRepo.HoldStatus(r.Context(), id, app.config.hold.limit)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			app.errorResponse(w, r, http.StatusNotFound, "Reservation not found or not pending")
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}

	if timer.Expired {
		expireErr := app.publishCommand(r, domain.CommandExpireReservation, domain.ReservationRefCommand{
			ReservationID: id,
			Reason:        "reservation hold expired",
		}, strconv.Itoa(id))
		if expireErr != nil {
			app.logger.Error("failed to queue expire command", "reservation_id", id, "error", expireErr)
		}
	}

	resp := api.TimeLimitResponse{
		Message: "Reservation time information retrieved",
		Data:    *toApiTimeLimit(timer),
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) publishCommand(r *http.Request, commandType domain.CommandType, payload any, groupKey string) error {
	envelope, err := domain.NewCommandEnvelope(commandType, payload)
	if err != nil {
		return err
	}

	dedupeKey := middleware.GetReqID(r.Context())

	return app.publisher.Publish(r.Context(), envelope, groupKey, dedupeKey)
}

func (app *application) markProcessing(r *http.Request, temporaryID string) {
	err := app.cache.Set(r.Context(), processingKey(temporaryID), []byte("1"), processingMarkerTTL)
	if err != nil {
		app.logger.Error("failed to set processing marker", "temporary_id", temporaryID, "error", err)
	}
}

func (app *application) isProcessing(r *http.Request, temporaryID string) bool {
	_, err := app.cache.Get(r.Context(), processingKey(temporaryID))
	return err == nil
}

func processingKey(temporaryID string) string {
	return "processing:reservation:" + temporaryID
}

// generateTicketCode builds a human-readable ticket reference issued at
// intake time. It is an acknowledgment token, not a proof of seats.
func generateTicketCode(temporaryID string) string {
	timestamp := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	suffix := strings.TrimPrefix(temporaryID, "temp-")
	suffix = strings.ToUpper(strings.ReplaceAll(suffix, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}

	return fmt.Sprintf("TKT-%s-%s-%s", timestamp, random, suffix)
}

func toApiReservation(reservation *domain.Reservation) api.Reservation {
	seats := make([]api.ReservationSeat, len(reservation.Items))
	for i, item := range reservation.Items {
		seats[i] = api.ReservationSeat{
			SeatId:      item.SeatID,
			FunctionId:  item.FunctionID,
			SectionName: item.SectionName,
			Row:         item.SeatRow,
			Number:      item.SeatNumber,
			Price:       item.Price.StringFixed(2),
		}
	}

	return api.Reservation{
		Id:           reservation.ID,
		TemporaryId:  reservation.TemporaryID,
		UserId:       reservation.UserID,
		CustomerName: reservation.CustomerName,
		CustomerDni:  reservation.CustomerDNI,
		ContactEmail: reservation.ContactEmail,
		TotalAmount:  reservation.TotalAmount.StringFixed(2),
		Status:       string(reservation.Status),
		UpdateReason: reservation.UpdateReason,
		CreatedAt:    reservation.CreatedAt,
		UpdatedAt:    reservation.UpdatedAt,
		Seats:        seats,
	}
}

func toApiTimeLimit(timer *domain.HoldTimer) *api.TimeLimit {
	return &api.TimeLimit{
		SecondsElapsed: timer.SecondsElapsed,
		TimeLimit:      timer.TimeLimit,
		TimeRemaining:  timer.TimeRemaining,
		IsExpired:      timer.Expired,
	}
}
