// Package api holds the request and response shapes of the HTTP surface.
package api

import "time"

type ErrorResponse struct {
	Message   string    `json:"message"`
	RequestId string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ValidationError struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

type ValidationErrorResponse struct {
	Message          string            `json:"message"`
	ValidationErrors []ValidationError `json:"validationErrors"`
	RequestId        string            `json:"requestId,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// SeatsConflictResponse rejects a reservation request whose seats are taken.
type SeatsConflictResponse struct {
	Message          string    `json:"message"`
	UnavailableSeats []int     `json:"unavailableSeats"`
	RequestId        string    `json:"requestId,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthcheckResponse struct {
	Status     string     `json:"status"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

type CreateReservationRequest struct {
	CustomerName string `json:"customerName" validate:"required,min=2,max=100"`
	CustomerDni  string `json:"customerDni" validate:"required,dni"`
	ContactEmail string `json:"contactEmail" validate:"required,email"`
	FunctionId   int    `json:"functionId" validate:"required,gt=0"`
	SeatIds      []int  `json:"seatIds" validate:"required,min=1,max=10,dive,gt=0"`
	UserId       *int   `json:"userId,omitempty" validate:"omitempty,gt=0"`
}

type Ticket struct {
	Code      string `json:"code"`
	Status    string `json:"status"`
	ExpiresIn string `json:"expiresIn"`
}

type CreateReservationResponse struct {
	Message                string `json:"message"`
	TemporaryReservationId string `json:"temporaryReservationId"`
	Ticket                 Ticket `json:"ticket"`
}

// ReservationStatusResponse answers the status lookup by temporary id. Fields
// other than Status are populated only when they apply to that status.
type ReservationStatusResponse struct {
	Status           string     `json:"status"`
	Message          string     `json:"message,omitempty"`
	ReservationId    *int       `json:"reservationId,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	UnavailableSeats []int      `json:"unavailableSeats,omitempty"`
}

type ReservationSeat struct {
	SeatId      int    `json:"seatId"`
	FunctionId  int    `json:"functionId"`
	SectionName string `json:"sectionName"`
	Row         string `json:"row"`
	Number      int    `json:"number"`
	Price       string `json:"price"`
}

type Reservation struct {
	Id           int               `json:"id"`
	TemporaryId  string            `json:"temporaryId"`
	UserId       *int              `json:"userId,omitempty"`
	CustomerName string            `json:"customerName"`
	CustomerDni  string            `json:"customerDni"`
	ContactEmail string            `json:"contactEmail"`
	TotalAmount  string            `json:"totalAmount"`
	Status       string            `json:"status"`
	UpdateReason *string           `json:"updateReason,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Seats        []ReservationSeat `json:"seats"`
}

type TimeLimit struct {
	SecondsElapsed int  `json:"secondsElapsed"`
	TimeLimit      int  `json:"timeLimit"`
	TimeRemaining  int  `json:"timeRemaining"`
	IsExpired      bool `json:"isExpired"`
}

type ReservationResponse struct {
	Reservation Reservation `json:"reservation"`
	TimeLimit   *TimeLimit  `json:"timeLimit,omitempty"`
}

type TimeLimitResponse struct {
	Message string    `json:"message"`
	Data    TimeLimit `json:"data"`
}

type CancelReservationRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

// CommandAcceptedResponse acknowledges that a confirm or cancel command was
// queued; Status reflects the transition in flight, not the final state.
type CommandAcceptedResponse struct {
	Message       string `json:"message"`
	ReservationId int    `json:"reservationId"`
	Status        string `json:"status"`
}
