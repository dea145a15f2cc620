package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type CommandType string

const (
	CommandCreateReservation  CommandType = "CREATE_RESERVATION"
	CommandConfirmReservation CommandType = "CONFIRM_RESERVATION"
	CommandCancelReservation  CommandType = "CANCEL_RESERVATION"
	CommandExpireReservation  CommandType = "EXPIRE_RESERVATION"
)

func (t CommandType) Valid() bool {
	switch t {
	case CommandCreateReservation, CommandConfirmReservation, CommandCancelReservation, CommandExpireReservation:
		return true
	}
	return false
}

// CommandEnvelope is the only message shape the queue carries. Anything that
// does not decode into it is rejected instead of guessed at.
type CommandEnvelope struct {
	Type        CommandType     `json:"commandType"`
	Data        json.RawMessage `json:"data"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// CreateReservationCommand is the payload of a CREATE_RESERVATION envelope.
type CreateReservationCommand struct {
	TemporaryID  string `json:"temporaryReservationId"`
	UserID       *int   `json:"userId,omitempty"`
	CustomerName string `json:"customerName"`
	CustomerDNI  string `json:"customerDni"`
	ContactEmail string `json:"contactEmail"`
	FunctionID   int    `json:"functionId"`
	SeatIDs      []int  `json:"seatIds"`
}

// ReservationRefCommand is the payload shared by the confirm, cancel and
// expire envelopes.
type ReservationRefCommand struct {
	ReservationID int    `json:"reservationId"`
	Reason        string `json:"reason,omitempty"`
}

// NewCommandEnvelope marshals payload into a versioned envelope stamped with
// the submission time.
func NewCommandEnvelope(commandType CommandType, payload any) (CommandEnvelope, error) {
	if !commandType.Valid() {
		return CommandEnvelope{}, fmt.Errorf("%w: unknown command type %q", ErrInvalidCommand, commandType)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal %s payload: %w", commandType, err)
	}

	return CommandEnvelope{
		Type:        commandType,
		Data:        data,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// DecodeCommandEnvelope parses raw queue bytes into an envelope, enforcing the
// strict schema: a known command type and a non-empty data object.
func DecodeCommandEnvelope(raw []byte) (CommandEnvelope, error) {
	var envelope CommandEnvelope

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return CommandEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	if !envelope.Type.Valid() {
		return CommandEnvelope{}, fmt.Errorf("%w: unknown command type %q", ErrInvalidCommand, envelope.Type)
	}

	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return CommandEnvelope{}, fmt.Errorf("%w: %s envelope without data", ErrInvalidCommand, envelope.Type)
	}

	return envelope, nil
}

// CreatePayload decodes and validates the data of a CREATE_RESERVATION
// envelope.
func (e CommandEnvelope) CreatePayload() (CreateReservationCommand, error) {
	var cmd CreateReservationCommand

	if e.Type != CommandCreateReservation {
		return cmd, fmt.Errorf("%w: %s envelope has no create payload", ErrInvalidCommand, e.Type)
	}

	if err := json.Unmarshal(e.Data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	switch {
	case cmd.TemporaryID == "":
		return cmd, fmt.Errorf("%w: missing temporaryReservationId", ErrInvalidCommand)
	case cmd.CustomerName == "" || cmd.CustomerDNI == "" || cmd.ContactEmail == "":
		return cmd, fmt.Errorf("%w: missing customer fields", ErrInvalidCommand)
	case cmd.FunctionID < 1:
		return cmd, fmt.Errorf("%w: missing functionId", ErrInvalidCommand)
	case len(cmd.SeatIDs) == 0:
		return cmd, fmt.Errorf("%w: empty seatIds", ErrInvalidCommand)
	}

	return cmd, nil
}

// RefPayload decodes and validates the data of a confirm, cancel or expire
// envelope.
func (e CommandEnvelope) RefPayload() (ReservationRefCommand, error) {
	var cmd ReservationRefCommand

	if e.Type == CommandCreateReservation {
		return cmd, fmt.Errorf("%w: create envelope has no reservation reference", ErrInvalidCommand)
	}

	if err := json.Unmarshal(e.Data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	if cmd.ReservationID < 1 {
		return cmd, fmt.Errorf("%w: missing reservationId", ErrInvalidCommand)
	}

	return cmd, nil
}

// GroupKey returns the ordering partition key: the temporary id for create
// commands, the reservation id otherwise. Commands sharing a group key must
// never be processed concurrently or out of submission order.
func (e CommandEnvelope) GroupKey() (string, error) {
	if e.Type == CommandCreateReservation {
		cmd, err := e.CreatePayload()
		if err != nil {
			return "", err
		}
		return cmd.TemporaryID, nil
	}

	cmd, err := e.RefPayload()
	if err != nil {
		return "", err
	}
	return strconv.Itoa(cmd.ReservationID), nil
}
