package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/teatrolive/reservation-engine/internal/domain"
	"github.com/teatrolive/reservation-engine/internal/repository"
	"github.com/teatrolive/reservation-engine/internal/workflow"
)

const DefaultRetryCeiling = 3

// CommandExecutor is the workflow surface the dispatcher drives. Satisfied by
// workflow.Processor.
type CommandExecutor interface {
	CreateReservation(ctx context.Context, cmd domain.CreateReservationCommand) (*workflow.Outcome, error)
	ConfirmReservation(ctx context.Context, reservationID int) (*workflow.Outcome, error)
	CancelReservation(ctx context.Context, reservationID int, reason string) (*workflow.Outcome, error)
	ExpireReservation(ctx context.Context, reservationID int, reason string) (*workflow.Outcome, error)
}

type DispatcherConfig struct {
	Partitions   int
	RetryCeiling int
}

// Dispatcher consumes the partition topics and hands each command to the
// executor. One handler per partition keeps commands for a reservation
// strictly ordered; failed messages are retried up to the ceiling and then
// parked on the poison topic.
type Dispatcher struct {
	router    *message.Router
	executor  CommandExecutor
	logger    *slog.Logger
	processed metric.Int64Counter
}

func NewDispatcher(
	cfg DispatcherConfig,
	subscriber message.Subscriber,
	poisonPublisher message.Publisher,
	executor CommandExecutor,
	logger *slog.Logger) (*Dispatcher, error) {

	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultPartitions
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}

	watermillLogger := watermill.NewSlogLogger(logger)

	router, err := message.NewRouter(message.RouterConfig{}, watermillLogger)
	if err != nil {
		return nil, fmt.Errorf("create command router: %w", err)
	}

	processed, err := otel.Meter("reservation-engine/messaging").Int64Counter(
		"commands_processed_total",
		metric.WithDescription("Reservation commands consumed, by type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create command counter: %w", err)
	}

	d := &Dispatcher{
		router:    router,
		executor:  executor,
		logger:    logger,
		processed: processed,
	}

	poison, err := middleware.PoisonQueue(poisonPublisher, PoisonTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	router.AddMiddleware(d.logging)
	router.AddMiddleware(poison)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      cfg.RetryCeiling,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Logger:          watermillLogger,
	}.Middleware)

	for i := 0; i < cfg.Partitions; i++ {
		router.AddNoPublisherHandler(
			fmt.Sprintf("reservation_commands_%02d", i),
			PartitionTopic(i),
			subscriber,
			d.handle,
		)
	}

	return d, nil
}

// Run blocks consuming commands until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.router.Run(ctx)
}

// Running is closed once all handlers have started.
func (d *Dispatcher) Running() chan struct{} {
	return d.router.Running()
}

func (d *Dispatcher) Close() error {
	return d.router.Close()
}

// handle decodes and executes one command. Returning nil acknowledges the
// message; returning an error sends it through retry and, at the ceiling, to
// the poison topic. Malformed or permanently unprocessable commands are
// acknowledged immediately so they cannot wedge their partition.
func (d *Dispatcher) handle(msg *message.Message) error {
	ctx := msg.Context()

	envelope, err := domain.DecodeCommandEnvelope(msg.Payload)
	if err != nil {
		d.logger.Error("rejecting malformed command message", "message_id", msg.UUID, "error", err)
		d.count(ctx, "unknown", "rejected")
		return nil
	}

	outcome, err := d.execute(ctx, envelope)

	switch {
	case err == nil:
		d.count(ctx, string(envelope.Type), string(outcome.Code))
		return nil
	case errors.Is(err, domain.ErrInvalidCommand):
		d.logger.Error("rejecting invalid command payload",
			"message_id", msg.UUID, "command_type", envelope.Type, "error", err)
		d.count(ctx, string(envelope.Type), "rejected")
		return nil
	case errors.Is(err, domain.ErrRecordNotFound):
		d.logger.Error("dropping command for unknown reservation",
			"message_id", msg.UUID, "command_type", envelope.Type, "error", err)
		d.count(ctx, string(envelope.Type), "not_found")
		return nil
	case repository.IsTransientStoreError(err):
		d.count(ctx, string(envelope.Type), "failed")
		return err
	default:
		// Permanent store failures are not retried: redelivery would hit the
		// same constraint or data error again.
		d.logger.Error("dropping command after permanent store failure",
			"message_id", msg.UUID, "command_type", envelope.Type, "error", err)
		d.count(ctx, string(envelope.Type), "dropped")
		return nil
	}
}

func (d *Dispatcher) execute(ctx context.Context, envelope domain.CommandEnvelope) (*workflow.Outcome, error) {
	switch envelope.Type {
	case domain.CommandCreateReservation:
		cmd, err := envelope.CreatePayload()
		if err != nil {
			return nil, err
		}
		return d.executor.CreateReservation(ctx, cmd)

	case domain.CommandConfirmReservation:
		cmd, err := envelope.RefPayload()
		if err != nil {
			return nil, err
		}
		return d.executor.ConfirmReservation(ctx, cmd.ReservationID)

	case domain.CommandCancelReservation:
		cmd, err := envelope.RefPayload()
		if err != nil {
			return nil, err
		}
		return d.executor.CancelReservation(ctx, cmd.ReservationID, cmd.Reason)

	case domain.CommandExpireReservation:
		cmd, err := envelope.RefPayload()
		if err != nil {
			return nil, err
		}
		return d.executor.ExpireReservation(ctx, cmd.ReservationID, cmd.Reason)
	}

	return nil, fmt.Errorf("%w: unknown command type %q", domain.ErrInvalidCommand, envelope.Type)
}

func (d *Dispatcher) logging(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()

		produced, err := h(msg)

		logger := d.logger.With(
			"message_id", msg.UUID,
			"command_type", msg.Metadata.Get(metadataCommandType),
			"group_key", msg.Metadata.Get(metadataGroupKey),
			"duration", time.Since(start),
		)

		if err != nil {
			logger.Error("command handling failed", "error", err)
		} else {
			logger.Debug("command handled")
		}

		return produced, err
	}
}

func (d *Dispatcher) count(ctx context.Context, commandType, outcome string) {
	d.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command_type", commandType),
		attribute.String("outcome", outcome),
	))
}
