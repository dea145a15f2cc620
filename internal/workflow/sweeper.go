package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/teatrolive/reservation-engine/internal/domain"
)

const DefaultSweepInterval = time.Minute

// SweepReport summarizes one pass over expired holds.
type SweepReport struct {
	Processed int
	Expired   int
	Skipped   int
	Failed    int
}

// Sweeper periodically expires pending reservations that have outlived the
// hold limit. It is a safety net behind the confirm-time check: each candidate
// goes through the same Expire transition the processor uses, so a reservation
// confirmed between the scan and the expire is left alone.
type Sweeper struct {
	reservations domain.ReservationRepository
	processor    *Processor
	logger       *slog.Logger
	holdLimit    time.Duration
	interval     time.Duration
}

func NewSweeper(
	reservations domain.ReservationRepository,
	processor *Processor,
	logger *slog.Logger,
	holdLimit time.Duration,
	interval time.Duration) *Sweeper {

	if holdLimit <= 0 {
		holdLimit = DefaultHoldLimit
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		reservations: reservations,
		processor:    processor,
		logger:       logger,
		holdLimit:    holdLimit,
		interval:     interval,
	}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("expiration sweeper started",
		"interval", s.interval, "hold_limit", s.holdLimit)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiration sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every pending reservation older than the hold limit. A failure
// on one candidate does not stop the pass; the reservation is retried on the
// next tick.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	ids, err := s.reservations.FindExpired(ctx, s.holdLimit)
	if err != nil {
		s.logger.Error("expiration scan failed", "error", err)
		return report
	}
	if len(ids) == 0 {
		return report
	}

	s.logger.Info("expiring stale reservations", "count", len(ids))

	for _, id := range ids {
		report.Processed++

		outcome, err := s.processor.ExpireReservation(ctx, id, "reservation expired automatically")
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("failed to expire reservation", "reservation_id", id, "error", err)
		case outcome.Code == OutcomeNoOp:
			report.Skipped++
		default:
			report.Expired++
		}
	}

	return report
}
