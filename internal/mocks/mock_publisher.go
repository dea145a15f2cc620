package mocks

import (
	"context"
	"sync"

	"github.com/teatrolive/reservation-engine/internal/domain"
)

// PublishedCommand records one envelope handed to the mock publisher.
type PublishedCommand struct {
	Envelope  domain.CommandEnvelope
	GroupKey  string
	DedupeKey string
}

type MockPublisher struct {
	mu        sync.Mutex
	commands  []PublishedCommand
	PublishFn func(ctx context.Context, envelope domain.CommandEnvelope, groupKey, dedupeKey string) error
}

func (m *MockPublisher) Publish(ctx context.Context, envelope domain.CommandEnvelope, groupKey, dedupeKey string) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, envelope, groupKey, dedupeKey); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands = append(m.commands, PublishedCommand{
		Envelope:  envelope,
		GroupKey:  groupKey,
		DedupeKey: dedupeKey,
	})

	return nil
}

// Published returns a copy of every recorded command.
func (m *MockPublisher) Published() []PublishedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	commands := make([]PublishedCommand, len(m.commands))
	copy(commands, m.commands)
	return commands
}
