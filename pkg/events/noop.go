package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/deskhive/deskhive/pkg/logger"
)

// NoopBus is the implementation selected when ENABLE_KAFKA=false. Publishing
// drops silently; no broker connection is ever attempted. Subscriptions are
// tracked only so the duplicate-id contract still holds for callers that
// register handlers unconditionally.
type NoopBus struct {
	log logger.Logger

	mu   sync.Mutex
	subs map[string]struct{}
}

var _ Bus = (*NoopBus)(nil)

// NewNoopBus returns a bus that accepts every call and delivers nothing.
func NewNoopBus(log logger.Logger) *NoopBus {
	return &NoopBus{log: log, subs: make(map[string]struct{})}
}

func (n *NoopBus) Publish(ctx context.Context, event DomainEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	n.log.DebugContext(ctx, "events: noop bus, event dropped",
		"event_type", event.EventType, "event_id", event.EventID)
	return nil
}

func (n *NoopBus) PublishBatch(ctx context.Context, events []DomainEvent) error {
	accepted := 0
	for _, event := range events {
		if err := event.Validate(); err != nil {
			droppedTotal.WithLabelValues("invalid").Inc()
			n.log.WarnContext(ctx, "events: dropping invalid event from batch",
				"event_type", event.EventType)
			continue
		}
		accepted++
	}
	n.log.DebugContext(ctx, "events: noop bus, batch dropped", "events", accepted)
	return nil
}

func (n *NoopBus) Subscribe(_ context.Context, sub Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.subs[sub.ID]; exists {
		return fmt.Errorf("events: subscribe %q: %w", sub.ID, ErrDuplicateSubscription)
	}
	n.subs[sub.ID] = struct{}{}
	return nil
}

func (n *NoopBus) Unsubscribe(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.subs[id]; !exists {
		return fmt.Errorf("events: unsubscribe %q: %w", id, ErrUnknownSubscription)
	}
	delete(n.subs, id)
	return nil
}

func (n *NoopBus) CreateStream(ctx context.Context, cfg StreamConfig) error {
	return n.Subscribe(ctx, Subscription{ID: cfg.Name})
}

func (n *NoopBus) Health() Health {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Health{
		Connected:     false,
		Topics:        TopicNames(),
		Subscriptions: len(n.subs),
	}
}

// Ping always succeeds: a deliberately disabled bus is healthy.
func (n *NoopBus) Ping(context.Context) error { return nil }

func (n *NoopBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[string]struct{})
	return nil
}
