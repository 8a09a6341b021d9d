package events

import (
	"context"
	"fmt"
)

// StreamProcessor derives zero or more events from one incoming event. It is
// pure with respect to the bus: it never publishes directly, it returns the
// events to publish. Unrecognized event types must yield an empty slice, not
// an error.
type StreamProcessor interface {
	Process(ctx context.Context, event DomainEvent) ([]DomainEvent, error)
}

// StreamConfig describes a stream: a subscription whose handler runs a
// processor and republishes its output to a fixed topic.
type StreamConfig struct {
	Name        string
	InputTopics []string
	OutputTopic string
	Processor   StreamProcessor
}

// CreateStream wires a StreamConfig into a subscription. The stream's name is
// its subscription id, so stream names share the uniqueness rule.
func (b *KafkaBus) CreateStream(ctx context.Context, cfg StreamConfig) error {
	if cfg.Processor == nil || cfg.OutputTopic == "" {
		return fmt.Errorf("events: stream %q needs a processor and output topic", cfg.Name)
	}
	return b.Subscribe(ctx, Subscription{
		ID:      cfg.Name,
		Topics:  cfg.InputTopics,
		Handler: newStreamHandler(cfg, b.publishToTopic),
	})
}

// publishFunc decouples the stream handler from the bus for testing.
type publishFunc func(ctx context.Context, topic string, event DomainEvent) error

// newStreamHandler returns the handler that runs the processor and
// republishes every derived event to the stream's output topic. A processor
// error surfaces to the consumer and dead-letters the input message; a
// republish failure follows the publish path's own fail-open rules.
func newStreamHandler(cfg StreamConfig, publish publishFunc) HandlerFunc {
	return func(ctx context.Context, event DomainEvent) error {
		derived, err := cfg.Processor.Process(ctx, event)
		if err != nil {
			return fmt.Errorf("events: stream %s process %s: %w", cfg.Name, event.EventID, err)
		}
		for _, out := range derived {
			if err := publish(ctx, cfg.OutputTopic, out); err != nil {
				return fmt.Errorf("events: stream %s republish: %w", cfg.Name, err)
			}
		}
		return nil
	}
}
