package events

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
)

// Subscription names a logical consumer: a unique id, the topic set it reads,
// and the handler invoked per message. Exactly one consumer group exists per
// subscription id; re-subscribing the same id is an error.
type Subscription struct {
	ID      string
	Topics  []string
	Handler HandlerFunc
}

// HandlerFunc processes one validated domain event. Returning an error routes
// the originating message to the dead-letter topic; the consumer then moves on.
type HandlerFunc func(ctx context.Context, event DomainEvent) error

// consumerEntry tracks one live consumer group and its cancel handle.
type consumerEntry struct {
	sub    Subscription
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
}

// subscriptionRegistry owns the live subscription → consumer mapping.
// Mutated only by Subscribe/Unsubscribe/Close; first writer wins on duplicate
// registration.
type subscriptionRegistry struct {
	mu      sync.Mutex
	entries map[string]*consumerEntry
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: make(map[string]*consumerEntry)}
}

// register claims the subscription id. Returns ErrDuplicateSubscription if it
// is already held.
func (r *subscriptionRegistry) register(e *consumerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.sub.ID]; exists {
		return ErrDuplicateSubscription
	}
	r.entries[e.sub.ID] = e
	return nil
}

// deregister removes and returns the entry for id, or ErrUnknownSubscription.
func (r *subscriptionRegistry) deregister(id string) (*consumerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrUnknownSubscription
	}
	delete(r.entries, id)
	return e, nil
}

func (r *subscriptionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// drain empties the registry and returns every entry, for parallel shutdown.
func (r *subscriptionRegistry) drain() []*consumerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*consumerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.entries = make(map[string]*consumerEntry)
	return out
}
