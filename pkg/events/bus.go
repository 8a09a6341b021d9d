package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/logger"
)

// Message header keys. The dead-letter headers are appended on top of the
// original message's headers when a handler fails.
const (
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
	HeaderAggregateID   = "aggregate-id"
	HeaderTenantID      = "tenant-id"
	HeaderEventVersion  = "event-version"
	HeaderSource        = "source"
	HeaderCorrelationID = "correlation-id"
	HeaderCausationID   = "causation-id"
	HeaderTraceID       = "trace-id"
	HeaderUserID        = "user-id"

	HeaderOriginalTopic  = "original-topic"
	HeaderErrorMessage   = "error-message"
	HeaderErrorTimestamp = "error-timestamp"
	HeaderAttempts       = "processing-attempts"
)

// Health is the operational snapshot returned by Bus.Health.
type Health struct {
	Connected       bool     `json:"connected"`
	Topics          []string `json:"topics"`
	Subscriptions   int      `json:"subscriptions"`
	ActiveConsumers int      `json:"activeConsumers"`
}

// Bus is the domain-event bus contract. KafkaBus is the real implementation;
// NoopBus is selected when ENABLE_KAFKA=false so callers never need to care
// whether a broker exists.
type Bus interface {
	Publish(ctx context.Context, event DomainEvent) error
	PublishBatch(ctx context.Context, events []DomainEvent) error
	Subscribe(ctx context.Context, sub Subscription) error
	Unsubscribe(id string) error
	CreateStream(ctx context.Context, cfg StreamConfig) error
	Health() Health
	Ping(ctx context.Context) error
	Close() error
}

// NewBus returns the bus implementation selected by cfg.EnableKafka.
func NewBus(cfg *config.Config, log logger.Logger) (Bus, error) {
	if !cfg.EnableKafka {
		log.Info("events: kafka disabled, using no-op bus")
		return NewNoopBus(log), nil
	}
	return NewKafkaBus(cfg, log)
}

// KafkaBus is the Kafka-backed event bus. The producer is shared and safe for
// concurrent publishes; each subscription owns an independent consumer group.
//
// Publishing fails open: when the broker is unreachable the event is logged
// and dropped instead of blocking the caller. Callers must not assume
// delivery — guaranteed delivery needs an outbox layered above this bus.
type KafkaBus struct {
	cfg       *config.Config
	log       logger.Logger
	saramaCfg *sarama.Config

	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin

	provisioner *TopicProvisioner
	registry    *subscriptionRegistry

	connected       atomic.Bool
	activeConsumers atomic.Int64
	wg              sync.WaitGroup
}

var _ Bus = (*KafkaBus)(nil)

// NewKafkaBus connects the shared producer and admin client and provisions
// missing topics. A broker that is unreachable at startup leaves the bus in a
// degraded not-connected state (publish becomes a silent no-op) rather than
// failing construction — the host process must come up regardless.
func NewKafkaBus(cfg *config.Config, log logger.Logger) (*KafkaBus, error) {
	sc, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("events: build kafka config: %w", err)
	}
	redirectSaramaLogs(log)

	b := &KafkaBus{
		cfg:       cfg,
		log:       log,
		saramaCfg: sc,
		registry:  newSubscriptionRegistry(),
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers(), sc)
	if err != nil {
		log.Error("events: kafka unreachable, bus degraded to no-op publishing", "error", err)
		b.provisioner = NewTopicProvisioner(nil, cfg, log)
		return b, nil
	}

	admin, err := sarama.NewClusterAdmin(cfg.Brokers(), sc)
	if err != nil {
		log.Error("events: kafka admin client failed, topic provisioning disabled", "error", err)
	}

	b.producer = producer
	b.admin = admin
	b.provisioner = NewTopicProvisioner(admin, cfg, log)
	b.connected.Store(true)
	b.provisioner.EnsureTopics()

	log.Info("events: kafka bus connected",
		"brokers", cfg.Brokers(), "service", cfg.ServiceName)
	return b, nil
}

// Publish sends one domain event to the topic mapped from its aggregate type.
// Invalid events and unmapped aggregate types are rejected; broker failures
// are logged and swallowed (fail-open).
func (b *KafkaBus) Publish(ctx context.Context, event DomainEvent) error {
	if err := event.Validate(); err != nil {
		droppedTotal.WithLabelValues("invalid").Inc()
		b.log.WarnContext(ctx, "events: dropping invalid event",
			"event_type", event.EventType, "error", err)
		return err
	}
	topic, err := TopicForAggregateType(event.AggregateType)
	if err != nil {
		droppedTotal.WithLabelValues("unmapped_aggregate").Inc()
		return err
	}
	return b.publishToTopic(ctx, topic, event)
}

// publishToTopic is the shared send path for Publish and stream republishing.
func (b *KafkaBus) publishToTopic(ctx context.Context, topic string, event DomainEvent) error {
	if !b.connected.Load() {
		droppedTotal.WithLabelValues("disconnected").Inc()
		b.log.DebugContext(ctx, "events: bus not connected, dropping event",
			"event_type", event.EventType, "event_id", event.EventID)
		return nil
	}

	msg, err := buildProducerMessage(ctx, topic, event)
	if err != nil {
		droppedTotal.WithLabelValues("marshal").Inc()
		return err
	}

	if _, _, err := b.producer.SendMessage(msg); err != nil {
		droppedTotal.WithLabelValues("send_failed").Inc()
		b.log.ErrorContext(ctx, "events: send failed, dropping event",
			"topic", topic, "event_id", event.EventID, "error", err)
		// The topic may not exist yet; reconcile in the background.
		go b.provisioner.EnsureTopics()
		return nil
	}

	publishedTotal.WithLabelValues(topic).Inc()
	return nil
}

// PublishBatch groups events by target topic and issues one send per topic,
// all topics concurrently. A failure in one topic's send does not block the
// others; everything is best effort, as with Publish.
func (b *KafkaBus) PublishBatch(ctx context.Context, events []DomainEvent) error {
	batches := make(map[string][]*sarama.ProducerMessage)
	for _, event := range events {
		if err := event.Validate(); err != nil {
			droppedTotal.WithLabelValues("invalid").Inc()
			b.log.WarnContext(ctx, "events: dropping invalid event from batch",
				"event_type", event.EventType)
			continue
		}
		topic, err := TopicForAggregateType(event.AggregateType)
		if err != nil {
			droppedTotal.WithLabelValues("unmapped_aggregate").Inc()
			b.log.WarnContext(ctx, "events: dropping unroutable event from batch",
				"aggregate_type", event.AggregateType)
			continue
		}
		msg, err := buildProducerMessage(ctx, topic, event)
		if err != nil {
			droppedTotal.WithLabelValues("marshal").Inc()
			continue
		}
		batches[topic] = append(batches[topic], msg)
	}

	if len(batches) == 0 {
		return nil
	}
	if !b.connected.Load() {
		dropped := 0
		for _, msgs := range batches {
			dropped += len(msgs)
		}
		droppedTotal.WithLabelValues("disconnected").Add(float64(dropped))
		b.log.DebugContext(ctx, "events: bus not connected, dropping batch", "events", dropped)
		return nil
	}

	var wg sync.WaitGroup
	for topic, msgs := range batches {
		wg.Add(1)
		go func(topic string, msgs []*sarama.ProducerMessage) {
			defer wg.Done()
			if err := b.producer.SendMessages(msgs); err != nil {
				droppedTotal.WithLabelValues("send_failed").Add(float64(len(msgs)))
				b.log.ErrorContext(ctx, "events: batch send failed",
					"topic", topic, "messages", len(msgs), "error", err)
				go b.provisioner.EnsureTopics()
				return
			}
			publishedTotal.WithLabelValues(topic).Add(float64(len(msgs)))
		}(topic, msgs)
	}
	wg.Wait()
	return nil
}

// Subscribe starts one consumer group for the subscription, reading only new
// messages from its topic set. The id must be unused; first writer wins.
func (b *KafkaBus) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.ID == "" || len(sub.Topics) == 0 || sub.Handler == nil {
		return fmt.Errorf("events: subscription needs id, topics, and handler")
	}
	if !b.connected.Load() {
		return fmt.Errorf("events: cannot subscribe %q: bus not connected", sub.ID)
	}

	groupID := b.cfg.ServiceName + "-" + sub.ID
	group, err := sarama.NewConsumerGroup(b.cfg.Brokers(), groupID, b.saramaCfg)
	if err != nil {
		return fmt.Errorf("events: create consumer group %s: %w", groupID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := &consumerEntry{sub: sub, group: group, cancel: cancel}
	if err := b.registry.register(entry); err != nil {
		cancel()
		_ = group.Close()
		return fmt.Errorf("events: subscribe %q: %w", sub.ID, err)
	}

	b.wg.Add(1)
	go b.runConsumer(runCtx, entry)

	b.log.Info("events: subscription registered",
		"subscription", sub.ID, "group", groupID, "topics", sub.Topics)
	return nil
}

// runConsumer drives one consumer group until its context is cancelled.
// Consume returns on every rebalance; the loop re-joins the group.
func (b *KafkaBus) runConsumer(ctx context.Context, entry *consumerEntry) {
	defer b.wg.Done()

	b.activeConsumers.Add(1)
	defer b.activeConsumers.Add(-1)

	handler := newGroupHandler(b, entry.sub, b.cfg.PartitionConcurrency)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := entry.group.Consume(ctx, entry.sub.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			b.log.Error("events: consumer error, rejoining group",
				"subscription", entry.sub.ID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// Unsubscribe stops and removes one subscription's consumer without touching
// the others. Unknown ids are an error.
func (b *KafkaBus) Unsubscribe(id string) error {
	entry, err := b.registry.deregister(id)
	if err != nil {
		return fmt.Errorf("events: unsubscribe %q: %w", id, err)
	}
	entry.cancel()
	if err := entry.group.Close(); err != nil {
		b.log.Error("events: close consumer group", "subscription", id, "error", err)
	}
	b.log.Info("events: subscription removed", "subscription", id)
	return nil
}

// Health reports connectivity, the static topic list, and consumer counts.
// Consumed by the ops health endpoint, not by the bus itself.
func (b *KafkaBus) Health() Health {
	return Health{
		Connected:       b.connected.Load(),
		Topics:          TopicNames(),
		Subscriptions:   b.registry.count(),
		ActiveConsumers: int(b.activeConsumers.Load()),
	}
}

// Ping verifies broker reachability via the admin client.
func (b *KafkaBus) Ping(_ context.Context) error {
	if !b.connected.Load() {
		return fmt.Errorf("events: bus not connected")
	}
	if b.admin == nil {
		return fmt.Errorf("events: no admin client")
	}
	if _, _, err := b.admin.DescribeCluster(); err != nil {
		return fmt.Errorf("events: describe cluster: %w", err)
	}
	return nil
}

// Close disconnects every consumer, then the producer and admin client, in
// parallel. Partial failures are logged but never block the rest of shutdown.
func (b *KafkaBus) Close() error {
	entries := b.registry.drain()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e *consumerEntry) {
			defer wg.Done()
			e.cancel()
			if err := e.group.Close(); err != nil {
				b.log.Error("events: close consumer group",
					"subscription", e.sub.ID, "error", err)
			}
		}(entry)
	}
	wg.Wait()
	b.wg.Wait()

	b.connected.Store(false)
	if b.producer != nil {
		if err := b.producer.Close(); err != nil {
			b.log.Error("events: close producer", "error", err)
		}
	}
	if b.admin != nil {
		if err := b.admin.Close(); err != nil {
			b.log.Error("events: close admin client", "error", err)
		}
	}
	b.log.Info("events: bus closed", "subscriptions_stopped", len(entries))
	return nil
}

// buildProducerMessage serializes the event and derives the message key,
// headers, and timestamp. The message timestamp is the event's own timestamp,
// not wall-clock send time. OTel trace context from ctx is injected as
// headers so consumers can continue the span tree.
func buildProducerMessage(ctx context.Context, topic string, event DomainEvent) (*sarama.ProducerMessage, error) {
	body, err := marshalEvent(event)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(event.PartitionKey()),
		Value:     sarama.ByteEncoder(body),
		Headers:   buildHeaders(ctx, event),
		Timestamp: event.Timestamp,
	}, nil
}

func buildHeaders(ctx context.Context, event DomainEvent) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
		{Key: []byte(HeaderAggregateType), Value: []byte(event.AggregateType)},
		{Key: []byte(HeaderAggregateID), Value: []byte(event.AggregateID)},
		{Key: []byte(HeaderTenantID), Value: []byte(event.TenantID)},
		{Key: []byte(HeaderEventVersion), Value: []byte(event.Version)},
		{Key: []byte(HeaderSource), Value: []byte(event.Metadata.Source)},
	}
	if event.CorrelationID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderCorrelationID), Value: []byte(event.CorrelationID)})
	}
	if event.CausationID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderCausationID), Value: []byte(event.CausationID)})
	}
	if event.Metadata.TraceID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderTraceID), Value: []byte(event.Metadata.TraceID)})
	}
	if event.Metadata.UserID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderUserID), Value: []byte(event.Metadata.UserID)})
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return headers
}
