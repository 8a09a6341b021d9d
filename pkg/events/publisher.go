package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/logger"
)

// EventFamily names the fixed set of event families the secondary publish
// path serves. Each family maps to one topic and one aggregate type.
type EventFamily string

const (
	FamilyUser       EventFamily = "user"
	FamilyAuth       EventFamily = "auth"
	FamilyTenant     EventFamily = "tenant"
	FamilyInvitation EventFamily = "invitation"
	FamilyTicket     EventFamily = "ticket"
	FamilyMarketing  EventFamily = "marketing"
	FamilyWorkflow   EventFamily = "workflow"
)

// ErrUnknownFamily indicates a publish for a family outside the fixed set.
var ErrUnknownFamily = errors.New("unknown event family")

type familyRoute struct {
	topic     string
	aggregate AggregateType
}

var familyRoutes = map[EventFamily]familyRoute{
	FamilyUser:       {TopicCustomer, AggregateCustomer},
	FamilyAuth:       {TopicCustomer, AggregateCustomer},
	FamilyTenant:     {TopicCustomer, AggregateCustomer},
	FamilyInvitation: {TopicCustomer, AggregateCustomer},
	FamilyTicket:     {TopicTicket, AggregateTicket},
	FamilyMarketing:  {TopicIntegration, AggregateIntegration},
	FamilyWorkflow:   {TopicWorkflow, AggregateWorkflow},
}

// EventPublisher is the narrow publish-only client used by auth, tenant, and
// invitation flows that do not need the full subscription machinery. Same
// header convention and fail-open posture as the main bus.
type EventPublisher struct {
	cfg       *config.Config
	log       logger.Logger
	saramaCfg *sarama.Config
	producer  sarama.SyncProducer
	connected atomic.Bool
}

// NewEventPublisher connects a standalone producer. Like the main bus, an
// unreachable broker degrades to silent no-op publishing instead of failing.
func NewEventPublisher(cfg *config.Config, log logger.Logger) (*EventPublisher, error) {
	p := &EventPublisher{cfg: cfg, log: log}
	if !cfg.EnableKafka {
		log.Info("events: kafka disabled, event publisher inert")
		return p, nil
	}

	sc, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("events: build kafka config: %w", err)
	}
	p.saramaCfg = sc

	producer, err := sarama.NewSyncProducer(cfg.Brokers(), sc)
	if err != nil {
		log.Error("events: publisher cannot reach kafka, publishing disabled", "error", err)
		return p, nil
	}
	p.producer = producer
	p.connected.Store(true)
	return p, nil
}

// PublishEvent sends one event for the given family. The message key is
// "{tenantId}-{userId}", falling back to "system" when no user is involved.
func (p *EventPublisher) PublishEvent(ctx context.Context, family EventFamily, eventType, tenantID, userID string, payload any) error {
	route, ok := familyRoutes[family]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	actor := userID
	if actor == "" {
		actor = "system"
	}
	aggregateID := userID
	if aggregateID == "" {
		aggregateID = tenantID
	}

	event, err := NewEvent(eventType, route.aggregate, aggregateID, tenantID, "event-publisher", payload)
	if err != nil {
		return err
	}
	event.Metadata.UserID = userID
	if err := event.Validate(); err != nil {
		return err
	}

	if !p.connected.Load() {
		droppedTotal.WithLabelValues("disconnected").Inc()
		p.log.DebugContext(ctx, "events: publisher not connected, dropping event",
			"family", family, "event_type", eventType)
		return nil
	}

	msg, err := buildProducerMessage(ctx, route.topic, event)
	if err != nil {
		return err
	}
	msg.Key = sarama.StringEncoder(tenantID + "-" + actor)

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		droppedTotal.WithLabelValues("send_failed").Inc()
		p.log.ErrorContext(ctx, "events: publisher send failed, dropping event",
			"family", family, "event_type", eventType, "error", err)
		return nil
	}
	publishedTotal.WithLabelValues(route.topic).Inc()
	return nil
}

// SubscribeToEvents starts a raw consumer for callers that do not need
// dead-letter routing: malformed messages are dropped, handler errors are
// logged, and consumption always continues. Runs until ctx is cancelled.
func (p *EventPublisher) SubscribeToEvents(ctx context.Context, topics []string, handler HandlerFunc) error {
	if p.saramaCfg == nil {
		return fmt.Errorf("events: publisher has no kafka configuration")
	}
	groupID := p.cfg.ServiceName + "-raw-consumer"
	group, err := sarama.NewConsumerGroup(p.cfg.Brokers(), groupID, p.saramaCfg)
	if err != nil {
		return fmt.Errorf("events: create raw consumer group %s: %w", groupID, err)
	}

	go func() {
		defer group.Close() //nolint:errcheck
		h := &rawHandler{log: p.log, handler: handler}
		for {
			if ctx.Err() != nil {
				return
			}
			if err := group.Consume(ctx, topics, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				p.log.Error("events: raw consumer error", "error", err)
			}
		}
	}()
	return nil
}

// Close shuts down the producer. Safe on an inert publisher.
func (p *EventPublisher) Close() error {
	p.connected.Store(false)
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("events: close publisher: %w", err)
	}
	return nil
}

// rawHandler delivers messages without DLQ or heartbeat machinery.
type rawHandler struct {
	log     logger.Logger
	handler HandlerFunc
}

func (h *rawHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *rawHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *rawHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var event DomainEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			h.log.Warn("events: raw consumer dropping malformed message",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.handler(session.Context(), event); err != nil {
			h.log.Error("events: raw consumer handler failed",
				"topic", msg.Topic, "event_id", event.EventID, "error", err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
