// Package events implements the deskhive event backbone: a Kafka-backed
// at-least-once domain-event bus with idempotent publishing, per-subscription
// consumer groups, dead-letter routing, and stream processing.
//
// Delivery semantics:
//   - Events with the same tenant + aggregate hash to the same partition and
//     are delivered in publish order. No ordering across aggregates.
//   - Publishing is fire-and-forget: a disconnected bus drops events silently
//     rather than blocking callers. Systems that need guaranteed delivery must
//     layer an outbox on top of this bus.
//   - A handler failure routes the message to the dead-letter topic and
//     consumption continues; one bad message never stalls a partition.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deskhive/deskhive/pkg/validator"
)

// Sentinel errors for the events package. Use errors.Is() to check these.
var (
	// ErrInvalidEvent indicates a domain event failed the presence invariant.
	ErrInvalidEvent = errors.New("invalid domain event")

	// ErrUnknownAggregateType indicates no topic is mapped for the aggregate type.
	ErrUnknownAggregateType = errors.New("unknown aggregate type")

	// ErrDuplicateSubscription indicates the subscription id is already registered.
	ErrDuplicateSubscription = errors.New("subscription already registered")

	// ErrUnknownSubscription indicates no subscription exists for the id.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// AggregateType identifies the business entity family an event belongs to.
// Every aggregate type maps to exactly one Kafka topic; events with an
// unmapped aggregate type are rejected at publish time.
type AggregateType string

const (
	AggregateConversation AggregateType = "conversation"
	AggregateTicket       AggregateType = "ticket"
	AggregateCustomer     AggregateType = "customer"
	AggregateAIAnalysis   AggregateType = "ai-analysis"
	AggregateWorkflow     AggregateType = "workflow"
	AggregateSLA          AggregateType = "sla"
	AggregateAnalytics    AggregateType = "analytics"
	AggregateIntegration  AggregateType = "integration"
	AggregateOutbound     AggregateType = "outbound"
)

// Event type constants for the types the backbone itself produces or derives.
// Business services publish many more; these are the ones the stream
// processors and tests reference by name.
const (
	EventMessageReceived   = "conversation.message.received"
	EventTicketCreated     = "ticket.created"
	EventTicketResolved    = "ticket.resolved"
	EventTicketStatus      = "ticket.status.changed"
	EventMessageAnalyzed   = "ai.message.analyzed"
	EventSentimentAnalyzed = "ai.customer.sentiment.analyzed"
	EventMetricCalculated  = "analytics.metric.calculated"
	EventOutboundRequested = "outbound.message.requested"
	EventOutboundDispatch  = "outbound.message.dispatched"
)

// EventSchemaVersion is the current event-schema version stamped on new events.
// This versions the envelope shape, not the aggregate.
const EventSchemaVersion = "1"

// Metadata carries event provenance. Source is mandatory; the rest is
// propagated into message headers when present.
type Metadata struct {
	Source  string `json:"source" validate:"required"`
	TraceID string `json:"traceId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// DomainEvent is the unit of communication on the backbone: an immutable fact
// about something that happened, identified by type, aggregate, and tenant.
// EventData is a tagged union keyed by EventType; decode with Payload.
type DomainEvent struct {
	EventID       string          `json:"eventId" validate:"required"`
	EventType     string          `json:"eventType" validate:"required"`
	AggregateID   string          `json:"aggregateId" validate:"required"`
	AggregateType AggregateType   `json:"aggregateType" validate:"required"`
	TenantID      string          `json:"tenantId" validate:"required"`
	EventData     json.RawMessage `json:"eventData" validate:"required"`
	Metadata      Metadata        `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version" validate:"required"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
}

// NewEvent constructs a DomainEvent with a generated id, the current UTC
// timestamp, and the current schema version. payload is marshaled into
// EventData; a marshal failure is reported, never swallowed.
func NewEvent(eventType string, aggregateType AggregateType, aggregateID, tenantID, source string, payload any) (DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("events: marshal payload for %s: %w", eventType, err)
	}
	return DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		TenantID:      tenantID,
		EventData:     data,
		Metadata:      Metadata{Source: source},
		Timestamp:     time.Now().UTC(),
		Version:       EventSchemaVersion,
	}, nil
}

// Validate enforces the domain-event presence invariant: eventId, eventType,
// aggregateId, aggregateType, tenantId, eventData, metadata.source, and
// timestamp must all be present. An event failing this check is dropped by
// the bus — never stored, never forwarded.
func (e DomainEvent) Validate() error {
	if err := validator.Validate(&e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is zero", ErrInvalidEvent)
	}
	return nil
}

// PartitionKey returns the broker message key "{tenantId}-{aggregateId}".
// Equal keys hash to the same partition, which is what gives per-aggregate
// ordering.
func (e DomainEvent) PartitionKey() string {
	return e.TenantID + "-" + e.AggregateID
}

// marshalEvent serializes the wire body: the JSON-encoded DomainEvent.
func marshalEvent(e DomainEvent) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal event %s: %w", e.EventID, err)
	}
	return body, nil
}

// Payload decodes EventData into the typed payload for the event's type.
func Payload[T any](e DomainEvent) (T, error) {
	var v T
	if err := json.Unmarshal(e.EventData, &v); err != nil {
		return v, fmt.Errorf("events: decode %s payload: %w", e.EventType, err)
	}
	return v, nil
}

// topicByAggregate is the static aggregate-type → topic routing table.
// Outbound dispatch requests travel on the integration topic.
var topicByAggregate = map[AggregateType]string{
	AggregateConversation: TopicConversation,
	AggregateTicket:       TopicTicket,
	AggregateCustomer:     TopicCustomer,
	AggregateAIAnalysis:   TopicAIAnalysis,
	AggregateWorkflow:     TopicWorkflow,
	AggregateSLA:          TopicSLA,
	AggregateAnalytics:    TopicAnalytics,
	AggregateIntegration:  TopicIntegration,
	AggregateOutbound:     TopicIntegration,
}

// TopicForAggregateType resolves the target topic for an aggregate type.
// Unmapped aggregate types are rejected rather than silently routed to a
// default topic, so a new event family cannot be misclassified unnoticed.
func TopicForAggregateType(at AggregateType) (string, error) {
	topic, ok := topicByAggregate[at]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAggregateType, at)
	}
	return topic, nil
}
