package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// groupHandler adapts one Subscription to sarama's consumer-group callbacks.
// sarama runs one ConsumeClaim goroutine per claimed partition; the semaphore
// bounds how many partitions are processed concurrently (default 3).
//
// Failure handling per message:
//   - unparseable or invariant-violating payloads are logged and dropped
//   - handler errors route the original message to the dead-letter topic
//
// The offset is always marked, so one bad message never stalls a partition.
// Session heartbeats run in sarama's background loop, keeping the consumer in
// the group across slow handlers up to MaxProcessingTime.
type groupHandler struct {
	bus *KafkaBus
	sub Subscription
	sem chan struct{}
}

var _ sarama.ConsumerGroupHandler = (*groupHandler)(nil)

func newGroupHandler(bus *KafkaBus, sub Subscription, partitionConcurrency int) *groupHandler {
	if partitionConcurrency < 1 {
		partitionConcurrency = defaultPartitionCap
	}
	return &groupHandler{
		bus: bus,
		sub: sub,
		sem: make(chan struct{}, partitionConcurrency),
	}
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.bus.log.Info("events: consumer session started",
		"subscription", h.sub.ID, "claims", session.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.bus.log.Info("events: consumer session ended", "subscription", h.sub.ID)
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.sem <- struct{}{}
	defer func() { <-h.sem }()

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processMessage(session, msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// processMessage parses, validates, and handles one message. Never returns an
// error: failures end in a drop or a dead-letter forward and consumption
// continues.
func (h *groupHandler) processMessage(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	ctx := extractTraceContext(session.Context(), msg)

	event, err := parseEvent(msg.Value)
	if err != nil {
		h.bus.log.WarnContext(ctx, "events: dropping malformed message",
			"subscription", h.sub.ID,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"error", err)
		return
	}

	consumedTotal.WithLabelValues(h.sub.ID).Inc()
	if err := h.sub.Handler(ctx, event); err != nil {
		h.bus.log.ErrorContext(ctx, "events: handler failed, routing to dead letter",
			"subscription", h.sub.ID, "event_id", event.EventID,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"error", err)
		h.sendToDeadLetter(ctx, msg, err)
	}
}

// sendToDeadLetter forwards the original message, byte for byte, to the
// dead-letter topic with failure-context headers appended. Best effort: a DLQ
// send failure is logged, never propagated.
func (h *groupHandler) sendToDeadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) {
	if !h.bus.connected.Load() {
		h.bus.log.ErrorContext(ctx, "events: bus not connected, dead-letter message lost",
			"topic", msg.Topic, "offset", msg.Offset)
		return
	}
	dlq := buildDeadLetterMessage(msg, cause)
	if _, _, err := h.bus.producer.SendMessage(dlq); err != nil {
		h.bus.log.ErrorContext(ctx, "events: dead-letter send failed",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}
	deadLetteredTotal.WithLabelValues(msg.Topic).Inc()
}

// parseEvent decodes and validates a consumed message body.
func parseEvent(body []byte) (DomainEvent, error) {
	var event DomainEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return DomainEvent{}, err
	}
	if err := event.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return event, nil
}

// buildDeadLetterMessage copies the failed message's key, value, and headers,
// then appends original-topic, error-message, error-timestamp, and an
// incremented processing-attempts counter.
func buildDeadLetterMessage(msg *sarama.ConsumerMessage, cause error) *sarama.ProducerMessage {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+4)
	attempts := 1
	for _, hdr := range msg.Headers {
		if hdr == nil {
			continue
		}
		if string(hdr.Key) == HeaderAttempts {
			if n, err := strconv.Atoi(string(hdr.Value)); err == nil {
				attempts = n + 1
			}
			continue
		}
		headers = append(headers, *hdr)
	}
	headers = append(headers,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(msg.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
		sarama.RecordHeader{Key: []byte(HeaderErrorTimestamp), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		sarama.RecordHeader{Key: []byte(HeaderAttempts), Value: []byte(strconv.Itoa(attempts))},
	)

	return &sarama.ProducerMessage{
		Topic:   TopicDeadLetter,
		Key:     sarama.ByteEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
	}
}

// extractTraceContext restores the publisher's OTel trace from message
// headers so handler spans join the original trace.
func extractTraceContext(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	carrier := propagation.MapCarrier{}
	for _, hdr := range msg.Headers {
		if hdr != nil {
			carrier[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
