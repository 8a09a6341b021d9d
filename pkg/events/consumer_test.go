package events

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
)

func TestParseEvent_Malformed(t *testing.T) {
	if _, err := parseEvent([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestParseEvent_InvariantViolation(t *testing.T) {
	// Parses fine but is missing tenantId: must be rejected, not handled.
	body := []byte(`{"eventId":"e1","eventType":"ticket.created","aggregateId":"t1","aggregateType":"ticket","eventData":{},"metadata":{"source":"x"},"timestamp":"2026-03-01T12:00:00Z","version":"1"}`)
	if _, err := parseEvent(body); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestBuildDeadLetterMessage_PreservesPayload(t *testing.T) {
	original := &sarama.ConsumerMessage{
		Topic:     TopicTicket,
		Partition: 2,
		Offset:    41,
		Key:       []byte("tenant-a-t1"),
		Value:     []byte(`{"eventId":"e1"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte("ticket.created")},
		},
	}

	dlq := buildDeadLetterMessage(original, errors.New("handler exploded"))

	if dlq.Topic != TopicDeadLetter {
		t.Errorf("topic: got %q", dlq.Topic)
	}
	body, _ := dlq.Value.Encode()
	if !bytes.Equal(body, original.Value) {
		t.Error("dead-letter payload must be byte-identical to the original")
	}
	key, _ := dlq.Key.Encode()
	if !bytes.Equal(key, original.Key) {
		t.Error("dead-letter key must match the original")
	}

	want := map[string]string{
		HeaderOriginalTopic: TopicTicket,
		HeaderErrorMessage:  "handler exploded",
		HeaderEventType:     "ticket.created",
		HeaderAttempts:      "1",
	}
	for key, wantVal := range want {
		found := false
		for _, h := range dlq.Headers {
			if string(h.Key) == key {
				found = true
				if string(h.Value) != wantVal {
					t.Errorf("header %q: got %q, want %q", key, h.Value, wantVal)
				}
			}
		}
		if !found {
			t.Errorf("missing header %q", key)
		}
	}

	hasTimestamp := false
	for _, h := range dlq.Headers {
		if string(h.Key) == HeaderErrorTimestamp && len(h.Value) > 0 {
			hasTimestamp = true
		}
	}
	if !hasTimestamp {
		t.Error("missing error-timestamp header")
	}
}

func TestBuildDeadLetterMessage_IncrementsAttempts(t *testing.T) {
	original := &sarama.ConsumerMessage{
		Topic: TopicTicket,
		Value: []byte(`{}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderAttempts), Value: []byte("2")},
		},
	}

	dlq := buildDeadLetterMessage(original, errors.New("again"))

	attempts := ""
	count := 0
	for _, h := range dlq.Headers {
		if string(h.Key) == HeaderAttempts {
			attempts = string(h.Value)
			count++
		}
	}
	if attempts != "3" {
		t.Errorf("attempts: got %q, want 3", attempts)
	}
	if count != 1 {
		t.Errorf("attempts header duplicated %d times", count)
	}
}

func TestExtractTraceContext_NoHeaders(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: TopicTicket}
	ctx := extractTraceContext(context.Background(), msg)
	if ctx == nil {
		t.Fatal("expected a context")
	}
}
