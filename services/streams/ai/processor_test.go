package ai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/logger"
)

func nopLogger() logger.Logger {
	return logger.New(&config.Config{LogLevel: "error"})
}

func messageEvent(content, senderRole string) events.DomainEvent {
	data, _ := json.Marshal(events.MessageReceivedPayload{
		ConversationID: "c1",
		Content:        content,
		SenderRole:     senderRole,
		Channel:        "email",
	})
	return events.DomainEvent{
		EventID:       "evt-1",
		EventType:     events.EventMessageReceived,
		AggregateID:   "c1",
		AggregateType: events.AggregateConversation,
		TenantID:      "tenant-a",
		EventData:     data,
		Metadata:      events.Metadata{Source: "conversation-service"},
		Timestamp:     time.Now().UTC(),
		Version:       events.EventSchemaVersion,
	}
}

type failingProvider struct{}

func (failingProvider) Analyze(context.Context, string) (Analysis, error) {
	return Analysis{}, errors.New("model offline")
}

func TestProcess_MessageAnalyzed(t *testing.T) {
	p := NewProcessor(NewHeuristicProvider(), nopLogger())

	out, err := p.Process(context.Background(), messageEvent("How do I change my plan?", "customer"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d events, want 1 analyzed event", len(out))
	}
	if out[0].EventType != events.EventMessageAnalyzed {
		t.Errorf("event type: got %q", out[0].EventType)
	}
	if out[0].AggregateType != events.AggregateAIAnalysis {
		t.Errorf("aggregate type: got %q", out[0].AggregateType)
	}
	payload, err := events.Payload[events.MessageAnalyzedPayload](out[0])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Intent != "question" {
		t.Errorf("intent: got %q", payload.Intent)
	}
	if payload.SentimentLabel != "neutral" {
		t.Errorf("sentiment label: got %q", payload.SentimentLabel)
	}
	if payload.Language != "en" {
		t.Errorf("language: got %q", payload.Language)
	}
}

func TestProcess_NegativeCustomerMessageEmitsSentimentEvent(t *testing.T) {
	p := NewProcessor(NewHeuristicProvider(), nopLogger())

	out, err := p.Process(context.Background(),
		messageEvent("This is unacceptable, absolutely terrible service. I want a refund and will cancel.", "customer"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d events, want analyzed + sentiment", len(out))
	}
	if out[1].EventType != events.EventSentimentAnalyzed {
		t.Errorf("second event type: got %q", out[1].EventType)
	}
	payload, err := events.Payload[events.SentimentAnalyzedPayload](out[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ChurnRisk <= 0 {
		t.Errorf("churn risk: got %v, want > 0", payload.ChurnRisk)
	}
	if len(payload.RiskFactors) == 0 {
		t.Error("expected risk factors")
	}
}

func TestProcess_NegativeAgentMessageNoSentimentEvent(t *testing.T) {
	p := NewProcessor(NewHeuristicProvider(), nopLogger())

	out, err := p.Process(context.Background(),
		messageEvent("This is unacceptable, absolutely terrible. I hate this broken refund flow.", "agent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("agent messages must not trigger sentiment events, got %d events", len(out))
	}
}

func TestProcess_TicketCreatedClassified(t *testing.T) {
	p := NewProcessor(NewHeuristicProvider(), nopLogger())

	data, _ := json.Marshal(events.TicketCreatedPayload{
		Subject:     "Refund for order ORD-4417",
		Description: "I was charged twice, please refund the duplicate payment.",
		Priority:    "high",
	})
	event := messageEvent("", "customer")
	event.EventType = events.EventTicketCreated
	event.AggregateType = events.AggregateTicket
	event.EventData = data

	out, err := p.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d events, want 1", len(out))
	}
	payload, err := events.Payload[events.MessageAnalyzedPayload](out[0])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Intent != "refund_request" {
		t.Errorf("intent: got %q", payload.Intent)
	}
	if payload.Category != "billing" {
		t.Errorf("category: got %q", payload.Category)
	}
	found := false
	for _, ent := range payload.Entities {
		if ent.Type == "order_id" && ent.Value == "ORD-4417" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected order_id entity, got %v", payload.Entities)
	}
}

func TestProcess_ProviderFailureSkipsEvent(t *testing.T) {
	p := NewProcessor(failingProvider{}, nopLogger())

	out, err := p.Process(context.Background(), messageEvent("hello", "customer"))
	if err != nil {
		t.Fatalf("provider failures must not propagate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d events, want none", len(out))
	}
}

func TestProcess_UnrelatedTypeIgnored(t *testing.T) {
	p := NewProcessor(NewHeuristicProvider(), nopLogger())

	event := messageEvent("anything", "customer")
	event.EventType = events.EventTicketResolved

	out, err := p.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d events, want none", len(out))
	}
}

func TestHeuristicProvider_Deterministic(t *testing.T) {
	provider := NewHeuristicProvider()
	text := "Urgent: production down, this is critical and unacceptable!"

	first, _ := provider.Analyze(context.Background(), text)
	second, _ := provider.Analyze(context.Background(), text)

	if first.Intent != second.Intent || first.SentimentScore != second.SentimentScore ||
		first.UrgencyScore != second.UrgencyScore {
		t.Errorf("analysis differs across runs: %+v vs %+v", first, second)
	}
	if first.UrgencyLevel != "critical" {
		t.Errorf("urgency level: got %q", first.UrgencyLevel)
	}
}
