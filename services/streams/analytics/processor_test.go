package analytics

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/logger"
)

func newProcessor() *Processor {
	return NewProcessor(logger.New(&config.Config{LogLevel: "error"}))
}

func srcEvent(eventType string, payload any) events.DomainEvent {
	data, _ := json.Marshal(payload)
	return events.DomainEvent{
		EventID:       "evt-1",
		EventType:     eventType,
		AggregateID:   "t1",
		AggregateType: events.AggregateTicket,
		TenantID:      "tenant-a",
		EventData:     data,
		Metadata:      events.Metadata{Source: "ticket-service"},
		Timestamp:     time.Now().UTC(),
		Version:       events.EventSchemaVersion,
	}
}

func decodeMetric(t *testing.T, e events.DomainEvent) events.MetricPayload {
	t.Helper()
	if e.EventType != events.EventMetricCalculated {
		t.Fatalf("derived event type: got %q", e.EventType)
	}
	if e.AggregateType != events.AggregateAnalytics {
		t.Fatalf("derived aggregate type: got %q", e.AggregateType)
	}
	p, err := events.Payload[events.MetricPayload](e)
	if err != nil {
		t.Fatalf("decode metric payload: %v", err)
	}
	return p
}

func TestProcess_TicketResolved(t *testing.T) {
	out, err := newProcessor().Process(context.Background(), srcEvent(events.EventTicketResolved,
		events.TicketResolvedPayload{ResolutionTime: 3600, FirstContactResolution: true, ResolvedBy: "agent-7"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d metric events, want 2", len(out))
	}

	counter := decodeMetric(t, out[0])
	if counter.Name != "tickets_resolved_total" || counter.Type != events.MetricCounter || counter.Value != 1 {
		t.Errorf("counter: %+v", counter)
	}
	if counter.Dimensions["first_contact_resolution"] != "true" {
		t.Errorf("counter dimensions: %v", counter.Dimensions)
	}

	histogram := decodeMetric(t, out[1])
	if histogram.Name != "ticket_resolution_time" || histogram.Type != events.MetricHistogram || histogram.Value != 3600 {
		t.Errorf("histogram: %+v", histogram)
	}
}

func TestProcess_MessageReceived(t *testing.T) {
	out, err := newProcessor().Process(context.Background(), srcEvent(events.EventMessageReceived,
		events.MessageReceivedPayload{ConversationID: "c1", Content: "hi", SenderRole: "customer", Channel: "email"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d metric events, want 1", len(out))
	}
	m := decodeMetric(t, out[0])
	if m.Name != "messages_received_total" || m.Dimensions["channel"] != "email" || m.Dimensions["sender_role"] != "customer" {
		t.Errorf("metric: %+v", m)
	}
}

func TestProcess_UnknownTypeCountsGenerically(t *testing.T) {
	out, err := newProcessor().Process(context.Background(), srcEvent("sla.breach.warning", map[string]string{"slaId": "s1"}))
	if err != nil {
		t.Fatalf("unknown types must not error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d metric events, want 1", len(out))
	}
	m := decodeMetric(t, out[0])
	if m.Name != "events_processed_total" || m.Dimensions["event_type"] != "sla.breach.warning" {
		t.Errorf("metric: %+v", m)
	}
}

func TestProcess_Deterministic(t *testing.T) {
	src := srcEvent(events.EventTicketResolved,
		events.TicketResolvedPayload{ResolutionTime: 120, FirstContactResolution: false})

	first, err := newProcessor().Process(context.Background(), src)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := newProcessor().Process(context.Background(), src)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	for i := range first {
		a := decodeMetric(t, first[i])
		b := decodeMetric(t, second[i])
		if !reflect.DeepEqual(a, b) {
			t.Errorf("run %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestProcess_LineagePropagated(t *testing.T) {
	src := srcEvent(events.EventTicketCreated,
		events.TicketCreatedPayload{Subject: "refund", Priority: "high", Channel: "email"})
	src.CorrelationID = "corr-1"

	out, err := newProcessor().Process(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d events, want 1", len(out))
	}
	if out[0].CorrelationID != "corr-1" {
		t.Errorf("correlation id: got %q", out[0].CorrelationID)
	}
	if out[0].CausationID != src.EventID {
		t.Errorf("causation id: got %q, want %q", out[0].CausationID, src.EventID)
	}
	if out[0].TenantID != src.TenantID {
		t.Errorf("tenant id: got %q", out[0].TenantID)
	}
}
