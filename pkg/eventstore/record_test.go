package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deskhive/deskhive/pkg/events"
)

func ticketEvent(eventID, aggregateID string) events.DomainEvent {
	return events.DomainEvent{
		EventID:       eventID,
		EventType:     events.EventTicketCreated,
		AggregateID:   aggregateID,
		AggregateType: events.AggregateTicket,
		TenantID:      "tenant-a",
		EventData:     json.RawMessage(`{"subject":"refund"}`),
		Metadata:      events.Metadata{Source: "ticket-service"},
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:       events.EventSchemaVersion,
	}
}

func TestGroupByAggregate_PreservesOrder(t *testing.T) {
	batch := []events.DomainEvent{
		ticketEvent("e1", "t1"),
		ticketEvent("e2", "t2"),
		ticketEvent("e3", "t1"),
		ticketEvent("e4", "t2"),
	}

	order, groups := groupByAggregate(batch)

	if len(order) != 2 {
		t.Fatalf("got %d aggregates, want 2", len(order))
	}
	if order[0].aggregateID != "t1" || order[1].aggregateID != "t2" {
		t.Errorf("aggregate order: got %v", order)
	}

	t1 := groups[aggregateKey{"ticket", "t1"}]
	if len(t1) != 2 || t1[0].EventID != "e1" || t1[1].EventID != "e3" {
		t.Errorf("t1 group out of order: %v", t1)
	}
	t2 := groups[aggregateKey{"ticket", "t2"}]
	if len(t2) != 2 || t2[0].EventID != "e2" || t2[1].EventID != "e4" {
		t.Errorf("t2 group out of order: %v", t2)
	}
}

func TestGroupByAggregate_SameIDDifferentType(t *testing.T) {
	conv := ticketEvent("e2", "x1")
	conv.AggregateType = events.AggregateConversation

	order, groups := groupByAggregate([]events.DomainEvent{ticketEvent("e1", "x1"), conv})

	if len(order) != 2 {
		t.Fatalf("aggregates of different types must not share a group, got %d", len(order))
	}
	if len(groups[aggregateKey{"ticket", "x1"}]) != 1 {
		t.Error("ticket group should hold one event")
	}
	if len(groups[aggregateKey{"conversation", "x1"}]) != 1 {
		t.Error("conversation group should hold one event")
	}
}

func TestValidateForSave_ReservedType(t *testing.T) {
	e := ticketEvent("e1", "t1")
	e.EventType = SnapshotEventType
	if err := validateForSave(e); !errors.Is(err, ErrReservedEventType) {
		t.Fatalf("expected ErrReservedEventType, got %v", err)
	}
}

func TestValidateForSave_InvalidEnvelope(t *testing.T) {
	e := ticketEvent("e1", "t1")
	e.TenantID = ""
	if err := validateForSave(e); !errors.Is(err, events.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	e := ticketEvent("e1", "t1")
	e.CorrelationID = "corr-1"
	e.CausationID = "cause-1"

	rec := newRecord(e)
	rec.AggregateVersion = 7
	got := rec.ToDomainEvent()

	if got.EventID != e.EventID || got.EventType != e.EventType {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.AggregateType != e.AggregateType || got.AggregateID != e.AggregateID {
		t.Errorf("aggregate mismatch: %+v", got)
	}
	if got.TenantID != e.TenantID || got.CorrelationID != "corr-1" || got.CausationID != "cause-1" {
		t.Errorf("lineage mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(e.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, e.Timestamp)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("replayed event must be valid: %v", err)
	}
}

func TestNewRecord_NoVersionFromCaller(t *testing.T) {
	rec := newRecord(ticketEvent("e1", "t1"))
	if rec.AggregateVersion != 0 {
		t.Errorf("version must be unassigned until save, got %d", rec.AggregateVersion)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(fmt.Errorf("eventstore: insert e1: %w", pgErr)) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("plain errors are not unique violations")
	}
	if isUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40001"})) {
		t.Error("serialization failure is not a unique violation")
	}
}
