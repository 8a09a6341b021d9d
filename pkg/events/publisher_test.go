package events

import (
	"context"
	"errors"
	"testing"

	"github.com/deskhive/deskhive/pkg/config"
)

func inertPublisher(t *testing.T) *EventPublisher {
	t.Helper()
	cfg := &config.Config{EnableKafka: false, LogLevel: "error", ServiceName: "deskhive"}
	p, err := NewEventPublisher(cfg, nopLogger())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	return p
}

func TestPublishEvent_UnknownFamily(t *testing.T) {
	p := inertPublisher(t)
	err := p.PublishEvent(context.Background(), "billing", "billing.invoice.created", "tenant-a", "user-1", struct{}{})
	if !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("expected ErrUnknownFamily, got %v", err)
	}
}

func TestPublishEvent_DisconnectedFailsOpen(t *testing.T) {
	p := inertPublisher(t)
	err := p.PublishEvent(context.Background(), FamilyUser, "user.created", "tenant-a", "user-1",
		map[string]string{"email": "a@example.com"})
	if err != nil {
		t.Fatalf("disconnected publish must drop silently, got %v", err)
	}
}

func TestPublishEvent_SystemActorFallback(t *testing.T) {
	p := inertPublisher(t)
	// A system-originated event has no user id; the publish must still pass
	// validation with the tenant as the aggregate.
	err := p.PublishEvent(context.Background(), FamilyTenant, "tenant.created", "tenant-a", "",
		map[string]string{"plan": "starter"})
	if err != nil {
		t.Fatalf("system event publish: %v", err)
	}
}

func TestPublishEvent_InvalidEvent(t *testing.T) {
	p := inertPublisher(t)
	err := p.PublishEvent(context.Background(), FamilyTicket, "ticket.created", "", "user-1", struct{}{})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for empty tenant, got %v", err)
	}
}

func TestSubscribeToEvents_RequiresKafka(t *testing.T) {
	p := inertPublisher(t)
	err := p.SubscribeToEvents(context.Background(), []string{TopicCustomer}, func(context.Context, DomainEvent) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error when kafka is disabled")
	}
}

func TestClose_InertPublisher(t *testing.T) {
	p := inertPublisher(t)
	if err := p.Close(); err != nil {
		t.Fatalf("close inert publisher: %v", err)
	}
}

func TestFamilyRoutes_TopicsInCatalog(t *testing.T) {
	names := make(map[string]bool)
	for _, tc := range Catalog() {
		names[tc.Name] = true
	}
	for family, route := range familyRoutes {
		if !names[route.topic] {
			t.Errorf("family %q routes to topic %q missing from catalog", family, route.topic)
		}
	}
}
