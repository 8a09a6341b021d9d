// Package eventstore persists domain events to Postgres as an append-only
// log with gap-free per-aggregate versioning and aggregate snapshots.
package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deskhive/deskhive/pkg/events"
)

// SnapshotEventType is the reserved event type for snapshot rows. Snapshot
// rows live in the same table but never participate in version assignment or
// replay.
const SnapshotEventType = "__snapshot__"

var (
	// ErrReservedEventType rejects application events using the snapshot type.
	ErrReservedEventType = errors.New("eventstore: event type is reserved")
	// ErrNoSnapshot indicates no snapshot exists for the aggregate.
	ErrNoSnapshot = errors.New("eventstore: no snapshot")
	// ErrVersionConflict indicates a concurrent writer claimed the same
	// aggregate version. Safe to retry.
	ErrVersionConflict = errors.New("eventstore: aggregate version conflict")
)

// Record is one persisted row of the domain_events table. AggregateVersion is
// assigned by the store at save time, never by the caller.
type Record struct {
	ID               int64           `json:"id"`
	EventID          string          `json:"eventId"`
	EventType        string          `json:"eventType"`
	EventVersion     string          `json:"eventVersion"`
	TenantID         string          `json:"tenantId"`
	AggregateID      string          `json:"aggregateId"`
	AggregateType    string          `json:"aggregateType"`
	AggregateVersion int64           `json:"aggregateVersion"`
	EventData        json.RawMessage `json:"eventData"`
	Metadata         events.Metadata `json:"metadata"`
	CorrelationID    string          `json:"correlationId,omitempty"`
	CausationID      string          `json:"causationId,omitempty"`
	OccurredAt       time.Time       `json:"occurredAt"`
	RecordedAt       time.Time       `json:"recordedAt"`
}

// Snapshot is a point-in-time copy of aggregate state at a given version.
type Snapshot struct {
	TenantID      string          `json:"tenantId"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
	TakenAt       time.Time       `json:"takenAt"`
}

// newRecord maps a validated DomainEvent to an unversioned row.
func newRecord(e events.DomainEvent) Record {
	return Record{
		EventID:       e.EventID,
		EventType:     e.EventType,
		EventVersion:  e.Version,
		TenantID:      e.TenantID,
		AggregateID:   e.AggregateID,
		AggregateType: string(e.AggregateType),
		EventData:     e.EventData,
		Metadata:      e.Metadata,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		OccurredAt:    e.Timestamp,
	}
}

// ToDomainEvent maps a stored row back to the bus envelope for replay.
func (r Record) ToDomainEvent() events.DomainEvent {
	return events.DomainEvent{
		EventID:       r.EventID,
		EventType:     r.EventType,
		AggregateID:   r.AggregateID,
		AggregateType: events.AggregateType(r.AggregateType),
		TenantID:      r.TenantID,
		EventData:     r.EventData,
		Metadata:      r.Metadata,
		CorrelationID: r.CorrelationID,
		CausationID:   r.CausationID,
		Timestamp:     r.OccurredAt,
		Version:       r.EventVersion,
	}
}

type aggregateKey struct {
	aggregateType string
	aggregateID   string
}

// groupByAggregate splits events into per-aggregate batches, preserving the
// input order within each batch and the order in which aggregates first
// appear.
func groupByAggregate(batch []events.DomainEvent) ([]aggregateKey, map[aggregateKey][]events.DomainEvent) {
	var order []aggregateKey
	groups := make(map[aggregateKey][]events.DomainEvent)
	for _, e := range batch {
		key := aggregateKey{string(e.AggregateType), e.AggregateID}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}
	return order, groups
}

// validateForSave checks the envelope and rejects the reserved snapshot type.
func validateForSave(e events.DomainEvent) error {
	if e.EventType == SnapshotEventType {
		return fmt.Errorf("%w: %q", ErrReservedEventType, SnapshotEventType)
	}
	return e.Validate()
}
