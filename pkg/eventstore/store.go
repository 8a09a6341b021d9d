package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/deskhive/deskhive/pkg/cache"
	"github.com/deskhive/deskhive/pkg/database"
	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/logger"
)

const insertEventSQL = `
INSERT INTO domain_events
    (event_id, event_type, event_version, tenant_id, aggregate_id, aggregate_type,
     aggregate_version, event_data, metadata, correlation_id, causation_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12)
RETURNING id, recorded_at`

const selectColumns = `
    id, event_id, event_type, event_version, tenant_id, aggregate_id, aggregate_type,
    aggregate_version, event_data, metadata,
    COALESCE(correlation_id, ''), COALESCE(causation_id, ''), occurred_at, recorded_at`

// Store is the append-only event store. Every failure is wrapped and
// returned: unlike the bus, persistence is a durability boundary and callers
// must see write errors.
type Store struct {
	db        *database.DB
	snapshots *cache.SnapshotCache
	log       logger.Logger
}

// NewStore returns a Store. snapshots may be nil, which disables the
// read-through cache and serves every snapshot read from Postgres.
func NewStore(db *database.DB, snapshots *cache.SnapshotCache, log logger.Logger) *Store {
	return &Store{db: db, snapshots: snapshots, log: log}
}

// SaveEvent appends one event, assigning the next aggregate version.
func (s *Store) SaveEvent(ctx context.Context, event events.DomainEvent) (Record, error) {
	records, err := s.SaveEvents(ctx, []events.DomainEvent{event})
	if err != nil {
		return Record{}, err
	}
	return records[0], nil
}

// SaveEvents appends a batch. Events are grouped per aggregate and each group
// gets consecutive versions in one transaction, so a batch for one aggregate
// is all-or-nothing. An advisory lock serializes writers per aggregate; the
// partial unique index backstops anything that slips through.
func (s *Store) SaveEvents(ctx context.Context, batch []events.DomainEvent) ([]Record, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	for _, e := range batch {
		if err := validateForSave(e); err != nil {
			return nil, fmt.Errorf("eventstore: save %s: %w", e.EventID, err)
		}
	}

	order, groups := groupByAggregate(batch)
	saved := make([]Record, 0, len(batch))

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, key := range order {
			records, err := s.appendGroup(ctx, tx, key, groups[key])
			if err != nil {
				return err
			}
			saved = append(saved, records...)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("eventstore: save batch: %w", ErrVersionConflict)
		}
		return nil, err
	}
	return saved, nil
}

// appendGroup locks the aggregate, reads its current version, and inserts the
// group with consecutive versions starting at current+1.
func (s *Store) appendGroup(ctx context.Context, tx pgx.Tx, key aggregateKey, group []events.DomainEvent) ([]Record, error) {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		key.aggregateType+":"+key.aggregateID,
	); err != nil {
		return nil, fmt.Errorf("eventstore: lock aggregate %s/%s: %w", key.aggregateType, key.aggregateID, err)
	}

	var current int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM domain_events
		 WHERE aggregate_type = $1 AND aggregate_id = $2 AND event_type <> $3`,
		key.aggregateType, key.aggregateID, SnapshotEventType,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("eventstore: read version %s/%s: %w", key.aggregateType, key.aggregateID, err)
	}

	records := make([]Record, 0, len(group))
	for i, e := range group {
		rec := newRecord(e)
		rec.AggregateVersion = current + int64(i) + 1
		if err := tx.QueryRow(ctx, insertEventSQL,
			rec.EventID, rec.EventType, rec.EventVersion, rec.TenantID,
			rec.AggregateID, rec.AggregateType, rec.AggregateVersion,
			rec.EventData, rec.Metadata, rec.CorrelationID, rec.CausationID,
			rec.OccurredAt,
		).Scan(&rec.ID, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("eventstore: insert %s: %w", rec.EventID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetEvents returns an aggregate's events from fromVersion (inclusive),
// ascending by version. Snapshot rows are excluded.
func (s *Store) GetEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) ([]Record, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT`+selectColumns+`
		 FROM domain_events
		 WHERE aggregate_type = $1 AND aggregate_id = $2
		   AND aggregate_version >= $3 AND event_type <> $4
		 ORDER BY aggregate_version ASC`,
		aggregateType, aggregateID, fromVersion, SnapshotEventType)
	if err != nil {
		return nil, fmt.Errorf("eventstore: get events %s/%s: %w", aggregateType, aggregateID, err)
	}
	return scanRecords(rows)
}

// GetEventsByType returns a tenant's events of one type, newest first.
func (s *Store) GetEventsByType(ctx context.Context, tenantID, eventType string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Pool().Query(ctx,
		`SELECT`+selectColumns+`
		 FROM domain_events
		 WHERE tenant_id = $1 AND event_type = $2
		 ORDER BY occurred_at DESC
		 LIMIT $3`,
		tenantID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: get events by type %s: %w", eventType, err)
	}
	return scanRecords(rows)
}

// GetEventsByCorrelationID returns every event in one causal chain, in the
// order it occurred.
func (s *Store) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]Record, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT`+selectColumns+`
		 FROM domain_events
		 WHERE correlation_id = $1
		 ORDER BY occurred_at ASC, id ASC`,
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("eventstore: get events by correlation %s: %w", correlationID, err)
	}
	return scanRecords(rows)
}

// GetEventsAfterTimestamp returns events that occurred after ts, oldest
// first, capped at limit.
func (s *Store) GetEventsAfterTimestamp(ctx context.Context, ts time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Pool().Query(ctx,
		`SELECT`+selectColumns+`
		 FROM domain_events
		 WHERE occurred_at > $1 AND event_type <> $2
		 ORDER BY occurred_at ASC, id ASC
		 LIMIT $3`,
		ts, SnapshotEventType, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: get events after %s: %w", ts.Format(time.RFC3339), err)
	}
	return scanRecords(rows)
}

// SaveSnapshot stores a point-in-time copy of aggregate state and refreshes
// the cache. The cache write is best effort; Postgres stays authoritative.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.AggregateType == "" || snap.AggregateID == "" || snap.TenantID == "" {
		return fmt.Errorf("eventstore: save snapshot: missing aggregate identity")
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}

	if _, err := s.db.Pool().Exec(ctx, insertEventSQL,
		uuid.NewString(), SnapshotEventType,
		events.EventSchemaVersion, snap.TenantID, snap.AggregateID,
		snap.AggregateType, snap.Version, snap.State,
		events.Metadata{Source: "eventstore"}, "", "", snap.TakenAt,
	); err != nil {
		return fmt.Errorf("eventstore: save snapshot %s/%s: %w", snap.AggregateType, snap.AggregateID, err)
	}

	if s.snapshots != nil {
		if err := s.snapshots.Set(ctx, &cache.CachedSnapshot{
			TenantID:      snap.TenantID,
			AggregateType: snap.AggregateType,
			AggregateID:   snap.AggregateID,
			Version:       snap.Version,
			State:         snap.State,
			TakenAt:       snap.TakenAt,
		}); err != nil {
			s.log.WarnContext(ctx, "eventstore: snapshot cache write failed",
				"aggregate_type", snap.AggregateType, "aggregate_id", snap.AggregateID, "error", err)
		}
	}
	return nil
}

// GetLatestSnapshot returns the highest-version snapshot for an aggregate,
// serving from the cache when possible. Returns ErrNoSnapshot when none
// exists.
func (s *Store) GetLatestSnapshot(ctx context.Context, tenantID, aggregateType, aggregateID string) (*Snapshot, error) {
	if s.snapshots != nil {
		cached, err := s.snapshots.Get(ctx, tenantID, aggregateType, aggregateID)
		if err == nil {
			return &Snapshot{
				TenantID:      cached.TenantID,
				AggregateType: cached.AggregateType,
				AggregateID:   cached.AggregateID,
				Version:       cached.Version,
				State:         cached.State,
				TakenAt:       cached.TakenAt,
			}, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.log.WarnContext(ctx, "eventstore: snapshot cache read failed, falling back to postgres",
				"aggregate_type", aggregateType, "aggregate_id", aggregateID, "error", err)
		}
	}

	var snap Snapshot
	err := s.db.Pool().QueryRow(ctx,
		`SELECT tenant_id, aggregate_type, aggregate_id, aggregate_version, event_data, occurred_at
		 FROM domain_events
		 WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3 AND event_type = $4
		 ORDER BY aggregate_version DESC, id DESC
		 LIMIT 1`,
		tenantID, aggregateType, aggregateID, SnapshotEventType,
	).Scan(&snap.TenantID, &snap.AggregateType, &snap.AggregateID, &snap.Version, &snap.State, &snap.TakenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("eventstore: %s/%s: %w", aggregateType, aggregateID, ErrNoSnapshot)
		}
		return nil, fmt.Errorf("eventstore: get snapshot %s/%s: %w", aggregateType, aggregateID, err)
	}

	if s.snapshots != nil {
		if err := s.snapshots.Set(ctx, &cache.CachedSnapshot{
			TenantID:      snap.TenantID,
			AggregateType: snap.AggregateType,
			AggregateID:   snap.AggregateID,
			Version:       snap.Version,
			State:         snap.State,
			TakenAt:       snap.TakenAt,
		}); err != nil {
			s.log.WarnContext(ctx, "eventstore: snapshot cache backfill failed",
				"aggregate_type", aggregateType, "aggregate_id", aggregateID, "error", err)
		}
	}
	return &snap, nil
}

// ReplayEvents returns an aggregate's history from fromVersion as bus
// envelopes, ready to feed back through handlers.
func (s *Store) ReplayEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) ([]events.DomainEvent, error) {
	records, err := s.GetEvents(ctx, aggregateType, aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}
	out := make([]events.DomainEvent, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ToDomainEvent())
	}
	return out, nil
}

// GetAggregateVersion returns the aggregate's current version, 0 when the
// aggregate has no events.
func (s *Store) GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (int64, error) {
	var version int64
	if err := s.db.Pool().QueryRow(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM domain_events
		 WHERE aggregate_type = $1 AND aggregate_id = $2 AND event_type <> $3`,
		aggregateType, aggregateID, SnapshotEventType,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("eventstore: get version %s/%s: %w", aggregateType, aggregateID, err)
	}
	return version, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &rec.EventType, &rec.EventVersion, &rec.TenantID,
			&rec.AggregateID, &rec.AggregateType, &rec.AggregateVersion,
			&rec.EventData, &rec.Metadata, &rec.CorrelationID, &rec.CausationID,
			&rec.OccurredAt, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("eventstore: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: iterate records: %w", err)
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
