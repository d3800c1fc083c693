package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one recorded state transition of an aggregate.
type Event struct {
	ID            uuid.UUID              `json:"id"`
	Position      int64                  `json:"position"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     json.RawMessage        `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// EventStore is an append-only, process-local journal with per-aggregate
// optimistic concurrency control.
type EventStore struct {
	mu       sync.RWMutex
	log      []Event
	versions map[string]int
	byAgg    map[string][]int
	now      func() time.Time
	tracer   trace.Tracer
}

// NewEventStore creates an empty event store.
func NewEventStore() *EventStore {
	return &EventStore{
		versions: make(map[string]int),
		byAgg:    make(map[string][]int),
		now:      time.Now,
		tracer:   otel.Tracer("libracatalog/eventstore"),
	}
}

// AppendEvents atomically appends events when the aggregate is at expectedVersion.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	_, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	currentVersion := es.versions[aggregateID]
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	createdAt := es.now().UTC()
	for i, event := range events {
		event.ID = uuid.New()
		event.Position = int64(len(es.log) + 1)
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = createdAt

		es.byAgg[aggregateID] = append(es.byAgg[aggregateID], len(es.log))
		es.log = append(es.log, event)

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.position", event.Position),
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
	}
	es.versions[aggregateID] = expectedVersion + len(events)

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents returns the events of an aggregate with fromVersion <= version <= toVersion.
// A toVersion of zero means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	_, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	if fromVersion < 0 || toVersion < 0 {
		return nil, fmt.Errorf("load events: %w", ErrInvalidVersion)
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	var events []Event
	for _, idx := range es.byAgg[aggregateID] {
		event := es.log[idx]
		if event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			break
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version for an aggregate, zero if it has none.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	_, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	es.mu.RLock()
	version := es.versions[aggregateID]
	es.mu.RUnlock()

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// StreamEvents provides a cursor over the whole journal for projections.
func (es *EventStore) StreamEvents(ctx context.Context, fromPosition int64, batchSize int) ([]Event, error) {
	_, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.position", fromPosition),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	if batchSize <= 0 {
		return nil, fmt.Errorf("stream events: batch size must be positive, got %d", batchSize)
	}
	if fromPosition < 0 {
		fromPosition = 0
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	if fromPosition >= int64(len(es.log)) {
		return nil, nil
	}
	end := fromPosition + int64(batchSize)
	if end > int64(len(es.log)) {
		end = int64(len(es.log))
	}
	events := make([]Event, end-fromPosition)
	copy(events, es.log[fromPosition:end])

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}
