package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Queryer is satisfied by both *sql.DB and *sql.Tx, so events can be written
// inside the caller's transaction.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Event is one entry of an aggregate's history.
type Event struct {
	ID            int64               `json:"id"`
	AggregateID   uuid.UUID           `json:"aggregate_id"`
	AggregateType string              `json:"aggregate_type"`
	EventType     string              `json:"event_type"`
	EventData     jsoniter.RawMessage `json:"event_data"`
	Version       int                 `json:"version"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.EventData, v)
}

// EventStore appends to and reads from the events journal shared by all
// aggregate types.
type EventStore struct {
	tracer trace.Tracer
}

// NewEventStore creates an event store.
func NewEventStore() *EventStore {
	return &EventStore{tracer: otel.Tracer("libralend/eventstore")}
}

// Append writes one event at expectedVersion+1. A concurrent writer that got
// there first surfaces as ErrConcurrencyConflict.
func (es *EventStore) Append(ctx context.Context, q Queryer, aggregateID uuid.UUID, aggregateType string, expectedVersion int, eventType string, payload any) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.String("event.type", eventType),
			attribute.Int("expected.version", expectedVersion),
		),
	)
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	var currentVersion int
	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	var eventID int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, aggregateID, aggregateType, eventType, []byte(data), expectedVersion+1, time.Now().UTC()).Scan(&eventID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}

	span.AddEvent("event.appended", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
		attribute.Int("event.version", expectedVersion+1),
	))
	return nil
}

// Load returns an aggregate's events in version order.
func (es *EventStore) Load(ctx context.Context, q Queryer, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	rows, err := q.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event Event
			data  []byte
		)
		if err := rows.Scan(&event.ID, &event.AggregateID, &event.AggregateType, &event.EventType, &data, &event.Version, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = data
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
