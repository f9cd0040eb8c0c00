package eventstore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/database/dbtest"
)

type testEvent struct {
	Message string `json:"message"`
}

func TestAppendAndLoad(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	es := NewEventStore()
	id := uuid.New()

	require.NoError(t, es.Append(ctx, db, id, "ticket", 0, "Opened", testEvent{Message: "first"}))
	require.NoError(t, es.Append(ctx, db, id, "ticket", 1, "Closed", testEvent{Message: "second"}))

	events, err := es.Load(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "Opened", events[0].EventType)
	assert.Equal(t, "ticket", events[0].AggregateType)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, 2, events[1].Version)

	var payload testEvent
	require.NoError(t, events[1].Decode(&payload))
	assert.Equal(t, "second", payload.Message)
}

func TestAppend_StaleVersion(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	es := NewEventStore()
	id := uuid.New()

	require.NoError(t, es.Append(ctx, db, id, "ticket", 0, "Opened", testEvent{}))
	assert.ErrorIs(t, es.Append(ctx, db, id, "ticket", 0, "Opened", testEvent{}), ErrConcurrencyConflict)
}

func TestAppend_ConcurrentWritersOneWins(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	es := NewEventStore()
	id := uuid.New()

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := es.Append(ctx, db, id, "ticket", 0, "Opened", testEvent{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestLoad_Empty(t *testing.T) {
	db := dbtest.New(t)

	events, err := NewEventStore().Load(context.Background(), db, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, events)
}
